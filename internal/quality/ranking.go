package quality

import (
	"math"
	"math/rand"
	"sort"
)

// Ranking strategies for picking which unlabeled media to annotate next.
const (
	StrategyUncertainty = "uncertainty"
	StrategyDiversity   = "diversity"
	StrategyEntropy     = "entropy"
	StrategyRandom      = "random"
)

func ValidStrategy(s string) bool {
	switch s {
	case StrategyUncertainty, StrategyDiversity, StrategyEntropy, StrategyRandom:
		return true
	default:
		return false
	}
}

// Candidate is one unannotated dataset item with whatever the enrichment
// pipeline produced for its media.
type Candidate struct {
	ItemID     string
	MediaID    string
	Tags       []string
	HasCaption bool
}

type Scored struct {
	ItemID  string
	MediaID string
	Score   float64
}

// UncertaintyScore treats tag-sparse media as uncertain: the fewer tags
// the model produced, the less it understood the item.
func UncertaintyScore(tags []string) float64 {
	return 1 / float64(len(tags)+1)
}

// EntropyScore assumes a uniform distribution over the produced tags,
// so multi-tag items score log n. Items the model could only caption
// score 0.5; items it produced nothing for are maximally interesting.
func EntropyScore(tags []string, hasCaption bool) float64 {
	switch {
	case len(tags) > 1:
		return math.Log(float64(len(tags)))
	case hasCaption:
		return 0.5
	default:
		return 1
	}
}

// Rank scores candidates with the given strategy and returns them best
// first. Ties keep the incoming order, which makes results stable for a
// fixed candidate stream. Random uses the seed so pages can be replayed.
func Rank(strategy string, candidates []Candidate, seed int64) []Scored {
	scored := make([]Scored, len(candidates))
	switch strategy {
	case StrategyDiversity:
		// Streaming novelty: a candidate scores by how many of its tags
		// have not been seen in the stream so far.
		seen := map[string]struct{}{}
		for i, c := range candidates {
			novel := 0
			tagSet := toSet(c.Tags)
			for tag := range tagSet {
				if _, ok := seen[tag]; !ok {
					novel++
				}
			}
			score := 1.0
			if len(tagSet) > 0 {
				score = float64(novel) / float64(len(tagSet))
			}
			for tag := range tagSet {
				seen[tag] = struct{}{}
			}
			scored[i] = Scored{ItemID: c.ItemID, MediaID: c.MediaID, Score: score}
		}
	case StrategyEntropy:
		for i, c := range candidates {
			scored[i] = Scored{ItemID: c.ItemID, MediaID: c.MediaID, Score: EntropyScore(c.Tags, c.HasCaption)}
		}
	case StrategyRandom:
		rng := rand.New(rand.NewSource(seed))
		for i, c := range candidates {
			scored[i] = Scored{ItemID: c.ItemID, MediaID: c.MediaID, Score: rng.Float64()}
		}
	default:
		for i, c := range candidates {
			scored[i] = Scored{ItemID: c.ItemID, MediaID: c.MediaID, Score: UncertaintyScore(c.Tags)}
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored
}
