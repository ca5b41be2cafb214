// Package quality holds the pure annotation-quality math: inter-annotator
// agreement, bounding-box overlap, and the scoring strategies used to
// rank unlabeled media. Everything here is deterministic and free of IO.
package quality

import (
	"math"
	"sort"
)

// BBox is an axis-aligned box in pixel coordinates, origin top-left.
type BBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"width"`
	H float64 `json:"height"`
}

func (b BBox) Area() float64 {
	if b.W <= 0 || b.H <= 0 {
		return 0
	}
	return b.W * b.H
}

// IoU is intersection over union. Degenerate boxes score 0.
func IoU(a, b BBox) float64 {
	x1 := math.Max(a.X, b.X)
	y1 := math.Max(a.Y, b.Y)
	x2 := math.Min(a.X+a.W, b.X+b.W)
	y2 := math.Min(a.Y+a.H, b.Y+b.H)
	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	inter := (x2 - x1) * (y2 - y1)
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Jaccard is set overlap over set union for label sets. Two empty sets
// agree perfectly.
func Jaccard(a, b []string) float64 {
	setA := toSet(a)
	setB := toSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	inter := 0
	for k := range setA {
		if _, ok := setB[k]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 1
	}
	return float64(inter) / float64(union)
}

func toSet(labels []string) map[string]struct{} {
	set := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		set[l] = struct{}{}
	}
	return set
}

// LabelAgreement averages pairwise Jaccard over all annotator pairs.
// Fewer than two annotators cannot disagree, so the score is 1.
func LabelAgreement(labelsByAnnotator [][]string) float64 {
	n := len(labelsByAnnotator)
	if n < 2 {
		return 1
	}
	var total float64
	pairs := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			total += Jaccard(labelsByAnnotator[i], labelsByAnnotator[j])
			pairs++
		}
	}
	return total / float64(pairs)
}

// BoxAgreement is the mean IoU over the full cross-product of boxes for
// every annotator pair. Annotators without boxes do not participate;
// fewer than two box-carrying annotators cannot disagree, so the score
// is 1.
func BoxAgreement(boxesByAnnotator [][]BBox) float64 {
	sets := make([][]BBox, 0, len(boxesByAnnotator))
	for _, boxes := range boxesByAnnotator {
		if len(boxes) > 0 {
			sets = append(sets, boxes)
		}
	}
	if len(sets) < 2 {
		return 1
	}
	var total float64
	count := 0
	for i := 0; i < len(sets); i++ {
		for j := i + 1; j < len(sets); j++ {
			for _, boxA := range sets[i] {
				for _, boxB := range sets[j] {
					total += IoU(boxA, boxB)
					count++
				}
			}
		}
	}
	return total / float64(count)
}

// PercentAgreement compares each annotator's full label list, order
// ignored: a pair agrees only when the sorted lists are identical.
// Averaged over all pairs; fewer than two annotators score 1.
func PercentAgreement(labelsByAnnotator [][]string) float64 {
	n := len(labelsByAnnotator)
	if n < 2 {
		return 1
	}
	sorted := make([][]string, n)
	for i, labels := range labelsByAnnotator {
		cp := append([]string(nil), labels...)
		sort.Strings(cp)
		sorted[i] = cp
	}
	agreed := 0
	pairs := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if equalLists(sorted[i], sorted[j]) {
				agreed++
			}
			pairs++
		}
	}
	return float64(agreed) / float64(pairs)
}

func equalLists(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// CohensKappa compares two annotators' label sequences, correcting for
// chance agreement. Sequences must be the same length. Returns 1 when
// chance agreement is already perfect.
func CohensKappa(a, b []string) float64 {
	n := len(a)
	if n == 0 || n != len(b) {
		return 0
	}
	observed := 0
	countsA := map[string]int{}
	countsB := map[string]int{}
	for i := 0; i < n; i++ {
		if a[i] == b[i] {
			observed++
		}
		countsA[a[i]]++
		countsB[b[i]]++
	}
	po := float64(observed) / float64(n)

	var pe float64
	for label, ca := range countsA {
		pe += (float64(ca) / float64(n)) * (float64(countsB[label]) / float64(n))
	}
	if pe >= 1 {
		return 1
	}
	return (po - pe) / (1 - pe)
}

// FleissKappa generalizes kappa to any number of raters. ratings[i][c]
// counts raters that assigned category c to item i; every row must sum to
// the same rater count.
func FleissKappa(ratings [][]int) float64 {
	items := len(ratings)
	if items == 0 {
		return 0
	}
	categories := len(ratings[0])
	raters := 0
	for _, c := range ratings[0] {
		raters += c
	}
	if raters < 2 {
		return 1
	}

	pj := make([]float64, categories)
	var pBarSum float64
	for _, row := range ratings {
		var rowSum float64
		for c, count := range row {
			pj[c] += float64(count)
			rowSum += float64(count) * float64(count-1)
		}
		pBarSum += rowSum / float64(raters*(raters-1))
	}
	pBar := pBarSum / float64(items)

	var peBar float64
	total := float64(items * raters)
	for _, count := range pj {
		p := count / total
		peBar += p * p
	}
	if peBar >= 1 {
		return 1
	}
	return (pBar - peBar) / (1 - peBar)
}

// ConsensusLabels returns the labels used by a strict majority of
// annotators, sorted for determinism.
func ConsensusLabels(labelsByAnnotator [][]string) []string {
	n := len(labelsByAnnotator)
	if n == 0 {
		return nil
	}
	counts := map[string]int{}
	for _, labels := range labelsByAnnotator {
		for label := range toSet(labels) {
			counts[label]++
		}
	}
	out := []string{}
	for label, count := range counts {
		if count*2 > n {
			out = append(out, label)
		}
	}
	sort.Strings(out)
	return out
}
