package quality

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUncertaintyScore(t *testing.T) {
	assert.Equal(t, 1.0, UncertaintyScore(nil))
	assert.Equal(t, 0.5, UncertaintyScore([]string{"a"}))
	assert.InDelta(t, 0.25, UncertaintyScore([]string{"a", "b", "c"}), 1e-9)
}

func TestEntropyScore(t *testing.T) {
	assert.Equal(t, 1.0, EntropyScore(nil, false))
	assert.InDelta(t, math.Log(3), EntropyScore([]string{"a", "b", "c"}, false), 1e-9)
	// A caption without tags is mid-interest; a single tag does not
	// change that.
	assert.Equal(t, 0.5, EntropyScore(nil, true))
	assert.Equal(t, 0.5, EntropyScore([]string{"a"}, true))
	// A single tag and no caption still counts as no signal.
	assert.Equal(t, 1.0, EntropyScore([]string{"a"}, false))
	assert.InDelta(t, math.Log(2), EntropyScore([]string{"a", "b"}, true), 1e-9)
}

func TestRankUncertaintyOrdersSparseFirst(t *testing.T) {
	ranked := Rank(StrategyUncertainty, []Candidate{
		{ItemID: "i-rich", MediaID: "rich", Tags: []string{"a", "b", "c"}},
		{ItemID: "i-bare", MediaID: "bare"},
		{ItemID: "i-one", MediaID: "one", Tags: []string{"a"}},
	}, 0)
	require.Len(t, ranked, 3)
	assert.Equal(t, "bare", ranked[0].MediaID)
	assert.Equal(t, "i-bare", ranked[0].ItemID)
	assert.Equal(t, "one", ranked[1].MediaID)
	assert.Equal(t, "rich", ranked[2].MediaID)
}

func TestRankDiversityRewardsNovelty(t *testing.T) {
	ranked := Rank(StrategyDiversity, []Candidate{
		{MediaID: "first", Tags: []string{"a", "b"}},
		{MediaID: "repeat", Tags: []string{"a", "b"}},
		{MediaID: "half", Tags: []string{"a", "c"}},
	}, 0)
	require.Len(t, ranked, 3)
	// First sees only new tags, the repeat none, the half-new one 0.5.
	assert.Equal(t, "first", ranked[0].MediaID)
	assert.Equal(t, 1.0, ranked[0].Score)
	assert.Equal(t, "half", ranked[1].MediaID)
	assert.Equal(t, 0.5, ranked[1].Score)
	assert.Equal(t, "repeat", ranked[2].MediaID)
	assert.Equal(t, 0.0, ranked[2].Score)
}

func TestRankRandomIsReplayable(t *testing.T) {
	candidates := []Candidate{{MediaID: "a"}, {MediaID: "b"}, {MediaID: "c"}, {MediaID: "d"}}
	first := Rank(StrategyRandom, candidates, 42)
	second := Rank(StrategyRandom, candidates, 42)
	assert.Equal(t, first, second)
}

func TestValidStrategy(t *testing.T) {
	assert.True(t, ValidStrategy(StrategyUncertainty))
	assert.True(t, ValidStrategy(StrategyRandom))
	assert.False(t, ValidStrategy("margin"))
}
