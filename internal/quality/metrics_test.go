package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIoU(t *testing.T) {
	a := BBox{X: 0, Y: 0, W: 100, H: 100}
	b := BBox{X: 50, Y: 50, W: 100, H: 100}
	// inter 2500, union 17500
	assert.InDelta(t, 2500.0/17500.0, IoU(a, b), 1e-9)

	assert.Equal(t, 1.0, IoU(a, a))
	assert.Equal(t, 0.0, IoU(a, BBox{X: 200, Y: 200, W: 10, H: 10}))
	assert.Equal(t, 0.0, IoU(a, BBox{X: 0, Y: 0, W: 0, H: 10}))
}

func TestJaccard(t *testing.T) {
	assert.InDelta(t, 1.0/3.0, Jaccard([]string{"cat", "dog"}, []string{"dog", "bird"}), 1e-9)
	assert.Equal(t, 1.0, Jaccard(nil, nil))
	assert.Equal(t, 0.0, Jaccard([]string{"a"}, []string{"b"}))
	// Duplicates collapse before comparing.
	assert.Equal(t, 1.0, Jaccard([]string{"a", "a"}, []string{"a"}))
}

func TestLabelAgreementSingleAnnotator(t *testing.T) {
	assert.Equal(t, 1.0, LabelAgreement(nil))
	assert.Equal(t, 1.0, LabelAgreement([][]string{{"cat"}}))
}

func TestLabelAgreementPairwiseMean(t *testing.T) {
	got := LabelAgreement([][]string{
		{"cat", "dog"},
		{"dog", "bird"},
		{"cat", "dog"},
	})
	// pairs: (1,2)=1/3, (1,3)=1, (2,3)=1/3
	assert.InDelta(t, (1.0/3.0+1.0+1.0/3.0)/3.0, got, 1e-9)
}

func TestBoxAgreement(t *testing.T) {
	box := BBox{X: 0, Y: 0, W: 10, H: 10}
	a := []BBox{box}
	assert.Equal(t, 1.0, BoxAgreement([][]BBox{a}))
	assert.Equal(t, 1.0, BoxAgreement([][]BBox{a, a}))
	// Annotators without boxes do not participate.
	assert.Equal(t, 1.0, BoxAgreement([][]BBox{a, nil}))

	// Every box pair counts: one identical pair plus a disjoint one.
	b := []BBox{box, {X: 100, Y: 100, W: 10, H: 10}}
	assert.InDelta(t, 0.5, BoxAgreement([][]BBox{a, b}), 1e-9)

	// Duplicate identical boxes still agree perfectly.
	assert.Equal(t, 1.0, BoxAgreement([][]BBox{{box, box}, {box}}))
}

func TestBoxAgreementPartialOverlap(t *testing.T) {
	got := BoxAgreement([][]BBox{
		{{X: 0, Y: 0, W: 100, H: 100}},
		{{X: 50, Y: 50, W: 100, H: 100}},
	})
	assert.InDelta(t, 2500.0/17500.0, got, 1e-9)
}

func TestPercentAgreement(t *testing.T) {
	// Pairs: (cat,cat)=1, (cat,dog)=0, (cat,dog)=0.
	got := PercentAgreement([][]string{{"cat"}, {"cat"}, {"dog"}})
	assert.InDelta(t, 1.0/3.0, got, 1e-9)

	// Full lists compare order-insensitively.
	assert.Equal(t, 1.0, PercentAgreement([][]string{
		{"cat", "dog"},
		{"dog", "cat"},
	}))
	// List length matters: a subset is not agreement.
	assert.Equal(t, 0.0, PercentAgreement([][]string{
		{"cat", "dog"},
		{"cat"},
	}))
	assert.Equal(t, 1.0, PercentAgreement(nil))
	assert.Equal(t, 1.0, PercentAgreement([][]string{{"cat"}}))
}

func TestCohensKappa(t *testing.T) {
	a := []string{"cat", "cat", "dog", "dog"}
	// Perfect agreement with varied labels.
	assert.InDelta(t, 1.0, CohensKappa(a, a), 1e-9)

	// Complete disagreement on a balanced pair goes negative.
	b := []string{"dog", "dog", "cat", "cat"}
	assert.InDelta(t, -1.0, CohensKappa(a, b), 1e-9)

	// Identical constant sequences hit pe=1 and return 1.
	assert.Equal(t, 1.0, CohensKappa([]string{"x", "x"}, []string{"x", "x"}))

	assert.Equal(t, 0.0, CohensKappa([]string{"a"}, []string{"a", "b"}))
}

func TestFleissKappa(t *testing.T) {
	// All raters agree on every item.
	perfect := [][]int{{3, 0}, {0, 3}}
	assert.InDelta(t, 1.0, FleissKappa(perfect), 1e-9)

	assert.Equal(t, 0.0, FleissKappa(nil))
	// A single rater cannot disagree with itself.
	assert.Equal(t, 1.0, FleissKappa([][]int{{1, 0}}))
}

func TestConsensusLabels(t *testing.T) {
	got := ConsensusLabels([][]string{
		{"cat", "dog"},
		{"cat"},
		{"cat", "bird"},
	})
	assert.Equal(t, []string{"cat"}, got)
	assert.Nil(t, ConsensusLabels(nil))
}
