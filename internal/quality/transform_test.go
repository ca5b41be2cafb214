package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlipBBox(t *testing.T) {
	b := BBox{X: 10, Y: 20, W: 30, H: 40}

	h := HFlipBBox(b, 100)
	assert.Equal(t, BBox{X: 60, Y: 20, W: 30, H: 40}, h)
	// Flipping twice restores the original.
	assert.Equal(t, b, HFlipBBox(h, 100))

	v := VFlipBBox(b, 200)
	assert.Equal(t, BBox{X: 10, Y: 140, W: 30, H: 40}, v)
	assert.Equal(t, b, VFlipBBox(v, 200))
}

func TestScaleBBox(t *testing.T) {
	b := ScaleBBox(BBox{X: 10, Y: 20, W: 30, H: 40}, 0.5)
	assert.Equal(t, BBox{X: 5, Y: 10, W: 15, H: 20}, b)
	// Area scales by the square of the factor.
	assert.InDelta(t, 30*40*0.25, b.Area(), 1e-9)
}

func TestPolygonTransforms(t *testing.T) {
	poly := Polygon{Points: []Point{{X: 0, Y: 0}, {X: 10, Y: 5}}}

	h := HFlipPolygon(poly, 100)
	assert.Equal(t, []Point{{X: 100, Y: 0}, {X: 90, Y: 5}}, h.Points)

	v := VFlipPolygon(poly, 50)
	assert.Equal(t, []Point{{X: 0, Y: 50}, {X: 10, Y: 45}}, v.Points)

	s := ScalePolygon(poly, 2)
	assert.Equal(t, []Point{{X: 0, Y: 0}, {X: 20, Y: 10}}, s.Points)
}
