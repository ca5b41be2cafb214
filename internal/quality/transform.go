package quality

// Geometry transforms used by the augmentation pipeline. Transforms take
// the source image dimensions so flipped coordinates stay inside the
// frame.

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Polygon struct {
	Points []Point `json:"points"`
}

func HFlipBBox(b BBox, imageW float64) BBox {
	return BBox{X: imageW - b.X - b.W, Y: b.Y, W: b.W, H: b.H}
}

func VFlipBBox(b BBox, imageH float64) BBox {
	return BBox{X: b.X, Y: imageH - b.Y - b.H, W: b.W, H: b.H}
}

func ScaleBBox(b BBox, factor float64) BBox {
	return BBox{X: b.X * factor, Y: b.Y * factor, W: b.W * factor, H: b.H * factor}
}

func HFlipPoint(p Point, imageW float64) Point {
	return Point{X: imageW - p.X, Y: p.Y}
}

func VFlipPoint(p Point, imageH float64) Point {
	return Point{X: p.X, Y: imageH - p.Y}
}

func ScalePoint(p Point, factor float64) Point {
	return Point{X: p.X * factor, Y: p.Y * factor}
}

func HFlipPolygon(poly Polygon, imageW float64) Polygon {
	out := Polygon{Points: make([]Point, len(poly.Points))}
	for i, p := range poly.Points {
		out.Points[i] = HFlipPoint(p, imageW)
	}
	return out
}

func VFlipPolygon(poly Polygon, imageH float64) Polygon {
	out := Polygon{Points: make([]Point, len(poly.Points))}
	for i, p := range poly.Points {
		out.Points[i] = VFlipPoint(p, imageH)
	}
	return out
}

func ScalePolygon(poly Polygon, factor float64) Polygon {
	out := Polygon{Points: make([]Point, len(poly.Points))}
	for i, p := range poly.Points {
		out.Points[i] = ScalePoint(p, factor)
	}
	return out
}
