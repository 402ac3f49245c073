package board

// Point is a pointer location in viewport coordinates.
type Point struct {
	X float64
	Y float64
}

// Rect is an axis-aligned bounding box in viewport coordinates.
type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// CenterY returns the vertical center of the rectangle.
func (r Rect) CenterY() float64 {
	return r.Y + r.Height/2
}

// Contains reports whether the point lies inside the rectangle.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X <= r.X+r.Width &&
		p.Y >= r.Y && p.Y <= r.Y+r.Height
}

// Intersects reports whether the two rectangles overlap.
func (r Rect) Intersects(o Rect) bool {
	return r.X < o.X+o.Width && o.X < r.X+r.Width &&
		r.Y < o.Y+o.Height && o.Y < r.Y+r.Height
}

// Area returns the rectangle's area.
func (r Rect) Area() float64 {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return r.Width * r.Height
}

// OverlapArea returns the area shared with the other rectangle.
func (r Rect) OverlapArea(o Rect) float64 {
	width := min(r.X+r.Width, o.X+o.Width) - max(r.X, o.X)
	height := min(r.Y+r.Height, o.Y+o.Height) - max(r.Y, o.Y)
	if width <= 0 || height <= 0 {
		return 0
	}
	return width * height
}
