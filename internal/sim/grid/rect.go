package grid

import "fmt"

// Rect is an axis-aligned footprint: W x H cells starting at Min.
type Rect struct {
	Min Pos
	W   int
	H   int
}

func RectFromCorners(a, b Pos) Rect {
	minX, maxX := a.X, b.X
	if minX > maxX {
		minX, maxX = maxX, minX
	}
	minY, maxY := a.Y, b.Y
	if minY > maxY {
		minY, maxY = maxY, minY
	}
	return Rect{Min: Pos{X: minX, Y: minY}, W: maxX - minX + 1, H: maxY - minY + 1}
}

func (r Rect) Max() Pos { return Pos{X: r.Min.X + r.W - 1, Y: r.Min.Y + r.H - 1} }

func (r Rect) Empty() bool { return r.W <= 0 || r.H <= 0 }

func (r Rect) Contains(p Pos) bool {
	return p.X >= r.Min.X && p.X < r.Min.X+r.W && p.Y >= r.Min.Y && p.Y < r.Min.Y+r.H
}

func (r Rect) Area() int {
	if r.Empty() {
		return 0
	}
	return r.W * r.H
}

// Cells lists the footprint in row-major order.
func (r Rect) Cells() []Pos {
	if r.Empty() {
		return nil
	}
	out := make([]Pos, 0, r.W*r.H)
	for y := r.Min.Y; y < r.Min.Y+r.H; y++ {
		for x := r.Min.X; x < r.Min.X+r.W; x++ {
			out = append(out, Pos{X: x, Y: y})
		}
	}
	return out
}

func (r Rect) String() string {
	return fmt.Sprintf("%dx%d@(%d,%d)", r.W, r.H, r.Min.X, r.Min.Y)
}
