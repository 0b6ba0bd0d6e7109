package pathfind

import (
	"campsite.sim/internal/sim/grid"
	"campsite.sim/internal/sim/navmesh"
)

// Route is the result of a successful query. Cells is the full 4-connected
// cell path from Start to Goal; Waypoints is the string-pulled subset of it
// that an agent steers between.
type Route struct {
	Category  navmesh.Category
	Start     grid.Pos
	Goal      grid.Pos
	Corridor  []navmesh.RegionID
	Cells     []grid.Pos
	Waypoints []grid.Pos
	Cost      float64
}

func (r Route) Len() int {
	if len(r.Cells) == 0 {
		return 0
	}
	return len(r.Cells) - 1
}

// supercover lists every cell touched by the segment between the centres of
// a and b. When the segment passes exactly through a cell corner both side
// cells are included, so a visible segment never squeezes between two
// diagonal obstacles.
func supercover(a, b grid.Pos) []grid.Pos {
	dx, dy := b.X-a.X, b.Y-a.Y
	nx, ny := abs(dx), abs(dy)
	sx, sy := sign(dx), sign(dy)

	p := a
	out := make([]grid.Pos, 0, nx+ny+1)
	out = append(out, p)
	for ix, iy := 0, 0; ix < nx || iy < ny; {
		decision := (1+2*ix)*ny - (1+2*iy)*nx
		switch {
		case decision == 0:
			out = append(out, grid.Pos{X: p.X + sx, Y: p.Y}, grid.Pos{X: p.X, Y: p.Y + sy})
			p.X += sx
			p.Y += sy
			ix++
			iy++
		case decision < 0:
			p.X += sx
			ix++
		default:
			p.Y += sy
			iy++
		}
		out = append(out, p)
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// Visible reports whether every cell on the segment a-b is walkable in m.
func Visible(m *navmesh.Mesh, a, b grid.Pos) bool {
	for _, p := range supercover(a, b) {
		if !m.Walkable(p) {
			return false
		}
	}
	return true
}
