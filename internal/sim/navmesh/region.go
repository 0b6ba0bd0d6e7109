package navmesh

import (
	"math"
	"sort"

	"campsite.sim/internal/sim/grid"
)

type RegionID int32

// Point is a continuous position in cell units; the centre of cell (x,y) is
// (x+0.5, y+0.5).
type Point struct {
	X float64
	Y float64
}

func CellCenter(p grid.Pos) Point { return Point{X: float64(p.X) + 0.5, Y: float64(p.Y) + 0.5} }

func Dist(a, b Point) float64 { return math.Hypot(a.X-b.X, a.Y-b.Y) }

type region struct {
	id     RegionID
	sector grid.ChunkKey
	cells  map[grid.Pos]struct{}

	centroid Point
	meanCost float64
	bounds   grid.Rect
}

func newRegion(id RegionID, sector grid.ChunkKey) *region {
	return &region{id: id, sector: sector, cells: map[grid.Pos]struct{}{}}
}

func (r *region) sortedCells() []grid.Pos {
	out := make([]grid.Pos, 0, len(r.cells))
	for p := range r.cells {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Region is a read-only copy of a region record.
type Region struct {
	ID       RegionID
	Sector   grid.ChunkKey
	Cells    []grid.Pos
	Centroid Point
	MeanCost float64
	Bounds   grid.Rect
}

type EdgeKey struct {
	A RegionID
	B RegionID
}

func keyOf(a, b RegionID) EdgeKey {
	if a > b {
		a, b = b, a
	}
	return EdgeKey{A: a, B: b}
}

// Portal is a pair of 4-adjacent cells on either side of a sector boundary.
type Portal struct {
	From grid.Pos
	To   grid.Pos
}

// Edge links two regions in neighbouring sectors. Portals are oriented from
// A to B.
type Edge struct {
	Key     EdgeKey
	Portals []Portal
	Cost    float64
}

// Link is an edge seen from one endpoint.
type Link struct {
	To   RegionID
	Cost float64
}
