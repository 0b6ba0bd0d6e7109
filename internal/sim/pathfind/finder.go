package pathfind

import (
	"container/heap"
	"math"

	"campsite.sim/internal/sim/grid"
	"campsite.sim/internal/sim/navmesh"
)

// Finder answers route queries against one mesh per category. It holds no
// per-agent state; every query is a pure function of the current meshes.
type Finder struct {
	meshes map[navmesh.Category]*navmesh.Mesh
}

func New(meshes ...*navmesh.Mesh) *Finder {
	f := &Finder{meshes: map[navmesh.Category]*navmesh.Mesh{}}
	for _, m := range meshes {
		if m != nil {
			f.meshes[m.Category()] = m
		}
	}
	return f
}

func (f *Finder) Mesh(cat navmesh.Category) *navmesh.Mesh { return f.meshes[cat] }

// FindPath returns false when either endpoint is not walkable for cat or no
// path connects them. That is an ordinary outcome, not an error.
func (f *Finder) FindPath(start, goal grid.Pos, cat navmesh.Category) (Route, bool) {
	m := f.meshes[cat]
	if m == nil {
		return Route{}, false
	}
	rs, rg := m.RegionAt(start), m.RegionAt(goal)
	if rs == 0 || rg == 0 {
		return Route{}, false
	}

	corridor, ok := regionSearch(m, rs, rg, start, goal)
	if !ok {
		return Route{}, false
	}
	allowed := make(map[navmesh.RegionID]struct{}, len(corridor))
	for _, id := range corridor {
		allowed[id] = struct{}{}
	}
	cells, cost, ok := cellSearch(m, start, goal, allowed)
	if !ok {
		// The corridor is connected by construction; widen the search rather
		// than report a false negative if it ever is not.
		cells, cost, ok = cellSearch(m, start, goal, nil)
		if !ok {
			return Route{}, false
		}
	}
	return Route{
		Category:  cat,
		Start:     start,
		Goal:      goal,
		Corridor:  corridor,
		Cells:     cells,
		Waypoints: stringPull(m, cells),
		Cost:      cost,
	}, true
}

// Cost is FindPath reduced to its total cost.
func (f *Finder) Cost(start, goal grid.Pos, cat navmesh.Category) (float64, bool) {
	r, ok := f.FindPath(start, goal, cat)
	if !ok {
		return 0, false
	}
	return r.Cost, true
}

// lineDist is the distance from p to the segment a-b.
func lineDist(p, a, b navmesh.Point) float64 {
	vx, vy := b.X-a.X, b.Y-a.Y
	l2 := vx*vx + vy*vy
	if l2 == 0 {
		return navmesh.Dist(p, a)
	}
	t := ((p.X-a.X)*vx + (p.Y-a.Y)*vy) / l2
	t = math.Max(0, math.Min(1, t))
	return navmesh.Dist(p, navmesh.Point{X: a.X + t*vx, Y: a.Y + t*vy})
}

type regionItem struct {
	id   navmesh.RegionID
	g    float64
	f    float64
	line float64
	c    navmesh.Point
	idx  int
}

// regionQueue orders by f, then by distance to the start-goal line, then by
// centroid. Region IDs depend on edit history, so they only break ties
// between regions that share a centroid.
type regionQueue []*regionItem

func (q regionQueue) Len() int { return len(q) }
func (q regionQueue) Less(i, j int) bool {
	if q[i].f != q[j].f {
		return q[i].f < q[j].f
	}
	if q[i].line != q[j].line {
		return q[i].line < q[j].line
	}
	if q[i].c.Y != q[j].c.Y {
		return q[i].c.Y < q[j].c.Y
	}
	if q[i].c.X != q[j].c.X {
		return q[i].c.X < q[j].c.X
	}
	return q[i].id < q[j].id
}
func (q regionQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].idx = i
	q[j].idx = j
}
func (q *regionQueue) Push(x any) {
	it := x.(*regionItem)
	it.idx = len(*q)
	*q = append(*q, it)
}
func (q *regionQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return it
}

// regionSearch runs A* over the region graph. The heuristic is the centroid
// distance to the goal region scaled by the cheapest step cost; when that
// scale is not positive the heuristic is dropped and the search is Dijkstra.
func regionSearch(m *navmesh.Mesh, rs, rg navmesh.RegionID, start, goal grid.Pos) ([]navmesh.RegionID, bool) {
	if rs == rg {
		return []navmesh.RegionID{rs}, true
	}
	goalC, ok := m.Centroid(rg)
	if !ok {
		return nil, false
	}
	weight := m.MinStepCost()
	if !(weight > 0) || math.IsInf(weight, 0) {
		weight = 0
	}
	a, b := navmesh.CellCenter(start), navmesh.CellCenter(goal)
	h := func(c navmesh.Point) float64 { return navmesh.Dist(c, goalC) * weight }

	startC, _ := m.Centroid(rs)
	best := map[navmesh.RegionID]float64{rs: 0}
	parent := map[navmesh.RegionID]navmesh.RegionID{}
	closed := map[navmesh.RegionID]struct{}{}
	open := &regionQueue{}
	heap.Push(open, &regionItem{id: rs, g: 0, f: h(startC), line: lineDist(startC, a, b), c: startC})

	for open.Len() > 0 {
		cur := heap.Pop(open).(*regionItem)
		if _, done := closed[cur.id]; done {
			continue
		}
		closed[cur.id] = struct{}{}
		if cur.id == rg {
			path := []navmesh.RegionID{rg}
			for id := rg; id != rs; {
				id = parent[id]
				path = append(path, id)
			}
			for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
				path[i], path[j] = path[j], path[i]
			}
			return path, true
		}
		for _, l := range m.Neighbors(cur.id) {
			if _, done := closed[l.To]; done {
				continue
			}
			g := cur.g + l.Cost
			if old, seen := best[l.To]; seen && g >= old {
				continue
			}
			c, ok := m.Centroid(l.To)
			if !ok {
				continue
			}
			best[l.To] = g
			parent[l.To] = cur.id
			heap.Push(open, &regionItem{id: l.To, g: g, f: g + h(c), line: lineDist(c, a, b), c: c})
		}
	}
	return nil, false
}
