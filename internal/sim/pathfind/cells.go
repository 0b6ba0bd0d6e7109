package pathfind

import (
	"container/heap"

	"campsite.sim/internal/sim/grid"
	"campsite.sim/internal/sim/navmesh"
)

type cellItem struct {
	p    grid.Pos
	g    float64
	f    float64
	line float64
	idx  int
}

type cellQueue []*cellItem

func (q cellQueue) Len() int { return len(q) }
func (q cellQueue) Less(i, j int) bool {
	if q[i].f != q[j].f {
		return q[i].f < q[j].f
	}
	if q[i].line != q[j].line {
		return q[i].line < q[j].line
	}
	return q[i].p.Less(q[j].p)
}
func (q cellQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].idx = i
	q[j].idx = j
}
func (q *cellQueue) Push(x any) {
	it := x.(*cellItem)
	it.idx = len(*q)
	*q = append(*q, it)
}
func (q *cellQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return it
}

// cellSearch is a 4-connected A* over walkable cells. When allowed is non-nil
// the search stays inside those regions. The cost of a move is the step cost
// of the entered cell.
func cellSearch(m *navmesh.Mesh, start, goal grid.Pos, allowed map[navmesh.RegionID]struct{}) ([]grid.Pos, float64, bool) {
	if start == goal {
		return []grid.Pos{start}, 0, true
	}
	weight := m.MinStepCost()
	if !(weight > 0) {
		weight = 0
	}
	a, b := navmesh.CellCenter(start), navmesh.CellCenter(goal)
	h := func(p grid.Pos) float64 { return float64(abs(p.X-goal.X)+abs(p.Y-goal.Y)) * weight }
	inside := func(p grid.Pos) bool {
		id := m.RegionAt(p)
		if id == 0 {
			return false
		}
		if allowed == nil {
			return true
		}
		_, ok := allowed[id]
		return ok
	}

	best := map[grid.Pos]float64{start: 0}
	parent := map[grid.Pos]grid.Pos{}
	closed := map[grid.Pos]struct{}{}
	open := &cellQueue{}
	heap.Push(open, &cellItem{p: start, f: h(start), line: 0})

	for open.Len() > 0 {
		cur := heap.Pop(open).(*cellItem)
		if _, done := closed[cur.p]; done {
			continue
		}
		closed[cur.p] = struct{}{}
		if cur.p == goal {
			path := []grid.Pos{goal}
			for p := goal; p != start; {
				p = parent[p]
				path = append(path, p)
			}
			for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
				path[i], path[j] = path[j], path[i]
			}
			return path, cur.g, true
		}
		for _, d := range grid.Cardinal {
			q := cur.p.Add(d)
			if _, done := closed[q]; done {
				continue
			}
			if !inside(q) {
				continue
			}
			g := cur.g + m.StepCost(q)
			if old, seen := best[q]; seen && g >= old {
				continue
			}
			best[q] = g
			parent[q] = cur.p
			heap.Push(open, &cellItem{p: q, g: g, f: g + h(q), line: lineDist(navmesh.CellCenter(q), a, b)})
		}
	}
	return nil, 0, false
}

// stringPull keeps the first and last cell and, from each kept cell, jumps to
// the furthest later cell that is visible and reachable without crossing
// terrain dearer than the cells it skips.
func stringPull(m *navmesh.Mesh, cells []grid.Pos) []grid.Pos {
	if len(cells) <= 2 {
		return append([]grid.Pos(nil), cells...)
	}
	out := []grid.Pos{cells[0]}
	i := 0
	for i < len(cells)-1 {
		next := i + 1
		maxCost := m.StepCost(cells[i+1])
		for j := i + 2; j < len(cells); j++ {
			if c := m.StepCost(cells[j]); c > maxCost {
				maxCost = c
			}
			if shortcut(m, cells[i], cells[j], maxCost) {
				next = j
			}
		}
		out = append(out, cells[next])
		i = next
	}
	return out
}

func shortcut(m *navmesh.Mesh, a, b grid.Pos, maxCost float64) bool {
	for _, p := range supercover(a, b) {
		if !m.Walkable(p) || m.StepCost(p) > maxCost {
			return false
		}
	}
	return true
}
