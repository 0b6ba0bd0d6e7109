package navmesh

import (
	"log"
	"sort"
	"sync"

	"campsite.sim/internal/sim/grid"
)

type Options struct {
	Costs Costs
	// Verify re-checks invariants after every patch and falls back to a full
	// rebuild on violation.
	Verify bool
	Logger *log.Logger
}

// Mesh is the navigation mesh for one category. Regions are connected sets of
// walkable cells confined to one grid sector; an edge joins two regions that
// touch across a sector boundary. Region records live in an arena keyed by
// RegionID and edges in a table keyed by ID pairs.
//
// The mesh subscribes to the obstacle index and patches itself on every change
// batch. Readers may run concurrently with each other but not with a patch.
type Mesh struct {
	grid *grid.Index
	cat  Category
	opts Options

	mu sync.RWMutex

	regions    map[RegionID]*region
	cellRegion []RegionID
	bySector   map[grid.ChunkKey]map[RegionID]struct{}
	adj        map[RegionID]map[RegionID]struct{}
	edges      map[EdgeKey]*Edge
	nextID     RegionID

	stats Stats
}

type Stats struct {
	Patches    uint64
	Rebuilds   uint64
	Recoveries uint64
}

// New builds the mesh from the current index state and subscribes it to
// future changes.
func New(ix *grid.Index, cat Category, opts Options) *Mesh {
	if opts.Costs == (Costs{}) {
		opts.Costs = DefaultCosts()
	}
	m := &Mesh{
		grid: ix,
		cat:  cat,
		opts: opts,
	}
	m.mu.Lock()
	m.rebuildLocked()
	m.mu.Unlock()
	ix.Subscribe(m)
	return m
}

func (m *Mesh) Category() Category { return m.cat }
func (m *Mesh) Grid() *grid.Index  { return m.grid }

func (m *Mesh) logf(format string, args ...any) {
	if m.opts.Logger != nil {
		m.opts.Logger.Printf(format, args...)
	}
}

func (m *Mesh) cellIndex(p grid.Pos) int { return p.Y*m.grid.Width() + p.X }

func (m *Mesh) walkableCell(p grid.Pos) bool {
	if !m.grid.InBounds(p) {
		return false
	}
	return m.cat.Walkable(m.grid.Query(p))
}

func (m *Mesh) regionAtLocked(p grid.Pos) RegionID {
	if !m.grid.InBounds(p) {
		return 0
	}
	return m.cellRegion[m.cellIndex(p)]
}

// RegionAt returns the region containing p, or 0 if p is not walkable.
func (m *Mesh) RegionAt(p grid.Pos) RegionID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.regionAtLocked(p)
}

func (m *Mesh) Walkable(p grid.Pos) bool { return m.RegionAt(p) != 0 }

// StepCost is the cost of entering p.
func (m *Mesh) StepCost(p grid.Pos) float64 {
	return m.opts.Costs.For(m.grid.Query(p).Ground)
}

func (m *Mesh) MinStepCost() float64 { return m.opts.Costs.Min() }

func (m *Mesh) Region(id RegionID) (Region, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r := m.regions[id]
	if r == nil {
		return Region{}, false
	}
	return m.exportRegion(r), true
}

// Centroid avoids copying the cell list on hot paths.
func (m *Mesh) Centroid(id RegionID) (Point, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r := m.regions[id]
	if r == nil {
		return Point{}, false
	}
	return r.centroid, true
}

func (m *Mesh) exportRegion(r *region) Region {
	return Region{
		ID:       r.id,
		Sector:   r.sector,
		Cells:    r.sortedCells(),
		Centroid: r.centroid,
		MeanCost: r.meanCost,
		Bounds:   r.bounds,
	}
}

// Regions lists every region in ID order.
func (m *Mesh) Regions() []Region {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Region, 0, len(m.regions))
	for _, id := range m.sortedIDsLocked() {
		out = append(out, m.exportRegion(m.regions[id]))
	}
	return out
}

func (m *Mesh) RegionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.regions)
}

func (m *Mesh) sortedIDsLocked() []RegionID {
	ids := make([]RegionID, 0, len(m.regions))
	for id := range m.regions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Neighbors lists the links of a region ordered by neighbour ID.
func (m *Mesh) Neighbors(id RegionID) []Link {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns := m.adj[id]
	out := make([]Link, 0, len(ns))
	for n := range ns {
		e := m.edges[keyOf(id, n)]
		if e == nil {
			continue
		}
		out = append(out, Link{To: n, Cost: e.Cost})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].To < out[j].To })
	return out
}

func (m *Mesh) Edge(a, b RegionID) (Edge, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e := m.edges[keyOf(a, b)]
	if e == nil {
		return Edge{}, false
	}
	cp := *e
	cp.Portals = append([]Portal(nil), e.Portals...)
	return cp, true
}

// Edges lists all edges ordered by key.
func (m *Mesh) Edges() []Edge {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Edge, 0, len(m.edges))
	for _, e := range m.edges {
		cp := *e
		cp.Portals = append([]Portal(nil), e.Portals...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.A != out[j].Key.A {
			return out[i].Key.A < out[j].Key.A
		}
		return out[i].Key.B < out[j].Key.B
	})
	return out
}

func (m *Mesh) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// Rebuild discards every region and edge and derives them again from the
// obstacle index.
func (m *Mesh) Rebuild() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rebuildLocked()
}

func (m *Mesh) rebuildLocked() {
	m.stats.Rebuilds++
	m.regions = map[RegionID]*region{}
	m.cellRegion = make([]RegionID, m.grid.Width()*m.grid.Height())
	m.bySector = map[grid.ChunkKey]map[RegionID]struct{}{}
	m.adj = map[RegionID]map[RegionID]struct{}{}
	m.edges = map[EdgeKey]*Edge{}
	m.nextID = 0

	for _, k := range m.grid.SectorKeys() {
		for _, p := range m.grid.SectorRect(k).Cells() {
			if m.cellRegion[m.cellIndex(p)] != 0 || !m.walkableCell(p) {
				continue
			}
			r := m.allocRegion(k)
			for _, q := range m.floodSector(p, k) {
				m.addCell(r, q)
			}
			m.refreshStats(r)
		}
	}
	for _, id := range m.sortedIDsLocked() {
		m.relink(m.regions[id])
	}
}

// floodSector returns the walkable cells 4-connected to start inside sector k,
// in BFS order with fixed neighbour order.
func (m *Mesh) floodSector(start grid.Pos, k grid.ChunkKey) []grid.Pos {
	seen := map[grid.Pos]struct{}{start: {}}
	queue := []grid.Pos{start}
	for head := 0; head < len(queue); head++ {
		p := queue[head]
		for _, d := range grid.Cardinal {
			q := p.Add(d)
			if _, ok := seen[q]; ok {
				continue
			}
			if !m.grid.InBounds(q) || m.grid.SectorOf(q) != k || !m.walkableCell(q) {
				continue
			}
			seen[q] = struct{}{}
			queue = append(queue, q)
		}
	}
	return queue
}

func (m *Mesh) allocRegion(k grid.ChunkKey) *region {
	m.nextID++
	r := newRegion(m.nextID, k)
	m.regions[r.id] = r
	set := m.bySector[k]
	if set == nil {
		set = map[RegionID]struct{}{}
		m.bySector[k] = set
	}
	set[r.id] = struct{}{}
	return r
}

func (m *Mesh) addCell(r *region, p grid.Pos) {
	r.cells[p] = struct{}{}
	m.cellRegion[m.cellIndex(p)] = r.id
}

func (m *Mesh) refreshStats(r *region) {
	if len(r.cells) == 0 {
		return
	}
	var sx, sy, cost float64
	minX, minY := int(^uint(0)>>1), int(^uint(0)>>1)
	maxX, maxY := -minX-1, -minY-1
	for p := range r.cells {
		c := CellCenter(p)
		sx += c.X
		sy += c.Y
		cost += m.StepCost(p)
		minX = min(minX, p.X)
		minY = min(minY, p.Y)
		maxX = max(maxX, p.X)
		maxY = max(maxY, p.Y)
	}
	n := float64(len(r.cells))
	r.centroid = Point{X: sx / n, Y: sy / n}
	r.meanCost = cost / n
	r.bounds = grid.RectFromCorners(grid.Pos{X: minX, Y: minY}, grid.Pos{X: maxX, Y: maxY})
}

func (m *Mesh) dropRegion(r *region) {
	m.unlink(r.id)
	if set := m.bySector[r.sector]; set != nil {
		delete(set, r.id)
		if len(set) == 0 {
			delete(m.bySector, r.sector)
		}
	}
	delete(m.regions, r.id)
}

func (m *Mesh) unlink(id RegionID) {
	for n := range m.adj[id] {
		delete(m.edges, keyOf(id, n))
		if ns := m.adj[n]; ns != nil {
			delete(ns, id)
			if len(ns) == 0 {
				delete(m.adj, n)
			}
		}
	}
	delete(m.adj, id)
}

// relink drops every edge of r and re-derives them from its boundary cells.
// Edge cost is the centroid distance scaled by the mean step cost of both
// regions, so it depends only on walkability and ground.
func (m *Mesh) relink(r *region) {
	m.unlink(r.id)
	found := map[RegionID]*Edge{}
	var order []RegionID
	for _, p := range r.sortedCells() {
		for _, d := range grid.Cardinal {
			q := p.Add(d)
			if !m.grid.InBounds(q) || m.grid.SectorOf(q) == r.sector {
				continue
			}
			n := m.cellRegion[m.cellIndex(q)]
			if n == 0 {
				continue
			}
			e := found[n]
			if e == nil {
				e = &Edge{Key: keyOf(r.id, n)}
				found[n] = e
				order = append(order, n)
			}
			if e.Key.A == r.id {
				e.Portals = append(e.Portals, Portal{From: p, To: q})
			} else {
				e.Portals = append(e.Portals, Portal{From: q, To: p})
			}
		}
	}
	for _, n := range order {
		e := found[n]
		other := m.regions[n]
		if other == nil {
			continue
		}
		e.Cost = Dist(r.centroid, other.centroid) * (r.meanCost + other.meanCost) / 2
		m.edges[e.Key] = e
		m.link(r.id, n)
		m.link(n, r.id)
	}
}

func (m *Mesh) link(a, b RegionID) {
	ns := m.adj[a]
	if ns == nil {
		ns = map[RegionID]struct{}{}
		m.adj[a] = ns
	}
	ns[b] = struct{}{}
}
