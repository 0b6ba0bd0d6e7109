package navmesh

import (
	"fmt"

	"campsite.sim/internal/sim/grid"
)

// Validate checks that the mesh is a faithful derivation of the obstacle
// index: the walkable cell set matches, regions are connected, confined to a
// sector and maximal within it, and no edge references a missing region.
func (m *Mesh) Validate() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.validateLocked()
}

func (m *Mesh) validateLocked() error {
	w, h := m.grid.Width(), m.grid.Height()
	if len(m.cellRegion) != w*h {
		return fmt.Errorf("cell table has %d entries, want %d", len(m.cellRegion), w*h)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := grid.Pos{X: x, Y: y}
			id := m.cellRegion[m.cellIndex(p)]
			walkable := m.walkableCell(p)
			if walkable && id == 0 {
				return fmt.Errorf("walkable cell %v has no region", p)
			}
			if !walkable && id != 0 {
				return fmt.Errorf("blocked cell %v belongs to region %d", p, id)
			}
			if id == 0 {
				continue
			}
			r := m.regions[id]
			if r == nil {
				return fmt.Errorf("cell %v references removed region %d", p, id)
			}
			if _, ok := r.cells[p]; !ok {
				return fmt.Errorf("cell %v maps to region %d which does not contain it", p, id)
			}
			for _, d := range grid.Cardinal {
				q := p.Add(d)
				if !m.grid.InBounds(q) || m.grid.SectorOf(q) != r.sector {
					continue
				}
				if n := m.cellRegion[m.cellIndex(q)]; n != 0 && n != id {
					return fmt.Errorf("regions %d and %d touch inside sector %v", id, n, r.sector)
				}
			}
		}
	}

	for id, r := range m.regions {
		if len(r.cells) == 0 {
			return fmt.Errorf("region %d is empty", id)
		}
		for p := range r.cells {
			if m.grid.SectorOf(p) != r.sector {
				return fmt.Errorf("region %d cell %v outside sector %v", id, p, r.sector)
			}
			if m.cellRegion[m.cellIndex(p)] != id {
				return fmt.Errorf("region %d claims cell %v owned by %d", id, p, m.cellRegion[m.cellIndex(p)])
			}
		}
		if n := len(m.components(r)); n != 1 {
			return fmt.Errorf("region %d has %d disconnected pieces", id, n)
		}
		if _, ok := m.bySector[r.sector][id]; !ok {
			return fmt.Errorf("region %d missing from sector table", id)
		}
	}

	for k, e := range m.edges {
		if k != e.Key || k.A >= k.B {
			return fmt.Errorf("edge key %v malformed", k)
		}
		if m.regions[k.A] == nil || m.regions[k.B] == nil {
			return fmt.Errorf("orphan edge %d-%d", k.A, k.B)
		}
		if _, ok := m.adj[k.A][k.B]; !ok {
			return fmt.Errorf("edge %d-%d missing from adjacency", k.A, k.B)
		}
		if _, ok := m.adj[k.B][k.A]; !ok {
			return fmt.Errorf("edge %d-%d missing reverse adjacency", k.A, k.B)
		}
		if len(e.Portals) == 0 {
			return fmt.Errorf("edge %d-%d has no portals", k.A, k.B)
		}
		for _, pt := range e.Portals {
			if m.cellRegion[m.cellIndex(pt.From)] != k.A || m.cellRegion[m.cellIndex(pt.To)] != k.B {
				return fmt.Errorf("edge %d-%d has stale portal %v", k.A, k.B, pt)
			}
		}
	}
	for a, ns := range m.adj {
		if m.regions[a] == nil {
			return fmt.Errorf("adjacency lists removed region %d", a)
		}
		for b := range ns {
			if m.edges[keyOf(a, b)] == nil {
				return fmt.Errorf("adjacency %d-%d has no edge", a, b)
			}
		}
	}

	// Every cross-sector contact between two walkable cells must be an edge.
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := grid.Pos{X: x, Y: y}
			a := m.cellRegion[m.cellIndex(p)]
			if a == 0 {
				continue
			}
			for _, d := range [2]grid.Pos{{X: 1}, {Y: 1}} {
				q := p.Add(d)
				if !m.grid.InBounds(q) || m.grid.SectorOf(q) == m.grid.SectorOf(p) {
					continue
				}
				if b := m.cellRegion[m.cellIndex(q)]; b != 0 && m.edges[keyOf(a, b)] == nil {
					return fmt.Errorf("missing edge between regions %d and %d at %v", a, b, p)
				}
			}
		}
	}
	return nil
}

// WalkableCells lists every cell the mesh treats as walkable, row-major.
func (m *Mesh) WalkableCells() []grid.Pos {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []grid.Pos
	for y := 0; y < m.grid.Height(); y++ {
		for x := 0; x < m.grid.Width(); x++ {
			p := grid.Pos{X: x, Y: y}
			if m.cellRegion[m.cellIndex(p)] != 0 {
				out = append(out, p)
			}
		}
	}
	return out
}
