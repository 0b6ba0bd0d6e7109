package navmesh

import (
	"sort"

	"campsite.sim/internal/sim/grid"
)

// CellsChanged patches the mesh for one edit. Only regions owning or
// touching changed cells are recomputed.
func (m *Mesh) CellsChanged(changes []grid.Change) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.Patches++
	dirty := map[RegionID]struct{}{}
	for _, c := range changes {
		if !m.grid.InBounds(c.Pos) {
			continue
		}
		wasWalkable := m.cat.Walkable(c.Old)
		isWalkable := m.cat.Walkable(c.New)
		switch {
		case wasWalkable && !isWalkable:
			for _, id := range m.block(c.Pos) {
				dirty[id] = struct{}{}
			}
		case !wasWalkable && isWalkable:
			if id := m.unblock(c.Pos); id != 0 {
				dirty[id] = struct{}{}
			}
		case isWalkable && c.GroundChanged():
			if id := m.cellRegion[m.cellIndex(c.Pos)]; id != 0 {
				dirty[id] = struct{}{}
			}
		}
	}

	ids := make([]RegionID, 0, len(dirty))
	for id := range dirty {
		if m.regions[id] != nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		m.refreshStats(m.regions[id])
	}
	for _, id := range ids {
		m.relink(m.regions[id])
	}

	if m.opts.Verify {
		if err := m.validateLocked(); err != nil {
			m.stats.Recoveries++
			m.logf("navmesh %s: invariant violation after patch: %v; rebuilding", m.cat, err)
			m.rebuildLocked()
		}
	}
}

// block removes p from its region and splits the remainder into connected
// pieces. The largest piece keeps the original ID (ties go to the piece with
// the smallest cell). Returns the IDs of all surviving pieces.
func (m *Mesh) block(p grid.Pos) []RegionID {
	idx := m.cellIndex(p)
	id := m.cellRegion[idx]
	if id == 0 {
		return nil
	}
	r := m.regions[id]
	m.cellRegion[idx] = 0
	if r == nil {
		return nil
	}
	delete(r.cells, p)
	if len(r.cells) == 0 {
		m.dropRegion(r)
		return nil
	}

	pieces := m.components(r)
	if len(pieces) == 1 {
		return []RegionID{id}
	}
	keep := 0
	for i := 1; i < len(pieces); i++ {
		if len(pieces[i]) > len(pieces[keep]) {
			keep = i
		}
	}

	// Edges of the original region are rebuilt for every piece by the caller.
	m.unlink(id)
	out := []RegionID{id}
	for i, piece := range pieces {
		if i == keep {
			continue
		}
		nr := m.allocRegion(r.sector)
		for _, q := range piece {
			delete(r.cells, q)
			m.addCell(nr, q)
		}
		out = append(out, nr.id)
	}
	return out
}

// components splits a region's cells into 4-connected pieces, each ordered by
// BFS from its smallest cell; pieces are ordered by their smallest cell.
func (m *Mesh) components(r *region) [][]grid.Pos {
	var out [][]grid.Pos
	seen := make(map[grid.Pos]struct{}, len(r.cells))
	for _, start := range r.sortedCells() {
		if _, ok := seen[start]; ok {
			continue
		}
		seen[start] = struct{}{}
		piece := []grid.Pos{start}
		for head := 0; head < len(piece); head++ {
			for _, d := range grid.Cardinal {
				q := piece[head].Add(d)
				if _, ok := r.cells[q]; !ok {
					continue
				}
				if _, ok := seen[q]; ok {
					continue
				}
				seen[q] = struct{}{}
				piece = append(piece, q)
			}
		}
		out = append(out, piece)
	}
	return out
}

// unblock adds p to the mesh, merging every region of the same sector that
// touches p into the one with the smallest ID.
func (m *Mesh) unblock(p grid.Pos) RegionID {
	idx := m.cellIndex(p)
	if m.cellRegion[idx] != 0 {
		return m.cellRegion[idx]
	}
	k := m.grid.SectorOf(p)

	var touching []RegionID
	for _, d := range grid.Cardinal {
		q := p.Add(d)
		if !m.grid.InBounds(q) || m.grid.SectorOf(q) != k {
			continue
		}
		if id := m.cellRegion[m.cellIndex(q)]; id != 0 && m.regions[id] != nil {
			touching = append(touching, id)
		}
	}
	if len(touching) == 0 {
		r := m.allocRegion(k)
		m.addCell(r, p)
		return r.id
	}

	sort.Slice(touching, func(i, j int) bool { return touching[i] < touching[j] })
	keep := m.regions[touching[0]]
	for _, id := range touching[1:] {
		if id == keep.id {
			continue
		}
		other := m.regions[id]
		if other == nil {
			continue
		}
		for q := range other.cells {
			m.addCell(keep, q)
		}
		m.dropRegion(other)
	}
	m.addCell(keep, p)
	return keep.id
}
