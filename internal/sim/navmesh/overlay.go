package navmesh

// RegionOverlay is the debug-overlay view of one region.
type RegionOverlay struct {
	ID        RegionID   `json:"id"`
	Sector    [2]int     `json:"sector"`
	Cells     int        `json:"cells"`
	Bounds    [4]int     `json:"bounds"` // x, y, w, h
	Centroid  [2]float64 `json:"centroid"`
	Neighbors []RegionID `json:"neighbors,omitempty"`
}

type EdgeOverlay struct {
	A       RegionID `json:"a"`
	B       RegionID `json:"b"`
	Portals int      `json:"portals"`
	Cost    float64  `json:"cost"`
}

type Overlay struct {
	Category string          `json:"category"`
	Regions  []RegionOverlay `json:"regions"`
	Edges    []EdgeOverlay   `json:"edges"`
}

func (m *Mesh) Overlay() Overlay {
	m.mu.RLock()
	ids := m.sortedIDsLocked()
	out := Overlay{Category: m.cat.String(), Regions: make([]RegionOverlay, 0, len(ids))}
	for _, id := range ids {
		r := m.regions[id]
		ro := RegionOverlay{
			ID:       id,
			Sector:   [2]int{r.sector.CX, r.sector.CY},
			Cells:    len(r.cells),
			Bounds:   [4]int{r.bounds.Min.X, r.bounds.Min.Y, r.bounds.W, r.bounds.H},
			Centroid: [2]float64{r.centroid.X, r.centroid.Y},
		}
		out.Regions = append(out.Regions, ro)
	}
	m.mu.RUnlock()

	for i := range out.Regions {
		for _, l := range m.Neighbors(out.Regions[i].ID) {
			out.Regions[i].Neighbors = append(out.Regions[i].Neighbors, l.To)
		}
	}
	for _, e := range m.Edges() {
		out.Edges = append(out.Edges, EdgeOverlay{A: e.Key.A, B: e.Key.B, Portals: len(e.Portals), Cost: e.Cost})
	}
	return out
}
