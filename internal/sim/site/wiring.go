package site

import (
	"fmt"
	"sort"

	"campsite.sim/internal/sim/catalogs"
	"campsite.sim/internal/sim/grid"
	"campsite.sim/internal/sim/utility"
)

// attachUtility adds obj to the utility network and links it to every
// networked neighbour. Two objects are neighbours when a conduit lies under
// or beside a building, when two conduits are 4-adjacent, or when two
// buildings touch. The link conducts the types both ends conduct, so
// buildings relay what they require or source.
func (s *Site) attachUtility(nowTick uint64, obj *Object, def catalogs.ObjectDef) error {
	nid := nodeID(obj.ID)
	if err := s.network.AddNode(nid, def.RequiresSet()); err != nil {
		return err
	}
	if !def.SourcesSet().Empty() {
		changes, err := s.network.SetSource(nid, def.SourcesSet())
		if err != nil {
			return err
		}
		s.recordUtility(nowTick, changes)
	}
	for _, other := range s.utilityNeighbors(obj) {
		odef, found := s.cats.Objects.Get(s.objects[other].Kind)
		if !found {
			continue
		}
		types := def.Conducts().Intersect(odef.Conducts())
		if types.Empty() {
			continue
		}
		changes, err := s.network.Connect(nid, nodeID(other), types)
		if err != nil {
			return err
		}
		s.audit(AuditEntry{
			Tick:    nowTick,
			Action:  "UTILITY_LINK",
			Pos:     [2]int{obj.Footprint.Min.X, obj.Footprint.Min.Y},
			Object:  uint64(obj.ID),
			Details: map[string]any{"peer": uint64(other), "types": types.Names()},
		})
		s.recordUtility(nowTick, changes)
	}
	return nil
}

// utilityNeighbors lists networked objects adjacent to obj in ID order.
func (s *Site) utilityNeighbors(obj *Object) []grid.ObjectID {
	seen := map[grid.ObjectID]struct{}{}
	add := func(id grid.ObjectID) {
		if id == 0 || id == obj.ID {
			return
		}
		if !s.network.Has(nodeID(id)) {
			return
		}
		seen[id] = struct{}{}
	}
	surfaceAt := func(p grid.Pos) grid.ObjectID {
		if !s.grid.InBounds(p) {
			return 0
		}
		return s.grid.Query(p).Object.ID
	}

	if obj.Underground {
		p := obj.Footprint.Min
		add(surfaceAt(p))
		for _, d := range grid.Cardinal {
			q := p.Add(d)
			add(s.underground[q])
			add(surfaceAt(q))
		}
	} else {
		for _, p := range obj.Footprint.Cells() {
			add(s.underground[p])
		}
		for _, p := range ring(obj.Footprint) {
			add(s.underground[p])
			add(surfaceAt(p))
		}
	}

	out := make([]grid.ObjectID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// linkUtility handles explicit LINK_UTILITY and UNLINK_UTILITY edits between
// two placed objects.
func (s *Site) linkUtility(nowTick uint64, e Edit) error {
	a, b := grid.ObjectID(e.ID), grid.ObjectID(e.Target)
	for _, id := range []grid.ObjectID{a, b} {
		if s.objects[id] == nil {
			return fmt.Errorf("object %d: %w", id, grid.ErrUnknownObject)
		}
	}
	types, err := utility.ParseSet(e.Utilities)
	if err != nil {
		return err
	}
	if types.Empty() {
		return fmt.Errorf("no utility types: %w", ErrBadRequest)
	}
	var changes []utility.Change
	action := "UTILITY_LINK"
	if e.Kind == EditUnlinkUtility {
		action = "UTILITY_UNLINK"
		changes, err = s.network.Disconnect(nodeID(a), nodeID(b), types)
	} else {
		changes, err = s.network.Connect(nodeID(a), nodeID(b), types)
	}
	if err != nil {
		return err
	}
	fp := s.objects[a].Footprint
	s.audit(AuditEntry{
		Tick:    nowTick,
		Action:  action,
		Pos:     [2]int{fp.Min.X, fp.Min.Y},
		Object:  uint64(a),
		Details: map[string]any{"peer": uint64(b), "types": types.Names()},
	})
	s.recordUtility(nowTick, changes)
	return nil
}

// repairUtility recomputes connectivity when the incremental state no longer
// matches a full traversal and audits the resulting flips.
func (s *Site) repairUtility(nowTick uint64) {
	changes, err := s.network.Repair()
	if err == nil {
		return
	}
	s.recordUtility(nowTick, changes)
}

// recordUtility audits and counts connectivity flips.
func (s *Site) recordUtility(nowTick uint64, changes []utility.Change) {
	for _, c := range changes {
		if s.metrics != nil {
			s.metrics.RecordUtilityFlip(c.Type.String(), c.Connected)
		}
		entry := AuditEntry{
			Tick:    nowTick,
			Action:  "UTILITY_FLIP",
			Reason:  c.Type.String(),
			Details: map[string]any{"node": string(c.Node), "connected": c.Connected},
		}
		var id uint64
		if _, err := fmt.Sscanf(string(c.Node), "obj-%d", &id); err == nil {
			entry.Object = id
			if o := s.objects[grid.ObjectID(id)]; o != nil {
				entry.Pos = [2]int{o.Footprint.Min.X, o.Footprint.Min.Y}
				entry.Kind = o.Kind
			}
		}
		s.audit(entry)
	}
}

// SupplyReport lists every object that requires utilities with what it is
// receiving, in object ID order.
func (s *Site) SupplyReport() []SupplyStatus {
	var out []SupplyStatus
	for _, o := range s.Objects() {
		def, found := s.cats.Objects.Get(o.Kind)
		if !found || def.RequiresSet().Empty() {
			continue
		}
		nid := nodeID(o.ID)
		has := s.network.ConnectedTypes(nid).Intersect(def.RequiresSet())
		missing := s.network.Missing(nid)
		out = append(out, SupplyStatus{
			Object:   uint64(o.ID),
			Kind:     o.Kind,
			Requires: def.RequiresSet().Names(),
			Has:      has.Names(),
			Missing:  missing.Names(),
			Supplied: missing.Empty(),
		})
	}
	return out
}
