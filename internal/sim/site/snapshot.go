package site

import (
	"fmt"

	"campsite.sim/internal/persistence/snapshot"
	"campsite.sim/internal/sim/dispatch"
	"campsite.sim/internal/sim/grid"
	"campsite.sim/internal/sim/navmesh"
	"campsite.sim/internal/sim/tuning"
	"campsite.sim/internal/sim/utility"
)

// ExportSnapshot captures the authoritative state at the end of nowTick.
// Derived structures are not persisted.
func (s *Site) ExportSnapshot(nowTick uint64) snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			SiteID:  s.cfg.SiteID,
			Tick:    nowTick,
		},
		Width:      s.cfg.Width,
		Height:     s.cfg.Height,
		SectorSize: s.cfg.SectorSize,
		TickRate:   s.cfg.TickRateHz,
		Debug:      s.debug.Load(),
		Ground:     s.grid.ExportGround(),
		Counters: snapshot.CountersV1{
			NextObject: uint64(s.nextObject),
			NextAgent:  uint64(s.nextAgent),
		},
	}

	for _, o := range s.Objects() {
		snap.Objects = append(snap.Objects, snapshot.ObjectV1{
			ID:         uint64(o.ID),
			Kind:       o.Kind,
			Min:        [2]int{o.Footprint.Min.X, o.Footprint.Min.Y},
			W:          o.Footprint.W,
			H:          o.Footprint.H,
			Built:      o.Built,
			PlacedTick: o.PlacedTick,
		})
	}

	nodes, edges := s.network.Export()
	for _, n := range nodes {
		snap.UtilityNodes = append(snap.UtilityNodes, snapshot.UtilityNodeV1{
			ID:       string(n.ID),
			Sources:  n.Sources.Names(),
			Requires: n.Requires.Names(),
		})
	}
	for _, e := range edges {
		snap.UtilityEdges = append(snap.UtilityEdges, snapshot.UtilityEdgeV1{
			A:     string(e.A),
			B:     string(e.B),
			Types: e.Types.Names(),
		})
	}

	st := s.dispatch.Export()
	snap.Counters.NextTask = uint64(st.NextTask)
	snap.Counters.TaskSeq = st.Seq
	for _, t := range st.Tasks {
		snap.Tasks = append(snap.Tasks, snapshot.TaskV1{
			ID:          uint64(t.ID),
			Kind:        t.Kind,
			Location:    [2]int{t.Location.X, t.Location.Y},
			Priority:    t.Priority,
			Status:      t.Status.String(),
			Assignee:    uint64(t.Assignee),
			Seq:         t.Seq,
			WorkTicks:   t.WorkTicks,
			Progress:    t.Progress,
			CreatedTick: t.CreatedTick,
			Object:      uint64(s.taskObject[t.ID]),
		})
	}
	for _, e := range st.Employees {
		snap.Employees = append(snap.Employees, snapshot.EmployeeV1{
			ID:              uint64(e.ID),
			Name:            e.Name,
			Specializations: e.Specializations,
			Capabilities:    e.Capabilities,
			Efficiency:      e.Efficiency,
			Seniority:       e.Seniority,
		})
	}

	for _, id := range s.agentIDs() {
		a := s.agents[id]
		av := snapshot.AgentV1{
			ID:       uint64(a.ID),
			Kind:     string(a.Kind),
			Name:     a.Name,
			Pos:      [2]int{a.Pos.X, a.Pos.Y},
			Class:    a.Class.String(),
			Goal:     [2]int{a.Goal.X, a.Goal.Y},
			HasGoal:  a.HasGoal,
			RouteIdx: a.RouteIdx,
			Task:     uint64(a.Task),
		}
		for _, p := range a.Route {
			av.Route = append(av.Route, [2]int{p.X, p.Y})
		}
		snap.Agents = append(snap.Agents, av)
	}
	return snap
}

// ImportSnapshot replaces the site state with snap and rebuilds every derived
// structure. The next tick simulated is snap's tick plus one. On error the
// site is left unchanged. Call only while the loop is stopped.
func (s *Site) ImportSnapshot(snap snapshot.SnapshotV1) error {
	if snap.Header.Version != snapshot.Version {
		return fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	cfg := s.cfg
	cfg.SiteID = snap.Header.SiteID
	cfg.Width, cfg.Height, cfg.SectorSize = snap.Width, snap.Height, snap.SectorSize
	if snap.TickRate > 0 {
		cfg.TickRateHz = snap.TickRate
	}
	if err := tuning.Validate(cfg); err != nil {
		return fmt.Errorf("snapshot config: %w", err)
	}

	objects := map[grid.ObjectID]*Object{}
	underground := map[grid.Pos]grid.ObjectID{}
	var surface []snapshot.ObjectV1
	for _, ov := range snap.Objects {
		def, found := s.cats.Objects.Get(ov.Kind)
		if !found {
			return fmt.Errorf("snapshot object %d %q: %w", ov.ID, ov.Kind, ErrUnknownObjectKind)
		}
		id := grid.ObjectID(ov.ID)
		if id == 0 || objects[id] != nil {
			return fmt.Errorf("snapshot object %d: %w", ov.ID, grid.ErrObjectExists)
		}
		o := &Object{
			ID:          id,
			Kind:        ov.Kind,
			Footprint:   grid.Rect{Min: grid.Pos{X: ov.Min[0], Y: ov.Min[1]}, W: ov.W, H: ov.H},
			Built:       ov.Built,
			PlacedTick:  ov.PlacedTick,
			Underground: def.Underground(),
		}
		if o.Underground {
			if _, taken := underground[o.Footprint.Min]; taken {
				return fmt.Errorf("snapshot conduit %d at %v: %w", ov.ID, o.Footprint.Min, grid.ErrAlreadyOccupied)
			}
			underground[o.Footprint.Min] = id
		} else {
			surface = append(surface, ov)
		}
		objects[id] = o
	}
	ix, err := grid.Import(cfg.Width, cfg.Height, cfg.SectorSize, snap.Ground, surface)
	if err != nil {
		return err
	}

	nodes := make([]utility.NodeState, 0, len(snap.UtilityNodes))
	for _, nv := range snap.UtilityNodes {
		src, err := utility.ParseSet(nv.Sources)
		if err != nil {
			return fmt.Errorf("snapshot node %s: %w", nv.ID, err)
		}
		req, err := utility.ParseSet(nv.Requires)
		if err != nil {
			return fmt.Errorf("snapshot node %s: %w", nv.ID, err)
		}
		nodes = append(nodes, utility.NodeState{ID: utility.NodeID(nv.ID), Sources: src, Requires: req})
	}
	edges := make([]utility.EdgeState, 0, len(snap.UtilityEdges))
	for _, ev := range snap.UtilityEdges {
		types, err := utility.ParseSet(ev.Types)
		if err != nil {
			return fmt.Errorf("snapshot edge %s-%s: %w", ev.A, ev.B, err)
		}
		edges = append(edges, utility.EdgeState{A: utility.NodeID(ev.A), B: utility.NodeID(ev.B), Types: types})
	}
	network, err := utility.Import(nodes, edges, s.log)
	if err != nil {
		return err
	}

	agents := map[AgentID]*Agent{}
	for _, av := range snap.Agents {
		cat, valid := navmesh.ParseCategory(av.Class)
		if !valid || av.ID == 0 || agents[AgentID(av.ID)] != nil {
			return fmt.Errorf("snapshot agent %d: %w", av.ID, ErrBadRequest)
		}
		a := &Agent{
			ID:       AgentID(av.ID),
			Kind:     AgentKind(av.Kind),
			Name:     av.Name,
			Class:    cat,
			Pos:      grid.Pos{X: av.Pos[0], Y: av.Pos[1]},
			Goal:     grid.Pos{X: av.Goal[0], Y: av.Goal[1]},
			HasGoal:  av.HasGoal,
			RouteIdx: av.RouteIdx,
			Task:     dispatch.TaskID(av.Task),
		}
		for _, p := range av.Route {
			a.Route = append(a.Route, grid.Pos{X: p[0], Y: p[1]})
		}
		if a.Route != nil && (a.RouteIdx < 0 || a.RouteIdx >= len(a.Route)) {
			return fmt.Errorf("snapshot agent %d route index %d: %w", av.ID, av.RouteIdx, ErrBadRequest)
		}
		agents[a.ID] = a
	}

	st := dispatch.State{NextTask: dispatch.TaskID(snap.Counters.NextTask), Seq: snap.Counters.TaskSeq}
	taskObject := map[dispatch.TaskID]grid.ObjectID{}
	for _, tv := range snap.Tasks {
		status, valid := dispatch.ParseStatus(tv.Status)
		if !valid {
			return fmt.Errorf("snapshot task %d status %q: %w", tv.ID, tv.Status, dispatch.ErrInvalidTask)
		}
		st.Tasks = append(st.Tasks, dispatch.Task{
			ID:          dispatch.TaskID(tv.ID),
			Kind:        tv.Kind,
			Location:    grid.Pos{X: tv.Location[0], Y: tv.Location[1]},
			Priority:    tv.Priority,
			Status:      status,
			Assignee:    dispatch.EmployeeID(tv.Assignee),
			Seq:         tv.Seq,
			WorkTicks:   tv.WorkTicks,
			Progress:    tv.Progress,
			CreatedTick: tv.CreatedTick,
		})
		if tv.Object != 0 {
			taskObject[dispatch.TaskID(tv.ID)] = grid.ObjectID(tv.Object)
		}
	}
	for _, ev := range snap.Employees {
		if a := agents[AgentID(ev.ID)]; a == nil || a.Kind != AgentEmployee {
			return fmt.Errorf("snapshot employee %d has no agent: %w", ev.ID, ErrUnknownAgent)
		}
		st.Employees = append(st.Employees, dispatch.Employee{
			ID:              dispatch.EmployeeID(ev.ID),
			Name:            ev.Name,
			Specializations: ev.Specializations,
			Capabilities:    ev.Capabilities,
			Efficiency:      ev.Efficiency,
			Seniority:       ev.Seniority,
		})
	}
	if err := s.dispatch.Import(st); err != nil {
		return err
	}

	s.cfg = cfg
	s.attachGrid(ix)
	s.network = network
	s.objects = objects
	s.underground = underground
	s.taskObject = taskObject
	s.agents = agents
	s.nextObject = grid.ObjectID(snap.Counters.NextObject)
	s.nextAgent = AgentID(snap.Counters.NextAgent)
	if s.nextObject == 0 {
		s.nextObject = 1
	}
	if s.nextAgent == 0 {
		s.nextAgent = 1
	}
	s.debug.Store(snap.Debug)
	s.tick.Store(snap.Header.Tick + 1)
	return nil
}
