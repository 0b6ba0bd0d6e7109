package site

import (
	"errors"
	"fmt"
	"sort"

	"campsite.sim/internal/sim/catalogs"
	"campsite.sim/internal/sim/dispatch"
	"campsite.sim/internal/sim/grid"
	"campsite.sim/internal/sim/navmesh"
	"campsite.sim/internal/sim/utility"
)

// Result codes returned in EditResult.Code.
const (
	CodeInvalidCell       = "E_INVALID_CELL"
	CodeOccupied          = "E_OCCUPIED"
	CodeNotOccupied       = "E_NOT_OCCUPIED"
	CodeBadFootprint      = "E_BAD_FOOTPRINT"
	CodeUnknownKind       = "E_UNKNOWN_KIND"
	CodeUnknownObject     = "E_UNKNOWN_OBJECT"
	CodeUnknownTask       = "E_UNKNOWN_TASK"
	CodeUnknownAgent      = "E_UNKNOWN_AGENT"
	CodeInvalidTransition = "E_INVALID_TRANSITION"
	CodeNotWalkable       = "E_NOT_WALKABLE"
	CodeUtility           = "E_UTILITY"
	CodeBadRequest        = "E_BAD_REQUEST"
)

func codeFor(err error) string {
	switch {
	case errors.Is(err, grid.ErrInvalidCell):
		return CodeInvalidCell
	case errors.Is(err, grid.ErrAlreadyOccupied), errors.Is(err, grid.ErrObjectExists):
		return CodeOccupied
	case errors.Is(err, grid.ErrNotOccupied):
		return CodeNotOccupied
	case errors.Is(err, grid.ErrMalformedFootprint):
		return CodeBadFootprint
	case errors.Is(err, ErrUnknownObjectKind):
		return CodeUnknownKind
	case errors.Is(err, grid.ErrUnknownObject):
		return CodeUnknownObject
	case errors.Is(err, dispatch.ErrUnknownTask):
		return CodeUnknownTask
	case errors.Is(err, ErrUnknownAgent), errors.Is(err, dispatch.ErrUnknownEmployee):
		return CodeUnknownAgent
	case errors.Is(err, dispatch.ErrInvalidTransition):
		return CodeInvalidTransition
	case errors.Is(err, ErrNotWalkable):
		return CodeNotWalkable
	case errors.Is(err, utility.ErrUnknownNode), errors.Is(err, utility.ErrSelfLoop), errors.Is(err, utility.ErrUnknownType):
		return CodeUtility
	default:
		return CodeBadRequest
	}
}

func fail(err error) EditResult {
	return EditResult{Code: codeFor(err), Message: err.Error()}
}

func succeed(id uint64) EditResult { return EditResult{OK: true, ID: id} }

func (s *Site) applyEdit(nowTick uint64, e Edit) EditResult {
	var (
		id  uint64
		err error
	)
	switch e.Kind {
	case EditPlace:
		id, err = s.place(nowTick, e)
	case EditDemolish:
		err = s.demolish(nowTick, e)
	case EditPaintGround:
		err = s.paintGround(nowTick, e)
	case EditLinkUtility, EditUnlinkUtility:
		err = s.linkUtility(nowTick, e)
	case EditSubmitTask:
		id, err = s.submitTask(e)
	case EditCancelTask:
		err = s.cancelTask(nowTick, dispatch.TaskID(e.ID))
	case EditHire:
		id, err = s.hire(e)
	case EditFire:
		err = s.fire(nowTick, AgentID(e.ID))
	case EditSpawnVisitor:
		id, err = s.spawnVisitor(e)
	case EditMoveAgent:
		err = s.moveAgent(e)
	case EditRemoveAgent:
		err = s.removeAgent(AgentID(e.ID))
	case EditSetDebug:
		s.debug.Store(e.Debug)
	default:
		err = fmt.Errorf("edit kind %q: %w", e.Kind, ErrBadRequest)
	}
	if err != nil {
		return fail(err)
	}
	return succeed(id)
}

func (s *Site) place(nowTick uint64, e Edit) (uint64, error) {
	def, found := s.cats.Objects.Get(e.Object)
	if !found {
		return 0, fmt.Errorf("%q: %w", e.Object, ErrUnknownObjectKind)
	}
	id := s.nextObject
	fp := grid.Rect{Min: e.pos(), W: def.Footprint[0], H: def.Footprint[1]}
	if def.Underground() {
		p := e.pos()
		if !s.grid.InBounds(p) {
			return 0, fmt.Errorf("%v: %w", p, grid.ErrInvalidCell)
		}
		if other, taken := s.underground[p]; taken {
			return 0, fmt.Errorf("%v holds conduit %d: %w", p, other, grid.ErrAlreadyOccupied)
		}
		s.underground[p] = id
	} else if err := s.grid.Place(fp, grid.ObjectRef{ID: id, Kind: def.ID}); err != nil {
		return 0, err
	}
	s.nextObject++

	obj := &Object{
		ID:          id,
		Kind:        def.ID,
		Footprint:   fp,
		Built:       def.BuildTicks == 0,
		PlacedTick:  nowTick,
		Underground: def.Underground(),
	}
	s.objects[id] = obj
	s.audit(AuditEntry{
		Tick:   nowTick,
		Action: "PLACE",
		Pos:    [2]int{fp.Min.X, fp.Min.Y},
		Object: uint64(id),
		Kind:   def.ID,
		Details: map[string]any{
			"w": fp.W, "h": fp.H, "layer": string(layerOf(def)),
		},
	})

	if def.OnNetwork() {
		if err := s.attachUtility(nowTick, obj, def); err != nil {
			// The node is new; the only failure is a corrupted network.
			s.logf("utility attach object %d: %v", id, err)
		}
	}
	if !obj.Built {
		tid, err := s.dispatch.Submit(dispatch.TaskSpec{
			Kind:      dispatch.KindConstruction,
			Location:  s.accessCell(obj),
			Priority:  1,
			WorkTicks: def.BuildTicks,
		})
		if err != nil {
			s.logf("construction task object %d: %v", id, err)
		} else {
			s.taskObject[tid] = id
		}
	}
	if !obj.Underground {
		s.evictAgents()
	}
	return uint64(id), nil
}

func layerOf(def catalogs.ObjectDef) catalogs.Layer {
	if def.Underground() {
		return catalogs.LayerUnderground
	}
	return catalogs.LayerSurface
}

// accessCell is where staff stand to work on obj: the first people-walkable
// cell of the ring around its footprint in row-major order, or the footprint
// origin when the ring is fully blocked.
func (s *Site) accessCell(obj *Object) grid.Pos {
	if obj.Underground {
		return obj.Footprint.Min
	}
	for _, p := range ring(obj.Footprint) {
		if s.people.Walkable(p) {
			return p
		}
	}
	return obj.Footprint.Min
}

// ring lists the in-plane cells bordering r, row-major. Bounds are not
// checked.
func ring(r grid.Rect) []grid.Pos {
	outer := grid.Rect{Min: grid.Pos{X: r.Min.X - 1, Y: r.Min.Y - 1}, W: r.W + 2, H: r.H + 2}
	var out []grid.Pos
	for _, p := range outer.Cells() {
		if !r.Contains(p) {
			out = append(out, p)
		}
	}
	return out
}

func (s *Site) demolish(nowTick uint64, e Edit) error {
	r := e.rect()
	var removed []grid.ObjectID
	if e.Layer == string(catalogs.LayerUnderground) {
		if err := s.grid.ValidateFootprint(r); err != nil {
			return err
		}
		for _, p := range r.Cells() {
			if id, found := s.underground[p]; found {
				delete(s.underground, p)
				removed = append(removed, id)
			}
		}
		if len(removed) == 0 {
			return fmt.Errorf("no conduit in %+v: %w", r, grid.ErrNotOccupied)
		}
	} else {
		pls, err := s.grid.Demolish(r)
		if err != nil {
			return err
		}
		for _, pl := range pls {
			removed = append(removed, pl.Ref.ID)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	for _, id := range removed {
		s.detachObject(nowTick, id)
	}
	return nil
}

// detachObject drops the bookkeeping for an object already removed from its
// layer: utility node, open tasks tied to it, and the object record.
func (s *Site) detachObject(nowTick uint64, id grid.ObjectID) {
	obj := s.objects[id]
	if obj == nil {
		return
	}
	nid := nodeID(id)
	if s.network.Has(nid) {
		changes, err := s.network.RemoveNode(nid)
		if err != nil {
			s.logf("utility remove object %d: %v", id, err)
		}
		s.recordUtility(nowTick, changes)
	}
	for _, tid := range s.tasksFor(id) {
		if _, err := s.cancelTaskInternal(nowTick, tid, "object demolished"); err != nil {
			s.logf("cancel task %d: %v", tid, err)
		}
		delete(s.taskObject, tid)
	}
	delete(s.objects, id)
	s.audit(AuditEntry{
		Tick:   nowTick,
		Action: "DEMOLISH",
		Pos:    [2]int{obj.Footprint.Min.X, obj.Footprint.Min.Y},
		Object: uint64(id),
		Kind:   obj.Kind,
	})
}

func (s *Site) tasksFor(obj grid.ObjectID) []dispatch.TaskID {
	var out []dispatch.TaskID
	for tid, oid := range s.taskObject {
		if oid == obj {
			out = append(out, tid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Site) paintGround(nowTick uint64, e Edit) error {
	g, valid := grid.ParseGround(e.Ground)
	if !valid {
		return fmt.Errorf("ground %q: %w", e.Ground, ErrBadRequest)
	}
	r := e.rect()
	if err := s.grid.PaintGround(r, g); err != nil {
		return err
	}
	s.audit(AuditEntry{
		Tick:    nowTick,
		Action:  "PAINT_GROUND",
		Pos:     [2]int{r.Min.X, r.Min.Y},
		Kind:    g.String(),
		Details: map[string]any{"w": r.W, "h": r.H},
	})
	s.evictAgents()
	return nil
}

func (s *Site) submitTask(e Edit) (uint64, error) {
	work := e.WorkTicks
	if work <= 0 {
		work = s.cfg.Dispatcher.DefaultWorkTicks
	}
	p := e.pos()
	if !s.grid.InBounds(p) {
		return 0, fmt.Errorf("%v: %w", p, grid.ErrInvalidCell)
	}
	id, err := s.dispatch.Submit(dispatch.TaskSpec{
		Kind:      e.TaskKind,
		Location:  p,
		Priority:  e.Priority,
		WorkTicks: work,
	})
	return uint64(id), err
}

func (s *Site) cancelTask(nowTick uint64, id dispatch.TaskID) error {
	_, err := s.cancelTaskInternal(nowTick, id, "cancelled")
	return err
}

func (s *Site) cancelTaskInternal(nowTick uint64, id dispatch.TaskID, reason string) (dispatch.Transition, error) {
	tr, err := s.dispatch.Cancel(id)
	if err != nil {
		return tr, err
	}
	tr.Reason = reason
	s.onTransition(nowTick, tr)
	return tr, nil
}

func (s *Site) hire(e Edit) (uint64, error) {
	p := e.pos()
	if !s.people.Walkable(p) {
		return 0, fmt.Errorf("%v: %w", p, ErrNotWalkable)
	}
	id := s.nextAgent
	err := s.dispatch.AddEmployee(dispatch.Employee{
		ID:              dispatch.EmployeeID(id),
		Name:            e.Name,
		Specializations: e.Specializations,
		Capabilities:    e.Capabilities,
		Efficiency:      e.Efficiency,
		Seniority:       e.Seniority,
	})
	if err != nil {
		return 0, err
	}
	s.nextAgent++
	s.agents[id] = &Agent{ID: id, Kind: AgentEmployee, Name: e.Name, Class: navmesh.People, Pos: p}
	return uint64(id), nil
}

func (s *Site) fire(nowTick uint64, id AgentID) error {
	a := s.agents[id]
	if a == nil || a.Kind != AgentEmployee {
		return fmt.Errorf("employee %d: %w", id, ErrUnknownAgent)
	}
	trs, err := s.dispatch.RemoveEmployee(dispatch.EmployeeID(id))
	if err != nil {
		return err
	}
	for _, tr := range trs {
		s.onTransition(nowTick, tr)
	}
	delete(s.agents, id)
	return nil
}

func (s *Site) spawnVisitor(e Edit) (uint64, error) {
	cat, valid := navmesh.ParseCategory(e.Class)
	if !valid {
		return 0, fmt.Errorf("class %q: %w", e.Class, ErrBadRequest)
	}
	p := e.pos()
	if !s.mesh(cat).Walkable(p) {
		return 0, fmt.Errorf("%v: %w", p, ErrNotWalkable)
	}
	id := s.nextAgent
	s.nextAgent++
	s.agents[id] = &Agent{ID: id, Kind: AgentVisitor, Name: e.Name, Class: cat, Pos: p}
	return uint64(id), nil
}

// moveAgent sets a visitor's goal. Employees are driven by their tasks.
func (s *Site) moveAgent(e Edit) error {
	a := s.agents[AgentID(e.ID)]
	if a == nil || a.Kind != AgentVisitor {
		return fmt.Errorf("visitor %d: %w", e.ID, ErrUnknownAgent)
	}
	p := e.pos()
	if !s.grid.InBounds(p) {
		return fmt.Errorf("%v: %w", p, grid.ErrInvalidCell)
	}
	a.clearRoute()
	a.Goal = p
	a.HasGoal = true
	return nil
}

func (s *Site) removeAgent(id AgentID) error {
	a := s.agents[id]
	if a == nil || a.Kind != AgentVisitor {
		return fmt.Errorf("visitor %d: %w", id, ErrUnknownAgent)
	}
	delete(s.agents, id)
	return nil
}

// evictAgents moves every agent left on a cell its category can no longer
// walk to the nearest cell it can, scanning outward ring by ring.
func (s *Site) evictAgents() {
	for _, id := range s.agentIDs() {
		a := s.agents[id]
		m := s.mesh(a.Class)
		if m.Walkable(a.Pos) {
			continue
		}
		if p, found := s.nearestWalkable(m, a.Pos); found {
			a.Pos = p
		}
		a.clearRoute()
	}
}

func (s *Site) nearestWalkable(m *navmesh.Mesh, from grid.Pos) (grid.Pos, bool) {
	limit := s.cfg.Width
	if s.cfg.Height > limit {
		limit = s.cfg.Height
	}
	for r := 1; r <= limit; r++ {
		inner := grid.Rect{Min: grid.Pos{X: from.X - r + 1, Y: from.Y - r + 1}, W: 2*r - 1, H: 2*r - 1}
		for _, p := range ring(inner) {
			if m.Walkable(p) {
				return p, true
			}
		}
	}
	return grid.Pos{}, false
}
