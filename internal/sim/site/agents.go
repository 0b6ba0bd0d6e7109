package site

import (
	"context"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"campsite.sim/internal/sim/dispatch"
	"campsite.sim/internal/sim/grid"
	"campsite.sim/internal/sim/pathfind"
)

func (s *Site) employeePos(id dispatch.EmployeeID) (grid.Pos, bool) {
	a := s.agents[AgentID(id)]
	if a == nil || a.Kind != AgentEmployee {
		return grid.Pos{}, false
	}
	return a.Pos, true
}

func (s *Site) workers() int {
	if s.cfg.Dispatcher.Workers > 0 {
		return s.cfg.Dispatcher.Workers
	}
	return runtime.GOMAXPROCS(0)
}

func (s *Site) systemDispatch(ctx context.Context, nowTick uint64) {
	trs, err := s.dispatch.Tick(ctx)
	if err != nil {
		s.logf("dispatch tick %d: %v", nowTick, err)
	}
	for _, tr := range trs {
		s.onTransition(nowTick, tr)
	}
}

// onTransition keeps agents and objects in step with task status changes.
func (s *Site) onTransition(nowTick uint64, tr dispatch.Transition) {
	s.transitions = append(s.transitions, tr)
	if s.metrics != nil {
		s.metrics.RecordTransition(tr.To.String())
	}
	entry := AuditEntry{
		Tick:   nowTick,
		Action: "TASK",
		Kind:   tr.Kind,
		Reason: tr.Reason,
		Details: map[string]any{
			"task":     uint64(tr.Task),
			"employee": uint64(tr.Employee),
			"from":     tr.From.String(),
			"to":       tr.To.String(),
		},
	}
	if t, found := s.dispatch.Task(tr.Task); found {
		entry.Pos = [2]int{t.Location.X, t.Location.Y}
	}

	a := s.agents[AgentID(tr.Employee)]
	switch tr.To {
	case dispatch.Assigned:
		if a != nil {
			t, _ := s.dispatch.Task(tr.Task)
			a.Task = tr.Task
			a.clearRoute()
			a.Goal = t.Location
			a.HasGoal = true
		}
	case dispatch.Pending, dispatch.Completed, dispatch.Abandoned:
		if a != nil && a.Task == tr.Task {
			a.Task = 0
			a.stop()
		}
	}

	if oid, tied := s.taskObject[tr.Task]; tied {
		entry.Object = uint64(oid)
		if tr.To.Terminal() {
			delete(s.taskObject, tr.Task)
			if o := s.objects[oid]; o != nil && tr.To == dispatch.Completed && tr.Kind == dispatch.KindConstruction {
				o.Built = true
			}
		}
	}
	s.audit(entry)
}

type routePlan struct {
	agent *Agent
	route pathfind.Route
	found bool
}

// systemRoutes plans routes for every agent with a goal and no route. The
// queries run in parallel; results are applied in agent ID order.
func (s *Site) systemRoutes(nowTick uint64) {
	var plans []*routePlan
	repath := uint64(s.cfg.Agents.RepathEveryTicks)
	for _, id := range s.agentIDs() {
		a := s.agents[id]
		if !a.HasGoal {
			continue
		}
		if a.Route != nil && repath > 0 && nowTick%repath == 0 {
			a.clearRoute()
		}
		if a.Route == nil {
			plans = append(plans, &routePlan{agent: a})
		}
	}
	if len(plans) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(s.workers())
	for _, p := range plans {
		p := p
		g.Go(func() error {
			p.route, p.found = s.finder.FindPath(p.agent.Pos, p.agent.Goal, p.agent.Class)
			return nil
		})
	}
	_ = g.Wait()

	for _, p := range plans {
		a := p.agent
		if s.metrics != nil {
			s.metrics.RecordPathQuery(a.Class.String(), p.found)
		}
		if !p.found {
			// Employees keep their goal; the dispatcher releases the task
			// once it sees the location is unreachable.
			if a.Kind == AgentVisitor {
				a.stop()
			}
			continue
		}
		a.Route = p.route.Cells
		a.RouteIdx = 0
		a.Corridor = p.route.Corridor
		a.Waypoints = p.route.Waypoints
	}
}

// systemMovement advances walking agents along their routes. A step onto a
// cell that stopped being walkable drops the route so it is planned again.
func (s *Site) systemMovement(nowTick uint64) {
	steps := s.cfg.Agents.StepsPerTick
	if steps < 1 {
		steps = 1
	}
	for _, id := range s.agentIDs() {
		a := s.agents[id]
		if !a.HasGoal {
			continue
		}
		m := s.mesh(a.Class)
		for i := 0; i < steps && a.Route != nil && a.RouteIdx+1 < len(a.Route); i++ {
			next := a.Route[a.RouteIdx+1]
			if !m.Walkable(next) {
				a.clearRoute()
				break
			}
			a.Pos = next
			a.RouteIdx++
		}
		if a.Pos == a.Goal {
			s.arrive(nowTick, a)
		}
	}
}

func (s *Site) arrive(nowTick uint64, a *Agent) {
	a.stop()
	if a.Kind != AgentEmployee || a.Task == 0 {
		return
	}
	t, found := s.dispatch.Task(a.Task)
	if !found || t.Status != dispatch.Assigned || t.Location != a.Pos {
		return
	}
	tr, err := s.dispatch.Start(a.Task)
	if err != nil {
		s.logf("start task %d: %v", a.Task, err)
		return
	}
	s.onTransition(nowTick, tr)
}

// systemWork advances in-progress tasks whose assignee stands on the task
// cell. An assignee pushed off the cell walks back.
func (s *Site) systemWork(nowTick uint64) {
	for _, id := range s.agentIDs() {
		a := s.agents[id]
		if a.Kind != AgentEmployee || a.Task == 0 {
			continue
		}
		t, found := s.dispatch.Task(a.Task)
		if !found || t.Status != dispatch.InProgress {
			continue
		}
		if a.Pos != t.Location {
			if !a.HasGoal {
				a.Goal = t.Location
				a.HasGoal = true
			}
			continue
		}
		done, err := s.dispatch.Work(t.ID)
		if err != nil {
			s.logf("work task %d: %v", t.ID, err)
			continue
		}
		if !done {
			continue
		}
		tr, err := s.dispatch.Complete(t.ID)
		if err != nil {
			s.logf("complete task %d: %v", t.ID, err)
			continue
		}
		s.onTransition(nowTick, tr)
	}
}

// systemServiceDemand opens a service task for each built object whose
// service interval has elapsed, unless one is already open.
func (s *Site) systemServiceDemand(nowTick uint64) {
	for _, o := range s.Objects() {
		def, found := s.cats.Objects.Get(o.Kind)
		if !found || def.ServiceTask == "" || def.ServiceEveryTicks <= 0 || !o.Built {
			continue
		}
		if nowTick <= o.PlacedTick || (nowTick-o.PlacedTick)%uint64(def.ServiceEveryTicks) != 0 {
			continue
		}
		if s.hasOpenTask(o.ID, def.ServiceTask) {
			continue
		}
		obj := s.objects[o.ID]
		tid, err := s.dispatch.Submit(dispatch.TaskSpec{
			Kind:      def.ServiceTask,
			Location:  s.accessCell(obj),
			WorkTicks: s.cfg.Dispatcher.DefaultWorkTicks,
		})
		if err != nil {
			s.logf("service task object %d: %v", o.ID, err)
			continue
		}
		s.taskObject[tid] = o.ID
	}
}

// relocateTasks moves object tasks whose work cell has been built over to a
// fresh access cell and redirects their assignees.
func (s *Site) relocateTasks(nowTick uint64) {
	tids := make([]dispatch.TaskID, 0, len(s.taskObject))
	for tid := range s.taskObject {
		tids = append(tids, tid)
	}
	sort.Slice(tids, func(i, j int) bool { return tids[i] < tids[j] })
	for _, tid := range tids {
		t, found := s.dispatch.Task(tid)
		if !found || t.Status.Terminal() || s.people.Walkable(t.Location) {
			continue
		}
		obj := s.objects[s.taskObject[tid]]
		if obj == nil {
			continue
		}
		loc := s.accessCell(obj)
		if loc == t.Location {
			continue
		}
		if err := s.dispatch.Relocate(tid, loc); err != nil {
			s.logf("relocate task %d: %v", tid, err)
			continue
		}
		if a := s.agents[AgentID(t.Assignee)]; a != nil && a.Task == tid {
			a.clearRoute()
			a.Goal = loc
			a.HasGoal = true
		}
		s.audit(AuditEntry{
			Tick:    nowTick,
			Action:  "TASK_RELOCATE",
			Pos:     [2]int{loc.X, loc.Y},
			Object:  uint64(obj.ID),
			Kind:    t.Kind,
			Details: map[string]any{"task": uint64(tid), "from": [2]int{t.Location.X, t.Location.Y}},
		})
	}
}

func (s *Site) hasOpenTask(obj grid.ObjectID, kind string) bool {
	for _, tid := range s.tasksFor(obj) {
		if t, found := s.dispatch.Task(tid); found && t.Kind == kind && !t.Status.Terminal() {
			return true
		}
	}
	return false
}
