package dispatch

import (
	"context"
	"fmt"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"campsite.sim/internal/sim/grid"
	"campsite.sim/internal/sim/navmesh"
)

type Options struct {
	// Category is the mesh employees walk on.
	Category navmesh.Category
	// Workers bounds parallel cost estimation; <= 0 means GOMAXPROCS.
	Workers int
}

type staff struct {
	Employee
	task TaskID
}

// Dispatcher owns task lifecycle and the task/employee assignment table.
// It is driven by the tick loop and is not safe for concurrent mutation.
type Dispatcher struct {
	router    Router
	positions Positions
	opts      Options

	tasks     map[TaskID]*Task
	employees map[EmployeeID]*staff

	nextTask TaskID
	seq      uint64
	now      uint64
}

func New(router Router, positions Positions, opts Options) *Dispatcher {
	if opts.Category == 0 {
		opts.Category = navmesh.People
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	return &Dispatcher{
		router:    router,
		positions: positions,
		opts:      opts,
		tasks:     map[TaskID]*Task{},
		employees: map[EmployeeID]*staff{},
		nextTask:  1,
	}
}

// SetNow stamps CreatedTick on tasks submitted afterwards.
func (d *Dispatcher) SetNow(tick uint64) { d.now = tick }

func (d *Dispatcher) Submit(spec TaskSpec) (TaskID, error) {
	if spec.Kind == "" {
		return 0, fmt.Errorf("empty kind: %w", ErrInvalidTask)
	}
	if spec.WorkTicks < 0 {
		return 0, fmt.Errorf("negative work ticks %d: %w", spec.WorkTicks, ErrInvalidTask)
	}
	id := d.nextTask
	d.nextTask++
	d.seq++
	d.tasks[id] = &Task{
		ID:          id,
		Kind:        spec.Kind,
		Location:    spec.Location,
		Priority:    spec.Priority,
		Status:      Pending,
		Seq:         d.seq,
		WorkTicks:   spec.WorkTicks,
		CreatedTick: d.now,
	}
	return id, nil
}

func (d *Dispatcher) task(id TaskID) (*Task, error) {
	t := d.tasks[id]
	if t == nil {
		return nil, fmt.Errorf("task %d: %w", id, ErrUnknownTask)
	}
	return t, nil
}

func (d *Dispatcher) transition(t *Task, to Status, reason string) Transition {
	tr := Transition{Task: t.ID, Kind: t.Kind, Employee: t.Assignee, From: t.Status, To: to, Reason: reason}
	t.Status = to
	return tr
}

// release frees the task's employee, if any.
func (d *Dispatcher) release(t *Task) {
	if e := d.employees[t.Assignee]; e != nil && e.task == t.ID {
		e.task = 0
	}
	t.Assignee = 0
}

// Cancel abandons a task in any non-terminal state and forgets it.
func (d *Dispatcher) Cancel(id TaskID) (Transition, error) {
	t, err := d.task(id)
	if err != nil {
		return Transition{}, err
	}
	if t.Status.Terminal() {
		return Transition{}, fmt.Errorf("cancel %d from %s: %w", id, t.Status, ErrInvalidTransition)
	}
	tr := d.transition(t, Abandoned, "cancelled")
	d.release(t)
	delete(d.tasks, id)
	return tr, nil
}

// Start marks an assigned task as being worked on.
func (d *Dispatcher) Start(id TaskID) (Transition, error) {
	t, err := d.task(id)
	if err != nil {
		return Transition{}, err
	}
	if t.Status != Assigned {
		return Transition{}, fmt.Errorf("start %d from %s: %w", id, t.Status, ErrInvalidTransition)
	}
	return d.transition(t, InProgress, ""), nil
}

// Work advances an in-progress task by one tick of its assignee's effort and
// reports whether the required work is done.
func (d *Dispatcher) Work(id TaskID) (bool, error) {
	t, err := d.task(id)
	if err != nil {
		return false, err
	}
	if t.Status != InProgress {
		return false, fmt.Errorf("work %d in %s: %w", id, t.Status, ErrInvalidTransition)
	}
	rate := 1.0
	if e := d.employees[t.Assignee]; e != nil {
		rate = e.EfficiencyFor(t.Kind)
	}
	t.Progress += rate
	return t.Progress >= float64(t.WorkTicks), nil
}

func (d *Dispatcher) Complete(id TaskID) (Transition, error) {
	t, err := d.task(id)
	if err != nil {
		return Transition{}, err
	}
	if t.Status != InProgress {
		return Transition{}, fmt.Errorf("complete %d from %s: %w", id, t.Status, ErrInvalidTransition)
	}
	tr := d.transition(t, Completed, "")
	d.release(t)
	return tr, nil
}

func (d *Dispatcher) Abandon(id TaskID, reason string) (Transition, error) {
	t, err := d.task(id)
	if err != nil {
		return Transition{}, err
	}
	if !t.Status.Active() {
		return Transition{}, fmt.Errorf("abandon %d from %s: %w", id, t.Status, ErrInvalidTransition)
	}
	tr := d.transition(t, Abandoned, reason)
	d.release(t)
	return tr, nil
}

// Relocate moves the work location of an open task. An assignee keeps the
// task; the caller redirects it.
func (d *Dispatcher) Relocate(id TaskID, loc grid.Pos) error {
	t, err := d.task(id)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		return fmt.Errorf("relocate %d in %s: %w", id, t.Status, ErrInvalidTransition)
	}
	t.Location = loc
	return nil
}

// Prune drops terminal tasks and returns how many were removed.
func (d *Dispatcher) Prune() int {
	n := 0
	for id, t := range d.tasks {
		if t.Status.Terminal() {
			delete(d.tasks, id)
			n++
		}
	}
	return n
}

func (d *Dispatcher) AddEmployee(e Employee) error {
	if e.ID == 0 {
		return fmt.Errorf("employee id 0: %w", ErrUnknownEmployee)
	}
	if d.employees[e.ID] != nil {
		return fmt.Errorf("employee %d: %w", e.ID, ErrEmployeeExists)
	}
	for kind, v := range e.Efficiency {
		if v <= 0 {
			return fmt.Errorf("employee %d kind %s: %w", e.ID, kind, ErrInvalidEfficiency)
		}
	}
	d.employees[e.ID] = &staff{Employee: cloneEmployee(e)}
	return nil
}

// RemoveEmployee returns any task it held to Pending.
func (d *Dispatcher) RemoveEmployee(id EmployeeID) ([]Transition, error) {
	e := d.employees[id]
	if e == nil {
		return nil, fmt.Errorf("employee %d: %w", id, ErrUnknownEmployee)
	}
	var out []Transition
	if t := d.tasks[e.task]; t != nil && t.Assignee == id && t.Status.Active() {
		out = append(out, d.requeue(t, "employee removed"))
	}
	delete(d.employees, id)
	return out, nil
}

func (d *Dispatcher) requeue(t *Task, reason string) Transition {
	tr := d.transition(t, Pending, reason)
	d.release(t)
	t.Progress = 0
	return tr
}

func (d *Dispatcher) Task(id TaskID) (Task, bool) {
	t := d.tasks[id]
	if t == nil {
		return Task{}, false
	}
	return *t, true
}

// Tasks lists every known task in ID order.
func (d *Dispatcher) Tasks() []Task {
	out := make([]Task, 0, len(d.tasks))
	for _, t := range d.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Pending lists pending tasks in assignment order: priority descending,
// then submission order.
func (d *Dispatcher) Pending() []Task {
	var out []Task
	for _, t := range d.tasks {
		if t.Status == Pending {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

func (d *Dispatcher) Employee(id EmployeeID) (Employee, bool) {
	e := d.employees[id]
	if e == nil {
		return Employee{}, false
	}
	return cloneEmployee(e.Employee), true
}

func (d *Dispatcher) Employees() []Employee {
	out := make([]Employee, 0, len(d.employees))
	for _, e := range d.employees {
		out = append(out, cloneEmployee(e.Employee))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Assignment returns the task an employee currently holds.
func (d *Dispatcher) Assignment(id EmployeeID) (TaskID, bool) {
	e := d.employees[id]
	if e == nil || e.task == 0 {
		return 0, false
	}
	return e.task, true
}

// Idle lists employees without a task in ID order.
func (d *Dispatcher) Idle() []EmployeeID {
	var out []EmployeeID
	for id, e := range d.employees {
		if e.task == 0 {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func cloneEmployee(e Employee) Employee {
	e.Specializations = append([]string(nil), e.Specializations...)
	e.Capabilities = append([]string(nil), e.Capabilities...)
	if e.Efficiency != nil {
		eff := make(map[string]float64, len(e.Efficiency))
		for k, v := range e.Efficiency {
			eff[k] = v
		}
		e.Efficiency = eff
	}
	return e
}

// Tick runs one dispatch round. Held tasks whose location became
// unreachable are returned to Pending first; then pending tasks are matched
// greedily to idle employees. A tick with no state change produces no
// transitions.
func (d *Dispatcher) Tick(ctx context.Context) ([]Transition, error) {
	out := d.recheck()

	assigned, err := d.assign(ctx)
	if err != nil {
		return out, err
	}
	return append(out, assigned...), nil
}

func (d *Dispatcher) recheck() []Transition {
	var held []*Task
	for _, t := range d.tasks {
		if t.Status.Active() {
			held = append(held, t)
		}
	}
	sort.Slice(held, func(i, j int) bool { return held[i].ID < held[j].ID })

	var out []Transition
	for _, t := range held {
		pos, ok := d.positions.Position(t.Assignee)
		if !ok {
			out = append(out, d.requeue(t, "employee missing"))
			continue
		}
		if _, ok := d.router.Cost(pos, t.Location, d.opts.Category); !ok {
			out = append(out, d.requeue(t, "unreachable"))
		}
	}
	return out
}

type candidate struct {
	employee  EmployeeID
	match     Match
	cost      float64
	seniority int
}

func better(a, b candidate) bool {
	if a.match != b.match {
		return a.match > b.match
	}
	if a.cost != b.cost {
		return a.cost < b.cost
	}
	if a.seniority != b.seniority {
		return a.seniority > b.seniority
	}
	return a.employee < b.employee
}

func (d *Dispatcher) assign(ctx context.Context) ([]Transition, error) {
	pending := d.Pending()
	idle := d.Idle()
	if len(pending) == 0 || len(idle) == 0 {
		return nil, nil
	}

	type origin struct {
		id  EmployeeID
		pos grid.Pos
	}
	var origins []origin
	for _, id := range idle {
		if pos, ok := d.positions.Position(id); ok {
			origins = append(origins, origin{id: id, pos: pos})
		}
	}

	// Costs are read-only queries against the meshes and run in parallel.
	cands := make([][]candidate, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Workers)
	for i := range pending {
		i := i
		t := pending[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var cs []candidate
			for _, o := range origins {
				e := d.employees[o.id]
				m := e.Match(t.Kind)
				if m == NoMatch {
					continue
				}
				cost, ok := d.router.Cost(o.pos, t.Location, d.opts.Category)
				if !ok {
					continue
				}
				cs = append(cs, candidate{employee: o.id, match: m, cost: cost, seniority: e.Seniority})
			}
			sort.Slice(cs, func(a, b int) bool { return better(cs[a], cs[b]) })
			cands[i] = cs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Transition
	taken := map[EmployeeID]bool{}
	for i, pt := range pending {
		for _, c := range cands[i] {
			if taken[c.employee] {
				continue
			}
			taken[c.employee] = true
			t := d.tasks[pt.ID]
			t.Assignee = c.employee
			d.employees[c.employee].task = t.ID
			out = append(out, d.transition(t, Assigned, ""))
			break
		}
	}
	return out, nil
}
