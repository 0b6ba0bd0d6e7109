package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campsite.sim/internal/sim/grid"
	"campsite.sim/internal/sim/navmesh"
)

// manhattan routes everywhere except cells listed as walls.
type manhattan struct {
	blocked map[grid.Pos]bool
}

func (m *manhattan) Cost(a, b grid.Pos, _ navmesh.Category) (float64, bool) {
	if m.blocked[b] || m.blocked[a] {
		return 0, false
	}
	dx, dy := a.X-b.X, a.Y-b.Y
	if dx < 0 {
		dx = -dx
	}
	if dy < 0 {
		dy = -dy
	}
	return float64(dx + dy), true
}

type fixture struct {
	d      *Dispatcher
	router *manhattan
	pos    map[EmployeeID]grid.Pos
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{router: &manhattan{blocked: map[grid.Pos]bool{}}, pos: map[EmployeeID]grid.Pos{}}
	f.d = New(f.router, PositionsFunc(func(id EmployeeID) (grid.Pos, bool) {
		p, ok := f.pos[id]
		return p, ok
	}), Options{Workers: 2})
	return f
}

func (f *fixture) hire(t *testing.T, e Employee, at grid.Pos) {
	t.Helper()
	require.NoError(t, f.d.AddEmployee(e))
	f.pos[e.ID] = at
}

func TestSpecialistBeatsCloserGeneralist(t *testing.T) {
	f := newFixture(t)
	loc := grid.Pos{X: 10, Y: 0}
	f.hire(t, Employee{ID: 1, Name: "far specialist", Specializations: []string{KindCleaning}}, grid.Pos{X: 0, Y: 0})
	f.hire(t, Employee{ID: 2, Name: "near generalist", Capabilities: []string{KindCleaning}}, grid.Pos{X: 9, Y: 0})
	f.hire(t, Employee{ID: 3, Name: "nearest stranger", Specializations: []string{KindRepair}}, grid.Pos{X: 10, Y: 1})

	id, err := f.d.Submit(TaskSpec{Kind: KindCleaning, Location: loc, WorkTicks: 2})
	require.NoError(t, err)

	trs, err := f.d.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, trs, 1)
	assert.Equal(t, Transition{Task: id, Kind: KindCleaning, Employee: 1, From: Pending, To: Assigned}, trs[0])

	got, ok := f.d.Assignment(1)
	require.True(t, ok)
	assert.Equal(t, id, got)
	_, ok = f.d.Assignment(2)
	assert.False(t, ok)
}

func TestNoMatchIsIneligible(t *testing.T) {
	f := newFixture(t)
	f.hire(t, Employee{ID: 1, Specializations: []string{KindRepair}}, grid.Pos{})
	id, _ := f.d.Submit(TaskSpec{Kind: KindCleaning, Location: grid.Pos{X: 1}})

	trs, err := f.d.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, trs)
	task, _ := f.d.Task(id)
	assert.Equal(t, Pending, task.Status)
}

func TestRankingTieBreaks(t *testing.T) {
	f := newFixture(t)
	loc := grid.Pos{X: 5, Y: 5}
	f.hire(t, Employee{ID: 4, Capabilities: []string{KindCleaning}, Seniority: 1}, grid.Pos{X: 5, Y: 2})
	f.hire(t, Employee{ID: 7, Capabilities: []string{KindCleaning}, Seniority: 3}, grid.Pos{X: 2, Y: 5})
	f.d.Submit(TaskSpec{Kind: KindCleaning, Location: loc})

	trs, err := f.d.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, trs, 1)
	assert.Equal(t, EmployeeID(7), trs[0].Employee, "equal cost goes to the more senior employee")
}

func TestPriorityOrderGreedy(t *testing.T) {
	f := newFixture(t)
	f.hire(t, Employee{ID: 1, Specializations: []string{KindCleaning}}, grid.Pos{})
	low, _ := f.d.Submit(TaskSpec{Kind: KindCleaning, Location: grid.Pos{X: 1}, Priority: 1})
	high, _ := f.d.Submit(TaskSpec{Kind: KindCleaning, Location: grid.Pos{X: 8}, Priority: 5})

	trs, err := f.d.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, trs, 1)
	assert.Equal(t, high, trs[0].Task)
	task, _ := f.d.Task(low)
	assert.Equal(t, Pending, task.Status)
}

func TestTickIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.hire(t, Employee{ID: 1, Specializations: []string{KindCleaning}}, grid.Pos{})
	f.hire(t, Employee{ID: 2, Specializations: []string{KindRepair}}, grid.Pos{})
	f.d.Submit(TaskSpec{Kind: KindCleaning, Location: grid.Pos{X: 3}})
	f.d.Submit(TaskSpec{Kind: KindCleaning, Location: grid.Pos{X: 4}})

	first, err := f.d.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 1)
	before := f.d.Export()

	second, err := f.d.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, second)
	assert.Equal(t, before, f.d.Export())
}

func TestUnreachableTaskIsReleased(t *testing.T) {
	f := newFixture(t)
	loc := grid.Pos{X: 4, Y: 4}
	f.hire(t, Employee{ID: 1, Specializations: []string{KindRestocking}}, grid.Pos{})
	id, _ := f.d.Submit(TaskSpec{Kind: KindRestocking, Location: loc})
	_, err := f.d.Tick(context.Background())
	require.NoError(t, err)

	f.router.blocked[loc] = true
	trs, err := f.d.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, trs, 1)
	assert.Equal(t, Transition{Task: id, Kind: KindRestocking, Employee: 1, From: Assigned, To: Pending, Reason: "unreachable"}, trs[0])
	_, held := f.d.Assignment(1)
	assert.False(t, held)

	delete(f.router.blocked, loc)
	trs, err = f.d.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, trs, 1)
	assert.Equal(t, Assigned, trs[0].To)
}

func TestRelocatedTaskIsAssignedAgain(t *testing.T) {
	f := newFixture(t)
	loc := grid.Pos{X: 4, Y: 4}
	f.router.blocked[loc] = true
	f.hire(t, Employee{ID: 1, Specializations: []string{KindConstruction}}, grid.Pos{})
	id, _ := f.d.Submit(TaskSpec{Kind: KindConstruction, Location: loc})

	trs, err := f.d.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, trs)

	require.NoError(t, f.d.Relocate(id, grid.Pos{X: 4, Y: 3}))
	trs, err = f.d.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, trs, 1)
	assert.Equal(t, Assigned, trs[0].To)
	task, _ := f.d.Task(id)
	assert.Equal(t, grid.Pos{X: 4, Y: 3}, task.Location)

	_, err = f.d.Cancel(id)
	require.NoError(t, err)
	assert.ErrorIs(t, f.d.Relocate(id, loc), ErrUnknownTask)
}

func TestLifecycle(t *testing.T) {
	f := newFixture(t)
	f.hire(t, Employee{ID: 1, Specializations: []string{KindConstruction}, Efficiency: map[string]float64{KindConstruction: 1.5}}, grid.Pos{})
	id, _ := f.d.Submit(TaskSpec{Kind: KindConstruction, Location: grid.Pos{}, WorkTicks: 3})

	_, err := f.d.Complete(id)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.d.Start(id)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.d.Tick(context.Background())
	require.NoError(t, err)
	tr, err := f.d.Start(id)
	require.NoError(t, err)
	assert.Equal(t, InProgress, tr.To)

	done, err := f.d.Work(id)
	require.NoError(t, err)
	assert.False(t, done)
	done, err = f.d.Work(id)
	require.NoError(t, err)
	assert.True(t, done)

	tr, err = f.d.Complete(id)
	require.NoError(t, err)
	assert.Equal(t, Transition{Task: id, Kind: KindConstruction, Employee: 1, From: InProgress, To: Completed}, tr)
	assert.Equal(t, []EmployeeID{1}, f.d.Idle())

	_, err = f.d.Abandon(id, "late")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, 1, f.d.Prune())
	_, err = f.d.Start(id)
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestAbandonCancelAndRemove(t *testing.T) {
	f := newFixture(t)
	f.hire(t, Employee{ID: 1, Specializations: []string{KindRepair}}, grid.Pos{})
	f.hire(t, Employee{ID: 2, Specializations: []string{KindRepair}}, grid.Pos{X: 1})
	a, _ := f.d.Submit(TaskSpec{Kind: KindRepair, Location: grid.Pos{X: 2}})
	b, _ := f.d.Submit(TaskSpec{Kind: KindRepair, Location: grid.Pos{X: 3}})
	_, err := f.d.Tick(context.Background())
	require.NoError(t, err)

	tr, err := f.d.Abandon(a, "blocked by guest")
	require.NoError(t, err)
	assert.Equal(t, Abandoned, tr.To)

	task, _ := f.d.Task(b)
	trs, err := f.d.RemoveEmployee(task.Assignee)
	require.NoError(t, err)
	require.Len(t, trs, 1)
	assert.Equal(t, Pending, trs[0].To)

	tr, err = f.d.Cancel(b)
	require.NoError(t, err)
	assert.Equal(t, Transition{Task: b, Kind: KindRepair, From: Pending, To: Abandoned, Reason: "cancelled"}, tr)
	_, ok := f.d.Task(b)
	assert.False(t, ok)

	_, err = f.d.RemoveEmployee(99)
	assert.ErrorIs(t, err, ErrUnknownEmployee)
	assert.ErrorIs(t, f.d.AddEmployee(Employee{ID: 5, Efficiency: map[string]float64{KindRepair: 0}}), ErrInvalidEfficiency)
	_, err = f.d.Submit(TaskSpec{})
	assert.ErrorIs(t, err, ErrInvalidTask)
}

func TestExportImport(t *testing.T) {
	f := newFixture(t)
	f.hire(t, Employee{ID: 1, Specializations: []string{KindCleaning}}, grid.Pos{})
	f.d.Submit(TaskSpec{Kind: KindCleaning, Location: grid.Pos{X: 2}, Priority: 2})
	f.d.Submit(TaskSpec{Kind: KindCleaning, Location: grid.Pos{X: 5}})
	_, err := f.d.Tick(context.Background())
	require.NoError(t, err)
	st := f.d.Export()

	g := newFixture(t)
	require.NoError(t, g.d.Import(st))
	assert.Equal(t, st, g.d.Export())
	got, ok := g.d.Assignment(1)
	require.True(t, ok)
	assert.Equal(t, TaskID(1), got)

	next, err := g.d.Submit(TaskSpec{Kind: KindCleaning})
	require.NoError(t, err)
	assert.Equal(t, TaskID(3), next)

	bad := st
	bad.Employees = nil
	assert.ErrorIs(t, g.d.Import(bad), ErrUnknownEmployee)
}

func TestCancelledTickContext(t *testing.T) {
	f := newFixture(t)
	f.hire(t, Employee{ID: 1, Specializations: []string{KindCleaning}}, grid.Pos{})
	f.d.Submit(TaskSpec{Kind: KindCleaning})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.d.Tick(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, f.d.Pending(), 1)
}
