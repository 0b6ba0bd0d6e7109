package site

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campsite.sim/internal/persistence/snapshot"
	"campsite.sim/internal/sim/catalogs"
	"campsite.sim/internal/sim/dispatch"
	"campsite.sim/internal/sim/encoding"
	"campsite.sim/internal/sim/grid"
	"campsite.sim/internal/sim/navmesh"
	"campsite.sim/internal/sim/tuning"
	"campsite.sim/internal/sim/utility"
)

type tickRecorder struct{ entries []TickLogEntry }

func (r *tickRecorder) WriteTick(e TickLogEntry) error {
	r.entries = append(r.entries, e)
	return nil
}

type auditRecorder struct{ entries []AuditEntry }

func (r *auditRecorder) WriteAudit(e AuditEntry) error {
	r.entries = append(r.entries, e)
	return nil
}

func newTestSite(t *testing.T, w, h int) *Site {
	t.Helper()
	return newTestSiteWith(t, w, h, catalogs.Default())
}

func newTestSiteWith(t *testing.T, w, h int, cats *catalogs.Catalogs) *Site {
	t.Helper()
	cfg := tuning.Defaults()
	cfg.Width, cfg.Height, cfg.SectorSize = w, h, 4
	cfg.VerifyNavmesh = true
	cfg.VerifyUtility = true
	s, err := New(cfg, cats, nil)
	require.NoError(t, err)
	return s
}

// step applies edits in one tick and returns their results in order.
func step(t *testing.T, s *Site, edits ...Edit) []EditResult {
	t.Helper()
	for i := range edits {
		edits[i].Resp = make(chan EditResult, 1)
	}
	s.StepOnce(edits)
	requireNoRecoveries(t, s)
	out := make([]EditResult, len(edits))
	for i, e := range edits {
		select {
		case out[i] = <-e.Resp:
		default:
			t.Fatalf("edit %d (%s) got no result", i, e.Kind)
		}
	}
	return out
}

// requireNoRecoveries fails when a consistency check had to rebuild derived
// state, which would otherwise hide an incremental patch bug.
func requireNoRecoveries(t *testing.T, s *Site) {
	t.Helper()
	for _, cat := range []navmesh.Category{navmesh.People, navmesh.Vehicles} {
		require.Zerof(t, s.Mesh(cat).Stats().Recoveries, "%s mesh was rebuilt", cat)
	}
	require.Zero(t, s.Network().Repairs(), "utility network was recomputed")
}

func place(kind string, x, y int) Edit {
	return Edit{Kind: EditPlace, Object: kind, Pos: [2]int{x, y}}
}

func requireOK(t *testing.T, res []EditResult) {
	t.Helper()
	for i, r := range res {
		require.Truef(t, r.OK, "edit %d: %s %s", i, r.Code, r.Message)
	}
}

func TestPlacedObjectBlocksRoutes(t *testing.T) {
	s := newTestSite(t, 8, 8)
	res := step(t, s, place("HEDGE", 1, 1))
	requireOK(t, res)
	require.Equal(t, uint64(1), res[0].ID)

	r, ok := s.FindPath(grid.Pos{X: 0, Y: 1}, grid.Pos{X: 2, Y: 1}, navmesh.People)
	require.True(t, ok)
	assert.InDelta(t, 4.0, r.Cost, 1e-9)
	for _, p := range r.Cells {
		assert.NotEqual(t, grid.Pos{X: 1, Y: 1}, p)
	}

	requireOK(t, step(t, s, Edit{Kind: EditDemolish, Pos: [2]int{1, 1}}))
	r, ok = s.FindPath(grid.Pos{X: 0, Y: 1}, grid.Pos{X: 2, Y: 1}, navmesh.People)
	require.True(t, ok)
	assert.InDelta(t, 2.0, r.Cost, 1e-9)
	assert.Empty(t, s.Objects())
}

func TestEditErrorCodes(t *testing.T) {
	s := newTestSite(t, 8, 8)
	res := step(t, s,
		place("HEDGE", 1, 1),
		place("TREE", 1, 1),
		place("CASTLE", 3, 3),
		place("HEDGE", 8, 0),
		Edit{Kind: EditDemolish, Pos: [2]int{5, 5}},
		Edit{Kind: EditCancelTask, ID: 99},
		Edit{Kind: EditMoveAgent, ID: 42, Pos: [2]int{1, 2}},
		Edit{Kind: EditPaintGround, Pos: [2]int{0, 0}, Ground: "LAVA"},
		Edit{Kind: "JUGGLE"},
	)
	assert.True(t, res[0].OK)
	want := []string{"", CodeOccupied, CodeUnknownKind, CodeInvalidCell, CodeNotOccupied, CodeUnknownTask, CodeUnknownAgent, CodeBadRequest, CodeBadRequest}
	for i := 1; i < len(res); i++ {
		assert.False(t, res[i].OK, "edit %d", i)
		assert.Equal(t, want[i], res[i].Code, "edit %d: %s", i, res[i].Message)
	}
	// Failed edits leave no trace.
	require.Len(t, s.Objects(), 1)
	assert.True(t, s.Grid().Query(grid.Pos{X: 1, Y: 1}).Occupied)
}

func TestOversizedDemolishIsRejected(t *testing.T) {
	s := newTestSite(t, 8, 8)
	requireOK(t, step(t, s, place("WATER_PIPE", 1, 1)))

	huge := [2]int{1 << 31, 1 << 31}
	var res []EditResult
	require.NotPanics(t, func() {
		res = step(t, s,
			Edit{Kind: EditDemolish, Layer: "UNDERGROUND", Size: huge},
			Edit{Kind: EditDemolish, Size: huge},
			Edit{Kind: EditDemolish, Layer: "UNDERGROUND", Pos: [2]int{1, 1}, Size: [2]int{-1, 1}},
			Edit{Kind: EditDemolish, Layer: "UNDERGROUND", Pos: [2]int{7, 7}, Size: [2]int{2, 2}},
		)
	})
	want := []string{CodeInvalidCell, CodeInvalidCell, CodeBadFootprint, CodeInvalidCell}
	for i, r := range res {
		assert.False(t, r.OK, "edit %d", i)
		assert.Equal(t, want[i], r.Code, "edit %d: %s", i, r.Message)
	}
	assert.Len(t, s.Objects(), 1)
}

func TestSpecialistIsAssignedAndFinishes(t *testing.T) {
	s := newTestSite(t, 12, 12)
	logs := &tickRecorder{}
	s.SetTickLogger(logs)

	res := step(t, s,
		Edit{Kind: EditHire, Name: "gus", Pos: [2]int{5, 5}, Capabilities: []string{dispatch.KindCleaning}},
		Edit{Kind: EditHire, Name: "sue", Pos: [2]int{11, 11}, Specializations: []string{dispatch.KindCleaning}},
		Edit{Kind: EditSubmitTask, TaskKind: dispatch.KindCleaning, Pos: [2]int{4, 4}, WorkTicks: 2},
	)
	requireOK(t, res)
	gus, sue, task := res[0].ID, res[1].ID, dispatch.TaskID(res[2].ID)

	held, ok := s.Dispatcher().Assignment(dispatch.EmployeeID(sue))
	require.True(t, ok)
	assert.Equal(t, task, held)
	_, ok = s.Dispatcher().Assignment(dispatch.EmployeeID(gus))
	assert.False(t, ok)

	for i := 0; i < 40; i++ {
		if _, open := s.Dispatcher().Task(task); !open {
			break
		}
		s.StepOnce(nil)
	}
	_, open := s.Dispatcher().Task(task)
	require.False(t, open, "task still open")

	a, ok := s.Agent(AgentID(sue))
	require.True(t, ok)
	assert.Equal(t, grid.Pos{X: 4, Y: 4}, a.Pos)
	assert.Zero(t, a.Task)
	assert.False(t, a.HasGoal)

	var seen []dispatch.Status
	for _, e := range logs.entries {
		for _, tr := range e.Transitions {
			if tr.Task == task {
				seen = append(seen, tr.To)
			}
		}
	}
	assert.Equal(t, []dispatch.Status{dispatch.Assigned, dispatch.InProgress, dispatch.Completed}, seen)
}

func TestConstructionTaskBuildsObject(t *testing.T) {
	s := newTestSite(t, 8, 8)
	res := step(t, s,
		place("WATER_TAP", 2, 2),
		Edit{Kind: EditHire, Name: "bob", Pos: [2]int{0, 0}, Capabilities: []string{dispatch.KindConstruction}},
	)
	requireOK(t, res)
	tap := grid.ObjectID(res[0].ID)

	o, _ := s.Object(tap)
	require.False(t, o.Built)
	tasks := s.Dispatcher().Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, dispatch.KindConstruction, tasks[0].Kind)
	assert.Equal(t, grid.Pos{X: 1, Y: 1}, tasks[0].Location)

	for i := 0; i < 30 && !o.Built; i++ {
		s.StepOnce(nil)
		o, _ = s.Object(tap)
	}
	assert.True(t, o.Built)
	assert.Empty(t, s.Dispatcher().Tasks())
}

func TestPendingTaskMovesOffBlockedAccessCell(t *testing.T) {
	s := newTestSite(t, 12, 12)
	res := step(t, s, place("WATER_TAP", 5, 5))
	requireOK(t, res)
	tap := grid.ObjectID(res[0].ID)
	tasks := s.Dispatcher().Tasks()
	require.Len(t, tasks, 1)
	require.Equal(t, grid.Pos{X: 4, Y: 4}, tasks[0].Location)

	requireOK(t, step(t, s, place("HEDGE", 4, 4)))
	task, ok := s.Dispatcher().Task(tasks[0].ID)
	require.True(t, ok)
	assert.Equal(t, grid.Pos{X: 5, Y: 4}, task.Location)

	requireOK(t, step(t, s, Edit{Kind: EditHire, Name: "bob", Pos: [2]int{0, 0}, Capabilities: []string{dispatch.KindConstruction}}))
	o, _ := s.Object(tap)
	for i := 0; i < 60 && !o.Built; i++ {
		s.StepOnce(nil)
		o, _ = s.Object(tap)
	}
	assert.True(t, o.Built)
}

func TestAssigneeFollowsRelocatedTask(t *testing.T) {
	s := newTestSite(t, 16, 16)
	res := step(t, s,
		Edit{Kind: EditHire, Name: "bob", Pos: [2]int{15, 15}, Capabilities: []string{dispatch.KindConstruction}},
		place("WATER_TAP", 2, 2),
	)
	requireOK(t, res)
	bob, tap := AgentID(res[0].ID), grid.ObjectID(res[1].ID)
	s.StepOnce(nil)
	a, _ := s.Agent(bob)
	require.NotZero(t, a.Task)
	require.Equal(t, grid.Pos{X: 1, Y: 1}, a.Goal)

	audits := &auditRecorder{}
	s.SetAuditLogger(audits)
	requireOK(t, step(t, s, place("HEDGE", 1, 1)))
	a, _ = s.Agent(bob)
	assert.Equal(t, grid.Pos{X: 2, Y: 1}, a.Goal)
	task, ok := s.Dispatcher().Task(a.Task)
	require.True(t, ok)
	assert.Equal(t, dispatch.Assigned, task.Status)
	assert.Equal(t, grid.Pos{X: 2, Y: 1}, task.Location)

	var moved bool
	for _, e := range audits.entries {
		if e.Action == "TASK_RELOCATE" && e.Object == uint64(tap) {
			moved = true
		}
	}
	assert.True(t, moved, "relocation not audited")

	o, _ := s.Object(tap)
	for i := 0; i < 60 && !o.Built; i++ {
		s.StepOnce(nil)
		o, _ = s.Object(tap)
	}
	assert.True(t, o.Built)
}

func TestDemolishCancelsObjectTasks(t *testing.T) {
	s := newTestSite(t, 8, 8)
	requireOK(t, step(t, s, place("WATER_TAP", 2, 2)))
	require.Len(t, s.Dispatcher().Tasks(), 1)

	requireOK(t, step(t, s, Edit{Kind: EditDemolish, Pos: [2]int{2, 2}}))
	assert.Empty(t, s.Dispatcher().Tasks())
	assert.Empty(t, s.taskObject)
}

func TestUtilitySupplyFollowsConduits(t *testing.T) {
	s := newTestSite(t, 20, 8)
	audits := &auditRecorder{}
	s.SetAuditLogger(audits)

	res := step(t, s,
		place("WATER_TAP", 0, 0),
		place("WATER_PIPE", 1, 0),
		place("WATER_PIPE", 2, 0),
		place("WATER_PIPE", 3, 0),
		place("WATER_PIPE", 4, 0),
		place("CARAVAN_SITE", 5, 0),
	)
	requireOK(t, res)
	caravan := res[5].ID

	report := s.SupplyReport()
	require.Len(t, report, 1)
	assert.Equal(t, SupplyStatus{
		Object:   caravan,
		Kind:     "CARAVAN_SITE",
		Requires: []string{"WATER", "ELECTRICITY"},
		Has:      []string{"WATER"},
		Missing:  []string{"ELECTRICITY"},
		Supplied: false,
	}, report[0])

	// Conduits are underground: the pipe cells stay walkable.
	assert.True(t, s.Mesh(navmesh.People).Walkable(grid.Pos{X: 2, Y: 0}))

	power := step(t, s, place("GENERATOR", 11, 0), place("POWER_CABLE", 10, 0))
	requireOK(t, power)
	generator := power[0].ID
	report = s.SupplyReport()
	require.Len(t, report, 1)
	assert.True(t, report[0].Supplied)
	assert.Empty(t, report[0].Missing)

	var flipped bool
	for _, e := range audits.entries {
		if e.Action == "UTILITY_FLIP" && e.Object == caravan && e.Reason == "ELECTRICITY" && e.Details["connected"] == true {
			flipped = true
		}
	}
	assert.True(t, flipped, "no connect flip audited for the caravan")

	requireOK(t, step(t, s, Edit{Kind: EditDemolish, Layer: "UNDERGROUND", Pos: [2]int{10, 0}}))
	report = s.SupplyReport()
	assert.False(t, report[0].Supplied)
	assert.Equal(t, []string{"ELECTRICITY"}, report[0].Missing)

	// An explicit link restores supply without a conduit.
	requireOK(t, step(t, s, Edit{Kind: EditLinkUtility, ID: caravan, Target: generator, Utilities: []string{"ELECTRICITY"}}))
	assert.True(t, s.SupplyReport()[0].Supplied)
	require.NoError(t, s.Network().Verify())
}

// dropConnected removes node from the connected set of typ without going
// through the network's entry points, as a lost incremental update would.
func dropConnected(t *testing.T, n *utility.Network, node utility.NodeID, typ utility.Type) {
	t.Helper()
	f := reflect.ValueOf(n).Elem().FieldByName("connected")
	require.True(t, f.IsValid())
	sets := reflect.NewAt(f.Type(), unsafe.Pointer(f.UnsafeAddr())).Elem()
	sets.Index(int(typ)).SetMapIndex(reflect.ValueOf(node), reflect.Value{})
}

func TestDriftedUtilityNetworkIsRepaired(t *testing.T) {
	s := newTestSite(t, 12, 4)
	res := step(t, s,
		place("WATER_TAP", 0, 0),
		place("WATER_PIPE", 1, 0),
		place("WATER_PIPE", 2, 0),
	)
	requireOK(t, res)
	pipe := nodeID(grid.ObjectID(res[2].ID))
	require.True(t, s.Network().IsConnected(pipe, utility.Water))

	dropConnected(t, s.Network(), pipe, utility.Water)
	require.Error(t, s.Network().Verify())

	audits := &auditRecorder{}
	s.SetAuditLogger(audits)
	s.StepOnce(nil)

	assert.True(t, s.Network().IsConnected(pipe, utility.Water))
	require.NoError(t, s.Network().Verify())
	assert.Equal(t, uint64(1), s.Network().Repairs())
	var flipped bool
	for _, e := range audits.entries {
		if e.Action == "UTILITY_FLIP" && e.Object == res[2].ID && e.Details["connected"] == true {
			flipped = true
		}
	}
	assert.True(t, flipped, "repair flip not audited")
}

func TestServiceTasksAreGenerated(t *testing.T) {
	cats, err := catalogs.Parse([]byte(`[
		{"id": "KIOSK", "class": "SERVICE", "footprint": [1, 1], "service_task": "RESTOCKING", "service_every_ticks": 3}
	]`))
	require.NoError(t, err)
	s := newTestSiteWith(t, 8, 8, cats)

	requireOK(t, step(t, s, place("KIOSK", 2, 2)))
	for i := 0; i < 7; i++ {
		s.StepOnce(nil)
	}
	pending := s.Dispatcher().Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, dispatch.KindRestocking, pending[0].Kind)
	assert.Equal(t, grid.Pos{X: 1, Y: 1}, pending[0].Location)
	assert.Equal(t, uint64(3), pending[0].CreatedTick)
}

func TestAgentsAreEvictedFromPlacedObjects(t *testing.T) {
	s := newTestSite(t, 8, 8)
	res := step(t, s,
		Edit{Kind: EditSpawnVisitor, Pos: [2]int{3, 3}},
		place("HEDGE", 3, 3),
	)
	requireOK(t, res)
	a, ok := s.Agent(AgentID(res[0].ID))
	require.True(t, ok)
	assert.Equal(t, grid.Pos{X: 2, Y: 2}, a.Pos)
}

func TestVisitorWalksToGoal(t *testing.T) {
	s := newTestSite(t, 8, 8)
	res := step(t, s, Edit{Kind: EditSpawnVisitor, Pos: [2]int{0, 0}})
	requireOK(t, res)
	id := AgentID(res[0].ID)

	requireOK(t, step(t, s,
		place("HEDGE", 1, 0),
		Edit{Kind: EditMoveAgent, ID: uint64(id), Pos: [2]int{2, 0}},
	))
	for i := 0; i < 10; i++ {
		s.StepOnce(nil)
	}
	a, _ := s.Agent(id)
	assert.Equal(t, grid.Pos{X: 2, Y: 0}, a.Pos)
	assert.False(t, a.HasGoal)

	// Unreachable goals are dropped.
	requireOK(t, step(t, s,
		place("HEDGE", 6, 7), place("HEDGE", 7, 6),
		Edit{Kind: EditMoveAgent, ID: uint64(id), Pos: [2]int{7, 7}},
	))
	s.StepOnce(nil)
	a, _ = s.Agent(id)
	assert.False(t, a.HasGoal)
	assert.Equal(t, grid.Pos{X: 2, Y: 0}, a.Pos)
}

func TestTickLogRecordsEditsAndDigest(t *testing.T) {
	s := newTestSite(t, 8, 8)
	logs := &tickRecorder{}
	s.SetTickLogger(logs)

	edits := []Edit{place("HEDGE", 1, 1), place("HEDGE", 1, 1)}
	tick, digest := s.StepOnce(edits)
	require.Len(t, logs.entries, 1)
	entry := logs.entries[0]
	assert.Equal(t, tick, entry.Tick)
	assert.Equal(t, digest, entry.Digest)
	require.Len(t, entry.Edits, 2)
	assert.True(t, entry.Edits[0].Result.OK)
	assert.Equal(t, CodeOccupied, entry.Edits[1].Result.Code)

	b, err := json.Marshal(entry)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "Resp")
}

func TestReplayReproducesDigests(t *testing.T) {
	logs := &tickRecorder{}
	a := newTestSite(t, 12, 12)
	a.SetTickLogger(logs)
	script := [][]Edit{
		{
			{Kind: EditHire, Name: "sue", Pos: [2]int{11, 11}, Specializations: []string{dispatch.KindCleaning}},
			{Kind: EditSubmitTask, TaskKind: dispatch.KindCleaning, Pos: [2]int{0, 0}, WorkTicks: 3},
		},
		{place("HEDGE", 5, 5), {Kind: EditPaintGround, Pos: [2]int{0, 6}, Size: [2]int{12, 1}, Ground: "PATHWAY"}},
		nil,
		{{Kind: EditSpawnVisitor, Pos: [2]int{0, 6}, Class: "VEHICLES"}},
	}
	for i := 0; i < 30; i++ {
		var edits []Edit
		if i < len(script) {
			edits = script[i]
		}
		a.StepOnce(edits)
	}

	b := newTestSite(t, 12, 12)
	for _, entry := range logs.entries {
		edits := make([]Edit, 0, len(entry.Edits))
		for _, re := range entry.Edits {
			edits = append(edits, re.Edit)
		}
		tick, digest := b.StepOnce(edits)
		require.Equal(t, entry.Tick, tick)
		require.Equal(t, entry.Digest, digest, "tick %d", tick)
	}
}

func TestSnapshotRoundTripKeepsDigest(t *testing.T) {
	s := newTestSite(t, 16, 16)
	res := step(t, s,
		Edit{Kind: EditHire, Name: "sue", Pos: [2]int{15, 15}, Specializations: []string{dispatch.KindCleaning}, Efficiency: map[string]float64{dispatch.KindCleaning: 1.5}},
		Edit{Kind: EditSpawnVisitor, Name: "vic", Pos: [2]int{0, 0}},
		Edit{Kind: EditSubmitTask, TaskKind: dispatch.KindCleaning, Pos: [2]int{2, 2}, WorkTicks: 3},
		place("HEDGE", 8, 8),
		Edit{Kind: EditPaintGround, Pos: [2]int{0, 4}, Size: [2]int{16, 1}, Ground: "PATHWAY"},
		place("WATER_TAP", 10, 1),
		place("WATER_PIPE", 11, 1),
	)
	requireOK(t, res)
	requireOK(t, step(t, s, Edit{Kind: EditMoveAgent, ID: res[1].ID, Pos: [2]int{12, 12}}))
	for i := 0; i < 3; i++ {
		s.StepOnce(nil)
	}
	last := s.CurrentTick() - 1
	snap := s.ExportSnapshot(last)

	path := filepath.Join(t.TempDir(), "snap.zst")
	require.NoError(t, snapshot.WriteSnapshot(path, snap))
	loaded, err := snapshot.ReadSnapshot(path)
	require.NoError(t, err)

	restored := newTestSite(t, 8, 8)
	require.NoError(t, restored.ImportSnapshot(loaded))
	assert.Equal(t, s.CurrentTick(), restored.CurrentTick())
	require.Equal(t, s.stateDigest(last), restored.stateDigest(last))
	require.NoError(t, restored.Mesh(navmesh.People).Validate())

	for i := 0; i < 25; i++ {
		_, want := s.StepOnce(nil)
		_, got := restored.StepOnce(nil)
		require.Equal(t, want, got, "step %d", i)
	}
}

func TestImportRejectsBadSnapshotAndKeepsState(t *testing.T) {
	s := newTestSite(t, 8, 8)
	requireOK(t, step(t, s, place("HEDGE", 1, 1)))
	before := s.stateDigest(0)

	snap := s.ExportSnapshot(0)
	snap.Objects = append(snap.Objects, snapshot.ObjectV1{ID: 9, Kind: "CASTLE", W: 1, H: 1})
	err := s.ImportSnapshot(snap)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownObjectKind))
	assert.Equal(t, before, s.stateDigest(0))
}

func TestOverlayIsGatedByDebug(t *testing.T) {
	s := newTestSite(t, 8, 8)
	_, ok := s.Overlay()
	require.False(t, ok)

	tickOut, dataOut := make(chan []byte, 4), make(chan []byte, 4)
	s.handleObserverJoin(ObserverJoinRequest{SessionID: "o1", TickOut: tickOut, DataOut: dataOut})

	s.StepOnce(nil)
	require.Len(t, tickOut, 1)
	require.Len(t, dataOut, 0)

	requireOK(t, step(t, s, Edit{Kind: EditSetDebug, Debug: true}, place("WATER_TAP", 0, 0)))
	require.Len(t, dataOut, 1)
	var msg OverlayMsg
	require.NoError(t, json.Unmarshal(<-dataOut, &msg))
	assert.Equal(t, "OVERLAY", msg.Type)
	require.Len(t, msg.Overlay.Meshes, 2)
	assert.Equal(t, "PEOPLE", msg.Overlay.Meshes[0].Category)
	require.NotNil(t, msg.Overlay.Utility)
	assert.Len(t, msg.Overlay.Utility.Nodes, 1)

	ov, ok := s.Overlay()
	require.True(t, ok)
	assert.Len(t, ov.Meshes, 2)

	s.handleObserverSubscribe(ObserverSubscribeRequest{SessionID: "o1", Layers: Layers{Meshes: true}})
	s.StepOnce(nil)
	msg = OverlayMsg{}
	require.NoError(t, json.Unmarshal(<-dataOut, &msg))
	assert.Nil(t, msg.Overlay.Utility)
	assert.Len(t, msg.Overlay.Meshes, 2)

	s.handleObserverLeave("o1")
	for range tickOut {
	}
	_, open := <-dataOut
	assert.False(t, open)
}

func TestGroundOverlayFollowsPaint(t *testing.T) {
	s := newTestSite(t, 8, 6)
	requireOK(t, step(t, s,
		Edit{Kind: EditSetDebug, Debug: true},
		Edit{Kind: EditPaintGround, Ground: "PATHWAY", Pos: [2]int{0, 2}, Size: [2]int{8, 1}},
		Edit{Kind: EditPaintGround, Ground: "POOL_PATH", Pos: [2]int{7, 5}},
	))

	ov, ok := s.Overlay()
	require.True(t, ok)
	require.NotNil(t, ov.Ground)
	cells, err := encoding.DecodeRuns(ov.Ground.Runs, ov.Ground.Width*ov.Ground.Height)
	require.NoError(t, err)
	at := func(x, y int) grid.Ground { return grid.Ground(cells[y*8+x]) }
	assert.Equal(t, grid.GroundGrass, at(0, 0))
	for x := 0; x < 8; x++ {
		assert.Equal(t, grid.GroundPathway, at(x, 2))
	}
	assert.Equal(t, grid.GroundPoolPath, at(7, 5))
	assert.Equal(t, grid.GroundGrass, at(6, 5))

	assert.Nil(t, filterOverlay(ov, Layers{Meshes: true}).Ground)
}

func TestRunServesInboxAndQueries(t *testing.T) {
	cfg := tuning.Defaults()
	cfg.Width, cfg.Height, cfg.SectorSize = 8, 8, 4
	cfg.TickRateHz = 60
	s, err := New(cfg, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	resp := make(chan EditResult, 1)
	require.NoError(t, s.Submit(Edit{Kind: EditPlace, Object: "HEDGE", Pos: [2]int{1, 1}, Resp: resp}))
	select {
	case r := <-resp:
		require.True(t, r.OK, r.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("edit not applied")
	}

	rr := make(chan RouteResponse, 1)
	s.Routes() <- RouteRequest{Start: grid.Pos{X: 0, Y: 1}, Goal: grid.Pos{X: 2, Y: 1}, Resp: rr}
	select {
	case r := <-rr:
		require.True(t, r.OK)
		assert.InDelta(t, 4.0, r.Route.Cost, 1e-9)
	case <-time.After(2 * time.Second):
		t.Fatal("route not answered")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
