package worldtest

import (
	"testing"

	"campsite.sim/internal/persistence/snapshot"
	"campsite.sim/internal/sim/catalogs"
	"campsite.sim/internal/sim/navmesh"
	"campsite.sim/internal/sim/site"
	"campsite.sim/internal/sim/tuning"
)

// Harness drives a site through its exported API only:
// - Step() applies edits in one tick via StepOnce()
// - every edit gets a Resp channel so results come back in order
// - Snapshot()/Restore() cover export and import
//
// Tests built on it never touch site internals.
type Harness struct {
	T    *testing.T
	Cats *catalogs.Catalogs
	Cfg  tuning.Tuning
	S    *site.Site

	// LastDigest is the digest returned by the most recent step.
	LastDigest string
}

// Config returns tuning for a w x h site with mesh and utility verification on.
func Config(w, h int) tuning.Tuning {
	cfg := tuning.Defaults()
	cfg.Width, cfg.Height, cfg.SectorSize = w, h, 4
	cfg.VerifyNavmesh = true
	cfg.VerifyUtility = true
	return cfg
}

func NewHarness(t *testing.T, cfg tuning.Tuning, cats *catalogs.Catalogs) *Harness {
	t.Helper()
	if cats == nil {
		cats = catalogs.Default()
	}
	s, err := site.New(cfg, cats, nil)
	if err != nil {
		t.Fatalf("site.New: %v", err)
	}
	return &Harness{T: t, Cats: cats, Cfg: cfg, S: s}
}

// Step applies edits in one tick and returns their results in order.
func (h *Harness) Step(edits ...site.Edit) []site.EditResult {
	h.T.Helper()
	for i := range edits {
		edits[i].Resp = make(chan site.EditResult, 1)
	}
	_, h.LastDigest = h.S.StepOnce(edits)
	out := make([]site.EditResult, len(edits))
	for i, e := range edits {
		select {
		case out[i] = <-e.Resp:
		default:
			h.T.Fatalf("edit %d (%s) got no result", i, e.Kind)
		}
	}
	return out
}

// MustStep is Step that fails the test on any rejected edit.
func (h *Harness) MustStep(edits ...site.Edit) []site.EditResult {
	h.T.Helper()
	res := h.Step(edits...)
	for i, r := range res {
		if !r.OK {
			h.T.Fatalf("edit %d (%s %s at %v): %s %s", i, edits[i].Kind, edits[i].Object, edits[i].Pos, r.Code, r.Message)
		}
	}
	return res
}

func (h *Harness) StepNoop() {
	h.T.Helper()
	_, h.LastDigest = h.S.StepOnce(nil)
}

// StepN runs n empty ticks and returns the digest of each.
func (h *Harness) StepN(n int) []string {
	h.T.Helper()
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		h.StepNoop()
		out = append(out, h.LastDigest)
	}
	return out
}

// StepUntil runs empty ticks until cond holds, failing after limit ticks.
func (h *Harness) StepUntil(limit int, cond func() bool) int {
	h.T.Helper()
	for i := 0; i < limit; i++ {
		if cond() {
			return i
		}
		h.StepNoop()
	}
	if !cond() {
		h.T.Fatalf("condition not met after %d ticks", limit)
	}
	return limit
}

// Snapshot exports the state at the end of the last completed tick.
func (h *Harness) Snapshot() (uint64, snapshot.SnapshotV1) {
	h.T.Helper()
	cur := h.S.CurrentTick()
	if cur == 0 {
		h.T.Fatalf("Snapshot before first tick")
	}
	tick := cur - 1
	return tick, h.S.ExportSnapshot(tick)
}

// Restore builds a second harness from snap using the same tuning and catalogs.
func (h *Harness) Restore(snap snapshot.SnapshotV1) *Harness {
	h.T.Helper()
	h2 := NewHarness(h.T, h.Cfg, h.Cats)
	if err := h2.S.ImportSnapshot(snap); err != nil {
		h.T.Fatalf("import: %v", err)
	}
	return h2
}

// Validate checks both meshes and the utility network against a rebuild.
// Verification rebuilds silently while stepping, so any recovery so far is
// also a failure.
func (h *Harness) Validate() {
	h.T.Helper()
	for _, cat := range []navmesh.Category{navmesh.People, navmesh.Vehicles} {
		m := h.S.Mesh(cat)
		if err := m.Validate(); err != nil {
			h.T.Fatalf("%s mesh at tick %d: %v", cat, h.S.CurrentTick(), err)
		}
		if n := m.Stats().Recoveries; n != 0 {
			h.T.Fatalf("%s mesh rebuilt %d times by tick %d", cat, n, h.S.CurrentTick())
		}
	}
	if err := h.S.Network().Verify(); err != nil {
		h.T.Fatalf("utility network at tick %d: %v", h.S.CurrentTick(), err)
	}
	if n := h.S.Network().Repairs(); n != 0 {
		h.T.Fatalf("utility network recomputed %d times by tick %d", n, h.S.CurrentTick())
	}
}

func (h *Harness) Agent(id uint64) site.Agent {
	h.T.Helper()
	a, ok := h.S.Agent(site.AgentID(id))
	if !ok {
		h.T.Fatalf("agent %d not found", id)
	}
	return a
}

func Place(kind string, x, y int) site.Edit {
	return site.Edit{Kind: site.EditPlace, Object: kind, Pos: [2]int{x, y}}
}

func Demolish(x, y int) site.Edit {
	return site.Edit{Kind: site.EditDemolish, Pos: [2]int{x, y}}
}

func DemolishUnderground(x, y int) site.Edit {
	return site.Edit{Kind: site.EditDemolish, Layer: "UNDERGROUND", Pos: [2]int{x, y}}
}

func Hire(name string, x, y int, capabilities ...string) site.Edit {
	return site.Edit{Kind: site.EditHire, Name: name, Pos: [2]int{x, y}, Capabilities: capabilities}
}

func Spawn(name string, x, y int) site.Edit {
	return site.Edit{Kind: site.EditSpawnVisitor, Name: name, Pos: [2]int{x, y}}
}

func Move(id uint64, x, y int) site.Edit {
	return site.Edit{Kind: site.EditMoveAgent, ID: id, Pos: [2]int{x, y}}
}
