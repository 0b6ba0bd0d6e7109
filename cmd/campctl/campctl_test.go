package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campsite.sim/internal/persistence/archive"
	"campsite.sim/internal/persistence/indexdb"
	persistlog "campsite.sim/internal/persistence/log"
	"campsite.sim/internal/persistence/snapshot"
	"campsite.sim/internal/sim/dispatch"
	"campsite.sim/internal/sim/site"
	"campsite.sim/internal/sim/tuning"
	"campsite.sim/internal/transport/ws"
)

type fixture struct {
	siteDir  string
	snapPath string
	dbPath   string
}

// recordSite runs a small site with tick logging on, snapshots it after a few
// ticks and keeps going so there is history to replay.
func recordSite(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		siteDir:  filepath.Join(dir, "site"),
		snapPath: filepath.Join(dir, "site", "snapshots", "snap.zst"),
		dbPath:   filepath.Join(dir, "site", "index", "site.sqlite"),
	}

	cfg := tuning.Defaults()
	cfg.Width, cfg.Height, cfg.SectorSize = 16, 16, 4
	s, err := site.New(cfg, nil, nil)
	require.NoError(t, err)
	tickLog := persistlog.NewTickLogger(f.siteDir)
	idx, err := indexdb.OpenSQLite(f.dbPath)
	require.NoError(t, err)
	s.SetTickLogger(teeLogger{tickLog, idx})

	s.StepOnce([]site.Edit{
		{Kind: site.EditHire, Name: "sue", Pos: [2]int{15, 15}, Capabilities: []string{dispatch.KindConstruction, dispatch.KindCleaning}},
		{Kind: site.EditPlace, Object: "WATER_TAP", Pos: [2]int{1, 1}},
		{Kind: site.EditPlace, Object: "WATER_PIPE", Pos: [2]int{2, 1}},
		{Kind: site.EditPlace, Object: "HEDGE", Pos: [2]int{8, 8}},
		{Kind: site.EditSpawnVisitor, Name: "vic", Pos: [2]int{0, 15}},
	})
	for i := 0; i < 4; i++ {
		s.StepOnce(nil)
	}
	last := s.CurrentTick() - 1
	require.NoError(t, snapshot.WriteSnapshot(f.snapPath, s.ExportSnapshot(last)))

	s.StepOnce([]site.Edit{
		{Kind: site.EditSubmitTask, TaskKind: dispatch.KindCleaning, Pos: [2]int{4, 4}, WorkTicks: 2},
		{Kind: site.EditMoveAgent, ID: 2, Pos: [2]int{12, 3}},
		{Kind: site.EditPlace, Object: "HEDGE", Pos: [2]int{8, 8}},
	})
	for i := 0; i < 40; i++ {
		s.StepOnce(nil)
	}
	require.NoError(t, tickLog.Close())
	require.NoError(t, idx.Close())
	return f
}

type teeLogger struct {
	a, b site.TickLogger
}

func (t teeLogger) WriteTick(e site.TickLogEntry) error {
	_ = t.b.WriteTick(e)
	return t.a.WriteTick(e)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--configs", t.TempDir()}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestReplayVerifiesRecordedHistory(t *testing.T) {
	f := recordSite(t)
	out, err := run(t, "replay", "--snapshot", f.snapPath, "--site-dir", f.siteDir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "replay ok: checked=41 ticks")

	out, err = run(t, "replay", "--snapshot", f.snapPath, "--site-dir", f.siteDir, "--to-tick", "10")
	require.NoError(t, err, out)
	assert.Contains(t, out, "checked=6 ticks")
}

func TestReplayDetectsTamperedDigest(t *testing.T) {
	f := recordSite(t)

	// Rewrite the log with one digest changed.
	var entries []site.TickLogEntry
	require.NoError(t, persistlog.ScanTicks(f.siteDir, func(e site.TickLogEntry) error {
		if e.Tick == 20 {
			e.Digest = "bogus"
		}
		entries = append(entries, e)
		return nil
	}))
	tampered := filepath.Join(t.TempDir(), "tampered")
	l := persistlog.NewTickLogger(tampered)
	for _, e := range entries {
		require.NoError(t, l.WriteTick(e))
	}
	require.NoError(t, l.Close())

	_, err := run(t, "replay", "--snapshot", f.snapPath, "--site-dir", tampered)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "digest mismatch at tick 20")
}

func TestInspectRouteSupplyHistory(t *testing.T) {
	f := recordSite(t)

	out, err := run(t, "inspect", f.snapPath)
	require.NoError(t, err)
	assert.Contains(t, out, "tick=4 size=16x16")
	assert.Contains(t, out, "HEDGE")
	assert.Contains(t, out, "employees:     1")

	out, err = run(t, "route", f.snapPath, "--from", "0,0", "--to", "15,15")
	require.NoError(t, err)
	assert.Contains(t, out, "PEOPLE route")

	out, err = run(t, "route", f.snapPath, "--from", "0,0", "--to", "8,8")
	require.NoError(t, err)
	assert.Contains(t, out, "no PEOPLE route")

	_, err = run(t, "route", f.snapPath, "--from", "0", "--to", "8,8")
	require.Error(t, err)

	out, err = run(t, "supply", f.snapPath)
	require.NoError(t, err)
	assert.Contains(t, out, "buildings supplied")

	out, err = run(t, "history", "--db", f.dbPath, "--task", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "CONSTRUCTION")
	assert.Contains(t, out, "PENDING -> ASSIGNED")
}

func TestEditSendsLinesToRunningServer(t *testing.T) {
	cfg := tuning.Defaults()
	cfg.Width, cfg.Height, cfg.SectorSize = 16, 16, 4
	cfg.TickRateHz = 50
	s, err := site.New(cfg, nil, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	hs := httptest.NewServer(ws.NewServer(s, nil).Handler())
	t.Cleanup(hs.Close)
	url := "ws" + strings.TrimPrefix(hs.URL, "http")

	file := filepath.Join(t.TempDir(), "edits.jsonl")
	require.NoError(t, os.WriteFile(file, []byte(`# two hedges then a clash
{"kind":"PLACE","object":"HEDGE","pos":[3,4]}
{"kind":"PLACE","object":"HEDGE","pos":[5,4]}

{"kind":"PLACE","object":"TREE","pos":[3,4]}
`), 0o644))

	out, err := run(t, "edit", "--url", url, "--file", file, "--timeout", "10s")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 3 edits rejected")
	assert.Contains(t, out, "session E")
	assert.Contains(t, out, "ok id=1")
	assert.Contains(t, out, "ok id=2")
	assert.Contains(t, out, "rejected E_OCCUPIED")

	_, err = run(t, "edit", "--url", url, "--file", writeTemp(t, "{not json}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func writeTemp(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestArchivesListsSnapshotsAndMilestones(t *testing.T) {
	dir := t.TempDir()
	for _, tick := range []uint64{10, 20} {
		path := filepath.Join(dir, "snapshots", fmt.Sprintf("%d.snap.zst", tick))
		snap := snapshot.SnapshotV1{Header: snapshot.Header{Version: snapshot.Version, SiteID: "camp", Tick: tick}, Width: 16, Height: 16}
		require.NoError(t, snapshot.WriteSnapshot(path, snap))
		_, _, err := archive.Milestone(dir, path, snap, 20)
		require.NoError(t, err)
	}

	out, err := run(t, "archives", "--site-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "snapshots: 2")
	assert.Contains(t, out, "archives: 1")
	assert.Contains(t, out, "16x16")
}
