package indexdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campsite.sim/internal/persistence/snapshot"
	"campsite.sim/internal/sim/catalogs"
	"campsite.sim/internal/sim/dispatch"
	"campsite.sim/internal/sim/site"
	"campsite.sim/internal/sim/tuning"
)

func TestSQLiteIndexRecordsHistory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index", "site.sqlite")
	idx, err := OpenSQLite(dbPath)
	require.NoError(t, err)

	require.NoError(t, idx.UpsertCatalogs(catalogs.Default(), tuning.Defaults()))
	require.NoError(t, idx.WriteTick(site.TickLogEntry{
		Tick: 7,
		Edits: []site.RecordedEdit{
			{Edit: site.Edit{Kind: site.EditPlace, Object: "HEDGE"}, Result: site.EditResult{OK: true, ID: 3}},
			{Edit: site.Edit{Kind: site.EditPlace, Object: "NOPE"}, Result: site.EditResult{Code: "E_UNKNOWN_KIND"}},
		},
		Transitions: []dispatch.Transition{
			{Task: 1, Kind: dispatch.KindRepair, Employee: 2, From: dispatch.Pending, To: dispatch.Assigned},
		},
		Digest: "abc",
	}))
	require.NoError(t, idx.WriteTick(site.TickLogEntry{
		Tick: 9,
		Transitions: []dispatch.Transition{
			{Task: 1, Kind: dispatch.KindRepair, Employee: 2, From: dispatch.Assigned, To: dispatch.InProgress},
		},
		Digest: "def",
	}))
	require.NoError(t, idx.WriteAudit(site.AuditEntry{Tick: 7, Action: "PLACE", Pos: [2]int{1, 2}, Object: 3, Kind: "HEDGE"}))
	require.NoError(t, idx.WriteAudit(site.AuditEntry{Tick: 7, Action: "PLACE", Pos: [2]int{4, 2}, Object: 4, Kind: "HEDGE"}))
	idx.RecordSnapshot("/snaps/10.snap.zst", snapshot.SnapshotV1{Header: snapshot.Header{Tick: 10, SiteID: "s"}, Width: 8, Height: 8})
	idx.RecordSnapshot("/snaps/20.snap.zst", snapshot.SnapshotV1{Header: snapshot.Header{Tick: 20, SiteID: "s"}, Width: 8, Height: 8})
	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close())

	// Writes after close are ignored.
	require.NoError(t, idx.WriteTick(site.TickLogEntry{Tick: 99}))

	idx, err = OpenSQLite(dbPath)
	require.NoError(t, err)
	defer idx.Close()
	ctx := context.Background()

	hist, err := idx.TaskHistory(ctx, 1)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "PENDING", hist[0].From)
	assert.Equal(t, "ASSIGNED", hist[0].To)
	assert.Equal(t, uint64(9), hist[1].Tick)
	assert.Equal(t, "IN_PROGRESS", hist[1].To)

	d, ok, err := idx.TickDigest(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "abc", d)
	_, ok, err = idx.TickDigest(ctx, 99)
	require.NoError(t, err)
	assert.False(t, ok)

	ref, ok, err := idx.LatestSnapshot(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, SnapshotRef{Tick: 20, Path: "/snaps/20.snap.zst"}, ref)

	n, err := idx.AuditCount(ctx, "PLACE")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var rejected int
	require.NoError(t, idx.db.QueryRow(`SELECT rejected FROM ticks WHERE tick=7`).Scan(&rejected))
	assert.Equal(t, 1, rejected)

	var names int
	require.NoError(t, idx.db.QueryRow(`SELECT COUNT(*) FROM catalogs`).Scan(&names))
	assert.Equal(t, 2, names)
}

func TestEmptyLatestSnapshot(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "site.sqlite"))
	require.NoError(t, err)
	defer idx.Close()
	_, ok, err := idx.LatestSnapshot(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenSQLiteRejectsEmptyPath(t *testing.T) {
	_, err := OpenSQLite("")
	require.Error(t, err)
}
