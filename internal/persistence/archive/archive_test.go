package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campsite.sim/internal/persistence/snapshot"
)

func writeSnap(t *testing.T, siteDir string, tick uint64) (string, snapshot.SnapshotV1) {
	t.Helper()
	snap := snapshot.SnapshotV1{
		Header:  snapshot.Header{Version: snapshot.Version, SiteID: "camp", Tick: tick},
		Width:   8,
		Height:  8,
		Objects: []snapshot.ObjectV1{{ID: 1, Kind: "HEDGE", W: 1, H: 1}},
	}
	path := filepath.Join(siteDir, "snapshots", fmt.Sprintf("%d.snap.zst", tick))
	require.NoError(t, snapshot.WriteSnapshot(path, snap))
	return path, snap
}

func TestSnapshotsSortedByTick(t *testing.T) {
	dir := t.TempDir()
	got, err := Snapshots(dir)
	require.NoError(t, err)
	assert.Empty(t, got)

	for _, tick := range []uint64{1200, 90, 300} {
		writeSnap(t, dir, tick)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "snapshots", "notes.txt"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "snapshots", "x.snap.zst"), nil, 0o644))

	got, err = Snapshots(dir)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []uint64{90, 300, 1200}, []uint64{got[0].Tick, got[1].Tick, got[2].Tick})
}

func TestPruneKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	for tick := uint64(100); tick <= 500; tick += 100 {
		writeSnap(t, dir, tick)
	}

	removed, err := Prune(dir, 2)
	require.NoError(t, err)
	assert.Len(t, removed, 3)

	left, err := Snapshots(dir)
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, uint64(400), left[0].Tick)
	assert.Equal(t, uint64(500), left[1].Tick)

	removed, err = Prune(dir, 0)
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestMilestoneCopiesOnlyMultiples(t *testing.T) {
	dir := t.TempDir()

	path, snap := writeSnap(t, dir, 150)
	_, ok, err := Milestone(dir, path, snap, 100)
	require.NoError(t, err)
	assert.False(t, ok)

	path, snap = writeSnap(t, dir, 200)
	archived, ok, err := Milestone(dir, path, snap, 100)
	require.NoError(t, err)
	require.True(t, ok)

	back, err := snapshot.ReadSnapshot(archived)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), back.Header.Tick)

	// Pruning the live directory leaves the archive alone.
	_, err = Prune(dir, 1)
	require.NoError(t, err)
	_, err = os.Stat(archived)
	require.NoError(t, err)

	metas, err := Milestones(dir)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, Meta{
		SiteID:    "camp",
		Tick:      200,
		Snapshot:  "200.snap.zst",
		CreatedAt: metas[0].CreatedAt,
		Width:     8,
		Height:    8,
		Objects:   1,
	}, metas[0])

	_, ok, err = Milestone(dir, path, snap, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}
