package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIndex(t *testing.T, w, h int) *Index {
	t.Helper()
	ix, err := New(w, h, 4)
	require.NoError(t, err)
	return ix
}

func TestNewRejectsBadDimensions(t *testing.T) {
	_, err := New(0, 5, 4)
	assert.Error(t, err)
	_, err = New(5, 5, 0)
	assert.Error(t, err)
}

func TestQueryNeverFails(t *testing.T) {
	ix := newIndex(t, 5, 5)
	c := ix.Query(Pos{X: 2, Y: 3})
	assert.False(t, c.Occupied)
	assert.Equal(t, GroundGrass, c.Ground)

	out := ix.Query(Pos{X: -1, Y: 0})
	assert.True(t, out.Occupied)
	assert.False(t, ix.Walkable(Pos{X: 5, Y: 0}))
}

func TestPlaceEmitsOneBatch(t *testing.T) {
	ix := newIndex(t, 10, 10)
	var batches [][]Change
	ix.Subscribe(ListenerFunc(func(cs []Change) { batches = append(batches, cs) }))

	fp := Rect{Min: Pos{X: 3, Y: 2}, W: 3, H: 2}
	require.NoError(t, ix.Place(fp, ObjectRef{ID: 1, Kind: "TENT_SITE"}))
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 6)
	for _, ch := range batches[0] {
		assert.True(t, ch.OccupancyChanged())
		assert.False(t, ch.Old.Occupied)
		assert.Equal(t, ObjectID(1), ch.New.Object.ID)
	}
	// Footprint spans two chunks.
	assert.Len(t, ix.LoadedChunkKeys(), 2)

	pl, ok := ix.ObjectAt(Pos{X: 5, Y: 3})
	require.True(t, ok)
	assert.Equal(t, fp, pl.Footprint)
}

func TestPlaceIsAllOrNothing(t *testing.T) {
	ix := newIndex(t, 8, 8)
	require.NoError(t, ix.Place(Rect{Min: Pos{X: 4, Y: 4}, W: 1, H: 1}, ObjectRef{ID: 1}))
	before := ix.Digest()

	calls := 0
	ix.Subscribe(ListenerFunc(func([]Change) { calls++ }))

	err := ix.Place(Rect{Min: Pos{X: 3, Y: 3}, W: 3, H: 3}, ObjectRef{ID: 2})
	assert.ErrorIs(t, err, ErrAlreadyOccupied)
	err = ix.Place(Rect{Min: Pos{X: 6, Y: 6}, W: 3, H: 1}, ObjectRef{ID: 3})
	assert.ErrorIs(t, err, ErrInvalidCell)
	err = ix.Place(Rect{Min: Pos{X: 0, Y: 0}, W: 0, H: 1}, ObjectRef{ID: 4})
	assert.ErrorIs(t, err, ErrMalformedFootprint)
	err = ix.Place(Rect{Min: Pos{X: 0, Y: 0}, W: 1, H: 1}, ObjectRef{ID: 1})
	assert.ErrorIs(t, err, ErrObjectExists)
	err = ix.Place(Rect{Min: Pos{X: 0, Y: 0}, W: 1, H: 1}, ObjectRef{})
	assert.ErrorIs(t, err, ErrInvalidObject)

	assert.Equal(t, before, ix.Digest())
	assert.Zero(t, calls)
	assert.False(t, ix.Query(Pos{X: 3, Y: 3}).Occupied)
}

func TestSetOccupancy(t *testing.T) {
	ix := newIndex(t, 4, 4)
	p := Pos{X: 1, Y: 1}
	assert.ErrorIs(t, ix.SetOccupancy(Pos{X: 9, Y: 0}, true, ObjectRef{ID: 1}), ErrInvalidCell)
	require.NoError(t, ix.SetOccupancy(p, true, ObjectRef{ID: 1, Kind: "WALL"}))
	assert.ErrorIs(t, ix.SetOccupancy(p, true, ObjectRef{ID: 2}), ErrAlreadyOccupied)
	assert.Equal(t, "WALL", ix.Query(p).Object.Kind)

	require.NoError(t, ix.SetOccupancy(p, false, ObjectRef{}))
	assert.False(t, ix.Query(p).Occupied)
	assert.ErrorIs(t, ix.SetOccupancy(p, false, ObjectRef{}), ErrNotOccupied)
}

func TestClearingOneCellDemolishesWholeObject(t *testing.T) {
	ix := newIndex(t, 6, 6)
	require.NoError(t, ix.Place(Rect{Min: Pos{X: 1, Y: 1}, W: 2, H: 2}, ObjectRef{ID: 5}))
	require.NoError(t, ix.SetOccupancy(Pos{X: 2, Y: 2}, false, ObjectRef{}))
	for _, p := range (Rect{Min: Pos{X: 1, Y: 1}, W: 2, H: 2}).Cells() {
		assert.False(t, ix.Query(p).Occupied, p)
	}
	assert.Empty(t, ix.Objects())
}

func TestDemolishRemovesIntersectingObjects(t *testing.T) {
	ix := newIndex(t, 10, 10)
	require.NoError(t, ix.Place(Rect{Min: Pos{X: 0, Y: 0}, W: 2, H: 2}, ObjectRef{ID: 2}))
	require.NoError(t, ix.Place(Rect{Min: Pos{X: 3, Y: 0}, W: 2, H: 2}, ObjectRef{ID: 1}))
	require.NoError(t, ix.Place(Rect{Min: Pos{X: 8, Y: 8}, W: 1, H: 1}, ObjectRef{ID: 3}))

	removed, err := ix.Demolish(Rect{Min: Pos{X: 1, Y: 1}, W: 3, H: 1})
	require.NoError(t, err)
	require.Len(t, removed, 2)
	assert.Equal(t, ObjectID(1), removed[0].Ref.ID)
	assert.Equal(t, ObjectID(2), removed[1].Ref.ID)
	require.Len(t, ix.Objects(), 1)

	_, err = ix.Demolish(Rect{Min: Pos{X: 5, Y: 5}, W: 2, H: 2})
	assert.ErrorIs(t, err, ErrNotOccupied)
	_, err = ix.Remove(42)
	assert.ErrorIs(t, err, ErrUnknownObject)
}

func TestPaintGround(t *testing.T) {
	ix := newIndex(t, 6, 6)
	var got []Change
	ix.Subscribe(ListenerFunc(func(cs []Change) { got = append(got, cs...) }))

	require.NoError(t, ix.Place(Rect{Min: Pos{X: 0, Y: 0}, W: 1, H: 1}, ObjectRef{ID: 1}))
	got = nil
	require.NoError(t, ix.PaintGround(Rect{Min: Pos{X: 0, Y: 0}, W: 3, H: 1}, GroundPathway))
	require.Len(t, got, 3)
	for _, ch := range got {
		assert.True(t, ch.GroundChanged())
		assert.False(t, ch.OccupancyChanged())
	}
	assert.True(t, ix.Query(Pos{X: 0, Y: 0}).Occupied)
	assert.Equal(t, GroundPathway, ix.Query(Pos{X: 0, Y: 0}).Ground)

	got = nil
	require.NoError(t, ix.PaintGround(Rect{Min: Pos{X: 0, Y: 0}, W: 3, H: 1}, GroundPathway))
	assert.Empty(t, got, "repainting the same ground changes nothing")

	_, err := ix.Demolish(Rect{Min: Pos{X: 0, Y: 0}, W: 1, H: 1})
	require.NoError(t, err)
	assert.Equal(t, GroundPathway, ix.Query(Pos{X: 0, Y: 0}).Ground, "ground survives demolition")
}

func TestParseGround(t *testing.T) {
	for _, g := range []Ground{GroundGrass, GroundPathway, GroundPoolPath} {
		back, ok := ParseGround(g.String())
		require.True(t, ok)
		assert.Equal(t, g, back)
	}
	_, ok := ParseGround("LAVA")
	assert.False(t, ok)
}

func TestRectFromCornersAndSectors(t *testing.T) {
	r := RectFromCorners(Pos{X: 4, Y: 1}, Pos{X: 2, Y: 3})
	assert.Equal(t, Rect{Min: Pos{X: 2, Y: 1}, W: 3, H: 3}, r)
	assert.Equal(t, 9, r.Area())

	ix := newIndex(t, 10, 6)
	assert.Equal(t, ChunkKey{CX: 2, CY: 1}, ix.SectorOf(Pos{X: 9, Y: 5}))
	assert.Equal(t, Rect{Min: Pos{X: 8, Y: 4}, W: 2, H: 2}, ix.SectorRect(ChunkKey{CX: 2, CY: 1}))
	assert.Len(t, ix.SectorKeys(), 6)
}

func TestSnapshotRoundTrip(t *testing.T) {
	ix := newIndex(t, 12, 9)
	require.NoError(t, ix.PaintGround(Rect{Min: Pos{X: 0, Y: 4}, W: 12, H: 1}, GroundPathway))
	require.NoError(t, ix.SetGround(Pos{X: 10, Y: 8}, GroundPoolPath))
	require.NoError(t, ix.Place(Rect{Min: Pos{X: 1, Y: 1}, W: 5, H: 2}, ObjectRef{ID: 7, Kind: "CARAVAN_SITE"}))
	require.NoError(t, ix.Place(Rect{Min: Pos{X: 8, Y: 6}, W: 1, H: 1}, ObjectRef{ID: 9, Kind: "WATER_TAP"}))

	back, err := Import(12, 9, 4, ix.ExportGround(), ix.ExportObjects())
	require.NoError(t, err)
	assert.Equal(t, ix.Objects(), back.Objects())
	assert.Equal(t, ix.Digest(), back.Digest())
	for y := 0; y < 9; y++ {
		for x := 0; x < 12; x++ {
			p := Pos{X: x, Y: y}
			assert.Equal(t, ix.Query(p), back.Query(p), p)
		}
	}
}

func TestDigestTracksState(t *testing.T) {
	a := newIndex(t, 8, 8)
	b := newIndex(t, 8, 8)
	assert.Equal(t, a.Digest(), b.Digest())

	require.NoError(t, a.Place(Rect{Min: Pos{X: 2, Y: 2}, W: 1, H: 1}, ObjectRef{ID: 1}))
	assert.NotEqual(t, a.Digest(), b.Digest())
	require.NoError(t, b.Place(Rect{Min: Pos{X: 2, Y: 2}, W: 1, H: 1}, ObjectRef{ID: 1}))
	assert.Equal(t, a.Digest(), b.Digest())

	_, err := a.Remove(1)
	require.NoError(t, err)
	assert.Equal(t, newIndex(t, 8, 8).Digest(), a.Digest(), "emptied chunks hash like unloaded ones")
}
