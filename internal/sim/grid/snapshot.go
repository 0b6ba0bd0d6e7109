package grid

import (
	"fmt"

	snapv1 "campsite.sim/internal/persistence/snapshot"
)

// ExportGround converts loaded chunks into snapshot ground chunks. Chunks
// that are entirely grass are skipped.
func (ix *Index) ExportGround() []snapv1.GroundChunkV1 {
	keys := ix.LoadedChunkKeys()
	out := make([]snapv1.GroundChunkV1, 0, len(keys))
	for _, k := range keys {
		ch := ix.chunks[k]
		if ch == nil {
			continue
		}
		allGrass := true
		ground := make([]uint8, len(ch.Ground))
		for i, g := range ch.Ground {
			ground[i] = uint8(g)
			if g != GroundGrass {
				allGrass = false
			}
		}
		if allGrass {
			continue
		}
		out = append(out, snapv1.GroundChunkV1{CX: k.CX, CY: k.CY, Size: ch.Size, Ground: ground})
	}
	return out
}

func (ix *Index) ExportObjects() []snapv1.ObjectV1 {
	objs := ix.Objects()
	out := make([]snapv1.ObjectV1, 0, len(objs))
	for _, pl := range objs {
		out = append(out, snapv1.ObjectV1{
			ID:   uint64(pl.Ref.ID),
			Kind: pl.Ref.Kind,
			Min:  [2]int{pl.Footprint.Min.X, pl.Footprint.Min.Y},
			W:    pl.Footprint.W,
			H:    pl.Footprint.H,
		})
	}
	return out
}

// Import rebuilds an index from snapshot data. It emits no notifications:
// listeners subscribed afterwards must rebuild their derived state.
func Import(width, height, sectorSize int, ground []snapv1.GroundChunkV1, objects []snapv1.ObjectV1) (*Index, error) {
	ix, err := New(width, height, sectorSize)
	if err != nil {
		return nil, err
	}
	for _, gc := range ground {
		if gc.Size != sectorSize {
			return nil, fmt.Errorf("snapshot ground chunk size mismatch: got %d want %d", gc.Size, sectorSize)
		}
		if len(gc.Ground) != sectorSize*sectorSize {
			return nil, fmt.Errorf("snapshot ground chunk length mismatch: got %d want %d", len(gc.Ground), sectorSize*sectorSize)
		}
		ch := newChunk(gc.CX, gc.CY, sectorSize)
		for i, g := range gc.Ground {
			ch.Ground[i] = Ground(g)
		}
		ix.chunks[ChunkKey{CX: gc.CX, CY: gc.CY}] = ch
	}
	for _, o := range objects {
		fp := Rect{Min: Pos{X: o.Min[0], Y: o.Min[1]}, W: o.W, H: o.H}
		if err := ix.Place(fp, ObjectRef{ID: ObjectID(o.ID), Kind: o.Kind}); err != nil {
			return nil, fmt.Errorf("snapshot object %d: %w", o.ID, err)
		}
	}
	return ix, nil
}
