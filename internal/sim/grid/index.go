package grid

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
)

// Index is the obstacle index: the single source of truth for which cells
// are occupied and by what. Cells are stored in square chunks whose size is
// also the navmesh sector size.
//
// Index is not safe for concurrent mutation; the owning tick loop serializes
// writes and only allows concurrent readers between write phases.
type Index struct {
	width  int
	height int
	sector int

	chunks    map[ChunkKey]*Chunk
	objects   map[ObjectID]Placement
	listeners []Listener
}

func New(width, height, sectorSize int) (*Index, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("grid: bad dimensions %dx%d", width, height)
	}
	if sectorSize <= 0 {
		return nil, fmt.Errorf("grid: bad sector size %d", sectorSize)
	}
	return &Index{
		width:   width,
		height:  height,
		sector:  sectorSize,
		chunks:  map[ChunkKey]*Chunk{},
		objects: map[ObjectID]Placement{},
	}, nil
}

func (ix *Index) Width() int      { return ix.width }
func (ix *Index) Height() int     { return ix.height }
func (ix *Index) SectorSize() int { return ix.sector }

func (ix *Index) Bounds() Rect { return Rect{W: ix.width, H: ix.height} }

func (ix *Index) InBounds(p Pos) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < ix.width && p.Y < ix.height
}

func (ix *Index) SectorOf(p Pos) ChunkKey {
	return ChunkKey{CX: floorDiv(p.X, ix.sector), CY: floorDiv(p.Y, ix.sector)}
}

// SectorRect returns the in-bounds cells of a sector.
func (ix *Index) SectorRect(k ChunkKey) Rect {
	r := Rect{Min: Pos{X: k.CX * ix.sector, Y: k.CY * ix.sector}, W: ix.sector, H: ix.sector}
	if r.Min.X+r.W > ix.width {
		r.W = ix.width - r.Min.X
	}
	if r.Min.Y+r.H > ix.height {
		r.H = ix.height - r.Min.Y
	}
	return r
}

// SectorKeys lists every sector covering the map, row-major.
func (ix *Index) SectorKeys() []ChunkKey {
	nx := (ix.width + ix.sector - 1) / ix.sector
	ny := (ix.height + ix.sector - 1) / ix.sector
	out := make([]ChunkKey, 0, nx*ny)
	for cy := 0; cy < ny; cy++ {
		for cx := 0; cx < nx; cx++ {
			out = append(out, ChunkKey{CX: cx, CY: cy})
		}
	}
	return out
}

func (ix *Index) chunkFor(p Pos, create bool) (*Chunk, int, int) {
	k := ix.SectorOf(p)
	lx := mod(p.X, ix.sector)
	ly := mod(p.Y, ix.sector)
	ch := ix.chunks[k]
	if ch == nil && create {
		ch = newChunk(k.CX, k.CY, ix.sector)
		ix.chunks[k] = ch
	}
	return ch, lx, ly
}

// Query never fails. Cells outside the map read as occupied with no object,
// which keeps every consumer from walking or building off-map.
func (ix *Index) Query(p Pos) Cell {
	if !ix.InBounds(p) {
		return Cell{Pos: p, Occupied: true}
	}
	ch, lx, ly := ix.chunkFor(p, false)
	if ch == nil {
		return Cell{Pos: p}
	}
	c := Cell{Pos: p, Ground: ch.ground(lx, ly)}
	if id := ch.object(lx, ly); id != 0 {
		c.Occupied = true
		c.Object = ix.objects[id].Ref
	}
	return c
}

func (ix *Index) Walkable(p Pos) bool { return ix.InBounds(p) && !ix.Query(p).Occupied }

func (ix *Index) Subscribe(l Listener) {
	if l != nil {
		ix.listeners = append(ix.listeners, l)
	}
}

func (ix *Index) emit(changes []Change) {
	if len(changes) == 0 {
		return
	}
	for _, l := range ix.listeners {
		l.CellsChanged(changes)
	}
}

// SetOccupancy is the single-cell entry point. Occupying a cell places a 1x1
// object; clearing a cell demolishes whichever object covers it, so an
// object never ends up with a partial footprint.
func (ix *Index) SetOccupancy(p Pos, occupied bool, ref ObjectRef) error {
	if !ix.InBounds(p) {
		return fmt.Errorf("set occupancy %v: %w", p, ErrInvalidCell)
	}
	if occupied {
		return ix.Place(Rect{Min: p, W: 1, H: 1}, ref)
	}
	_, err := ix.Demolish(Rect{Min: p, W: 1, H: 1})
	return err
}

func (ix *Index) ValidateFootprint(fp Rect) error {
	if fp.Empty() {
		return fmt.Errorf("footprint %v: %w", fp, ErrMalformedFootprint)
	}
	if !ix.InBounds(fp.Min) || !ix.InBounds(fp.Max()) {
		return fmt.Errorf("footprint %v: %w", fp, ErrInvalidCell)
	}
	return nil
}

// Place occupies every cell of fp with ref. Nothing is written unless every
// cell is in bounds and free.
func (ix *Index) Place(fp Rect, ref ObjectRef) error {
	if ref.ID == 0 {
		return fmt.Errorf("place %v: %w", fp, ErrInvalidObject)
	}
	if err := ix.ValidateFootprint(fp); err != nil {
		return err
	}
	if _, ok := ix.objects[ref.ID]; ok {
		return fmt.Errorf("place object %d: %w", ref.ID, ErrObjectExists)
	}
	cells := fp.Cells()
	for _, p := range cells {
		if ix.Query(p).Occupied {
			return fmt.Errorf("place %v at %v: %w", fp, p, ErrAlreadyOccupied)
		}
	}

	ix.objects[ref.ID] = Placement{Ref: ref, Footprint: fp}
	changes := make([]Change, 0, len(cells))
	for _, p := range cells {
		old := ix.Query(p)
		ch, lx, ly := ix.chunkFor(p, true)
		ch.setObject(lx, ly, ref.ID)
		changes = append(changes, Change{Pos: p, Old: old, New: ix.Query(p)})
	}
	ix.emit(changes)
	return nil
}

// Demolish removes every object that intersects fp and returns them in ID
// order. It fails with ErrNotOccupied if no cell of fp is occupied.
func (ix *Index) Demolish(fp Rect) ([]Placement, error) {
	if err := ix.ValidateFootprint(fp); err != nil {
		return nil, err
	}
	hit := map[ObjectID]struct{}{}
	for _, p := range fp.Cells() {
		if c := ix.Query(p); c.Occupied {
			hit[c.Object.ID] = struct{}{}
		}
	}
	if len(hit) == 0 {
		return nil, fmt.Errorf("demolish %v: %w", fp, ErrNotOccupied)
	}
	ids := make([]ObjectID, 0, len(hit))
	for id := range hit {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var (
		removed []Placement
		changes []Change
	)
	for _, id := range ids {
		pl := ix.objects[id]
		changes = append(changes, ix.clear(pl)...)
		removed = append(removed, pl)
	}
	ix.emit(changes)
	return removed, nil
}

// Remove demolishes a single object by ID.
func (ix *Index) Remove(id ObjectID) (Placement, error) {
	pl, ok := ix.objects[id]
	if !ok {
		return Placement{}, fmt.Errorf("remove object %d: %w", id, ErrUnknownObject)
	}
	ix.emit(ix.clear(pl))
	return pl, nil
}

func (ix *Index) clear(pl Placement) []Change {
	cells := pl.Footprint.Cells()
	changes := make([]Change, 0, len(cells))
	for _, p := range cells {
		old := ix.Query(p)
		ch, lx, ly := ix.chunkFor(p, true)
		ch.setObject(lx, ly, 0)
		changes = append(changes, Change{Pos: p, Old: old, New: Cell{Pos: p, Ground: old.Ground}})
	}
	delete(ix.objects, pl.Ref.ID)
	return changes
}

func (ix *Index) SetGround(p Pos, g Ground) error {
	return ix.PaintGround(Rect{Min: p, W: 1, H: 1}, g)
}

// PaintGround sets the ground kind over a rectangle. Ground is independent of
// occupancy; painting under a building is allowed.
func (ix *Index) PaintGround(r Rect, g Ground) error {
	if err := ix.ValidateFootprint(r); err != nil {
		return err
	}
	var changes []Change
	for _, p := range r.Cells() {
		old := ix.Query(p)
		if old.Ground == g {
			continue
		}
		ch, lx, ly := ix.chunkFor(p, true)
		ch.setGround(lx, ly, g)
		nc := old
		nc.Ground = g
		changes = append(changes, Change{Pos: p, Old: old, New: nc})
	}
	ix.emit(changes)
	return nil
}

func (ix *Index) Object(id ObjectID) (Placement, bool) {
	pl, ok := ix.objects[id]
	return pl, ok
}

func (ix *Index) ObjectAt(p Pos) (Placement, bool) {
	c := ix.Query(p)
	if !c.Occupied || c.Object.ID == 0 {
		return Placement{}, false
	}
	return ix.Object(c.Object.ID)
}

// Objects lists placements in ID order.
func (ix *Index) Objects() []Placement {
	out := make([]Placement, 0, len(ix.objects))
	for _, pl := range ix.objects {
		out = append(out, pl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref.ID < out[j].Ref.ID })
	return out
}

func (ix *Index) LoadedChunkKeys() []ChunkKey {
	keys := make([]ChunkKey, 0, len(ix.chunks))
	for k := range ix.chunks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CY != keys[j].CY {
			return keys[i].CY < keys[j].CY
		}
		return keys[i].CX < keys[j].CX
	})
	return keys
}

func (ix *Index) Chunk(k ChunkKey) *Chunk { return ix.chunks[k] }

// GroundCells returns the ground kind of every cell, row-major.
func (ix *Index) GroundCells() []uint8 {
	out := make([]uint8, ix.width*ix.height)
	for y := 0; y < ix.height; y++ {
		for x := 0; x < ix.width; x++ {
			if ch, lx, ly := ix.chunkFor(Pos{X: x, Y: y}, false); ch != nil {
				out[y*ix.width+x] = uint8(ch.ground(lx, ly))
			}
		}
	}
	return out
}

// Digest hashes dimensions, every non-pristine chunk and the object table, so
// it depends only on cell state and not on which chunks happen to be loaded.
func (ix *Index) Digest() [32]byte {
	h := sha256.New()
	var tmp [8]byte
	put := func(v uint64) {
		binary.LittleEndian.PutUint64(tmp[:], v)
		h.Write(tmp[:])
	}
	put(uint64(ix.width))
	put(uint64(ix.height))
	put(uint64(ix.sector))
	for _, k := range ix.LoadedChunkKeys() {
		if ix.chunks[k].Pristine() {
			continue
		}
		put(uint64(int64(k.CX)))
		put(uint64(int64(k.CY)))
		d := ix.chunks[k].Digest()
		h.Write(d[:])
	}
	for _, pl := range ix.Objects() {
		put(uint64(pl.Ref.ID))
		h.Write([]byte(pl.Ref.Kind))
		put(uint64(int64(pl.Footprint.Min.X)))
		put(uint64(int64(pl.Footprint.Min.Y)))
		put(uint64(pl.Footprint.W))
		put(uint64(pl.Footprint.H))
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
