package grid

import (
	"crypto/sha256"
	"encoding/binary"
)

type ChunkKey struct {
	CX int
	CY int
}

// Chunk stores one square sector of the map. Object IDs and ground kinds are
// kept in parallel slices indexed by local x + local y*size.
type Chunk struct {
	CX, CY  int
	Size    int
	Objects []ObjectID
	Ground  []Ground

	dirty bool
	hash  [32]byte
}

func newChunk(cx, cy, size int) *Chunk {
	return &Chunk{
		CX:      cx,
		CY:      cy,
		Size:    size,
		Objects: make([]ObjectID, size*size),
		Ground:  make([]Ground, size*size),
		dirty:   true,
	}
}

func (c *Chunk) index(lx, ly int) int { return lx + ly*c.Size }

func (c *Chunk) object(lx, ly int) ObjectID { return c.Objects[c.index(lx, ly)] }
func (c *Chunk) ground(lx, ly int) Ground   { return c.Ground[c.index(lx, ly)] }

func (c *Chunk) setObject(lx, ly int, id ObjectID) {
	i := c.index(lx, ly)
	if c.Objects[i] == id {
		return
	}
	c.Objects[i] = id
	c.dirty = true
}

func (c *Chunk) setGround(lx, ly int, g Ground) {
	i := c.index(lx, ly)
	if c.Ground[i] == g {
		return
	}
	c.Ground[i] = g
	c.dirty = true
}

// Pristine reports whether the chunk holds nothing but empty grass, which
// reads the same as an unloaded chunk.
func (c *Chunk) Pristine() bool {
	for i, id := range c.Objects {
		if id != 0 || c.Ground[i] != GroundGrass {
			return false
		}
	}
	return true
}

func (c *Chunk) Digest() [32]byte {
	if c.dirty || c.hash == ([32]byte{}) {
		h := sha256.New()
		var tmp [8]byte
		for i, id := range c.Objects {
			binary.LittleEndian.PutUint64(tmp[:], uint64(id))
			h.Write(tmp[:])
			h.Write([]byte{byte(c.Ground[i])})
		}
		copy(c.hash[:], h.Sum(nil))
		c.dirty = false
	}
	return c.hash
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func mod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
