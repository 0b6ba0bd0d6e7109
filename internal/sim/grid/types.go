package grid

import "errors"

var (
	ErrInvalidCell        = errors.New("cell out of bounds")
	ErrAlreadyOccupied    = errors.New("cell already occupied")
	ErrNotOccupied        = errors.New("cell not occupied")
	ErrMalformedFootprint = errors.New("malformed footprint")
	ErrObjectExists       = errors.New("object already placed")
	ErrUnknownObject      = errors.New("unknown object")
	ErrInvalidObject      = errors.New("invalid object reference")
)

// Pos is an integer cell coordinate. X grows east, Y grows south.
type Pos struct {
	X int
	Y int
}

func (p Pos) Add(d Pos) Pos { return Pos{X: p.X + d.X, Y: p.Y + d.Y} }

// Less orders positions row-major (Y, then X).
func (p Pos) Less(o Pos) bool {
	if p.Y != o.Y {
		return p.Y < o.Y
	}
	return p.X < o.X
}

// Cardinal lists the 4-neighbour offsets in a fixed order for determinism.
var Cardinal = [4]Pos{{X: 1}, {X: -1}, {Y: 1}, {Y: -1}}

type Ground uint8

const (
	GroundGrass Ground = iota
	GroundPathway
	GroundPoolPath
)

func (g Ground) String() string {
	switch g {
	case GroundGrass:
		return "GRASS"
	case GroundPathway:
		return "PATHWAY"
	case GroundPoolPath:
		return "POOL_PATH"
	default:
		return "UNKNOWN"
	}
}

func ParseGround(s string) (Ground, bool) {
	switch s {
	case "GRASS", "":
		return GroundGrass, true
	case "PATHWAY":
		return GroundPathway, true
	case "POOL_PATH":
		return GroundPoolPath, true
	}
	return GroundGrass, false
}

type ObjectID uint64

// ObjectRef identifies a placed object. ID 0 means "no object".
type ObjectRef struct {
	ID   ObjectID
	Kind string
}

// Cell is the state of one grid cell as seen by readers.
type Cell struct {
	Pos      Pos
	Occupied bool
	Object   ObjectRef
	Ground   Ground
}

// Walkable reports whether a person may stand on the cell.
func (c Cell) Walkable() bool { return !c.Occupied }

// Change describes one cell mutation. Every successful Index mutation emits
// one Change per touched cell, delivered as a single batch per edit.
type Change struct {
	Pos Pos
	Old Cell
	New Cell
}

func (c Change) OccupancyChanged() bool { return c.Old.Occupied != c.New.Occupied }
func (c Change) GroundChanged() bool    { return c.Old.Ground != c.New.Ground }

// Listener receives change batches after the Index has finished mutating.
type Listener interface {
	CellsChanged(changes []Change)
}

type ListenerFunc func(changes []Change)

func (f ListenerFunc) CellsChanged(changes []Change) { f(changes) }

// Placement records where an object sits.
type Placement struct {
	Ref       ObjectRef
	Footprint Rect
}
