package navmesh

import "campsite.sim/internal/sim/grid"

// Category selects which agents a mesh serves. Vehicle-walkable cells are a
// subset of people-walkable cells.
type Category uint8

const (
	People Category = iota + 1
	Vehicles
)

func (c Category) String() string {
	switch c {
	case People:
		return "PEOPLE"
	case Vehicles:
		return "VEHICLES"
	default:
		return "NONE"
	}
}

func ParseCategory(s string) (Category, bool) {
	switch s {
	case "PEOPLE", "":
		return People, true
	case "VEHICLES":
		return Vehicles, true
	}
	return 0, false
}

// Walkable applies the category rule to a cell.
func (c Category) Walkable(cell grid.Cell) bool {
	if cell.Occupied {
		return false
	}
	switch c {
	case People:
		return true
	case Vehicles:
		return cell.Ground == grid.GroundPathway
	default:
		return false
	}
}

// Costs is the per-step traversal cost by ground kind.
type Costs struct {
	Grass    float64
	Pathway  float64
	PoolPath float64
}

func DefaultCosts() Costs {
	return Costs{Grass: 1.0, Pathway: 0.6, PoolPath: 1.2}
}

func (c Costs) For(g grid.Ground) float64 {
	switch g {
	case grid.GroundPathway:
		return c.Pathway
	case grid.GroundPoolPath:
		return c.PoolPath
	default:
		return c.Grass
	}
}

func (c Costs) Min() float64 {
	m := c.Grass
	if c.Pathway < m {
		m = c.Pathway
	}
	if c.PoolPath < m {
		m = c.PoolPath
	}
	return m
}
