package dispatch

import (
	"errors"
	"fmt"

	"campsite.sim/internal/sim/grid"
	"campsite.sim/internal/sim/navmesh"
)

var (
	ErrUnknownTask       = errors.New("unknown task")
	ErrUnknownEmployee   = errors.New("unknown employee")
	ErrEmployeeExists    = errors.New("employee already exists")
	ErrInvalidTransition = errors.New("invalid task transition")
	ErrInvalidTask       = errors.New("invalid task")
	ErrInvalidEfficiency = errors.New("efficiency must be positive")
)

type TaskID uint64
type EmployeeID uint64

type Status uint8

const (
	Pending Status = iota
	Assigned
	InProgress
	Completed
	Abandoned
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Assigned:
		return "ASSIGNED"
	case InProgress:
		return "IN_PROGRESS"
	case Completed:
		return "COMPLETED"
	case Abandoned:
		return "ABANDONED"
	default:
		return fmt.Sprintf("STATUS_%d", uint8(s))
	}
}

func ParseStatus(s string) (Status, bool) {
	for st := Pending; st <= Abandoned; st++ {
		if st.String() == s {
			return st, true
		}
	}
	return 0, false
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	st, ok := ParseStatus(string(b))
	if !ok {
		return fmt.Errorf("task status %q: %w", b, ErrInvalidTask)
	}
	*s = st
	return nil
}

func (s Status) Terminal() bool { return s == Completed || s == Abandoned }

// Active reports whether the task holds an employee.
func (s Status) Active() bool { return s == Assigned || s == InProgress }

// Common task kinds. Kinds are open strings; these are the ones the site
// generates itself.
const (
	KindConstruction = "CONSTRUCTION"
	KindCleaning     = "CLEANING"
	KindRestocking   = "RESTOCKING"
	KindRepair       = "REPAIR"
)

type TaskSpec struct {
	Kind      string
	Location  grid.Pos
	Priority  int
	WorkTicks int
}

type Task struct {
	ID          TaskID
	Kind        string
	Location    grid.Pos
	Priority    int
	Status      Status
	Assignee    EmployeeID
	Seq         uint64
	WorkTicks   int
	Progress    float64
	CreatedTick uint64
}

type Employee struct {
	ID              EmployeeID
	Name            string
	Specializations []string
	Capabilities    []string
	Efficiency      map[string]float64
	Seniority       int
}

// Match ranks how well an employee fits a task kind.
type Match uint8

const (
	NoMatch Match = iota
	Generic
	Exact
)

func (e Employee) Match(kind string) Match {
	for _, s := range e.Specializations {
		if s == kind {
			return Exact
		}
	}
	for _, c := range e.Capabilities {
		if c == kind {
			return Generic
		}
	}
	return NoMatch
}

// EfficiencyFor is the per-tick work rate for kind, 1 when unset.
func (e Employee) EfficiencyFor(kind string) float64 {
	if v, ok := e.Efficiency[kind]; ok && v > 0 {
		return v
	}
	return 1
}

// Transition records one task status change.
type Transition struct {
	Task     TaskID     `json:"task"`
	Kind     string     `json:"kind"`
	Employee EmployeeID `json:"employee,omitempty"`
	From     Status     `json:"from"`
	To       Status     `json:"to"`
	Reason   string     `json:"reason,omitempty"`
}

// Router estimates travel cost. pathfind.Finder satisfies it.
type Router interface {
	Cost(start, goal grid.Pos, cat navmesh.Category) (float64, bool)
}

// Positions resolves where an employee currently stands. The dispatcher
// never owns employee movement.
type Positions interface {
	Position(id EmployeeID) (grid.Pos, bool)
}

type PositionsFunc func(id EmployeeID) (grid.Pos, bool)

func (f PositionsFunc) Position(id EmployeeID) (grid.Pos, bool) { return f(id) }
