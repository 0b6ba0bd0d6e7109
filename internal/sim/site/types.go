package site

import (
	"errors"
	"time"

	"campsite.sim/internal/sim/dispatch"
	"campsite.sim/internal/sim/grid"
	"campsite.sim/internal/sim/navmesh"
	"campsite.sim/internal/sim/pathfind"
	"campsite.sim/internal/sim/utility"
)

var (
	ErrUnknownObjectKind = errors.New("unknown object kind")
	ErrUnknownAgent      = errors.New("unknown agent")
	ErrNotWalkable       = errors.New("cell not walkable")
	ErrBadRequest        = errors.New("bad request")
	ErrInboxFull         = errors.New("edit inbox full")
)

type EditKind string

const (
	EditPlace         EditKind = "PLACE"
	EditDemolish      EditKind = "DEMOLISH"
	EditPaintGround   EditKind = "PAINT_GROUND"
	EditLinkUtility   EditKind = "LINK_UTILITY"
	EditUnlinkUtility EditKind = "UNLINK_UTILITY"
	EditSubmitTask    EditKind = "SUBMIT_TASK"
	EditCancelTask    EditKind = "CANCEL_TASK"
	EditHire          EditKind = "HIRE"
	EditFire          EditKind = "FIRE"
	EditSpawnVisitor  EditKind = "SPAWN_VISITOR"
	EditMoveAgent     EditKind = "MOVE_AGENT"
	EditRemoveAgent   EditKind = "REMOVE_AGENT"
	EditSetDebug      EditKind = "SET_DEBUG"
)

// Edit is one player or admin command. Edits queue in the inbox and are
// applied at the start of the next tick in arrival order. Fields not used by
// a kind are ignored.
type Edit struct {
	Kind EditKind `json:"kind"`

	Object string `json:"object,omitempty"`
	Pos    [2]int `json:"pos"`
	// Size is the affected rectangle for DEMOLISH and PAINT_GROUND. Zero
	// means a single cell.
	Size   [2]int `json:"size,omitempty"`
	Layer  string `json:"layer,omitempty"`
	Ground string `json:"ground,omitempty"`

	ID        uint64   `json:"id,omitempty"`
	Target    uint64   `json:"target,omitempty"`
	Utilities []string `json:"utilities,omitempty"`

	TaskKind  string `json:"task_kind,omitempty"`
	Priority  int    `json:"priority,omitempty"`
	WorkTicks int    `json:"work_ticks,omitempty"`

	Name            string             `json:"name,omitempty"`
	Specializations []string           `json:"specializations,omitempty"`
	Capabilities    []string           `json:"capabilities,omitempty"`
	Efficiency      map[string]float64 `json:"efficiency,omitempty"`
	Seniority       int                `json:"seniority,omitempty"`
	Class           string             `json:"class,omitempty"`

	Debug bool `json:"debug,omitempty"`

	// Resp, when set, receives the result after the edit is applied. The
	// loop never blocks on it.
	Resp chan EditResult `json:"-"`
}

func (e Edit) pos() grid.Pos { return grid.Pos{X: e.Pos[0], Y: e.Pos[1]} }

func (e Edit) rect() grid.Rect {
	w, h := e.Size[0], e.Size[1]
	if w == 0 && h == 0 {
		w, h = 1, 1
	}
	return grid.Rect{Min: e.pos(), W: w, H: h}
}

type EditResult struct {
	OK      bool   `json:"ok"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	// ID is the object, task or agent the edit created.
	ID uint64 `json:"id,omitempty"`
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

type TickLogEntry struct {
	Tick        uint64                `json:"tick"`
	Edits       []RecordedEdit        `json:"edits,omitempty"`
	Transitions []dispatch.Transition `json:"transitions,omitempty"`
	Digest      string                `json:"digest"`
}

type RecordedEdit struct {
	Edit   Edit       `json:"edit"`
	Result EditResult `json:"result"`
}

type AuditEntry struct {
	Tick    uint64         `json:"tick"`
	Action  string         `json:"action"` // e.g. "PLACE"
	Pos     [2]int         `json:"pos"`
	Object  uint64         `json:"object,omitempty"`
	Kind    string         `json:"kind,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Recorder receives per-tick measurements. metrics.SiteCollector satisfies it.
type Recorder interface {
	ObserveTick(d time.Duration)
	RecordEdit(kind string, ok bool)
	RecordPathQuery(category string, ok bool)
	RecordTransition(to string)
	RecordUtilityFlip(utilityType string, connected bool)
	SetRegions(category string, n int)
	SetMeshRecoveries(category string, n uint64)
	SetPendingTasks(n int)
	SetUnsupplied(n int)
}

type AgentID uint64

type AgentKind string

const (
	AgentVisitor  AgentKind = "VISITOR"
	AgentEmployee AgentKind = "EMPLOYEE"
)

// Agent is a walking person or vehicle. Employee agents share their ID with
// the dispatcher's EmployeeID.
type Agent struct {
	ID    AgentID
	Kind  AgentKind
	Name  string
	Class navmesh.Category
	Pos   grid.Pos

	Goal    grid.Pos
	HasGoal bool

	// Route is the cell path being walked; RouteIdx indexes Pos within it.
	Route    []grid.Pos
	RouteIdx int
	Corridor []navmesh.RegionID

	// Waypoints is the string-pulled view of Route, kept for the overlay.
	Waypoints []grid.Pos

	Task dispatch.TaskID
}

func (a *Agent) clearRoute() {
	a.Route = nil
	a.RouteIdx = 0
	a.Corridor = nil
	a.Waypoints = nil
}

func (a *Agent) stop() {
	a.clearRoute()
	a.HasGoal = false
}

// Object is a placed catalog object. Underground objects live outside the
// obstacle index.
type Object struct {
	ID          grid.ObjectID
	Kind        string
	Footprint   grid.Rect
	Built       bool
	PlacedTick  uint64
	Underground bool
}

// SupplyStatus reports utility service for one networked object.
type SupplyStatus struct {
	Object   uint64   `json:"object"`
	Kind     string   `json:"kind"`
	Requires []string `json:"requires,omitempty"`
	Has      []string `json:"has,omitempty"`
	Missing  []string `json:"missing,omitempty"`
	Supplied bool     `json:"supplied"`
}

// Info is the static description served to observers on bootstrap.
type Info struct {
	SiteID        string   `json:"site_id"`
	Width         int      `json:"width"`
	Height        int      `json:"height"`
	SectorSize    int      `json:"sector_size"`
	TickRateHz    int      `json:"tick_rate_hz"`
	Tick          uint64   `json:"tick"`
	Debug         bool     `json:"debug"`
	CatalogDigest string   `json:"catalog_digest"`
	ObjectKinds   []string `json:"object_kinds"`
}

// Overlay is the debug view of the derived structures.
type Overlay struct {
	Tick      uint64            `json:"tick"`
	Meshes    []navmesh.Overlay `json:"meshes,omitempty"`
	Corridors []CorridorOverlay `json:"corridors,omitempty"`
	Utility   *utility.Overlay  `json:"utility,omitempty"`
	Ground    *GroundOverlay    `json:"ground,omitempty"`
}

// GroundOverlay is the ground layer, run-length encoded row-major. Values
// are grid.Ground kinds.
type GroundOverlay struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Runs   string `json:"runs"`
}

type CorridorOverlay struct {
	Agent     uint64             `json:"agent"`
	Category  string             `json:"category"`
	Regions   []navmesh.RegionID `json:"regions"`
	Waypoints [][2]int           `json:"waypoints"`
}

// RouteRequest asks the loop for a path between two cells.
type RouteRequest struct {
	Start    grid.Pos
	Goal     grid.Pos
	Category navmesh.Category
	Resp     chan RouteResponse
}

type RouteResponse struct {
	Route pathfind.Route
	OK    bool
}

type SupplyRequest struct {
	Resp chan []SupplyStatus
}

type OverlayRequest struct {
	Resp chan OverlayResponse
}

type OverlayResponse struct {
	Overlay Overlay
	// Enabled is false while debug mode is off; Overlay is then empty.
	Enabled bool
}
