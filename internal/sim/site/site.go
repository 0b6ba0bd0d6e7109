package site

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync/atomic"
	"time"

	"campsite.sim/internal/persistence/snapshot"
	"campsite.sim/internal/sim/catalogs"
	"campsite.sim/internal/sim/dispatch"
	"campsite.sim/internal/sim/grid"
	"campsite.sim/internal/sim/navmesh"
	"campsite.sim/internal/sim/pathfind"
	"campsite.sim/internal/sim/tuning"
	"campsite.sim/internal/sim/utility"
)

// Site owns the simulation state of one campsite and the tick loop that
// mutates it. All state is touched only from the loop goroutine (or from
// StepOnce when the loop is not running); other goroutines talk to the site
// through its request channels.
//
// Each tick has a write phase, where queued edits mutate the obstacle index
// and the derived structures are patched synchronously, followed by a read
// phase, where task assignment and route planning query the now-consistent
// structures in parallel.
type Site struct {
	cfg  tuning.Tuning
	cats *catalogs.Catalogs
	log  *log.Logger

	tick  atomic.Uint64
	debug atomic.Bool

	grid     *grid.Index
	people   *navmesh.Mesh
	vehicles *navmesh.Mesh
	finder   *pathfind.Finder
	network  *utility.Network
	dispatch *dispatch.Dispatcher

	objects     map[grid.ObjectID]*Object
	underground map[grid.Pos]grid.ObjectID
	taskObject  map[dispatch.TaskID]grid.ObjectID
	agents      map[AgentID]*Agent

	nextObject grid.ObjectID
	nextAgent  AgentID

	// Per-tick transition buffer, flushed into the tick log.
	transitions []dispatch.Transition

	inbox      chan Edit
	routeReq   chan RouteRequest
	supplyReq  chan SupplyRequest
	overlayReq chan OverlayRequest

	observerJoin  chan ObserverJoinRequest
	observerSub   chan ObserverSubscribeRequest
	observerLeave chan string
	observers     map[string]*observerClient

	stop chan struct{}

	tickLogger   TickLogger
	auditLogger  AuditLogger
	snapshotSink chan<- snapshot.SnapshotV1
	metrics      Recorder
}

func New(cfg tuning.Tuning, cats *catalogs.Catalogs, logger *log.Logger) (*Site, error) {
	if err := tuning.Validate(cfg); err != nil {
		return nil, err
	}
	if cats == nil {
		cats = catalogs.Default()
	}
	ix, err := grid.New(cfg.Width, cfg.Height, cfg.SectorSize)
	if err != nil {
		return nil, err
	}
	s := &Site{
		cfg:  cfg,
		cats: cats,
		log:  logger,

		network: utility.New(logger),

		objects:     map[grid.ObjectID]*Object{},
		underground: map[grid.Pos]grid.ObjectID{},
		taskObject:  map[dispatch.TaskID]grid.ObjectID{},
		agents:      map[AgentID]*Agent{},
		nextObject:  1,
		nextAgent:   1,

		inbox:      make(chan Edit, 4096),
		routeReq:   make(chan RouteRequest, 64),
		supplyReq:  make(chan SupplyRequest, 16),
		overlayReq: make(chan OverlayRequest, 16),

		observerJoin:  make(chan ObserverJoinRequest, 64),
		observerSub:   make(chan ObserverSubscribeRequest, 64),
		observerLeave: make(chan string, 64),
		observers:     map[string]*observerClient{},

		stop: make(chan struct{}),
	}
	s.debug.Store(cfg.Debug)
	s.attachGrid(ix)
	s.dispatch = dispatch.New(meteredRouter{s}, dispatch.PositionsFunc(s.employeePos), dispatch.Options{
		Category: navmesh.People,
		Workers:  cfg.Dispatcher.Workers,
	})
	return s, nil
}

// attachGrid derives the meshes and the path finder from ix.
func (s *Site) attachGrid(ix *grid.Index) {
	opts := navmesh.Options{
		Costs: navmesh.Costs{
			Grass:    s.cfg.Costs.Grass,
			Pathway:  s.cfg.Costs.Pathway,
			PoolPath: s.cfg.Costs.PoolPath,
		},
		Verify: s.cfg.VerifyNavmesh,
		Logger: s.log,
	}
	s.grid = ix
	s.people = navmesh.New(ix, navmesh.People, opts)
	s.vehicles = navmesh.New(ix, navmesh.Vehicles, opts)
	s.finder = pathfind.New(s.people, s.vehicles)
}

func (s *Site) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func (s *Site) SetTickLogger(l TickLogger)                    { s.tickLogger = l }
func (s *Site) SetAuditLogger(l AuditLogger)                  { s.auditLogger = l }
func (s *Site) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { s.snapshotSink = ch }
func (s *Site) SetMetrics(r Recorder)                         { s.metrics = r }

func (s *Site) Inbox() chan<- Edit              { return s.inbox }
func (s *Site) Routes() chan<- RouteRequest     { return s.routeReq }
func (s *Site) Supply() chan<- SupplyRequest    { return s.supplyReq }
func (s *Site) Overlays() chan<- OverlayRequest { return s.overlayReq }

func (s *Site) ObserverJoin() chan<- ObserverJoinRequest           { return s.observerJoin }
func (s *Site) ObserverSubscribe() chan<- ObserverSubscribeRequest { return s.observerSub }
func (s *Site) ObserverLeave() chan<- string                       { return s.observerLeave }

// Submit queues e for the next tick without blocking.
func (s *Site) Submit(e Edit) error {
	select {
	case s.inbox <- e:
		return nil
	default:
		return ErrInboxFull
	}
}

func (s *Site) ID() string          { return s.cfg.SiteID }
func (s *Site) CurrentTick() uint64 { return s.tick.Load() }
func (s *Site) Debug() bool         { return s.debug.Load() }

// Info is safe to call from any goroutine.
func (s *Site) Info() Info {
	return Info{
		SiteID:        s.cfg.SiteID,
		Width:         s.cfg.Width,
		Height:        s.cfg.Height,
		SectorSize:    s.cfg.SectorSize,
		TickRateHz:    s.cfg.TickRateHz,
		Tick:          s.tick.Load(),
		Debug:         s.debug.Load(),
		CatalogDigest: s.cats.Objects.Digest,
		ObjectKinds:   append([]string(nil), s.cats.Objects.IDs...),
	}
}

func (s *Site) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(s.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pending []Edit
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		case e := <-s.inbox:
			pending = append(pending, e)
		case req := <-s.routeReq:
			s.handleRouteReq(req)
		case req := <-s.supplyReq:
			if req.Resp != nil {
				req.Resp <- s.SupplyReport()
			}
		case req := <-s.overlayReq:
			if req.Resp != nil {
				ov, ok := s.Overlay()
				req.Resp <- OverlayResponse{Overlay: ov, Enabled: ok}
			}
		case req := <-s.observerJoin:
			s.handleObserverJoin(req)
		case req := <-s.observerSub:
			s.handleObserverSubscribe(req)
		case id := <-s.observerLeave:
			s.handleObserverLeave(id)
		case <-ticker.C:
			s.step(ctx, pending)
			pending = pending[:0]
		}
	}
}

func (s *Site) Stop() { close(s.stop) }

// StepOnce advances the site by one tick with the same ordering as Run. It
// is meant for replays and tests and must not be called while Run is active.
func (s *Site) StepOnce(edits []Edit) (tick uint64, digest string) {
	tick = s.tick.Load()
	s.step(context.Background(), edits)
	return tick, s.stateDigest(tick)
}

func (s *Site) step(ctx context.Context, edits []Edit) {
	start := time.Now()
	nowTick := s.tick.Load()
	s.dispatch.SetNow(nowTick)
	s.transitions = s.transitions[:0]

	// Write phase.
	recorded := make([]RecordedEdit, 0, len(edits))
	for _, e := range edits {
		res := s.applyEdit(nowTick, e)
		if e.Resp != nil {
			select {
			case e.Resp <- res:
			default:
			}
		}
		if s.metrics != nil {
			s.metrics.RecordEdit(string(e.Kind), res.OK)
		}
		e.Resp = nil
		recorded = append(recorded, RecordedEdit{Edit: e, Result: res})
	}
	if s.cfg.VerifyUtility {
		s.repairUtility(nowTick)
	}
	s.systemServiceDemand(nowTick)
	s.relocateTasks(nowTick)

	// Read phase.
	s.systemDispatch(ctx, nowTick)
	s.systemRoutes(nowTick)
	s.systemMovement(nowTick)
	s.systemWork(nowTick)
	s.dispatch.Prune()

	s.stepObservers(nowTick)

	digest := s.stateDigest(nowTick)
	if s.tickLogger != nil {
		entry := TickLogEntry{Tick: nowTick, Edits: recorded, Digest: digest}
		if len(s.transitions) > 0 {
			entry.Transitions = append([]dispatch.Transition(nil), s.transitions...)
		}
		if err := s.tickLogger.WriteTick(entry); err != nil {
			s.logf("tick log: %v", err)
		}
	}

	if s.snapshotSink != nil && nowTick != 0 && s.cfg.SnapshotEveryTicks > 0 {
		if nowTick%uint64(s.cfg.SnapshotEveryTicks) == 0 {
			select {
			case s.snapshotSink <- s.ExportSnapshot(nowTick):
			default:
				s.logf("snapshot sink full; dropped tick %d", nowTick)
			}
		}
	}

	if s.metrics != nil {
		s.observeMetrics(time.Since(start))
	}
	s.tick.Add(1)
}

func (s *Site) observeMetrics(d time.Duration) {
	s.metrics.ObserveTick(d)
	for _, m := range []*navmesh.Mesh{s.people, s.vehicles} {
		cat := m.Category().String()
		s.metrics.SetRegions(cat, len(m.Regions()))
		s.metrics.SetMeshRecoveries(cat, m.Stats().Recoveries)
	}
	s.metrics.SetPendingTasks(len(s.dispatch.Pending()))
	unsupplied := 0
	for _, st := range s.SupplyReport() {
		if !st.Supplied {
			unsupplied++
		}
	}
	s.metrics.SetUnsupplied(unsupplied)
}

func (s *Site) audit(entry AuditEntry) {
	if s.auditLogger == nil {
		return
	}
	if err := s.auditLogger.WriteAudit(entry); err != nil {
		s.logf("audit log: %v", err)
	}
}

func (s *Site) mesh(cat navmesh.Category) *navmesh.Mesh {
	if cat == navmesh.Vehicles {
		return s.vehicles
	}
	return s.people
}

// Grid exposes the obstacle index for read-only inspection.
func (s *Site) Grid() *grid.Index { return s.grid }

func (s *Site) Mesh(cat navmesh.Category) *navmesh.Mesh { return s.mesh(cat) }

// FindPath answers a route query against the current state. Safe only from
// the loop goroutine or while the loop is stopped.
func (s *Site) FindPath(start, goal grid.Pos, cat navmesh.Category) (pathfind.Route, bool) {
	r, ok := s.finder.FindPath(start, goal, cat)
	if s.metrics != nil {
		s.metrics.RecordPathQuery(cat.String(), ok)
	}
	return r, ok
}

func (s *Site) handleRouteReq(req RouteRequest) {
	if req.Resp == nil {
		return
	}
	cat := req.Category
	if cat == 0 {
		cat = navmesh.People
	}
	r, ok := s.FindPath(req.Start, req.Goal, cat)
	req.Resp <- RouteResponse{Route: r, OK: ok}
}

func (s *Site) Object(id grid.ObjectID) (Object, bool) {
	o := s.objects[id]
	if o == nil {
		return Object{}, false
	}
	return *o, true
}

func (s *Site) Objects() []Object {
	out := make([]Object, 0, len(s.objects))
	for _, o := range s.objects {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Site) Agent(id AgentID) (Agent, bool) {
	a := s.agents[id]
	if a == nil {
		return Agent{}, false
	}
	return *a, true
}

func (s *Site) Agents() []Agent {
	out := make([]Agent, 0, len(s.agents))
	for _, id := range s.agentIDs() {
		out = append(out, *s.agents[id])
	}
	return out
}

func (s *Site) agentIDs() []AgentID {
	ids := make([]AgentID, 0, len(s.agents))
	for id := range s.agents {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Site) Dispatcher() *dispatch.Dispatcher { return s.dispatch }
func (s *Site) Network() *utility.Network        { return s.network }

// meteredRouter feeds the dispatcher's cost queries through the path finder
// and counts them.
type meteredRouter struct{ s *Site }

func (r meteredRouter) Cost(start, goal grid.Pos, cat navmesh.Category) (float64, bool) {
	c, ok := r.s.finder.Cost(start, goal, cat)
	if r.s.metrics != nil {
		r.s.metrics.RecordPathQuery(cat.String(), ok)
	}
	return c, ok
}

func nodeID(id grid.ObjectID) utility.NodeID {
	return utility.NodeID(fmt.Sprintf("obj-%08d", uint64(id)))
}
