package site

import (
	"encoding/json"

	"golang.org/x/sync/errgroup"

	"campsite.sim/internal/sim/encoding"
	"campsite.sim/internal/sim/navmesh"
)

// Layers selects which overlay parts an observer receives.
type Layers struct {
	Meshes    bool `json:"meshes"`
	Corridors bool `json:"corridors"`
	Utility   bool `json:"utility"`
	Ground    bool `json:"ground"`
}

func (l Layers) none() bool { return !l.Meshes && !l.Corridors && !l.Utility && !l.Ground }

var allLayers = Layers{Meshes: true, Corridors: true, Utility: true, Ground: true}

// Overlay renders the debug view. It reports false, with an empty overlay,
// while debug mode is off.
func (s *Site) Overlay() (Overlay, bool) {
	if !s.debug.Load() {
		return Overlay{}, false
	}
	return s.buildOverlay(allLayers), true
}

func (s *Site) buildOverlay(layers Layers) Overlay {
	ov := Overlay{Tick: s.tick.Load()}
	if layers.Meshes {
		meshes := []*navmesh.Mesh{s.people, s.vehicles}
		ov.Meshes = make([]navmesh.Overlay, len(meshes))
		var g errgroup.Group
		for i, m := range meshes {
			i, m := i, m
			g.Go(func() error {
				ov.Meshes[i] = m.Overlay()
				return nil
			})
		}
		_ = g.Wait()
	}
	if layers.Corridors {
		for _, id := range s.agentIDs() {
			a := s.agents[id]
			if a.Route == nil {
				continue
			}
			c := CorridorOverlay{
				Agent:    uint64(a.ID),
				Category: a.Class.String(),
				Regions:  a.Corridor,
			}
			for _, p := range a.Waypoints {
				c.Waypoints = append(c.Waypoints, [2]int{p.X, p.Y})
			}
			ov.Corridors = append(ov.Corridors, c)
		}
	}
	if layers.Utility {
		u := s.network.Overlay()
		ov.Utility = &u
	}
	if layers.Ground {
		ov.Ground = &GroundOverlay{
			Width:  s.cfg.Width,
			Height: s.cfg.Height,
			Runs:   encoding.EncodeRuns(s.grid.GroundCells()),
		}
	}
	return ov
}

type ObserverJoinRequest struct {
	SessionID string
	TickOut   chan []byte
	DataOut   chan []byte
	Layers    Layers
}

type ObserverSubscribeRequest struct {
	SessionID string
	Layers    Layers
}

type observerClient struct {
	id      string
	tickOut chan []byte
	dataOut chan []byte
	layers  Layers
}

// TickMsg is sent to every observer each tick.
type TickMsg struct {
	Type         string      `json:"type"`
	Tick         uint64      `json:"tick"`
	Agents       []AgentView `json:"agents"`
	PendingTasks int         `json:"pending_tasks"`
	Debug        bool        `json:"debug"`
}

type AgentView struct {
	ID    uint64 `json:"id"`
	Kind  string `json:"kind"`
	Class string `json:"class"`
	Pos   [2]int `json:"pos"`
	Task  uint64 `json:"task,omitempty"`
}

// OverlayMsg is sent each tick while debug mode is on.
type OverlayMsg struct {
	Type    string  `json:"type"`
	Overlay Overlay `json:"overlay"`
}

func (s *Site) handleObserverJoin(req ObserverJoinRequest) {
	if req.SessionID == "" || req.TickOut == nil || req.DataOut == nil {
		return
	}
	if old := s.observers[req.SessionID]; old != nil {
		close(old.tickOut)
		close(old.dataOut)
	}
	layers := req.Layers
	if layers.none() {
		layers = allLayers
	}
	s.observers[req.SessionID] = &observerClient{
		id:      req.SessionID,
		tickOut: req.TickOut,
		dataOut: req.DataOut,
		layers:  layers,
	}
}

func (s *Site) handleObserverSubscribe(req ObserverSubscribeRequest) {
	c := s.observers[req.SessionID]
	if c == nil {
		return
	}
	c.layers = req.Layers
}

func (s *Site) handleObserverLeave(sessionID string) {
	c := s.observers[sessionID]
	if c == nil {
		return
	}
	delete(s.observers, sessionID)
	close(c.tickOut)
	close(c.dataOut)
}

func (s *Site) stepObservers(nowTick uint64) {
	if len(s.observers) == 0 {
		return
	}
	msg := TickMsg{Type: "TICK", Tick: nowTick, PendingTasks: len(s.dispatch.Pending()), Debug: s.debug.Load()}
	for _, id := range s.agentIDs() {
		a := s.agents[id]
		msg.Agents = append(msg.Agents, AgentView{
			ID:    uint64(a.ID),
			Kind:  string(a.Kind),
			Class: a.Class.String(),
			Pos:   [2]int{a.Pos.X, a.Pos.Y},
			Task:  uint64(a.Task),
		})
	}
	b, err := json.Marshal(msg)
	if err != nil {
		s.logf("observer tick: %v", err)
		return
	}
	var full *Overlay
	for _, c := range s.observers {
		sendLatest(c.tickOut, b)
		if !msg.Debug || c.layers.none() {
			continue
		}
		if full == nil {
			ov := s.buildOverlay(allLayers)
			full = &ov
		}
		ob, err := json.Marshal(OverlayMsg{Type: "OVERLAY", Overlay: filterOverlay(*full, c.layers)})
		if err != nil {
			continue
		}
		sendLatest(c.dataOut, ob)
	}
}

func filterOverlay(ov Overlay, layers Layers) Overlay {
	if !layers.Meshes {
		ov.Meshes = nil
	}
	if !layers.Corridors {
		ov.Corridors = nil
	}
	if !layers.Utility {
		ov.Utility = nil
	}
	if !layers.Ground {
		ov.Ground = nil
	}
	return ov
}

// sendLatest delivers b, dropping the oldest queued message when ch is full.
func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
