package observerproto

import "campsite.sim/internal/sim/site"

// Version is the observer protocol version (separate from the edit channel).
const Version = "1.0"

// Client -> Server. First message on the observer WS connection, and can be
// re-sent to change layers. An empty Layers selects every layer.
type SubscribeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Layers          site.Layers `json:"layers"`
}

// HTTP response for GET /debug/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string    `json:"protocol_version"`
	Site            site.Info `json:"site"`
}

// Server -> Client messages are site.TickMsg ("TICK", every tick) and
// site.OverlayMsg ("OVERLAY", every tick while debug mode is on).
