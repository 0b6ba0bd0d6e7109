package protocol

import "campsite.sim/internal/sim/site"

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Client          string `json:"client"`
	// MaxInFlight bounds how many unanswered edits the server buffers.
	MaxInFlight int `json:"max_in_flight,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	SessionID       string    `json:"session_id"`
	Site            site.Info `json:"site"`
}

// EDIT (client -> server). Ref is echoed back in the matching RESULT.
type EditMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	Ref             string    `json:"ref,omitempty"`
	Edit            site.Edit `json:"edit"`
}

// RESULT (server -> client)
type ResultMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Ref             string          `json:"ref,omitempty"`
	Result          site.EditResult `json:"result"`
}

// ERROR (server -> client) reports a transport-level rejection. The edit
// was not queued.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Ref             string `json:"ref,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func NewResult(ref string, r site.EditResult) ResultMsg {
	return ResultMsg{Type: TypeResult, ProtocolVersion: Version, Ref: ref, Result: r}
}

func NewError(ref, code, message string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Ref: ref, Code: code, Message: message}
}
