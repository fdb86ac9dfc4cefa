package websocket

import "github.com/edupulse/proctor-backend/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionPing      Action = "ping"
	ActionViolation Action = "violation"
	ActionLeave     Action = "leave"
)

// RequestPayload is the combined client message. Signal is only set for
// the violation action; a leave action announces an intentional departure
// and starts the disconnect grace window instead of terminating.
type RequestPayload struct {
	Action Action          `json:"action"`
	Signal model.RawSignal `json:"signal,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError   Event = "error"
	EventUpdate  Event = "update"
	EventWarning Event = "warning"
	EventEnded   Event = "ended"
	EventRisk    Event = "risk"
	EventPong    Event = "pong"
)

// UpdateResponse pushes a live session state change to the client.
type UpdateResponse struct {
	Event  Event               `json:"event"`
	Update model.SessionUpdate `json:"update"`
}

// RiskResponse acknowledges a reported violation with the resulting risk.
type RiskResponse struct {
	Event Event           `json:"event"`
	Risk  model.RiskState `json:"risk"`
}

// EndedResponse tells the client the session has reached a terminal state.
type EndedResponse struct {
	Event  Event              `json:"event"`
	State  model.SessionState `json:"state"`
	Reason string             `json:"reason,omitempty"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
