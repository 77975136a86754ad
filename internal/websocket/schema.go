package websocket

import "github.com/sensai-labs/proctor-client/internal/model"

// ─── Actions (Monitor → Server) ─────────────────────────────────────

type Action string

const (
	ActionProctorEvent Action = "proctor_event"
	ActionVivaTrigger  Action = "viva_trigger"
	ActionPing         Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// ProctorEventRequest pushes one monitoring signal into a session.
type ProctorEventRequest struct {
	Action    Action `json:"action"`
	Type      string `json:"type"`
	Timestamp *int64 `json:"timestamp,omitempty"`
}

// VivaTriggerRequest interrupts the exam with a surprise viva.
type VivaTriggerRequest struct {
	Action Action `json:"action"`
	model.VivaTriggerRequest
}

// PingRequest keeps the monitor connection alive.
type PingRequest struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Monitor) ──────────────────────────────────────

type Event string

const (
	EventAck        Event = "ack"
	EventVerdict    Event = "verdict"
	EventVivaIssued Event = "viva_issued"
	EventError      Event = "error"
	EventPong       Event = "pong"
)

// AckResponse confirms an ingested proctoring event with its new count.
type AckResponse struct {
	Event Event  `json:"event"`
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// VerdictResponse notifies the monitor that policy evaluation forced a
// submission.
type VerdictResponse struct {
	Event  Event  `json:"event"`
	Action string `json:"action"`
	Reason string `json:"reason"`
}

// VivaIssuedResponse confirms a viva trigger was accepted.
type VivaIssuedResponse struct {
	Event            Event  `json:"event"`
	VivaID           string `json:"viva_id"`
	TimeLimitSeconds int    `json:"time_limit_seconds"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
