package model

// SessionStatus enumerates exam session states.
type SessionStatus string

const (
	SessionNotStarted SessionStatus = "NOT_STARTED"
	SessionInProgress SessionStatus = "IN_PROGRESS"
	SessionVivaActive SessionStatus = "VIVA_ACTIVE"
	SessionSubmitting SessionStatus = "SUBMITTING"
	SessionCompleted  SessionStatus = "COMPLETED"
	SessionFailed     SessionStatus = "FAILED"
)

// Terminal reports whether the attempt accepts no further exam input.
// FAILED is terminal for input purposes too; the only transition it still
// allows is an explicit submission retry.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// ExamSession is the state of one exam attempt. The session machine owns it
// exclusively; nothing outside the machine's event loop mutates these fields.
type ExamSession struct {
	SessionID        string            `json:"session_id"`
	ExamID           string            `json:"exam_id"`
	UserID           string            `json:"user_id"`
	DurationSeconds  int               `json:"duration_seconds"`
	RemainingSeconds int               `json:"remaining_seconds"`
	Answers          map[string]string `json:"answers"`
	Status           SessionStatus     `json:"status"`
	ViolationCounts  map[string]int    `json:"violation_counts"`
}

// SubmitResult is the grading acknowledgment returned by the backend on
// exam submission.
type SubmitResult struct {
	SessionID string   `json:"session_id"`
	Score     *float64 `json:"score,omitempty"`
	Message   string   `json:"message,omitempty"`
}

// SessionSnapshot is a read-only copy of session state served to clients.
type SessionSnapshot struct {
	SessionID        string            `json:"session_id"`
	ExamID           string            `json:"exam_id"`
	UserID           string            `json:"user_id"`
	Status           SessionStatus     `json:"status"`
	DurationSeconds  int               `json:"duration_seconds"`
	RemainingSeconds int               `json:"remaining_seconds"`
	AnswerCount      int               `json:"answer_count"`
	ViolationCounts  map[string]int    `json:"violation_counts"`
	SubmitReason     string            `json:"submit_reason,omitempty"`
	Result           *SubmitResult     `json:"result,omitempty"`
	Viva             *VivaSnapshot     `json:"viva,omitempty"`
	Answers          map[string]string `json:"answers,omitempty"`
}

// ─── Request payloads ───────────────────────────────────────────────

// StartSessionRequest is the payload for starting a new exam session.
type StartSessionRequest struct {
	DurationSeconds int              `json:"duration_seconds" binding:"required,min=1"`
	Policy          *ViolationPolicy `json:"policy,omitempty"`
}

// SaveAnswerRequest is the payload for saving a single main-exam answer.
type SaveAnswerRequest struct {
	Answer string `json:"answer" binding:"required"`
}

// EndSessionRequest carries the explicit confirmation a manual end requires.
type EndSessionRequest struct {
	Confirm bool `json:"confirm"`
}

// ProctorEventRequest is the HTTP fallback payload for pushing one
// monitoring signal into a session.
type ProctorEventRequest struct {
	Type      string `json:"type" binding:"required"`
	Timestamp *int64 `json:"timestamp,omitempty"`
}
