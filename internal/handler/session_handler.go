package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/sensai-labs/proctor-client/internal/middleware"
	"github.com/sensai-labs/proctor-client/internal/model"
	"github.com/sensai-labs/proctor-client/internal/response"
	"github.com/sensai-labs/proctor-client/internal/session"
	"github.com/sensai-labs/proctor-client/internal/validator"
)

// SessionHandler exposes the exam-attempt lifecycle: start, state, answers,
// proctoring events, manual end and retry.
type SessionHandler struct {
	registry *session.Registry
	log      zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(registry *session.Registry, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		registry: registry,
		log:      log.With().Str("component", "session_handler").Logger(),
	}
}

// StartSession godoc
// POST /api/v1/exams/:exam_id/sessions
// Creates a backend session and starts the local exam machine.
func (h *SessionHandler) StartSession(c *gin.Context) {
	userID := middleware.GetUserID(c)
	examID := c.Param("exam_id")

	var req model.StartSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	snap, err := h.registry.Start(c.Request.Context(), examID, userID, req)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"session": snap})
}

// GetSession godoc
// GET /api/v1/sessions/:session_id
// Returns the live snapshot: status, remaining time, counters, viva state.
func (h *SessionHandler) GetSession(c *gin.Context) {
	m, ok := h.machine(c)
	if !ok {
		return
	}

	snap, err := m.Snapshot()
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": snap})
}

// SaveAnswer godoc
// PUT /api/v1/sessions/:session_id/answers/:question_id
// Saves one main-exam answer. Rejected while a viva is active.
func (h *SessionHandler) SaveAnswer(c *gin.Context) {
	m, ok := h.machine(c)
	if !ok {
		return
	}

	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := m.SaveAnswer(c.Param("question_id"), req.Answer); err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"saved": true})
}

// PushEvent godoc
// POST /api/v1/sessions/:session_id/events
// HTTP fallback for monitoring signals; the WebSocket channel is preferred.
func (h *SessionHandler) PushEvent(c *gin.Context) {
	m, ok := h.machine(c)
	if !ok {
		return
	}

	var req model.ProctorEventRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	ts := time.Now()
	if req.Timestamp != nil {
		ts = time.Unix(*req.Timestamp, 0)
	}

	count, verdict, err := m.RecordEvent(req.Type, ts)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"type":    req.Type,
		"count":   count,
		"verdict": verdict,
	})
}

// EndSession godoc
// POST /api/v1/sessions/:session_id/end
// Manual end. Requires {"confirm": true}; submission is at-most-once.
func (h *SessionHandler) EndSession(c *gin.Context) {
	m, ok := h.machine(c)
	if !ok {
		return
	}

	var req model.EndSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := m.End(req.Confirm); err != nil {
		respondError(c, err)
		return
	}

	snap, err := m.Snapshot()
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": snap})
}

// RetrySubmit godoc
// POST /api/v1/sessions/:session_id/retry
// Re-enters submission from FAILED; treated as a fresh attempt.
func (h *SessionHandler) RetrySubmit(c *gin.Context) {
	m, ok := h.machine(c)
	if !ok {
		return
	}

	if err := m.Retry(); err != nil {
		respondError(c, err)
		return
	}

	snap, err := m.Snapshot()
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": snap})
}

// machine resolves the session machine for the route, enforcing that the
// caller's identity matches the session owner.
func (h *SessionHandler) machine(c *gin.Context) (*session.Machine, bool) {
	m, ok := h.registry.Get(c.Param("session_id"))
	if !ok {
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
		return nil, false
	}
	if m.UserID() != middleware.GetUserID(c) {
		response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized)
		return nil, false
	}
	return m, true
}
