package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/sensai-labs/proctor-client/internal/middleware"
	"github.com/sensai-labs/proctor-client/internal/model"
	"github.com/sensai-labs/proctor-client/internal/response"
	"github.com/sensai-labs/proctor-client/internal/session"
	"github.com/sensai-labs/proctor-client/internal/validator"
)

// VivaHandler exposes the surprise-viva operations of a running session.
type VivaHandler struct {
	registry *session.Registry
	log      zerolog.Logger
}

// NewVivaHandler creates a new VivaHandler.
func NewVivaHandler(registry *session.Registry, log zerolog.Logger) *VivaHandler {
	return &VivaHandler{
		registry: registry,
		log:      log.With().Str("component", "viva_handler").Logger(),
	}
}

// TriggerViva godoc
// POST /api/v1/sessions/:session_id/viva
// HTTP fallback for the viva-trigger signal; the WebSocket channel is
// preferred. A trigger while an attempt is answering is a no-op.
func (h *VivaHandler) TriggerViva(c *gin.Context) {
	m, ok := h.machine(c)
	if !ok {
		return
	}

	var req model.VivaTriggerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	vivaID, err := m.TriggerViva(req)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"viva_id":            vivaID,
		"time_limit_seconds": req.TimeLimitSeconds,
	})
}

// AnswerQuestion godoc
// PUT /api/v1/sessions/:session_id/viva/answers/:question_key
// Stores one viva answer; last write per key wins.
func (h *VivaHandler) AnswerQuestion(c *gin.Context) {
	m, ok := h.machine(c)
	if !ok {
		return
	}

	var req model.VivaAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := m.VivaAnswer(c.Param("question_key"), req.Answer); err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"saved": true})
}

// Advance godoc
// POST /api/v1/sessions/:session_id/viva/advance
func (h *VivaHandler) Advance(c *gin.Context) {
	h.moveCursor(c, func(m *session.Machine) (int, error) { return m.VivaAdvance() })
}

// Retreat godoc
// POST /api/v1/sessions/:session_id/viva/retreat
func (h *VivaHandler) Retreat(c *gin.Context) {
	h.moveCursor(c, func(m *session.Machine) (int, error) { return m.VivaRetreat() })
}

func (h *VivaHandler) moveCursor(c *gin.Context, move func(*session.Machine) (int, error)) {
	m, ok := h.machine(c)
	if !ok {
		return
	}

	cursor, err := move(m)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"cursor": cursor})
}

// Complete godoc
// POST /api/v1/sessions/:session_id/viva/complete
// Finalizes the viva manually; answers are submitted to the backend and the
// main exam clock resumes.
func (h *VivaHandler) Complete(c *gin.Context) {
	m, ok := h.machine(c)
	if !ok {
		return
	}

	if err := m.CompleteViva(); err != nil {
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

func (h *VivaHandler) machine(c *gin.Context) (*session.Machine, bool) {
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
