package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/sensai-labs/proctor-client/internal/gateway"
	"github.com/sensai-labs/proctor-client/internal/middleware"
	"github.com/sensai-labs/proctor-client/internal/response"
)

// ExamHandler is the thin forwarding surface: exam CRUD, session listings,
// results and evaluations proxied to the grading backend with the identity
// header passed through. No logic beyond translation.
type ExamHandler struct {
	gw  *gateway.Client
	log zerolog.Logger
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(gw *gateway.Client, log zerolog.Logger) *ExamHandler {
	return &ExamHandler{
		gw:  gw,
		log: log.With().Str("component", "exam_handler").Logger(),
	}
}

// CreateExam godoc
// POST /api/v1/exams
// Forwards an exam definition to the backend unmodified.
func (h *ExamHandler) CreateExam(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}
	if !json.Valid(payload) {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}

	raw, err := h.gw.CreateExam(c.Request.Context(), middleware.GetUserID(c), payload)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, json.RawMessage(raw))
}

// GetExam godoc
// GET /api/v1/exams/:exam_id
func (h *ExamHandler) GetExam(c *gin.Context) {
	raw, err := h.gw.FetchExam(c.Request.Context(), c.Param("exam_id"), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, json.RawMessage(raw))
}

// ListSessions godoc
// GET /api/v1/exams/:exam_id/sessions
func (h *ExamHandler) ListSessions(c *gin.Context) {
	raw, err := h.gw.ListSessions(c.Request.Context(), c.Param("exam_id"), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, json.RawMessage(raw))
}

// GetResults godoc
// GET /api/v1/exams/:exam_id/sessions/:session_id/results
// Scored results plus the proctoring-events summary, proxied verbatim.
func (h *ExamHandler) GetResults(c *gin.Context) {
	raw, err := h.gw.FetchResults(c.Request.Context(), c.Param("exam_id"), c.Param("session_id"), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, json.RawMessage(raw))
}

// GetEvaluation godoc
// GET /api/v1/exams/:exam_id/sessions/:session_id/evaluation
// A 404 here means "no evaluation yet", not an upstream failure.
func (h *ExamHandler) GetEvaluation(c *gin.Context) {
	raw, err := h.gw.FetchEvaluation(c.Request.Context(), c.Param("exam_id"), c.Param("session_id"), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, json.RawMessage(raw))
}

// CreateEvaluation godoc
// POST /api/v1/exams/:exam_id/sessions/:session_id/evaluation
func (h *ExamHandler) CreateEvaluation(c *gin.Context) {
	raw, err := h.gw.CreateEvaluation(c.Request.Context(), c.Param("exam_id"), c.Param("session_id"), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, json.RawMessage(raw))
}
