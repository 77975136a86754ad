package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/sensai-labs/proctor-client/internal/gateway"
	"github.com/sensai-labs/proctor-client/internal/middleware"
)

// EvidenceHandler streams recorded session video from the backend to the
// caller without buffering: one chunk is read upstream only after the
// previous chunk was accepted downstream.
type EvidenceHandler struct {
	gw  *gateway.Client
	log zerolog.Logger
}

// NewEvidenceHandler creates a new EvidenceHandler.
func NewEvidenceHandler(gw *gateway.Client, log zerolog.Logger) *EvidenceHandler {
	return &EvidenceHandler{
		gw:  gw,
		log: log.With().Str("component", "evidence_handler").Logger(),
	}
}

// GetVideo godoc
// GET /api/v1/exams/:exam_id/sessions/:session_id/video?download=true
// Proxies the evidence byte stream, preserving Content-Type, Content-Length
// and Accept-Ranges. download=true adds an attachment disposition with a
// deterministic filename.
func (h *EvidenceHandler) GetVideo(c *gin.Context) {
	examID := c.Param("exam_id")
	sessionID := c.Param("session_id")

	ev, err := h.gw.FetchEvidence(c.Request.Context(), examID, sessionID, middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	defer ev.Body.Close()

	extraHeaders := map[string]string{}
	if ev.AcceptRanges != "" {
		extraHeaders["Accept-Ranges"] = ev.AcceptRanges
	}
	if c.Query("download") == "true" {
		filename := fmt.Sprintf("exam_%s_session_%s.%s", examID, sessionID, extensionFor(ev.ContentType))
		extraHeaders["Content-Disposition"] = fmt.Sprintf("attachment; filename=%s", filename)
	}

	contentType := ev.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	// DataFromReader copies chunk by chunk and honors client backpressure;
	// both ends close on completion or error.
	c.DataFromReader(http.StatusOK, ev.ContentLength, contentType, ev.Body, extraHeaders)
}

// extensionFor derives the attachment extension from the upstream content
// type. Recordings are webm unless the backend says otherwise.
func extensionFor(contentType string) string {
	switch {
	case strings.Contains(contentType, "mp4"):
		return "mp4"
	case strings.Contains(contentType, "ogg"):
		return "ogv"
	default:
		return "webm"
	}
}
