package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sensai-labs/proctor-client/internal/middleware"
	"github.com/sensai-labs/proctor-client/internal/session"
	ws "github.com/sensai-labs/proctor-client/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// MonitorWSHandler is the monitoring subsystem's ingest channel: proctoring
// events and viva triggers arrive here and are serialized into the session
// machine's event stream. The monitor only submits signals; it never writes
// session state directly.
type MonitorWSHandler struct {
	registry *session.Registry
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewMonitorWSHandler creates a new MonitorWSHandler.
func NewMonitorWSHandler(registry *session.Registry, log zerolog.Logger, allowedOrigins []string) *MonitorWSHandler {
	return &MonitorWSHandler{
		registry: registry,
		log:      log.With().Str("component", "monitor_ws").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// MonitorStream godoc
// WS /ws/v1/sessions/:session_id/monitor
// Upgrades to WebSocket for real-time monitoring-signal ingestion.
func (h *MonitorWSHandler) MonitorStream(c *gin.Context) {
	sessionID := c.Param("session_id")

	m, ok := h.registry.Get(sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no running session"})
		return
	}
	if m.UserID() != middleware.GetUserID(c) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "identity mismatch"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().Str("session_id", sessionID).Logger()
	wsLog.Info().Msg("Monitor connected")

	for {
		var raw json.RawMessage
		if err := ws.ReadJSON(conn, &raw); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Monitor disconnected")
			}
			return
		}

		var envelope ws.RequestEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			ws.WriteError(conn, "malformed message")
			continue
		}

		switch envelope.Action {
		case ws.ActionProctorEvent:
			if h.handleProctorEvent(conn, wsLog, m, raw) {
				wsLog.Info().Msg("Session reached a terminal state, closing monitor")
				return
			}
		case ws.ActionVivaTrigger:
			h.handleVivaTrigger(conn, wsLog, m, raw)
		case ws.ActionPing:
			ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		default:
			ws.WriteError(conn, "unknown action")
		}
	}
}

// handleProctorEvent ingests one monitoring signal. Returns true when the
// session no longer accepts input, telling the read loop to close.
func (h *MonitorWSHandler) handleProctorEvent(conn *websocket.Conn, log zerolog.Logger, m *session.Machine, raw json.RawMessage) bool {
	var req ws.ProctorEventRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.Type == "" {
		ws.WriteError(conn, "invalid proctor_event payload")
		return false
	}

	ts := time.Now()
	if req.Timestamp != nil {
		ts = time.Unix(*req.Timestamp, 0)
	}

	count, verdict, err := m.RecordEvent(req.Type, ts)
	if err != nil {
		ws.WriteError(conn, err.Error())
		return false
	}

	ws.WriteTyped(conn, ws.AckResponse{Event: ws.EventAck, Type: req.Type, Count: count})

	if verdict.ForceSubmit() {
		log.Warn().Str("reason", verdict.Reason).Msg("Force-submit verdict relayed to monitor")
		ws.WriteTyped(conn, ws.VerdictResponse{
			Event:  ws.EventVerdict,
			Action: string(verdict.Action),
			Reason: verdict.Reason,
		})
		snap, err := m.Snapshot()
		return err != nil || snap.Status.Terminal()
	}
	return false
}

func (h *MonitorWSHandler) handleVivaTrigger(conn *websocket.Conn, log zerolog.Logger, m *session.Machine, raw json.RawMessage) {
	var req ws.VivaTriggerRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		ws.WriteError(conn, "invalid viva_trigger payload")
		return
	}
	if len(req.Questions) == 0 || req.TimeLimitSeconds <= 0 {
		ws.WriteError(conn, "viva_trigger requires questions and a time limit")
		return
	}

	vivaID, err := m.TriggerViva(req.VivaTriggerRequest)
	if err != nil {
		ws.WriteError(conn, err.Error())
		return
	}

	log.Info().Str("viva_id", vivaID).Int("questions", len(req.Questions)).Msg("Viva trigger accepted")
	ws.WriteTyped(conn, ws.VivaIssuedResponse{
		Event:            ws.EventVivaIssued,
		VivaID:           vivaID,
		TimeLimitSeconds: req.TimeLimitSeconds,
	})
}
