package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sensai-labs/proctor-client/internal/gateway"
	"github.com/sensai-labs/proctor-client/internal/response"
	"github.com/sensai-labs/proctor-client/internal/session"
)

// respondError maps session-machine and gateway failures onto the API error
// taxonomy. Backend status codes are preserved; transport problems surface
// as a generic bad-gateway condition and are never retried here.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrIdentityMissing):
		response.Fail(c, http.StatusUnauthorized, response.ErrIdentityMissing)
	case errors.Is(err, session.ErrConfirmationRequired):
		response.Fail(c, http.StatusBadRequest, response.ErrConfirmationMissing)
	case errors.Is(err, session.ErrNoActiveViva):
		response.Fail(c, http.StatusConflict, response.ErrNoActiveViva)
	case errors.Is(err, session.ErrSessionClosed):
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
	case session.IsInvalidState(err):
		response.Fail(c, http.StatusConflict, response.ErrInvalidState)
	case errors.Is(err, gateway.ErrUnauthorized):
		response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized)
	case errors.Is(err, gateway.ErrNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	default:
		var upstream *gateway.UpstreamError
		if errors.As(err, &upstream) {
			response.FailWithMessage(c, upstream.Status, response.ErrUpstream, upstream.Message)
			return
		}
		var transport *gateway.TransportError
		if errors.As(err, &transport) {
			response.Fail(c, http.StatusBadGateway, response.ErrTransport)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
