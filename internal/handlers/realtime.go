package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/questlog/questlog/internal/realtime"
	"github.com/questlog/questlog/pkg/errors"
	"github.com/questlog/questlog/pkg/response"
)

// RealtimeHandler upgrades authenticated requests onto the event hub.
type RealtimeHandler struct {
	hub *realtime.Hub
}

func NewRealtimeHandler(hub *realtime.Hub) *RealtimeHandler {
	return &RealtimeHandler{hub: hub}
}

// GET /api/realtime
//
// The auth middleware has already validated the upgrade request; browsers
// attach the session cookie during the websocket handshake, so no bearer
// header is needed here.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	h.hub.Serve(userID, c.Writer, c.Request)
}
