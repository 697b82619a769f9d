package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/questlog/questlog/internal/auth"
	"github.com/questlog/questlog/internal/library"
	"github.com/questlog/questlog/internal/platforms"
	appErrors "github.com/questlog/questlog/pkg/errors"
	"github.com/questlog/questlog/pkg/response"
)

// PlatformsHandler manages the storefront connections of the current user.
type PlatformsHandler struct {
	identity    *iauth.IdentityService
	connections *library.ConnectionsService
}

func NewPlatformsHandler(identity *iauth.IdentityService, connections *library.ConnectionsService) *PlatformsHandler {
	return &PlatformsHandler{identity: identity, connections: connections}
}

// connectPlatformRequest is shared by every PUT /api/platforms/:platform
// body; which field matters depends on the platform.
type connectPlatformRequest struct {
	XUID     string `json:"xuid"`
	NPSSO    string `json:"npsso"`
	Username string `json:"username"`
}

// GET /api/platforms
func (h *PlatformsHandler) List(c *gin.Context) {
	user, ok := loadCurrentUser(c, h.identity)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, gin.H{"connections": h.connections.Status(user)})
}

// PUT /api/platforms/:platform
func (h *PlatformsHandler) Connect(c *gin.Context) {
	platform := platforms.Platform(strings.ToLower(strings.TrimSpace(c.Param("platform"))))
	if !platform.Valid() {
		response.Error(c, appErrors.NewValidation("Unknown platform"))
		return
	}

	var body connectPlatformRequest
	if !bindAndValidate(c, &body) {
		return
	}

	user, ok := loadCurrentUser(c, h.identity)
	if !ok {
		return
	}

	var err error
	switch platform {
	case platforms.Xbox:
		user, err = h.connections.ConnectXbox(requestContext(c), user, body.XUID)
	case platforms.PSN:
		user, err = h.connections.ConnectPSN(requestContext(c), user, body.NPSSO)
	case platforms.GOG:
		user, err = h.connections.ConnectGOG(requestContext(c), user, body.Username)
	case platforms.Steam:
		err = appErrors.NewValidation("Steam connects through the sign-in link flow")
	}
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"user":        user,
		"connections": h.connections.Status(user),
	})
}

// DELETE /api/platforms/:platform
func (h *PlatformsHandler) Disconnect(c *gin.Context) {
	platform := platforms.Platform(strings.ToLower(strings.TrimSpace(c.Param("platform"))))

	user, ok := loadCurrentUser(c, h.identity)
	if !ok {
		return
	}

	user, err := h.connections.Disconnect(requestContext(c), user, platform)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"user":        user,
		"connections": h.connections.Status(user),
	})
}
