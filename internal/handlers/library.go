package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/questlog/questlog/internal/auth"
	"github.com/questlog/questlog/internal/library"
	"github.com/questlog/questlog/internal/platforms"
	"github.com/questlog/questlog/pkg/response"
)

// LibraryHandler serves the aggregated cross-platform game library.
type LibraryHandler struct {
	identity *iauth.IdentityService
	library  *library.Service
}

func NewLibraryHandler(identity *iauth.IdentityService, svc *library.Service) *LibraryHandler {
	return &LibraryHandler{identity: identity, library: svc}
}

// GET /api/library/games
func (h *LibraryHandler) Games(c *gin.Context) {
	user, ok := loadCurrentUser(c, h.identity)
	if !ok {
		return
	}

	result := h.library.Games(requestContext(c), user)
	response.Success(c, http.StatusOK, result)
}

// GET /api/library/games/:platform/:gameID/achievements
func (h *LibraryHandler) Achievements(c *gin.Context) {
	user, ok := loadCurrentUser(c, h.identity)
	if !ok {
		return
	}

	platform := platforms.Platform(strings.ToLower(strings.TrimSpace(c.Param("platform"))))
	gameID := strings.TrimSpace(c.Param("gameID"))

	achievements, err := h.library.Achievements(requestContext(c), user, platform, gameID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"platform":     platform,
		"game_id":      gameID,
		"achievements": achievements,
	})
}

// POST /api/library/sync
//
// Sync is synchronous: the response already carries the refreshed library.
// Progress still streams over the realtime socket so the dashboard can show
// per-platform state while the slower storefronts catch up.
func (h *LibraryHandler) Sync(c *gin.Context) {
	user, ok := loadCurrentUser(c, h.identity)
	if !ok {
		return
	}

	result := h.library.Sync(requestContext(c), user)
	response.Success(c, http.StatusOK, result)
}
