package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	iauth "github.com/questlog/questlog/internal/auth"
	"github.com/questlog/questlog/internal/middleware"
	"github.com/questlog/questlog/internal/models"
	appErrors "github.com/questlog/questlog/pkg/errors"
	"github.com/questlog/questlog/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// currentUserID returns the authenticated user id placed on the context by the
// auth middleware, or "" for unauthenticated requests.
func currentUserID(c *gin.Context) string {
	v, ok := c.Get(middleware.CtxUserIDKey)
	if !ok {
		return ""
	}
	userID, _ := v.(string)
	return userID
}

// currentSessionID returns the session id for the authenticated request, or "".
func currentSessionID(c *gin.Context) string {
	v, ok := c.Get(middleware.CtxSessionIDKey)
	if !ok {
		return ""
	}
	sessionID, _ := v.(string)
	return sessionID
}

// loadCurrentUser resolves the authenticated request to its full user row,
// writing the error response itself when that fails.
func loadCurrentUser(c *gin.Context, identity *iauth.IdentityService) (*models.User, bool) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return nil, false
	}

	user, err := identity.CurrentUser(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	return user, true
}
