package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	iauth "github.com/questlog/questlog/internal/auth"
	"github.com/questlog/questlog/internal/models"
	"github.com/questlog/questlog/pkg/errors"
	"github.com/questlog/questlog/pkg/response"
)

// AuthHandler manages local account flows: registration, login, token
// refresh, logout and the current-user endpoint.
type AuthHandler struct {
	identity *iauth.IdentityService
	sessions *iauth.SessionService
	jwt      *iauth.JWTService
}

func NewAuthHandler(identity *iauth.IdentityService, sessions *iauth.SessionService, jwt *iauth.JWTService) *AuthHandler {
	return &AuthHandler{identity: identity, sessions: sessions, jwt: jwt}
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"name" validate:"max=120"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type authPayload struct {
	Tokens tokenResponse `json:"tokens"`
	User   *models.User  `json:"user"`
}

func (h *AuthHandler) sessionMeta(c *gin.Context) iauth.SessionMetadata {
	return iauth.SessionMetadata{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindAndValidate(c, &req) {
		return
	}

	tokens, user, _, err := h.identity.Register(requestContext(c), iauth.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	}, h.sessionMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	setSessionCookie(c, tokens.AccessToken, h.jwt.AccessTokenTTL())
	response.Success(c, http.StatusCreated, authPayload{
		Tokens: tokenResponse{AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken},
		User:   user,
	})
}

// POST /api/auth/login
//
// Login does not validate the email format: reporting "not an email" for an
// address that could never match would leak more than the generic 401 the
// identity layer returns for every failure mode.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	tokens, user, _, err := h.identity.Authenticate(requestContext(c), iauth.LocalCredentials{
		Email:    req.Email,
		Password: req.Password,
	}, h.sessionMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	setSessionCookie(c, tokens.AccessToken, h.jwt.AccessTokenTTL())
	response.Success(c, http.StatusOK, authPayload{
		Tokens: tokenResponse{AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken},
		User:   user,
	})
}

// POST /api/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if !bindAndValidate(c, &req) {
		return
	}

	tokens, _, err := h.sessions.RefreshSession(req.RefreshToken)
	if err != nil {
		// Invalid, revoked and expired tokens all read the same from outside.
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	setSessionCookie(c, tokens.AccessToken, h.jwt.AccessTokenTTL())
	response.Success(c, http.StatusOK, tokenResponse{AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken})
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	userID := currentUserID(c)
	sessionID := currentSessionID(c)
	if userID == "" || sessionID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	if err := h.identity.Logout(requestContext(c), userID, sessionID); err != nil {
		response.Error(c, err)
		return
	}

	clearSessionCookie(c)
	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	user, err := h.identity.CurrentUser(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"user": user, "has_password": user.HasPassword()})
}
