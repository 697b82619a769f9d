package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	iauth "github.com/questlog/questlog/internal/auth"
	appErrors "github.com/questlog/questlog/pkg/errors"
	"github.com/questlog/questlog/pkg/response"
)

// ProfileHandler exposes current-user account management endpoints.
type ProfileHandler struct {
	identity *iauth.IdentityService
}

func NewProfileHandler(identity *iauth.IdentityService) *ProfileHandler {
	return &ProfileHandler{identity: identity}
}

type updateProfileRequest struct {
	Name   *string `json:"name" validate:"omitempty,max=120"`
	Avatar *string `json:"avatar" validate:"omitempty,max=512"`
}

type passwordChangeRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

// PATCH /api/profile
func (h *ProfileHandler) Update(c *gin.Context) {
	var body updateProfileRequest
	if !bindAndValidate(c, &body) {
		return
	}

	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	user, err := h.identity.UpdateProfile(requestContext(c), userID, iauth.UpdateProfileInput{
		Name:   body.Name,
		Avatar: body.Avatar,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"user": user})
}

// POST /api/auth/password
//
// current_password carries no validation tag: accounts provisioned through a
// provider have no password yet, and for them this call sets the first one.
func (h *ProfileHandler) ChangePassword(c *gin.Context) {
	var body passwordChangeRequest
	if !bindAndValidate(c, &body) {
		return
	}

	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if body.CurrentPassword != "" && body.CurrentPassword == body.NewPassword {
		response.Error(c, appErrors.NewValidation("New password must differ from the current password"))
		return
	}

	if err := h.identity.ChangePassword(requestContext(c), userID, iauth.ChangePasswordInput{
		CurrentPassword: body.CurrentPassword,
		NewPassword:     body.NewPassword,
	}); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"updated": true})
}
