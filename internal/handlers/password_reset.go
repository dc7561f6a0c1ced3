package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/patternscout/patternscout/internal/services"
	apperrors "github.com/patternscout/patternscout/pkg/errors"
	"github.com/patternscout/patternscout/pkg/response"
)

// PasswordResetHandler exposes the forgot-password flow.
type PasswordResetHandler struct {
	resets *services.PasswordResetService
}

func NewPasswordResetHandler(resets *services.PasswordResetService) *PasswordResetHandler {
	return &PasswordResetHandler{resets: resets}
}

type resetRequestRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetConfirmRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Token    string `json:"token" validate:"required"`
	Password string `json:"new_password" validate:"required,min=8,max=72"`
}

// POST /api/password-reset/request
//
// The response is identical for known and unknown addresses.
func (h *PasswordResetHandler) Request(c *gin.Context) {
	var req resetRequestRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.resets.RequestReset(requestContext(c), req.Email); err != nil {
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"requested": true})
}

// POST /api/password-reset/confirm
func (h *PasswordResetHandler) Confirm(c *gin.Context) {
	var req resetConfirmRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.resets.ConfirmReset(requestContext(c), req.Email, req.Token, req.Password); err != nil {
		response.Error(c, mapResetError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"reset": true})
}

func mapResetError(err error) error {
	switch {
	case errors.Is(err, services.ErrResetInvalid):
		return apperrors.ErrResetTokenInvalid
	case errors.Is(err, services.ErrResetExpired):
		return apperrors.ErrResetTokenExpired
	case errors.Is(err, services.ErrResetConsumed):
		return apperrors.ErrResetTokenConsumed
	default:
		return apperrors.ErrInternalServer.WithInternal(err)
	}
}
