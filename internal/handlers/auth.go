package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	iauth "github.com/patternscout/patternscout/internal/auth"
	"github.com/patternscout/patternscout/internal/middleware"
	"github.com/patternscout/patternscout/internal/models"
	"github.com/patternscout/patternscout/internal/services"
	apperrors "github.com/patternscout/patternscout/pkg/errors"
	"github.com/patternscout/patternscout/pkg/logger"
	"github.com/patternscout/patternscout/pkg/metrics"
	"github.com/patternscout/patternscout/pkg/response"
)

// AuthHandler manages signup, login, logout, session introspection, and
// the email verification flow.
type AuthHandler struct {
	users        *services.UserService
	sessions     *iauth.SessionService
	verification *services.VerificationService
	// secureCookies marks session cookies Secure; enabled outside development.
	secureCookies bool
}

func NewAuthHandler(users *services.UserService, sessions *iauth.SessionService, verification *services.VerificationService, secureCookies bool) *AuthHandler {
	return &AuthHandler{
		users:         users,
		sessions:      sessions,
		verification:  verification,
		secureCookies: secureCookies,
	}
}

type signupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type verifyRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

func userPayload(user *models.User) gin.H {
	return gin.H{
		"id":          user.ID,
		"email":       user.Email,
		"is_verified": user.IsVerified,
		"plan":        user.Plan,
		"created_at":  user.CreatedAt,
	}
}

// POST /api/auth/signup
func (h *AuthHandler) Signup(c *gin.Context) {
	var req signupRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.Register(requestContext(c), req.Email, req.Password)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("signup", "failure").Inc()
		response.Error(c, err)
		return
	}

	// A failed dispatch is not a failed signup: the account exists and the
	// stored code stays redeemable, so the client can hit resend.
	if err := h.verification.IssueCode(requestContext(c), user, false); err != nil {
		logger.WithModule("auth").Warn("initial verification code dispatch failed",
			zap.Error(err), zap.String("user_id", user.ID))
	}

	token, _, err := h.sessions.Issue(requestContext(c), user, sessionMetadata(c))
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("signup", "failure").Inc()
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}

	metrics.AuthAttempts.WithLabelValues("signup", "success").Inc()

	h.setSessionCookie(c, token)
	response.Success(c, http.StatusCreated, gin.H{
		"token": token,
		"user":  userPayload(user),
	})
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.Authenticate(requestContext(c), req.Email, req.Password)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("login", "failure").Inc()
		if errors.Is(err, services.ErrInvalidLogin) {
			response.Error(c, apperrors.ErrInvalidCredentials)
			return
		}
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}

	token, _, err := h.sessions.Issue(requestContext(c), user, sessionMetadata(c))
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("login", "failure").Inc()
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}

	metrics.AuthAttempts.WithLabelValues("login", "success").Inc()

	h.setSessionCookie(c, token)
	response.Success(c, http.StatusOK, gin.H{
		"token": token,
		"user":  userPayload(user),
	})
}

// POST /api/auth/logout
//
// Idempotent: logging out without a live session still succeeds and
// clears the cookie.
func (h *AuthHandler) Logout(c *gin.Context) {
	if token := c.GetString(middleware.CtxSessionTokenKey); token != "" {
		if err := h.sessions.Revoke(requestContext(c), token); err != nil {
			response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
			return
		}
	}

	h.clearSessionCookie(c)
	response.Success(c, http.StatusOK, gin.H{"logged_out": true})
}

// GET /api/auth/me
//
// Always 200: anonymous callers and internal lookup failures both
// degrade to is_logged_in=false rather than an error status, so clients
// can poll it without special error handling.
func (h *AuthHandler) Me(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Success(c, http.StatusOK, gin.H{"is_logged_in": false})
		return
	}

	user, err := h.users.GetByID(requestContext(c), userID)
	if err != nil {
		// Session outlived the account row; treat as anonymous.
		response.Success(c, http.StatusOK, gin.H{"is_logged_in": false})
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"is_logged_in": true,
		"email":        user.Email,
		"plan":         user.Plan,
		"is_verified":  user.IsVerified,
	})
}

// POST /api/auth/verify
//
// On success the session is reissued so the verified claim in the token
// matches the account state immediately.
func (h *AuthHandler) Verify(c *gin.Context) {
	var req verifyRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	if err := h.verification.ValidateCode(requestContext(c), user, req.Code); err != nil {
		response.Error(c, mapVerificationError(err))
		return
	}

	if err := h.users.MarkVerified(requestContext(c), user.ID); err != nil {
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}
	user.IsVerified = true

	if old := c.GetString(middleware.CtxSessionTokenKey); old != "" {
		_ = h.sessions.Revoke(requestContext(c), old)
	}

	token, _, err := h.sessions.Issue(requestContext(c), user, sessionMetadata(c))
	if err != nil {
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}

	h.setSessionCookie(c, token)
	response.Success(c, http.StatusOK, gin.H{
		"token": token,
		"user":  userPayload(user),
	})
}

// POST /api/auth/resend-code
func (h *AuthHandler) Resend(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	if err := h.verification.IssueCode(requestContext(c), user, true); err != nil {
		response.Error(c, mapVerificationError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"sent": true})
}

func (h *AuthHandler) currentUser(c *gin.Context) (*models.User, bool) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, apperrors.ErrUnauthorized)
		return nil, false
	}

	user, err := h.users.GetByID(requestContext(c), userID)
	if err != nil {
		response.Error(c, apperrors.ErrUnauthorized)
		return nil, false
	}

	return user, true
}

func (h *AuthHandler) setSessionCookie(c *gin.Context, token string) {
	maxAge := int(h.sessions.TokenTTL().Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookieName, token, maxAge, "/", "", h.secureCookies, true)
}

func (h *AuthHandler) clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookieName, "", -1, "/", "", h.secureCookies, true)
}

func sessionMetadata(c *gin.Context) iauth.SessionMetadata {
	return iauth.SessionMetadata{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

func mapVerificationError(err error) error {
	var cooldown *services.CooldownError
	switch {
	case errors.Is(err, services.ErrAlreadyVerified):
		return apperrors.ErrAlreadyVerified
	case errors.Is(err, services.ErrCodeInvalid):
		return apperrors.ErrCodeInvalid
	case errors.Is(err, services.ErrCodeExpired):
		return apperrors.ErrCodeExpired
	case errors.Is(err, services.ErrEmailDispatch):
		return apperrors.ErrEmailDispatchFailed
	case errors.As(err, &cooldown):
		return apperrors.ErrResendCooldown.WithDetails(map[string]any{
			"remaining_seconds": int(cooldown.Remaining.Seconds()),
		})
	default:
		return apperrors.ErrInternalServer.WithInternal(err)
	}
}
