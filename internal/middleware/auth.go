package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/patternscout/patternscout/internal/auth"
	"github.com/patternscout/patternscout/pkg/errors"
	"github.com/patternscout/patternscout/pkg/response"
)

const (
	// SessionCookieName transports the session token to browser clients.
	SessionCookieName = "ps_session"

	CtxClaimsKey       = "authClaims"
	CtxUserIDKey       = "userID"
	CtxSessionTokenKey = "sessionToken"
)

// Session resolves the caller's session from the request, if any, and
// stashes the claims in the request context. It never rejects: routes
// that demand authentication stack RequireAuth on top. An invalid or
// revoked token is treated the same as no token at all.
func Session(sessions *auth.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractSessionToken(c)
		if token == "" {
			c.Next()
			return
		}

		claims, err := sessions.Validate(c.Request.Context(), token)
		if err != nil {
			c.Next()
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Set(CtxUserIDKey, claims.UserID)
		c.Set(CtxSessionTokenKey, token)

		c.Next()
	}
}

// RequireAuth aborts with 401 unless Session resolved a live session.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := c.Get(CtxClaimsKey); !ok {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireVerified aborts with 403 unless the session belongs to a user
// whose email address has been verified. Implies RequireAuth.
func RequireVerified() gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := c.Get(CtxClaimsKey)
		if !ok {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		claims, ok := v.(*auth.Claims)
		if !ok || !claims.Verified {
			response.Error(c, errors.ErrVerificationRequired)
			c.Abort()
			return
		}

		c.Next()
	}
}

// extractSessionToken prefers the session cookie and falls back to a
// Bearer Authorization header for non-browser clients.
func extractSessionToken(c *gin.Context) string {
	if cookie, err := c.Cookie(SessionCookieName); err == nil {
		if token := strings.TrimSpace(cookie); token != "" {
			return token
		}
	}

	authz := c.GetHeader("Authorization")
	if len(authz) >= 8 && strings.EqualFold(authz[:7], "Bearer ") {
		return strings.TrimSpace(authz[7:])
	}

	return ""
}
