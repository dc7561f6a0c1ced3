package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/patternscout/patternscout/internal/app"
	iauth "github.com/patternscout/patternscout/internal/auth"
	"github.com/patternscout/patternscout/internal/database/testutil"
	"github.com/patternscout/patternscout/internal/middleware"
	"github.com/patternscout/patternscout/internal/services"
	"github.com/patternscout/patternscout/pkg/mail"
)

type dropMailer struct{}

func (dropMailer) Send(context.Context, mail.Message) error { return nil }

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t)

	cfg := &app.Config{}
	cfg.Server.Environment = "development"
	cfg.Monitoring.Prometheus.Enabled = true
	cfg.Monitoring.Prometheus.Endpoint = "/metrics"
	cfg.Monitoring.Health.Enabled = true

	users, err := services.NewUserService(db)
	require.NoError(t, err)

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "router-secret", Issuer: "patternscout"})
	require.NoError(t, err)

	sessions, err := iauth.NewSessionService(db, jwtSvc, iauth.SessionConfig{})
	require.NoError(t, err)

	verification, err := services.NewVerificationService(db, dropMailer{})
	require.NoError(t, err)

	resets, err := services.NewPasswordResetService(db, users, sessions, dropMailer{})
	require.NoError(t, err)

	r, err := NewRouter(db, cfg, Services{
		Users:        users,
		Sessions:     sessions,
		Verification: verification,
		Resets:       resets,
	})
	require.NoError(t, err)

	return r
}

func TestRouterHealthAndMetrics(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "patternscout_")
}

func TestRouterAuthFlowEndToEnd(t *testing.T) {
	r := newTestRouter(t)

	body, _ := json.Marshal(gin.H{"email": "trader@example.com", "password": "hunter2hunter2"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var envelope struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotEmpty(t, envelope.Data.Token)

	// The guarded verification route accepts the cookie from signup.
	body, _ = json.Marshal(gin.H{"code": "000000"})
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/auth/verify", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: envelope.Data.Token})
	r.ServeHTTP(w, req)
	// Wrong code, but authentication succeeded: 400, not 401.
	require.Equal(t, http.StatusBadRequest, w.Code)

	// Without a session the same route is unauthorized.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/auth/verify", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouterUnknownRoute(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouterSecurityHeaders(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}
