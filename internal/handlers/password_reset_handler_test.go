package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	iauth "github.com/patternscout/patternscout/internal/auth"
	"github.com/patternscout/patternscout/internal/database/testutil"
	"github.com/patternscout/patternscout/internal/models"
	"github.com/patternscout/patternscout/internal/services"
	"github.com/patternscout/patternscout/pkg/crypto"
)

type resetFixture struct {
	router   *gin.Engine
	db       *gorm.DB
	mailer   *stubMailer
	sessions *iauth.SessionService
	user     *models.User
}

func newResetHandlerFixture(t *testing.T) *resetFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t)
	mailer := &stubMailer{}

	users, err := services.NewUserService(db)
	require.NoError(t, err)

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "test-secret", Issuer: "patternscout"})
	require.NoError(t, err)

	sessions, err := iauth.NewSessionService(db, jwtSvc, iauth.SessionConfig{})
	require.NoError(t, err)

	resets, err := services.NewPasswordResetService(db, users, sessions, mailer)
	require.NoError(t, err)

	handler := NewPasswordResetHandler(resets)

	r := gin.New()
	r.POST("/api/password-reset/request", handler.Request)
	r.POST("/api/password-reset/confirm", handler.Confirm)

	user, err := users.Register(context.Background(), "trader@example.com", "original-password")
	require.NoError(t, err)

	return &resetFixture{router: r, db: db, mailer: mailer, sessions: sessions, user: user}
}

func (f *resetFixture) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *resetFixture) lastResetToken(t *testing.T) string {
	t.Helper()

	require.NotEmpty(t, f.mailer.sent)
	body := f.mailer.sent[len(f.mailer.sent)-1].HTML

	marker := "?token="
	start := strings.Index(body, marker)
	require.GreaterOrEqual(t, start, 0)
	rest := body[start+len(marker):]
	end := strings.IndexAny(rest, `&"`)
	require.GreaterOrEqual(t, end, 0)
	return rest[:end]
}

func TestResetRequestIsUniform(t *testing.T) {
	f := newResetHandlerFixture(t)

	known := f.post(t, "/api/password-reset/request", gin.H{"email": "trader@example.com"})
	unknown := f.post(t, "/api/password-reset/request", gin.H{"email": "nobody@example.com"})

	// Identical status and body for known and unknown addresses.
	require.Equal(t, http.StatusOK, known.Code)
	require.Equal(t, http.StatusOK, unknown.Code)
	require.Equal(t, known.Body.String(), unknown.Body.String())

	// Only the known address actually got an email.
	require.Len(t, f.mailer.sent, 1)
}

func TestResetConfirmReplacesPasswordAndRevokesSessions(t *testing.T) {
	f := newResetHandlerFixture(t)

	// A live session that should not survive the reset.
	token, _, err := f.sessions.Issue(context.Background(), f.user, iauth.SessionMetadata{})
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, f.post(t, "/api/password-reset/request", gin.H{"email": "trader@example.com"}).Code)
	resetToken := f.lastResetToken(t)

	w := f.post(t, "/api/password-reset/confirm", gin.H{
		"email":        "trader@example.com",
		"token":        resetToken,
		"new_password": "brand-new-password",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var updated models.User
	require.NoError(t, f.db.Take(&updated, "id = ?", f.user.ID).Error)
	require.True(t, crypto.VerifyPassword(updated.Password, "brand-new-password"))

	_, err = f.sessions.Validate(context.Background(), token)
	require.ErrorIs(t, err, iauth.ErrSessionNotFound)
}

func TestResetConfirmRejectsBadTokens(t *testing.T) {
	f := newResetHandlerFixture(t)

	w := f.post(t, "/api/password-reset/confirm", gin.H{
		"email":        "trader@example.com",
		"token":        "never-issued",
		"new_password": "brand-new-password",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	code, _ := decodeError(t, w)
	require.Equal(t, "RESET_TOKEN_INVALID", code)
}

func TestResetConfirmSingleUse(t *testing.T) {
	f := newResetHandlerFixture(t)

	require.Equal(t, http.StatusOK, f.post(t, "/api/password-reset/request", gin.H{"email": "trader@example.com"}).Code)
	resetToken := f.lastResetToken(t)

	first := f.post(t, "/api/password-reset/confirm", gin.H{"email": "trader@example.com", "token": resetToken, "new_password": "first-password"})
	require.Equal(t, http.StatusOK, first.Code)

	second := f.post(t, "/api/password-reset/confirm", gin.H{"email": "trader@example.com", "token": resetToken, "new_password": "second-password"})
	require.Equal(t, http.StatusBadRequest, second.Code)
	code, _ := decodeError(t, second)
	require.Equal(t, "RESET_TOKEN_CONSUMED", code)
}

func TestResetConfirmValidation(t *testing.T) {
	f := newResetHandlerFixture(t)

	// Weak replacement password is rejected before touching the token.
	w := f.post(t, "/api/password-reset/confirm", gin.H{"email": "trader@example.com", "token": "anything", "new_password": "short"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	code, _ := decodeError(t, w)
	require.Equal(t, "BAD_REQUEST", code)
}
