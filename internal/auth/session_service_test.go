package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/patternscout/patternscout/internal/models"
	"github.com/patternscout/patternscout/pkg/crypto"
)

func openSessionTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Session{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}

func newSessionFixture(t *testing.T, clock func() time.Time) (*SessionService, *gorm.DB, *models.User) {
	t.Helper()

	db := openSessionTestDB(t)

	jwtSvc, err := NewJWTService(JWTConfig{Secret: "test-secret", Clock: clock})
	require.NoError(t, err)

	svc, err := NewSessionService(db, jwtSvc, SessionConfig{Clock: clock})
	require.NoError(t, err)

	user := &models.User{Email: "trader@example.com", Password: "hash"}
	require.NoError(t, db.Create(user).Error)

	return svc, db, user
}

func TestIssuePersistsHashedToken(t *testing.T) {
	current := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	svc, db, user := newSessionFixture(t, func() time.Time { return current })

	token, session, err := svc.Issue(context.Background(), user, SessionMetadata{IPAddress: "10.0.0.1"})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	var stored models.Session
	require.NoError(t, db.Take(&stored, "id = ?", session.ID).Error)
	require.Equal(t, crypto.HashCredential(token), stored.TokenHash)
	require.NotEqual(t, token, stored.TokenHash)
	require.Equal(t, current.Add(DefaultSessionTokenTTL).Unix(), stored.ExpiresAt.Unix())
}

func TestIssueCarriesVerifiedClaim(t *testing.T) {
	svc, db, user := newSessionFixture(t, time.Now)

	token, _, err := svc.Issue(context.Background(), user, SessionMetadata{})
	require.NoError(t, err)

	claims, err := svc.Validate(context.Background(), token)
	require.NoError(t, err)
	require.False(t, claims.Verified, "fresh signup session must be unverified")

	user.IsVerified = true
	require.NoError(t, db.Save(user).Error)

	verifiedToken, _, err := svc.Issue(context.Background(), user, SessionMetadata{})
	require.NoError(t, err)

	claims, err = svc.Validate(context.Background(), verifiedToken)
	require.NoError(t, err)
	require.True(t, claims.Verified)
}

func TestValidateRejectsRevokedSession(t *testing.T) {
	svc, _, user := newSessionFixture(t, time.Now)

	token, _, err := svc.Issue(context.Background(), user, SessionMetadata{})
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(context.Background(), token))

	// Signature is still valid, but the store half is gone.
	_, err = svc.Validate(context.Background(), token)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestValidatePurgesExpiredRow(t *testing.T) {
	current := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }

	db := openSessionTestDB(t)
	jwtSvc, err := NewJWTService(JWTConfig{Secret: "test-secret", SessionTokenTTL: 48 * time.Hour, Clock: clock})
	require.NoError(t, err)
	svc, err := NewSessionService(db, jwtSvc, SessionConfig{Clock: clock})
	require.NoError(t, err)

	user := &models.User{Email: "expiry@example.com", Password: "hash"}
	require.NoError(t, db.Create(user).Error)

	token, session, err := svc.Issue(context.Background(), user, SessionMetadata{})
	require.NoError(t, err)

	// Age the store row past its expiry while the signed claim (48h) stays valid.
	require.NoError(t, db.Model(&models.Session{}).
		Where("id = ?", session.ID).
		Update("expires_at", current.Add(-time.Minute)).Error)

	_, err = svc.Validate(context.Background(), token)
	require.ErrorIs(t, err, ErrSessionNotFound)

	var count int64
	require.NoError(t, db.Model(&models.Session{}).Where("id = ?", session.ID).Count(&count).Error)
	require.Zero(t, count, "stale row should be purged on discovery")
}

func TestValidateMalformedToken(t *testing.T) {
	svc, _, _ := newSessionFixture(t, time.Now)

	_, err := svc.Validate(context.Background(), "not-a-jwt")
	require.ErrorIs(t, err, ErrSessionInvalidToken)

	_, err = svc.Validate(context.Background(), "")
	require.ErrorIs(t, err, ErrSessionInvalidToken)
}

func TestRevokeIsIdempotent(t *testing.T) {
	svc, _, user := newSessionFixture(t, time.Now)

	token, _, err := svc.Issue(context.Background(), user, SessionMetadata{})
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(context.Background(), token))
	require.NoError(t, svc.Revoke(context.Background(), token))
	require.NoError(t, svc.Revoke(context.Background(), ""))
}

func TestRevokeUserSessions(t *testing.T) {
	svc, db, user := newSessionFixture(t, time.Now)

	for i := 0; i < 3; i++ {
		_, _, err := svc.Issue(context.Background(), user, SessionMetadata{})
		require.NoError(t, err)
	}

	require.NoError(t, svc.RevokeUserSessions(context.Background(), user.ID))

	var count int64
	require.NoError(t, db.Model(&models.Session{}).Where("user_id = ?", user.ID).Count(&count).Error)
	require.Zero(t, count)
}

func TestCleanupExpired(t *testing.T) {
	current := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	svc, db, user := newSessionFixture(t, func() time.Time { return current })

	_, live, err := svc.Issue(context.Background(), user, SessionMetadata{})
	require.NoError(t, err)

	stale := &models.Session{UserID: user.ID, TokenHash: "stale-hash", ExpiresAt: current.Add(-time.Hour)}
	require.NoError(t, db.Create(stale).Error)

	removed, err := svc.CleanupExpired(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	var remaining []models.Session
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	require.Equal(t, live.ID, remaining[0].ID)
}
