package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/patternscout/patternscout/internal/models"
	"github.com/patternscout/patternscout/pkg/crypto"
	"github.com/patternscout/patternscout/pkg/metrics"
)

var (
	// ErrSessionNotFound indicates that no live store record matches the token.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrSessionInvalidToken is returned when the supplied token fails
	// signature or claim validation.
	ErrSessionInvalidToken = errors.New("session: invalid token")
)

var errSessionCacheMiss = errors.New("session cache miss")

// SessionCache represents a cache backend for session rows keyed by token hash.
type SessionCache interface {
	Get(ctx context.Context, tokenHash string) (*models.Session, error)
	Set(ctx context.Context, session *models.Session, ttl time.Duration) error
	Delete(ctx context.Context, tokenHash string) error
}

// SessionConfig describes tunable behaviour for the SessionService.
type SessionConfig struct {
	Clock func() time.Time
	Cache SessionCache
}

// SessionMetadata captures contextual information about the client.
type SessionMetadata struct {
	IPAddress string
	UserAgent string
}

// SessionService issues and validates bearer sessions. A session is valid
// only while both halves hold: the token's signature and embedded expiry,
// and a live store row matching the token hash. Deleting the row revokes
// the session before the signature's own expiry.
type SessionService struct {
	db    *gorm.DB
	jwt   *JWTService
	now   func() time.Time
	cache SessionCache
}

// NewSessionService constructs a session manager backed by the provided database and JWT service.
func NewSessionService(db *gorm.DB, jwtService *JWTService, cfg SessionConfig) (*SessionService, error) {
	if db == nil {
		return nil, errors.New("session service: db is required")
	}
	if jwtService == nil {
		return nil, errors.New("session service: jwt service is required")
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &SessionService{
		db:    db,
		jwt:   jwtService,
		now:   clock,
		cache: cfg.Cache,
	}, nil
}

// TokenTTL reports the lifetime of issued tokens.
func (s *SessionService) TokenTTL() time.Duration {
	return s.jwt.TTL()
}

// Issue signs a token for the user and persists the revocable store half.
// The raw token is returned exactly once; only its hash is stored.
func (s *SessionService) Issue(ctx context.Context, user *models.User, meta SessionMetadata) (string, *models.Session, error) {
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return "", nil, errors.New("session service: user is required")
	}

	token, err := s.jwt.GenerateSessionToken(SessionTokenInput{
		UserID:   user.ID,
		Email:    user.Email,
		Verified: user.IsVerified,
	})
	if err != nil {
		return "", nil, fmt.Errorf("session service: sign token: %w", err)
	}

	now := s.now()
	session := &models.Session{
		UserID:     user.ID,
		TokenHash:  crypto.HashCredential(token),
		IPAddress:  strings.TrimSpace(meta.IPAddress),
		UserAgent:  strings.TrimSpace(meta.UserAgent),
		ExpiresAt:  now.Add(s.jwt.TTL()),
		LastUsedAt: now,
	}

	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return "", nil, fmt.Errorf("session service: create session: %w", err)
	}

	metrics.ActiveSessions.Inc()

	if s.cache != nil {
		_ = s.cache.Set(ctx, session, s.jwt.TTL())
	}

	return token, session, nil
}

// Validate checks the token signature and claims, then requires a live
// store row for the token hash. A missing or expired row yields
// ErrSessionNotFound after purging the stale record; a bad token yields
// ErrSessionInvalidToken. Callers treat both identically as "no session".
func (s *SessionService) Validate(ctx context.Context, token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrSessionInvalidToken
	}

	claims, err := s.jwt.ValidateSessionToken(token)
	if err != nil {
		return nil, ErrSessionInvalidToken
	}

	hash := crypto.HashCredential(token)

	var session models.Session
	var cacheHit bool

	if s.cache != nil {
		if cached, cacheErr := s.cache.Get(ctx, hash); cacheErr == nil && cached != nil {
			session = *cached
			cacheHit = true
		}
	}

	if !cacheHit {
		err = s.db.WithContext(ctx).Where("token_hash = ?", hash).Take(&session).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("session service: find session: %w", err)
		}
	}

	now := s.now()
	if !session.ExpiresAt.After(now) {
		s.purge(ctx, &session)
		return nil, ErrSessionNotFound
	}

	// Best effort; a failed touch must not invalidate the session.
	_ = s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ?", session.ID).
		Update("last_used_at", now).Error

	if s.cache != nil && !cacheHit {
		if ttl := session.ExpiresAt.Sub(now); ttl > 0 {
			_ = s.cache.Set(ctx, &session, ttl)
		}
	}

	return claims, nil
}

// Revoke deletes the store row matching the token. It is idempotent: a
// token with no live row is a no-op.
func (s *SessionService) Revoke(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}

	hash := crypto.HashCredential(token)

	result := s.db.WithContext(ctx).Where("token_hash = ?", hash).Delete(&models.Session{})
	if result.Error != nil {
		return fmt.Errorf("session service: revoke session: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		metrics.ActiveSessions.Sub(float64(result.RowsAffected))
	}

	if s.cache != nil {
		_ = s.cache.Delete(ctx, hash)
	}

	return nil
}

// RevokeUserSessions deletes every session belonging to a user. Used when
// credentials change so an attacker's stolen session does not outlive a
// password reset.
func (s *SessionService) RevokeUserSessions(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("session service: user id is required")
	}

	var hashes []string
	if s.cache != nil {
		if err := s.db.WithContext(ctx).
			Model(&models.Session{}).
			Where("user_id = ?", userID).
			Pluck("token_hash", &hashes).Error; err != nil {
			hashes = nil
		}
	}

	result := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.Session{})
	if result.Error != nil {
		return fmt.Errorf("session service: revoke user sessions: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		metrics.ActiveSessions.Sub(float64(result.RowsAffected))
	}

	if s.cache != nil {
		for _, hash := range hashes {
			if strings.TrimSpace(hash) == "" {
				continue
			}
			_ = s.cache.Delete(ctx, hash)
		}
	}

	return nil
}

// CleanupExpired removes expired session rows. Expiry semantics do not
// depend on this job; lookups already treat stale rows as absent.
func (s *SessionService) CleanupExpired(ctx context.Context) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	now := s.now()

	var hashes []string
	if s.cache != nil {
		if err := s.db.WithContext(ctx).
			Model(&models.Session{}).
			Where("expires_at < ?", now).
			Pluck("token_hash", &hashes).Error; err != nil {
			hashes = nil
		}
	}

	result := s.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&models.Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("session service: cleanup expired sessions: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		metrics.ActiveSessions.Sub(float64(result.RowsAffected))
	}

	if s.cache != nil {
		for _, hash := range hashes {
			if strings.TrimSpace(hash) == "" {
				continue
			}
			_ = s.cache.Delete(ctx, hash)
		}
	}

	return result.RowsAffected, nil
}

func (s *SessionService) purge(ctx context.Context, session *models.Session) {
	if session == nil {
		return
	}

	result := s.db.WithContext(ctx).Where("id = ?", session.ID).Delete(&models.Session{})
	if result.Error == nil && result.RowsAffected > 0 {
		metrics.ActiveSessions.Sub(float64(result.RowsAffected))
	}

	if s.cache != nil {
		_ = s.cache.Delete(ctx, session.TokenHash)
	}
}
