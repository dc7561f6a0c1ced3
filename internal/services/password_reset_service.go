package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/patternscout/patternscout/internal/models"
	"github.com/patternscout/patternscout/pkg/crypto"
	"github.com/patternscout/patternscout/pkg/logger"
	"github.com/patternscout/patternscout/pkg/mail"
	"github.com/patternscout/patternscout/pkg/metrics"
)

const (
	// DefaultResetTokenTTL is how long a reset link stays redeemable.
	DefaultResetTokenTTL = 60 * time.Minute
	// resetTokenBytes sized so the token carries 256 bits of entropy.
	resetTokenBytes = 32
)

var (
	// ErrResetInvalid covers an unknown token and a token bound to a
	// different account. Deliberately generic.
	ErrResetInvalid = errors.New("password reset: invalid token")
	// ErrResetExpired signals the token's TTL elapsed unredeemed.
	ErrResetExpired = errors.New("password reset: token expired")
	// ErrResetConsumed signals the token was already redeemed once.
	ErrResetConsumed = errors.New("password reset: token already used")
)

// SessionRevoker terminates every live session of a user. Satisfied by
// auth.SessionService.
type SessionRevoker interface {
	RevokeUserSessions(ctx context.Context, userID string) error
}

// PasswordResetOption customises the PasswordResetService.
type PasswordResetOption func(*PasswordResetService)

// WithResetTokenTTL overrides the token lifetime.
func WithResetTokenTTL(d time.Duration) PasswordResetOption {
	return func(s *PasswordResetService) {
		if d > 0 {
			s.tokenTTL = d
		}
	}
}

// WithResetClock injects a custom time source.
func WithResetClock(clock func() time.Time) PasswordResetOption {
	return func(s *PasswordResetService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithResetBaseURL sets the public URL the emailed link points at.
func WithResetBaseURL(base string) PasswordResetOption {
	return func(s *PasswordResetService) {
		if strings.TrimSpace(base) != "" {
			s.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// PasswordResetService owns PasswordResetToken rows: single-use,
// time-boxed credentials for replacing a forgotten password. Only the
// SHA-256 digest of a token is stored; the raw value travels once, in
// the emailed link.
type PasswordResetService struct {
	db       *gorm.DB
	users    *UserService
	sessions SessionRevoker
	mailer   mail.Mailer
	tokenTTL time.Duration
	baseURL  string
	now      func() time.Time
}

// NewPasswordResetService constructs the reset manager. The mailer may
// be nil in tests; requests then skip dispatch.
func NewPasswordResetService(db *gorm.DB, users *UserService, sessions SessionRevoker, mailer mail.Mailer, opts ...PasswordResetOption) (*PasswordResetService, error) {
	if db == nil {
		return nil, errors.New("password reset service: db is required")
	}
	if users == nil {
		return nil, errors.New("password reset service: user service is required")
	}
	if sessions == nil {
		return nil, errors.New("password reset service: session revoker is required")
	}

	service := &PasswordResetService{
		db:       db,
		users:    users,
		sessions: sessions,
		mailer:   mailer,
		tokenTTL: DefaultResetTokenTTL,
		baseURL:  "https://app.patternscout.io",
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// RequestReset issues a fresh reset token for the address and emails the
// link. The outcome is uniform: unknown addresses and dispatch failures
// both return nil, so the endpoint never confirms whether an account
// exists.
func (s *PasswordResetService) RequestReset(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if email == "" {
		return nil
	}

	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("password reset service: %w", err)
	}

	token, err := crypto.GenerateToken(resetTokenBytes)
	if err != nil {
		return fmt.Errorf("password reset service: generate token: %w", err)
	}

	now := s.now()
	record := models.PasswordResetToken{
		UserID:    user.ID,
		Email:     user.Email,
		TokenHash: crypto.HashCredential(token),
		ExpiresAt: now.Add(s.tokenTTL),
	}
	record.CreatedAt = now

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// At most one redeemable token per user.
		if err := tx.Model(&models.PasswordResetToken{}).
			Where("user_id = ? AND consumed_at IS NULL", user.ID).
			Update("consumed_at", now).Error; err != nil {
			return fmt.Errorf("invalidate prior tokens: %w", err)
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("store token: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("password reset service: %w", err)
	}

	metrics.PasswordResets.WithLabelValues("requested").Inc()

	if s.mailer == nil {
		return nil
	}

	message := mail.Message{
		To:      []string{user.Email},
		Subject: "Reset your PatternScout password",
		HTML:    resetEmailBody(s.resetLink(token, user.Email), s.tokenTTL),
	}
	if mailErr := s.mailer.Send(ctx, message); mailErr != nil && !errors.Is(mailErr, mail.ErrSMTPDisabled) {
		// Logged but not surfaced: the response stays uniform either way.
		logger.WithModule("password_reset").Error("reset email dispatch failed",
			zap.Error(mailErr), zap.String("user_id", user.ID))
	}

	return nil
}

// ConfirmReset redeems a token and replaces the account password. The
// token must be presented together with the address it was issued for; a
// mismatch is indistinguishable from an unknown token. The consume is a
// conditional update guarded on the unconsumed state, so two concurrent
// confirmations of the same token cannot both succeed. Every live
// session of the account is revoked on success.
func (s *PasswordResetService) ConfirmReset(ctx context.Context, email, token, newPassword string) error {
	email = NormalizeEmail(email)
	token = strings.TrimSpace(token)
	if email == "" || token == "" {
		return ErrResetInvalid
	}

	var record models.PasswordResetToken
	err := s.db.WithContext(ctx).
		Take(&record, "token_hash = ?", crypto.HashCredential(token)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrResetInvalid
	}
	if err != nil {
		return fmt.Errorf("password reset service: find token: %w", err)
	}

	if NormalizeEmail(record.Email) != email {
		return ErrResetInvalid
	}

	now := s.now()
	if record.ConsumedAt != nil {
		return ErrResetConsumed
	}
	if !now.Before(record.ExpiresAt) {
		return ErrResetExpired
	}

	result := s.db.WithContext(ctx).Model(&models.PasswordResetToken{}).
		Where("id = ? AND consumed_at IS NULL", record.ID).
		Update("consumed_at", now)
	if result.Error != nil {
		return fmt.Errorf("password reset service: consume token: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// Lost the race against a concurrent confirmation.
		return ErrResetConsumed
	}

	if err := s.users.UpdatePassword(ctx, record.UserID, newPassword); err != nil {
		return fmt.Errorf("password reset service: %w", err)
	}

	// A reset implies the old credential may be compromised; force every
	// device to log in again with the new password.
	if err := s.sessions.RevokeUserSessions(ctx, record.UserID); err != nil {
		return fmt.Errorf("password reset service: revoke sessions: %w", err)
	}

	metrics.PasswordResets.WithLabelValues("completed").Inc()
	return nil
}

// CleanupExpired removes reset tokens whose TTL elapsed. Consumed rows
// are kept until expiry so repeated redemption attempts stay
// distinguishable from unknown tokens.
func (s *PasswordResetService) CleanupExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at <= ?", s.now()).
		Delete(&models.PasswordResetToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("password reset service: cleanup: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *PasswordResetService) resetLink(token, email string) string {
	return fmt.Sprintf("%s/reset-password?token=%s&email=%s",
		s.baseURL, url.QueryEscape(token), url.QueryEscape(email))
}

func resetEmailBody(link string, ttl time.Duration) string {
	minutes := int(ttl.Minutes())
	return fmt.Sprintf(
		"<p>We received a request to reset your PatternScout password.</p><p><a href=%q>Reset your password</a></p><p>The link expires in %d minutes and can be used once. If you did not request a reset, you can ignore this message.</p>",
		link, minutes)
}
