package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
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
	// DefaultCodeTTL is how long a one-time email code stays redeemable.
	DefaultCodeTTL = 15 * time.Minute
	// DefaultResendCooldown is the minimum wait between two code dispatches.
	DefaultResendCooldown = 60 * time.Second
)

var (
	// ErrAlreadyVerified rejects verification operations for verified accounts.
	ErrAlreadyVerified = errors.New("verification: already verified")
	// ErrCodeInvalid covers a wrong code. Deliberately generic: no hint
	// about remaining attempts or which digits were wrong.
	ErrCodeInvalid = errors.New("verification: invalid code")
	// ErrCodeExpired signals that no redeemable code is outstanding.
	ErrCodeExpired = errors.New("verification: code expired")
	// ErrEmailDispatch marks a failed send. The stored code stays
	// outstanding; the caller may retry after the cooldown.
	ErrEmailDispatch = errors.New("verification: email dispatch failed")
)

// CooldownError reports how long the caller must wait before the next resend.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("verification: resend cooldown active, %s remaining", e.Remaining.Round(time.Second))
}

// VerificationOption customises the VerificationService.
type VerificationOption func(*VerificationService)

// WithCodeTTL overrides the code lifetime.
func WithCodeTTL(d time.Duration) VerificationOption {
	return func(s *VerificationService) {
		if d > 0 {
			s.codeTTL = d
		}
	}
}

// WithResendCooldown overrides the minimum wait between dispatches.
func WithResendCooldown(d time.Duration) VerificationOption {
	return func(s *VerificationService) {
		if d > 0 {
			s.cooldown = d
		}
	}
}

// WithVerificationClock injects a custom time source.
func WithVerificationClock(clock func() time.Time) VerificationOption {
	return func(s *VerificationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// VerificationService owns VerificationCode rows: it generates, hashes,
// stores, expires, and consumes one-time email codes, and enforces the
// resend cooldown. Per-user issuance is serialised behind a lock so two
// concurrent resends cannot both pass the cooldown check.
type VerificationService struct {
	db       *gorm.DB
	mailer   mail.Mailer
	codeTTL  time.Duration
	cooldown time.Duration
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewVerificationService constructs the code manager. The mailer may be
// nil in tests; issuance then skips dispatch.
func NewVerificationService(db *gorm.DB, mailer mail.Mailer, opts ...VerificationOption) (*VerificationService, error) {
	if db == nil {
		return nil, errors.New("verification service: db is required")
	}

	service := &VerificationService{
		db:       db,
		mailer:   mailer,
		codeTTL:  DefaultCodeTTL,
		cooldown: DefaultResendCooldown,
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// userLock returns the mutex serialising issuance for one user.
func (s *VerificationService) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[userID] = lock
	}
	return lock
}

// LastCodeSentAt reports when the newest code for the user was issued.
// A zero time means no code has ever been issued.
func (s *VerificationService) LastCodeSentAt(ctx context.Context, userID string) (time.Time, error) {
	var code models.VerificationCode
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Take(&code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("verification service: last code: %w", err)
	}
	return code.CreatedAt, nil
}

// IssueCode generates, stores, and emails a fresh code for the user,
// invalidating any outstanding one first so exactly one code can ever
// validate. Callers on the resend path pass enforceCooldown; signup's
// first code skips it.
func (s *VerificationService) IssueCode(ctx context.Context, user *models.User, enforceCooldown bool) error {
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return errors.New("verification service: user is required")
	}

	lock := s.userLock(user.ID)
	lock.Lock()
	defer lock.Unlock()

	now := s.now()

	latest, err := s.latestUnconsumed(ctx, user.ID)
	if err != nil {
		return err
	}

	state := DeriveVerificationState(user, latest, now)
	if _, _, err := TransitionOnIssue(state); err != nil {
		return err
	}

	if enforceCooldown {
		lastSent, err := s.LastCodeSentAt(ctx, user.ID)
		if err != nil {
			return err
		}
		if !lastSent.IsZero() {
			if elapsed := now.Sub(lastSent); elapsed < s.cooldown {
				return &CooldownError{Remaining: s.cooldown - elapsed}
			}
		}
	}

	code, err := crypto.GenerateNumericCode(crypto.VerificationCodeDigits)
	if err != nil {
		return fmt.Errorf("verification service: generate code: %w", err)
	}

	record := models.VerificationCode{
		UserID:    user.ID,
		CodeHash:  crypto.HashCredential(code),
		ExpiresAt: now.Add(s.codeTTL),
	}
	// Pin created_at to the service clock; the cooldown window is measured
	// against it.
	record.CreatedAt = now

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.VerificationCode{}).
			Where("user_id = ? AND consumed_at IS NULL", user.ID).
			Update("consumed_at", now).Error; err != nil {
			return fmt.Errorf("invalidate prior codes: %w", err)
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("store code: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("verification service: %w", err)
	}

	if s.mailer == nil {
		return nil
	}

	message := mail.Message{
		To:      []string{user.Email},
		Subject: "Your PatternScout verification code",
		HTML:    verificationEmailBody(code, s.codeTTL),
	}
	if mailErr := s.mailer.Send(ctx, message); mailErr != nil && !errors.Is(mailErr, mail.ErrSMTPDisabled) {
		// The stored code stays outstanding; the caller sees the dispatch
		// failure and may resend after the cooldown.
		metrics.VerificationEmails.WithLabelValues("failed").Inc()
		logger.WithModule("verification").Error("code email dispatch failed",
			zap.Error(mailErr), zap.String("user_id", user.ID))
		return fmt.Errorf("%w: %v", ErrEmailDispatch, mailErr)
	}

	metrics.VerificationEmails.WithLabelValues("sent").Inc()
	return nil
}

// ValidateCode checks a submitted code against the user's active one and
// consumes it on match. The consume is a conditional update guarded on
// the unconsumed state, so two concurrent submissions of the same code
// cannot both succeed.
func (s *VerificationService) ValidateCode(ctx context.Context, user *models.User, submitted string) error {
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return errors.New("verification service: user is required")
	}

	submitted = strings.TrimSpace(submitted)
	now := s.now()

	latest, err := s.latestUnconsumed(ctx, user.ID)
	if err != nil {
		return err
	}

	state := DeriveVerificationState(user, latest, now)
	matches := latest != nil && crypto.SecureCompare(latest.CodeHash, crypto.HashCredential(submitted))

	_, effects, err := TransitionOnSubmit(state, matches)
	if err != nil {
		return err
	}

	if effects.ConsumeCode {
		result := s.db.WithContext(ctx).Model(&models.VerificationCode{}).
			Where("id = ? AND consumed_at IS NULL", latest.ID).
			Update("consumed_at", now)
		if result.Error != nil {
			return fmt.Errorf("verification service: consume code: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			// Lost the race against a concurrent submission.
			return ErrCodeInvalid
		}
	}

	return nil
}

// CleanupExpired removes code rows whose TTL elapsed, consumed or not.
func (s *VerificationService) CleanupExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at <= ?", s.now()).
		Delete(&models.VerificationCode{})
	if result.Error != nil {
		return 0, fmt.Errorf("verification service: cleanup: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *VerificationService) latestUnconsumed(ctx context.Context, userID string) (*models.VerificationCode, error) {
	var code models.VerificationCode
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND consumed_at IS NULL", userID).
		Order("created_at DESC").
		Take(&code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("verification service: find code: %w", err)
	}
	return &code, nil
}

func verificationEmailBody(code string, ttl time.Duration) string {
	minutes := int(ttl.Minutes())
	return fmt.Sprintf(
		"<p>Your PatternScout verification code is:</p><p><strong>%s</strong></p><p>The code expires in %d minutes. If you did not create an account, you can ignore this message.</p>",
		code, minutes)
}
