package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/patternscout/patternscout/internal/database/testutil"
	"github.com/patternscout/patternscout/internal/models"
	"github.com/patternscout/patternscout/pkg/mail"
)

type captureMailer struct {
	sent []mail.Message
	err  error
}

func (m *captureMailer) Send(_ context.Context, msg mail.Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func newVerificationFixture(t *testing.T, mailer mail.Mailer, clock func() time.Time) (*VerificationService, *gorm.DB, *models.User) {
	t.Helper()

	db := testutil.MustOpenTestDB(t)

	svc, err := NewVerificationService(db, mailer, WithVerificationClock(clock))
	require.NoError(t, err)

	user := &models.User{Email: "trader@example.com", Password: "hash"}
	require.NoError(t, db.Create(user).Error)

	return svc, db, user
}

func extractCode(t *testing.T, mailer *captureMailer) string {
	t.Helper()

	require.NotEmpty(t, mailer.sent)
	body := mailer.sent[len(mailer.sent)-1].HTML
	start := len("<p>Your PatternScout verification code is:</p><p><strong>")
	require.Greater(t, len(body), start+6)
	return body[start : start+6]
}

func TestIssueCodeStoresHashAndSendsEmail(t *testing.T) {
	current := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	mailer := &captureMailer{}
	svc, db, user := newVerificationFixture(t, mailer, func() time.Time { return current })

	require.NoError(t, svc.IssueCode(context.Background(), user, false))

	require.Len(t, mailer.sent, 1)
	require.Equal(t, []string{user.Email}, mailer.sent[0].To)

	code := extractCode(t, mailer)
	require.Len(t, code, 6)

	var stored models.VerificationCode
	require.NoError(t, db.Take(&stored, "user_id = ?", user.ID).Error)
	require.NotEqual(t, code, stored.CodeHash, "the raw code must never be persisted")
	require.Nil(t, stored.ConsumedAt)
	require.Equal(t, current.Add(DefaultCodeTTL).Unix(), stored.ExpiresAt.Unix())
}

func TestIssueCodeInvalidatesPriorCodes(t *testing.T) {
	current := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	mailer := &captureMailer{}
	svc, db, user := newVerificationFixture(t, mailer, func() time.Time { return current })

	require.NoError(t, svc.IssueCode(context.Background(), user, false))
	firstCode := extractCode(t, mailer)

	current = current.Add(2 * time.Minute)
	require.NoError(t, svc.IssueCode(context.Background(), user, true))
	secondCode := extractCode(t, mailer)

	// Only the newest code is redeemable.
	require.ErrorIs(t, svc.ValidateCode(context.Background(), user, firstCode), ErrCodeInvalid)
	require.NoError(t, svc.ValidateCode(context.Background(), user, secondCode))

	var unconsumed int64
	require.NoError(t, db.Model(&models.VerificationCode{}).
		Where("user_id = ? AND consumed_at IS NULL", user.ID).
		Count(&unconsumed).Error)
	require.Zero(t, unconsumed)
}

func TestIssueCodeEnforcesResendCooldown(t *testing.T) {
	current := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	mailer := &captureMailer{}
	svc, _, user := newVerificationFixture(t, mailer, func() time.Time { return current })

	require.NoError(t, svc.IssueCode(context.Background(), user, false))

	current = current.Add(20 * time.Second)
	err := svc.IssueCode(context.Background(), user, true)

	var cooldown *CooldownError
	require.ErrorAs(t, err, &cooldown)
	require.Equal(t, 40*time.Second, cooldown.Remaining)
	require.Len(t, mailer.sent, 1, "no second email during cooldown")

	current = current.Add(41 * time.Second)
	require.NoError(t, svc.IssueCode(context.Background(), user, true))
	require.Len(t, mailer.sent, 2)
}

func TestIssueCodeRejectsVerifiedUser(t *testing.T) {
	svc, db, user := newVerificationFixture(t, &captureMailer{}, time.Now)

	require.NoError(t, db.Model(user).Update("is_verified", true).Error)
	user.IsVerified = true

	require.ErrorIs(t, svc.IssueCode(context.Background(), user, false), ErrAlreadyVerified)
}

func TestIssueCodeDispatchFailureLeavesCodeOutstanding(t *testing.T) {
	current := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	mailer := &captureMailer{err: errors.New("smtp: connection refused")}
	svc, db, user := newVerificationFixture(t, mailer, func() time.Time { return current })

	err := svc.IssueCode(context.Background(), user, false)
	require.ErrorIs(t, err, ErrEmailDispatch)

	// The code row survives the failed dispatch and remains redeemable.
	var stored models.VerificationCode
	require.NoError(t, db.Take(&stored, "user_id = ?", user.ID).Error)
	require.Nil(t, stored.ConsumedAt)
	require.True(t, stored.Active(current))
}

func TestValidateCodeWrongCode(t *testing.T) {
	mailer := &captureMailer{}
	svc, _, user := newVerificationFixture(t, mailer, time.Now)

	require.NoError(t, svc.IssueCode(context.Background(), user, false))

	require.ErrorIs(t, svc.ValidateCode(context.Background(), user, "000000"), ErrCodeInvalid)

	// A failed attempt does not consume the code.
	code := extractCode(t, mailer)
	require.NoError(t, svc.ValidateCode(context.Background(), user, code))
}

func TestValidateCodeExpired(t *testing.T) {
	current := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	mailer := &captureMailer{}
	svc, _, user := newVerificationFixture(t, mailer, func() time.Time { return current })

	require.NoError(t, svc.IssueCode(context.Background(), user, false))
	code := extractCode(t, mailer)

	current = current.Add(DefaultCodeTTL + time.Second)

	// Even the correct digits fail after the TTL elapses.
	require.ErrorIs(t, svc.ValidateCode(context.Background(), user, code), ErrCodeExpired)
}

func TestValidateCodeWithoutIssuedCode(t *testing.T) {
	svc, _, user := newVerificationFixture(t, &captureMailer{}, time.Now)

	require.ErrorIs(t, svc.ValidateCode(context.Background(), user, "123456"), ErrCodeExpired)
}

func TestValidateCodeSingleUse(t *testing.T) {
	mailer := &captureMailer{}
	svc, _, user := newVerificationFixture(t, mailer, time.Now)

	require.NoError(t, svc.IssueCode(context.Background(), user, false))
	code := extractCode(t, mailer)

	require.NoError(t, svc.ValidateCode(context.Background(), user, code))

	// The consumed row no longer validates.
	require.ErrorIs(t, svc.ValidateCode(context.Background(), user, code), ErrCodeExpired)
}

func TestValidateCodeRejectsVerifiedUser(t *testing.T) {
	svc, db, user := newVerificationFixture(t, &captureMailer{}, time.Now)

	require.NoError(t, db.Model(user).Update("is_verified", true).Error)
	user.IsVerified = true

	require.ErrorIs(t, svc.ValidateCode(context.Background(), user, "123456"), ErrAlreadyVerified)
}

func TestLastCodeSentAt(t *testing.T) {
	current := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	svc, _, user := newVerificationFixture(t, &captureMailer{}, func() time.Time { return current })

	sentAt, err := svc.LastCodeSentAt(context.Background(), user.ID)
	require.NoError(t, err)
	require.True(t, sentAt.IsZero())

	require.NoError(t, svc.IssueCode(context.Background(), user, false))

	sentAt, err = svc.LastCodeSentAt(context.Background(), user.ID)
	require.NoError(t, err)
	require.False(t, sentAt.IsZero())
}
