package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/patternscout/patternscout/internal/models"
)

func TestDeriveVerificationState(t *testing.T) {
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	pending := &models.VerificationCode{ExpiresAt: now.Add(5 * time.Minute)}
	expired := &models.VerificationCode{ExpiresAt: now.Add(-5 * time.Minute)}

	tests := []struct {
		name   string
		user   *models.User
		latest *models.VerificationCode
		want   VerificationState
	}{
		{"verified user wins regardless of codes", &models.User{IsVerified: true}, pending, StateVerified},
		{"no code issued", &models.User{}, nil, StateUnverified},
		{"live code", &models.User{}, pending, StateCodePending},
		{"lapsed code", &models.User{}, expired, StateCodeExpired},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, DeriveVerificationState(tc.user, tc.latest, now))
		})
	}
}

func TestTransitionOnIssue(t *testing.T) {
	for _, from := range []VerificationState{StateUnverified, StateCodePending, StateCodeExpired} {
		state, effects, err := TransitionOnIssue(from)
		require.NoError(t, err, "issuing from %s", from)
		require.Equal(t, StateCodePending, state)
		require.True(t, effects.InvalidatePriorCodes)
		require.True(t, effects.IssueNewCode)
		require.False(t, effects.ConsumeCode)
		require.False(t, effects.MarkUserVerified)
	}

	_, _, err := TransitionOnIssue(StateVerified)
	require.ErrorIs(t, err, ErrAlreadyVerified)
}

func TestTransitionOnSubmit(t *testing.T) {
	t.Run("match from pending verifies", func(t *testing.T) {
		state, effects, err := TransitionOnSubmit(StateCodePending, true)
		require.NoError(t, err)
		require.Equal(t, StateVerified, state)
		require.True(t, effects.ConsumeCode)
		require.True(t, effects.MarkUserVerified)
	})

	t.Run("mismatch from pending", func(t *testing.T) {
		state, _, err := TransitionOnSubmit(StateCodePending, false)
		require.ErrorIs(t, err, ErrCodeInvalid)
		require.Equal(t, StateCodePending, state, "a wrong guess does not consume the code")
	})

	t.Run("no redeemable code", func(t *testing.T) {
		_, _, err := TransitionOnSubmit(StateUnverified, true)
		require.ErrorIs(t, err, ErrCodeExpired)

		_, _, err = TransitionOnSubmit(StateCodeExpired, true)
		require.ErrorIs(t, err, ErrCodeExpired)
	})

	t.Run("already verified", func(t *testing.T) {
		_, _, err := TransitionOnSubmit(StateVerified, true)
		require.ErrorIs(t, err, ErrAlreadyVerified)
	})
}

func TestVerificationStateString(t *testing.T) {
	require.Equal(t, "unverified", StateUnverified.String())
	require.Equal(t, "code_pending", StateCodePending.String())
	require.Equal(t, "code_expired", StateCodeExpired.String())
	require.Equal(t, "verified", StateVerified.String())
}
