package services

import (
	"time"

	"github.com/patternscout/patternscout/internal/models"
)

// VerificationState is the explicit per-user email verification state.
// It is derived from the user row and the newest unconsumed code row at a
// given instant, never stored separately.
type VerificationState int

const (
	// StateUnverified: no code has been issued yet (or none survives).
	StateUnverified VerificationState = iota
	// StateCodePending: an unconsumed, unexpired code is outstanding.
	StateCodePending
	// StateCodeExpired: the latest code's TTL elapsed unredeemed.
	StateCodeExpired
	// StateVerified is terminal for this subsystem.
	StateVerified
)

func (s VerificationState) String() string {
	switch s {
	case StateUnverified:
		return "unverified"
	case StateCodePending:
		return "code_pending"
	case StateCodeExpired:
		return "code_expired"
	case StateVerified:
		return "verified"
	default:
		return "unknown"
	}
}

// VerificationEffects enumerates the side effects a transition demands.
// Transition functions are pure; the service executes the effects.
type VerificationEffects struct {
	InvalidatePriorCodes bool
	IssueNewCode         bool
	ConsumeCode          bool
	MarkUserVerified     bool
}

// DeriveVerificationState computes the tagged state for a user given the
// newest unconsumed code row (nil when none exists).
func DeriveVerificationState(user *models.User, latest *models.VerificationCode, now time.Time) VerificationState {
	if user != nil && user.IsVerified {
		return StateVerified
	}
	if latest == nil {
		return StateUnverified
	}
	if latest.Active(now) {
		return StateCodePending
	}
	return StateCodeExpired
}

// TransitionOnIssue returns the state and effects of issuing a code
// (signup's first code or a resend). Issuing from any non-terminal state
// lands in CodePending with the prior codes invalidated.
func TransitionOnIssue(state VerificationState) (VerificationState, VerificationEffects, error) {
	if state == StateVerified {
		return state, VerificationEffects{}, ErrAlreadyVerified
	}

	return StateCodePending, VerificationEffects{
		InvalidatePriorCodes: true,
		IssueNewCode:         true,
	}, nil
}

// TransitionOnSubmit returns the state and effects of submitting a code.
// Only a matching submission against a pending code reaches Verified.
func TransitionOnSubmit(state VerificationState, matches bool) (VerificationState, VerificationEffects, error) {
	switch state {
	case StateVerified:
		return state, VerificationEffects{}, ErrAlreadyVerified
	case StateUnverified, StateCodeExpired:
		return state, VerificationEffects{}, ErrCodeExpired
	case StateCodePending:
		if !matches {
			return state, VerificationEffects{}, ErrCodeInvalid
		}
		return StateVerified, VerificationEffects{
			ConsumeCode:      true,
			MarkUserVerified: true,
		}, nil
	default:
		return state, VerificationEffects{}, ErrCodeInvalid
	}
}
