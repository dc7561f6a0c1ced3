package models

import "time"

// VerificationCode stores the hash of a one-time email code. At most one
// active (unconsumed, unexpired) code exists per user; issuing a new code
// consumes all prior ones first.
type VerificationCode struct {
	BaseModel

	UserID     string     `gorm:"type:uuid;not null;index" json:"user_id"`
	CodeHash   string     `gorm:"not null" json:"-"`
	ExpiresAt  time.Time  `gorm:"index" json:"expires_at"`
	ConsumedAt *time.Time `json:"consumed_at"`
}

// Active reports whether the code can still be redeemed at the given instant.
func (v VerificationCode) Active(now time.Time) bool {
	return v.ConsumedAt == nil && now.Before(v.ExpiresAt)
}
