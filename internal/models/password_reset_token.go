package models

import "time"

// PasswordResetToken is a single-use credential for recovering an account.
// Email is stored alongside the user id so a reset link can be validated
// against both halves encoded in it.
type PasswordResetToken struct {
	BaseModel

	UserID     string     `gorm:"type:uuid;not null;index" json:"user_id"`
	Email      string     `gorm:"not null" json:"email"`
	TokenHash  string     `gorm:"uniqueIndex;not null" json:"-"`
	ExpiresAt  time.Time  `gorm:"index" json:"expires_at"`
	ConsumedAt *time.Time `json:"consumed_at"`
}
