package models

import "time"

// Plan identifiers assigned to accounts. Billing upgrades happen outside
// this service; the session claims only carry the stored value.
const (
	PlanFree = "free"
	PlanPro  = "pro"
)

// User is a registered account. Rows are created at signup and never
// deleted by this service. IsVerified flips false to true exactly once,
// when a verification code is consumed.
type User struct {
	BaseModel

	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Password string `gorm:"not null" json:"-"`

	IsVerified bool   `gorm:"default:false" json:"is_verified"`
	Plan       string `gorm:"default:free" json:"plan"`

	LastLoginAt *time.Time `json:"last_login_at"`
}
