package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openModelTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_foreign_keys=1"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&User{}, &Session{}, &VerificationCode{}, &PasswordResetToken{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}

func TestUserDefaults(t *testing.T) {
	db := openModelTestDB(t)

	user := User{Email: "trader@example.com", Password: "hash"}
	require.NoError(t, db.Create(&user).Error)
	require.NotEmpty(t, user.ID)

	var stored User
	require.NoError(t, db.Take(&stored, "email = ?", "trader@example.com").Error)
	require.False(t, stored.IsVerified)
	require.Equal(t, PlanFree, stored.Plan)
	require.Nil(t, stored.LastLoginAt)
}

func TestUserEmailUnique(t *testing.T) {
	db := openModelTestDB(t)

	require.NoError(t, db.Create(&User{Email: "dup@example.com", Password: "hash"}).Error)
	err := db.Create(&User{Email: "dup@example.com", Password: "other"}).Error
	require.Error(t, err)
}

func TestSessionTokenHashUnique(t *testing.T) {
	db := openModelTestDB(t)

	user := User{Email: "s@example.com", Password: "hash"}
	require.NoError(t, db.Create(&user).Error)

	expires := time.Now().Add(24 * time.Hour)
	require.NoError(t, db.Create(&Session{UserID: user.ID, TokenHash: "abc", ExpiresAt: expires}).Error)
	require.Error(t, db.Create(&Session{UserID: user.ID, TokenHash: "abc", ExpiresAt: expires}).Error)
}

func TestVerificationCodeActive(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	consumed := now.Add(-time.Minute)

	cases := []struct {
		name string
		code VerificationCode
		want bool
	}{
		{"live", VerificationCode{ExpiresAt: now.Add(time.Minute)}, true},
		{"expired", VerificationCode{ExpiresAt: now.Add(-time.Second)}, false},
		{"consumed", VerificationCode{ExpiresAt: now.Add(time.Minute), ConsumedAt: &consumed}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.code.Active(now))
		})
	}
}
