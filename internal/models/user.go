package models

import (
	"time"
)

// User is the users table. ID is the Telegram user id, never generated.
type User struct {
	ID          int64  `gorm:"primaryKey;autoIncrement:false"`
	DisplayName string `gorm:"size:255"`
	Balance     int64  `gorm:"not null;default:0"`
	ReferrerID  *int64 `gorm:"index;check:chk_users_no_self_referral,referrer_id <> id"`
	Referrer    *User  `gorm:"foreignKey:ReferrerID;constraint:OnDelete:RESTRICT"`
	Tier        int    `gorm:"not null;default:1"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
