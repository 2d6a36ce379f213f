package models

import (
	"time"

	"github.com/google/uuid"
)

// Transaction is one row of the append-only balance log.
type Transaction struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	TargetUserID int64     `gorm:"index;not null"`
	TargetUser   User      `gorm:"foreignKey:TargetUserID;constraint:OnDelete:RESTRICT"`
	Amount       int64     `gorm:"not null"`
	Reason       string    `gorm:"size:255;not null"`
	BalanceAfter int64     `gorm:"not null"`
	CreatedAt    time.Time `gorm:"index"`
}
