package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageRecord holds one identity's question count for one calendar day.
// At most one row exists per (UserID, UsageDate); the previous day's row is
// never deleted, it simply stops matching today's date.
type UsageRecord struct {
	ID             uint      `gorm:"primaryKey"`
	UserID         uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_usage_user_date"`
	UsageDate      string    `gorm:"uniqueIndex:idx_usage_user_date"` // YYYY-MM-DD, local time
	QuestionsAsked int       `gorm:"not null;default:0"`
	PlanType       string    `gorm:"not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (UsageRecord) TableName() string {
	return "usage_records"
}
