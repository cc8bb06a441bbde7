package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Chat struct {
	gorm.Model
	UserID    uuid.UUID `gorm:"type:uuid;index"`
	SessionID string    `gorm:"index;unique"`
	Messages  []Message `gorm:"foreignKey:ChatID"`
}

type Message struct {
	gorm.Model
	ChatID    uint   `gorm:"index"`
	Type      string // "user" or "assistant"
	Content   string
	ImageURL  string // optional attached homework photo (data URL)
	Timestamp time.Time
}
