package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	ID               uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	AuthID           string    `gorm:"unique;not null"` // subject claim from the auth provider
	Email            string    `gorm:"unique;not null"`
	Name             string
	PlanType         string `gorm:"default:free"`
	StripeCustomerID string `gorm:"index"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeletedAt        gorm.DeletedAt `gorm:"index"`
}
