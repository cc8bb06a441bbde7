package services

import (
	"github.com/google/uuid"

	"studypal_go_backend/internal/models"
)

// ChatStore persists chat sessions and their messages for signed-in users.
type ChatStore interface {
	SaveChat(userID uuid.UUID, sessionID string) error
	SaveMessage(sessionID, msgType, content, imageURL string) error
	GetChatBySessionID(sessionID string) (*models.Chat, error)
	GetChatsByUserID(userID uuid.UUID) ([]models.Chat, error)
	DeleteChatBySessionID(sessionID string) error
}

// Mailer delivers a support request to the support inbox.
type Mailer interface {
	SendSupportRequest(name, email, subject, message string) error
}
