package services

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"studypal_go_backend/internal/models"
)

// DefaultChatStore implements ChatStore on gorm.
type DefaultChatStore struct {
	db *gorm.DB
}

func NewChatStore(db *gorm.DB) ChatStore {
	return &DefaultChatStore{db: db}
}

// SaveChat creates the chat row for a session, or leaves an existing one
// untouched.
func (s *DefaultChatStore) SaveChat(userID uuid.UUID, sessionID string) error {
	chat := &models.Chat{
		UserID:    userID,
		SessionID: sessionID,
	}
	result := s.db.Where(models.Chat{SessionID: sessionID}).FirstOrCreate(chat)
	return result.Error
}

// SaveMessage appends one message to an existing chat.
func (s *DefaultChatStore) SaveMessage(sessionID, msgType, content, imageURL string) error {
	var chat models.Chat
	if err := s.db.Where("session_id = ?", sessionID).First(&chat).Error; err != nil {
		return err
	}
	message := &models.Message{
		ChatID:    chat.ID,
		Type:      msgType,
		Content:   content,
		ImageURL:  imageURL,
		Timestamp: time.Now(),
	}
	return s.db.Create(message).Error
}

// GetChatBySessionID retrieves a chat and its messages.
func (s *DefaultChatStore) GetChatBySessionID(sessionID string) (*models.Chat, error) {
	var chat models.Chat
	result := s.db.Preload("Messages", func(db *gorm.DB) *gorm.DB {
		return db.Order("timestamp asc")
	}).Where("session_id = ?", sessionID).First(&chat)
	if result.Error != nil {
		return nil, result.Error
	}
	return &chat, nil
}

// GetChatsByUserID retrieves all chats for a user.
func (s *DefaultChatStore) GetChatsByUserID(userID uuid.UUID) ([]models.Chat, error) {
	var chats []models.Chat
	result := s.db.Preload("Messages").Where("user_id = ?", userID).Find(&chats)
	if result.Error != nil {
		return nil, result.Error
	}
	return chats, nil
}

// DeleteChatBySessionID deletes a chat and its messages.
func (s *DefaultChatStore) DeleteChatBySessionID(sessionID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var chat models.Chat
		if err := tx.Where("session_id = ?", sessionID).First(&chat).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", chat.ID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		return tx.Delete(&chat).Error
	})
}
