package store

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"tradegpt-backend/internal/models"
)

const maxHistory = 20

// ConversationStore keeps the last few chat turns per user.
type ConversationStore struct {
	mu     sync.Mutex
	byUser map[string][]models.ChatMessage
	limit  int
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		byUser: make(map[string][]models.ChatMessage),
		limit:  maxHistory,
	}
}

func (s *ConversationStore) Append(userID string, role models.ChatRole, content string) models.ChatMessage {
	msg := models.ChatMessage{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history := append(s.byUser[userID], msg)
	if len(history) > s.limit {
		history = append([]models.ChatMessage(nil), history[len(history)-s.limit:]...)
	}
	s.byUser[userID] = history
	return msg
}

func (s *ConversationStore) History(userID string) []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]models.ChatMessage(nil), s.byUser[userID]...)
}
