package stores

import (
	"time"

	"gorm.io/gorm"
)

// Message is the persisted form of a finalized ChatMessage.
type Message struct {
	gorm.Model
	ConversationID string `gorm:"index;not null"`
	MessageID      string `gorm:"index"`
	Sequence       int    `gorm:"not null"`
	Role           string `gorm:"not null"` // "user", "ai", "system"
	Status         string `gorm:"not null"` // "done", "error"
	Content        string `gorm:"type:text"`
	SentAt         string
}

// ChatMessage converts the row back to its wire form.
func (m Message) ChatMessage() ChatMessage {
	return ChatMessage{
		ID:        m.MessageID,
		Role:      Role(m.Role),
		Content:   m.Content,
		Timestamp: m.SentAt,
		Status:    Status(m.Status),
	}
}

// Conversation holds metadata for a chat conversation. Inactive
// conversations are soft-deleted from listings and eventually pruned.
type Conversation struct {
	gorm.Model
	ConversationID string    `gorm:"uniqueIndex;not null"`
	SessionID      string    `gorm:"index"` // backend session id from session_info
	Title          string    `gorm:"type:text"`
	MessageCount   int       `gorm:"default:0"`
	Active         bool      `gorm:"default:true;index"`
	Messages       []Message `gorm:"foreignKey:ConversationID;references:ConversationID"`
}

// ConversationInfo holds basic conversation metadata for listing
type ConversationInfo struct {
	ConversationID string `json:"conversationId"`
	SessionID      string `json:"sessionId,omitempty"`
	Title          string `json:"title"`
	MessageCount   int    `json:"messageCount"`
	CreatedAt      string `json:"createdAt"`
	UpdatedAt      string `json:"updatedAt"`
}

// MessageStore abstracts conversation persistence.
type MessageStore interface {
	// Message operations
	SaveMessage(conversationID string, msg ChatMessage) error
	FetchHistory(conversationID string, limit int) ([]ChatMessage, error)

	// Conversation operations
	CreateConversation(conversationID, sessionID string) error
	SetSessionID(conversationID, sessionID string) error
	ListConversations() ([]ConversationInfo, error)
	DeactivateConversation(conversationID string) error
	PruneInactive(before time.Time) (int64, error)

	// Connection management
	Connect() error
	Close() error
	Ping() error
}

// StoreConfig holds configuration for database stores
type StoreConfig struct {
	Type       string            `json:"type"`       // "sqlite" or "postgres"
	Connection string            `json:"connection"` // file path or DSN
	Options    map[string]string `json:"options"`
}

// NewStoreConfig creates a new store configuration
func NewStoreConfig(storeType, connection string) *StoreConfig {
	return &StoreConfig{
		Type:       storeType,
		Connection: connection,
		Options:    make(map[string]string),
	}
}

// WithOption adds an option to the store configuration
func (c *StoreConfig) WithOption(key, value string) *StoreConfig {
	c.Options[key] = value
	return c
}
