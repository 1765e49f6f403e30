package stores

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// StreamEventRecord is a named stream event (session_info and the like)
// received while a reply was generated.
type StreamEventRecord struct {
	ID             uint            `gorm:"primarykey" json:"-"`
	CreatedAt      time.Time       `json:"-"`
	ConversationID string          `gorm:"index:idx_event_conv;not null" json:"conversation_id"`
	MessageID      string          `gorm:"index" json:"message_id"`
	Name           string          `gorm:"index:idx_event_conv;not null" json:"name"`
	PayloadJSON    string          `gorm:"type:text" json:"-"`
	Payload        json.RawMessage `gorm:"-" json:"payload,omitempty"`
	Timestamp      int64           `gorm:"not null" json:"timestamp"`
}

// BeforeSave copies Payload into PayloadJSON.
func (e *StreamEventRecord) BeforeSave(tx *gorm.DB) error {
	if len(e.Payload) > 0 {
		if !json.Valid(e.Payload) {
			return fmt.Errorf("event %s payload is not valid JSON", e.Name)
		}
		e.PayloadJSON = string(e.Payload)
	}
	return nil
}

// AfterFind restores Payload from PayloadJSON.
func (e *StreamEventRecord) AfterFind(tx *gorm.DB) error {
	if e.PayloadJSON != "" {
		e.Payload = json.RawMessage(e.PayloadJSON)
	}
	return nil
}

// EventStore persists named stream events.
type EventStore interface {
	SaveEvent(event *StreamEventRecord) error
	EventsByConversation(conversationID string) ([]*StreamEventRecord, error)
	EventsByName(conversationID, name string) ([]*StreamEventRecord, error)
	DeleteEventsByConversation(conversationID string) error
}

// GORMEventStore implements EventStore on an existing GORM connection.
type GORMEventStore struct {
	db *gorm.DB
}

// NewGORMEventStore creates an event store sharing db with a MessageStore.
func NewGORMEventStore(db *gorm.DB) (*GORMEventStore, error) {
	if db == nil {
		return nil, ErrNotConnected
	}
	if err := db.AutoMigrate(&StreamEventRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate stream_event_records table: %w", err)
	}
	return &GORMEventStore{db: db}, nil
}

// EventStoreFor opens an event store on the connection of a gorm-backed
// MessageStore.
func EventStoreFor(store MessageStore) (*GORMEventStore, error) {
	g, ok := store.(interface{ DB() *gorm.DB })
	if !ok {
		return nil, fmt.Errorf("store %T has no gorm connection", store)
	}
	return NewGORMEventStore(g.DB())
}

// SaveEvent stores one event, stamping it when Timestamp is unset.
func (s *GORMEventStore) SaveEvent(event *StreamEventRecord) error {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if err := s.db.Create(event).Error; err != nil {
		return fmt.Errorf("failed to save %s event: %w", event.Name, err)
	}
	return nil
}

// EventsByConversation returns all events of a conversation in arrival order.
func (s *GORMEventStore) EventsByConversation(conversationID string) ([]*StreamEventRecord, error) {
	var events []*StreamEventRecord
	err := s.db.Where("conversation_id = ?", conversationID).
		Order("timestamp ASC, id ASC").
		Find(&events).Error
	return events, err
}

// EventsByName returns the events of one name within a conversation.
func (s *GORMEventStore) EventsByName(conversationID, name string) ([]*StreamEventRecord, error) {
	var events []*StreamEventRecord
	err := s.db.Where("conversation_id = ? AND name = ?", conversationID, name).
		Order("timestamp ASC, id ASC").
		Find(&events).Error
	return events, err
}

// DeleteEventsByConversation removes all events of a conversation.
func (s *GORMEventStore) DeleteEventsByConversation(conversationID string) error {
	return s.db.Where("conversation_id = ?", conversationID).Delete(&StreamEventRecord{}).Error
}
