package stores

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotConnected is returned by store operations before Connect succeeds.
var ErrNotConnected = errors.New("database connection is nil")

const titleRunes = 30

// gormStore is the dialect-independent MessageStore implementation shared by
// the SQLite and Postgres stores.
type gormStore struct {
	db     *gorm.DB
	open   func() gorm.Dialector
	config *StoreConfig
	logger *log.Logger
}

func newGormStore(config *StoreConfig, open func() gorm.Dialector) gormStore {
	return gormStore{
		open:   open,
		config: config,
		logger: log.New(os.Stdout, "[STORE] ", log.LstdFlags),
	}
}

// SetLogger replaces the store logger.
func (s *gormStore) SetLogger(l *log.Logger) {
	if l != nil {
		s.logger = l
	}
}

// DB exposes the connection for stores sharing it, such as the event log.
func (s *gormStore) DB() *gorm.DB {
	return s.db
}

func (s *gormStore) gormConfig() *gorm.Config {
	cfg := &gorm.Config{}
	switch s.config.Options["log_level"] {
	case "silent":
		cfg.Logger = logger.Default.LogMode(logger.Silent)
	case "error":
		cfg.Logger = logger.Default.LogMode(logger.Error)
	case "info":
		cfg.Logger = logger.Default.LogMode(logger.Info)
	}
	return cfg
}

// Connect opens the database and migrates the schema.
func (s *gormStore) Connect() error {
	db, err := gorm.Open(s.open(), s.gormConfig())
	if err != nil {
		return fmt.Errorf("failed to open %s database: %w", s.config.Type, err)
	}
	s.db = db

	if err := s.db.AutoMigrate(&Conversation{}, &Message{}); err != nil {
		return fmt.Errorf("failed to migrate database schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *gormStore) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks if the database connection is alive
func (s *gormStore) Ping() error {
	if s.db == nil {
		return ErrNotConnected
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// SaveMessage appends a finalized message to a conversation, creating the
// conversation on first use. Streaming messages are rejected.
func (s *gormStore) SaveMessage(conversationID string, msg ChatMessage) error {
	if s.db == nil {
		return ErrNotConnected
	}
	if !msg.Final() {
		return fmt.Errorf("refusing to persist streaming message in %s", conversationID)
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var conv Conversation
		err := tx.Where("conversation_id = ?", conversationID).Limit(1).Find(&conv).Error
		if err != nil {
			return fmt.Errorf("failed to look up conversation: %w", err)
		}
		if conv.ID == 0 {
			conv = Conversation{ConversationID: conversationID, Active: true}
			if err := tx.Create(&conv).Error; err != nil {
				return fmt.Errorf("failed to create conversation record: %w", err)
			}
		}

		var count int64
		if err := tx.Model(&Message{}).Where("conversation_id = ?", conversationID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to count existing messages: %w", err)
		}
		seq := int(count) + 1

		row := Message{
			ConversationID: conversationID,
			MessageID:      msg.ID,
			Sequence:       seq,
			Role:           string(msg.Role),
			Status:         string(msg.Status),
			Content:        msg.Content,
			SentAt:         msg.Timestamp,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to create message record: %w", err)
		}

		updates := map[string]any{"message_count": seq}
		if conv.Title == "" && msg.Role == RoleUser {
			updates["title"] = Title(msg.Content)
		}
		if err := tx.Model(&Conversation{}).Where("conversation_id = ?", conversationID).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update conversation: %w", err)
		}
		return nil
	})
}

// FetchHistory retrieves messages for a conversation in sequence order
// limit: maximum number of messages to retrieve (0 = return all messages)
func (s *gormStore) FetchHistory(conversationID string, limit int) ([]ChatMessage, error) {
	if s.db == nil {
		return nil, ErrNotConnected
	}

	query := s.db.Where("conversation_id = ?", conversationID).Order("sequence ASC")
	if limit > 0 {
		var count int64
		if err := s.db.Model(&Message{}).Where("conversation_id = ?", conversationID).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("failed to count messages: %w", err)
		}
		if count > int64(limit) {
			query = query.Offset(int(count) - limit)
		}
	}

	var rows []Message
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	msgs := make([]ChatMessage, len(rows))
	for i, r := range rows {
		msgs[i] = r.ChatMessage()
	}
	return msgs, nil
}

// CreateConversation creates a new conversation record
func (s *gormStore) CreateConversation(conversationID, sessionID string) error {
	if s.db == nil {
		return ErrNotConnected
	}
	conv := Conversation{
		ConversationID: conversationID,
		SessionID:      sessionID,
		Active:         true,
	}
	if err := s.db.Create(&conv).Error; err != nil {
		return fmt.Errorf("failed to create conversation %s: %w", conversationID, err)
	}
	return nil
}

// SetSessionID records the backend session id of a conversation, creating the
// conversation if needed.
func (s *gormStore) SetSessionID(conversationID, sessionID string) error {
	if s.db == nil {
		return ErrNotConnected
	}
	res := s.db.Model(&Conversation{}).Where("conversation_id = ?", conversationID).Update("session_id", sessionID)
	if res.Error != nil {
		return fmt.Errorf("failed to update session id: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return s.CreateConversation(conversationID, sessionID)
	}
	return nil
}

// ListConversations returns active conversations, most recently updated first.
func (s *gormStore) ListConversations() ([]ConversationInfo, error) {
	if s.db == nil {
		return nil, ErrNotConnected
	}

	var convs []Conversation
	if err := s.db.Where("active = ?", true).Order("updated_at DESC").Find(&convs).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch conversations: %w", err)
	}

	result := make([]ConversationInfo, len(convs))
	for i, c := range convs {
		result[i] = ConversationInfo{
			ConversationID: c.ConversationID,
			SessionID:      c.SessionID,
			Title:          c.Title,
			MessageCount:   c.MessageCount,
			CreatedAt:      c.CreatedAt.Format(time.RFC3339),
			UpdatedAt:      c.UpdatedAt.Format(time.RFC3339),
		}
	}
	return result, nil
}

// DeactivateConversation hides a conversation from listings. Its messages
// stay until the conversation is pruned.
func (s *gormStore) DeactivateConversation(conversationID string) error {
	if s.db == nil {
		return ErrNotConnected
	}
	res := s.db.Model(&Conversation{}).Where("conversation_id = ?", conversationID).Update("active", false)
	if res.Error != nil {
		return fmt.Errorf("failed to deactivate conversation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("conversation %s not found", conversationID)
	}
	return nil
}

// PruneInactive permanently removes conversations last updated before the
// cutoff, together with their messages. It returns the number of
// conversations removed.
func (s *gormStore) PruneInactive(before time.Time) (int64, error) {
	if s.db == nil {
		return 0, ErrNotConnected
	}

	var removed int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&Conversation{}).Where("updated_at < ?", before).Pluck("conversation_id", &ids).Error; err != nil {
			return fmt.Errorf("failed to select stale conversations: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Unscoped().Where("conversation_id IN ?", ids).Delete(&Message{}).Error; err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		if tx.Migrator().HasTable(&StreamEventRecord{}) {
			if err := tx.Where("conversation_id IN ?", ids).Delete(&StreamEventRecord{}).Error; err != nil {
				return fmt.Errorf("failed to delete stream events: %w", err)
			}
		}
		res := tx.Unscoped().Where("conversation_id IN ?", ids).Delete(&Conversation{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete conversations: %w", res.Error)
		}
		removed = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Printf("pruned %d conversations idle since %s", removed, before.Format(time.RFC3339))
	}
	return removed, nil
}

// Title derives a conversation title from its first user message.
func Title(content string) string {
	for i, r := range content {
		if r == '\n' {
			content = content[:i]
			break
		}
	}
	if utf8.RuneCountInString(content) <= titleRunes {
		return content
	}
	return string([]rune(content)[:titleRunes]) + "…"
}
