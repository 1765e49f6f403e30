package stores

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Role is the author of a chat message.
type Role string

const (
	RoleUser   Role = "user"
	RoleAI     Role = "ai"
	RoleSystem Role = "system"
)

// Status tracks the lifecycle of a message. Only AI messages are ever
// streaming; once done or error the content does not change again.
type Status string

const (
	StatusStreaming Status = "streaming"
	StatusDone      Status = "done"
	StatusError     Status = "error"
)

// TimestampLayout is the wire format of ChatMessage.Timestamp.
const TimestampLayout = time.RFC3339

// ChatMessage is one entry of a conversation.
type ChatMessage struct {
	ID        string `json:"id,omitempty"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Status    Status `json:"status,omitempty"`
}

// Final reports whether the message can no longer change.
func (m ChatMessage) Final() bool {
	return m.Status != StatusStreaming
}

// History is a caller-owned conversation transcript.
type History struct {
	ConversationID string        `json:"conversationId"`
	SessionID      string        `json:"sessionId,omitempty"`
	Messages       []ChatMessage `json:"messages"`
}

// LoadHistory decodes a saved history. Empty input is an empty history.
func LoadHistory(data []byte) (History, error) {
	h := History{Messages: []ChatMessage{}}
	if len(bytes.TrimSpace(data)) == 0 {
		return h, nil
	}
	if err := json.Unmarshal(data, &h); err != nil {
		return History{}, fmt.Errorf("failed to decode chat history: %w", err)
	}
	if h.Messages == nil {
		h.Messages = []ChatMessage{}
	}
	return h, nil
}

// SaveHistory encodes h for LoadHistory.
func SaveHistory(h History) ([]byte, error) {
	if h.Messages == nil {
		h.Messages = []ChatMessage{}
	}
	data, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat history: %w", err)
	}
	return data, nil
}
