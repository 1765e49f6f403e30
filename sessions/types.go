package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/Desarso/crmstream/stores"
	"github.com/Desarso/crmstream/stream"
	"github.com/Desarso/crmstream/structured"
	"github.com/gorilla/websocket"
)

// ErrGenerationInFlight is returned by Send while a reply is still streaming.
var ErrGenerationInFlight = errors.New("a reply is already being generated for this conversation")

// StreamError is the error a Send returns when the backend reported a
// failure. The failure text has already been appended to the AI message.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return e.Message
}

// Streamer issues a streaming request. *stream.Client implements it.
type Streamer interface {
	Stream(ctx context.Context, endpoint string, payload any) <-chan stream.Event
}

// UpdateKind identifies a session update.
type UpdateKind string

const (
	UpdateUser    UpdateKind = "user"
	UpdateSession UpdateKind = "session"
	UpdateToken   UpdateKind = "token"
	UpdateEvent   UpdateKind = "event"
	UpdateDone    UpdateKind = "done"
	UpdateError   UpdateKind = "error"
)

// Update is published to subscribers for every change to the conversation.
// Message is a snapshot: the full message after the change.
type Update struct {
	Kind           UpdateKind         `json:"type"`
	ConversationID string             `json:"conversation_id"`
	SessionID      string             `json:"session_id,omitempty"`
	Token          string             `json:"token,omitempty"`
	Name           string             `json:"name,omitempty"`
	Payload        json.RawMessage    `json:"payload,omitempty"`
	Error          string             `json:"error,omitempty"`
	Message        stores.ChatMessage `json:"message"`
	Structured     *structured.Info   `json:"structured,omitempty"`
}

// Terminal reports whether the update ends a generation.
func (u Update) Terminal() bool {
	return u.Kind == UpdateDone || u.Kind == UpdateError
}

// SSEWriter handles Server-Sent Events writing
type SSEWriter interface {
	WriteSSE(event string, data any) error
	WriteSSEError(err error) error
	Flush()
}

// WebSocketWriter serializes updates onto a WebSocket connection.
type WebSocketWriter struct {
	Conn             *websocket.Conn
	Logger           *log.Logger
	StartTime        time.Time
	FirstTokenLogged bool
	mu               sync.Mutex
}

// WriteUpdate sends one update as JSON.
func (w *WebSocketWriter) WriteUpdate(u Update) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if u.Kind == UpdateToken && !w.FirstTokenLogged && !w.StartTime.IsZero() {
		w.Logger.Printf("Time to first token: %v", time.Since(w.StartTime))
		w.FirstTokenLogged = true
	}
	if u.Kind == UpdateUser {
		w.StartTime = time.Now()
		w.FirstTokenLogged = false
	}
	return w.Conn.WriteJSON(u)
}

// WriteError sends an error frame.
func (w *WebSocketWriter) WriteError(message string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Conn.WriteJSON(map[string]string{"type": "error", "error": message})
}
