package sessions

import (
	"context"
	"errors"

	"github.com/Desarso/crmstream/models"
)

// SSE event names written by RelaySSE.
const (
	SSESession = "session"
	SSEToken   = "token"
	SSEError   = "error"
	SSEDone    = "done"
)

// RelaySSE writes one turn's updates to w until the turn ends, the channel
// closes or ctx is cancelled (client disconnected).
func (s *ChatSession) RelaySSE(ctx context.Context, updates <-chan Update, w SSEWriter) error {
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				s.Logger.Printf("SSE stream finished.")
				return nil
			}
			if u.Kind == UpdateEvent && u.Name == SessionInfoEvent {
				// Relayed through the session update.
				continue
			}

			if err := writeSSEUpdate(w, u); err != nil {
				s.Logger.Printf("Error writing to SSE stream: %v", err)
				return err
			}
			w.Flush()

			if u.Terminal() {
				return nil
			}

		case <-ctx.Done():
			s.Logger.Printf("SSE client disconnected")
			return ctx.Err()
		}
	}
}

func writeSSEUpdate(w SSEWriter, u Update) error {
	switch u.Kind {
	case UpdateUser, UpdateSession:
		return w.WriteSSE(SSESession, models.Session_Event{
			Conversation_ID: u.ConversationID,
			Session_ID:      u.SessionID,
		})
	case UpdateToken:
		return w.WriteSSE(SSEToken, models.Token_Event{
			Token:      u.Token,
			Content:    u.Message.Content,
			Structured: u.Structured,
		})
	case UpdateEvent:
		return w.WriteSSE(u.Name, u.Payload)
	case UpdateError:
		return w.WriteSSEError(errors.New(u.Error))
	case UpdateDone:
		return w.WriteSSE(SSEDone, models.Done_Event{Message: u.Message})
	}
	return nil
}

// RelayWebSocket forwards updates to a WebSocket until the channel closes or
// ctx is cancelled. Unlike RelaySSE it spans turns.
func (s *ChatSession) RelayWebSocket(ctx context.Context, updates <-chan Update, w *WebSocketWriter) error {
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			if err := w.WriteUpdate(u); err != nil {
				s.Logger.Printf("Error writing to WebSocket: %v", err)
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
