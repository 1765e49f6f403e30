package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Desarso/crmstream/models"
	"github.com/Desarso/crmstream/stores"
	"github.com/Desarso/crmstream/stream"
	"github.com/Desarso/crmstream/structured"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// SystemErrorPrefix marks the inline fallback appended to a failed reply.
const SystemErrorPrefix = "（系统错误）"

// SessionInfoEvent is the named event carrying the backend session id.
const SessionInfoEvent = "session_info"

const subscriberBuffer = 64

// ChatSession owns one conversation: it is the only writer of the message
// buffer while a reply streams, and fans every change out to subscribers.
type ChatSession struct {
	ConversationID string
	Endpoint       string
	Model          string
	Client         Streamer
	Store          stores.MessageStore
	Events         stores.EventStore
	Logger         *log.Logger

	now func() time.Time

	mu       sync.Mutex
	history  stores.History
	inFlight bool
	memo     structured.Memo

	subMu   sync.Mutex
	subs    map[int]chan Update
	nextSub int
}

// NewChatSession creates a session streaming replies from endpoint.
func NewChatSession(conversationID string, client Streamer, endpoint string) *ChatSession {
	return &ChatSession{
		ConversationID: conversationID,
		Endpoint:       endpoint,
		Client:         client,
		Logger:         log.New(os.Stdout, fmt.Sprintf("[SESSION %s] ", conversationID), log.LstdFlags),
		now:            time.Now,
		history:        stores.History{ConversationID: conversationID, Messages: []stores.ChatMessage{}},
		subs:           make(map[int]chan Update),
	}
}

// WithModel selects the backend model config.
func (s *ChatSession) WithModel(model string) *ChatSession {
	s.Model = model
	return s
}

// WithStore persists finalized messages.
func (s *ChatSession) WithStore(store stores.MessageStore) *ChatSession {
	s.Store = store
	return s
}

// WithEventStore records named stream events.
func (s *ChatSession) WithEventStore(events stores.EventStore) *ChatSession {
	s.Events = events
	return s
}

// WithLogger sets the session logger.
func (s *ChatSession) WithLogger(logger *log.Logger) *ChatSession {
	if logger != nil {
		s.Logger = logger
	}
	return s
}

// WithHistory seeds the session with a previously saved transcript. The
// history is sanitized first.
func (s *ChatSession) WithHistory(h stores.History) *ChatSession {
	h = stores.SanitizeLoaded(h)
	h.ConversationID = s.ConversationID
	h.Messages = append([]stores.ChatMessage(nil), h.Messages...)

	s.mu.Lock()
	s.history = h
	s.mu.Unlock()
	return s
}

// History returns a copy of the transcript.
func (s *ChatSession) History() stores.History {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.history
	h.Messages = append([]stores.ChatMessage{}, s.history.Messages...)
	return h
}

// SessionID is the backend session id, empty until session_info arrives.
func (s *ChatSession) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.SessionID
}

// Busy reports whether a reply is streaming.
func (s *ChatSession) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Subscribe registers for updates. The returned function unsubscribes and
// closes the channel. Slow subscribers lose their oldest pending updates;
// since each update carries a full message snapshot the newest one is always
// sufficient to redraw.
func (s *ChatSession) Subscribe() (<-chan Update, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan Update, subscriberBuffer)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

func (s *ChatSession) publish(u Update) {
	u.ConversationID = s.ConversationID

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- u:
			continue
		default:
		}
		// Full: drop the oldest update and retry once.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- u:
		default:
			s.Logger.Printf("Dropping %s update for slow subscriber", u.Kind)
		}
	}
}

// Send posts text to the backend and streams the reply into the transcript.
// It blocks until the reply is finalized. A backend failure is returned as a
// *StreamError after the fallback text has been appended; cancelling ctx
// finalizes the partial reply as done.
func (s *ChatSession) Send(ctx context.Context, text string) error {
	t, err := s.begin(text)
	if err != nil {
		return err
	}
	return s.run(ctx, t)
}

// SendAsync reserves the conversation, subscribes and runs the turn in the
// background. The subscription sees every update of the turn, starting with
// the user message.
func (s *ChatSession) SendAsync(ctx context.Context, text string) (<-chan Update, func(), error) {
	t, err := s.begin(text)
	if err != nil {
		return nil, nil, err
	}
	updates, cancel := s.Subscribe()
	go func() {
		if err := s.run(ctx, t); err != nil {
			s.Logger.Printf("Turn finished with error: %v", err)
		}
	}()
	return updates, cancel, nil
}

type turn struct {
	user    stores.ChatMessage
	aiIndex int
	request models.Chat_Request
}

func (s *ChatSession) begin(text string) (turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight {
		return turn{}, ErrGenerationInFlight
	}
	if strings.TrimSpace(text) == "" {
		return turn{}, fmt.Errorf("message is empty")
	}
	s.inFlight = true

	ts := s.now().Format(stores.TimestampLayout)
	user := stores.ChatMessage{ID: uuid.NewString(), Role: stores.RoleUser, Content: text, Timestamp: ts, Status: stores.StatusDone}
	ai := stores.ChatMessage{ID: uuid.NewString(), Role: stores.RoleAI, Timestamp: ts, Status: stores.StatusStreaming}
	s.history.Messages = append(s.history.Messages, user, ai)
	s.memo.Reset()

	return turn{
		user:    user,
		aiIndex: len(s.history.Messages) - 1,
		request: models.Chat_Request{
			Message:    text,
			Model:      s.Model,
			Session_ID: models.SessionIDValue(s.history.SessionID),
		},
	}, nil
}

func (s *ChatSession) run(ctx context.Context, t turn) error {
	s.publish(Update{Kind: UpdateUser, SessionID: s.SessionID(), Message: t.user})
	s.persist(t.user)

	var result error
	stream.Drain(s.Client.Stream(ctx, s.Endpoint, t.request), stream.Handlers{
		OnToken: func(text string) {
			s.appendToken(t.aiIndex, text)
		},
		OnEvent: func(name string, payload json.RawMessage) {
			s.handleEvent(t.aiIndex, name, payload)
		},
		OnError: func(message string) {
			s.finalize(t.aiIndex, stores.StatusError, message)
			result = &StreamError{Message: message}
		},
		OnDone: func() {
			s.finalize(t.aiIndex, stores.StatusDone, "")
		},
	})
	return result
}

func (s *ChatSession) appendToken(i int, text string) {
	s.mu.Lock()
	msg := &s.history.Messages[i]
	msg.Content += text
	snapshot := *msg
	s.mu.Unlock()

	s.publish(Update{
		Kind:       UpdateToken,
		Token:      text,
		Message:    snapshot,
		Structured: s.memo.Parse(snapshot.Content),
	})
}

func (s *ChatSession) handleEvent(i int, name string, payload json.RawMessage) {
	s.mu.Lock()
	snapshot := s.history.Messages[i]
	s.mu.Unlock()

	if name == SessionInfoEvent {
		if id := gjson.GetBytes(payload, "session_id"); id.Exists() && id.String() != "" {
			s.mu.Lock()
			s.history.SessionID = id.String()
			s.mu.Unlock()

			if s.Store != nil {
				if err := s.Store.SetSessionID(s.ConversationID, id.String()); err != nil {
					s.Logger.Printf("Error saving session id: %v", err)
				}
			}
			s.publish(Update{Kind: UpdateSession, SessionID: id.String(), Message: snapshot})
		}
	}

	if s.Events != nil {
		record := &stores.StreamEventRecord{
			ConversationID: s.ConversationID,
			MessageID:      snapshot.ID,
			Name:           name,
			Payload:        payload,
		}
		if err := s.Events.SaveEvent(record); err != nil {
			s.Logger.Printf("Error saving %s event: %v", name, err)
		}
	}
	s.publish(Update{Kind: UpdateEvent, Name: name, Payload: payload, Message: snapshot})
}

// finalize ends the streaming AI message. On error the fallback text is
// appended so the transcript shows what went wrong.
func (s *ChatSession) finalize(i int, status stores.Status, message string) {
	s.mu.Lock()
	msg := &s.history.Messages[i]
	msg.Status = status
	if status == stores.StatusError {
		msg.Content = withFallback(msg.Content, message)
	}
	snapshot := *msg
	sessionID := s.history.SessionID
	s.inFlight = false
	s.mu.Unlock()

	s.persist(snapshot)

	u := Update{
		Kind:       UpdateDone,
		SessionID:  sessionID,
		Message:    snapshot,
		Structured: s.memo.Parse(snapshot.Content),
	}
	if status == stores.StatusError {
		u.Kind = UpdateError
		u.Error = message
		s.Logger.Printf("Reply failed: %s", message)
	}
	s.publish(u)
}

func (s *ChatSession) persist(msg stores.ChatMessage) {
	if s.Store == nil {
		return
	}
	if err := s.Store.SaveMessage(s.ConversationID, msg); err != nil {
		s.Logger.Printf("Error saving %s message: %v", msg.Role, err)
	}
}

// withFallback appends the system-error line to a reply. Messages the
// backend already prefixed are used as is.
func withFallback(content, message string) string {
	line := message
	if !strings.HasPrefix(line, SystemErrorPrefix) {
		line = SystemErrorPrefix + line
	}
	if content == "" {
		return line
	}
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return content + line
}
