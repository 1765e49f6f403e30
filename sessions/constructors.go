package sessions

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/Desarso/crmstream/stores"
)

// DefaultEndpoint is the backend's global chat stream.
const DefaultEndpoint = "/chat/global/stream"

// DefaultCustomerEndpoint is the customer-scoped chat stream; %d is the
// customer id.
const DefaultCustomerEndpoint = "/customers/%d/chat/stream"

// Manager keeps one ChatSession per conversation.
type Manager struct {
	Client           Streamer
	Endpoint         string
	CustomerEndpoint string
	Model            string
	Store            stores.MessageStore
	Events           stores.EventStore
	Logger           *log.Logger

	mu       sync.Mutex
	sessions map[string]*ChatSession
}

// NewManager creates a session manager using the default backend routes.
func NewManager(client Streamer) *Manager {
	return &Manager{
		Client:           client,
		Endpoint:         DefaultEndpoint,
		CustomerEndpoint: DefaultCustomerEndpoint,
		Logger:           log.New(os.Stdout, "[SESSIONS] ", log.LstdFlags),
		sessions:         make(map[string]*ChatSession),
	}
}

// Get returns the session for conversationID, creating it on first use. New
// sessions are seeded from the store when one is configured. customerID
// selects the customer-scoped endpoint and only applies to new sessions.
func (m *Manager) Get(conversationID string, customerID *int) *ChatSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[conversationID]; ok {
		return s
	}

	endpoint := m.Endpoint
	if customerID != nil && m.CustomerEndpoint != "" {
		endpoint = fmt.Sprintf(m.CustomerEndpoint, *customerID)
	}

	s := NewChatSession(conversationID, m.Client, endpoint).
		WithModel(m.Model).
		WithStore(m.Store).
		WithEventStore(m.Events)
	if h, ok := m.load(conversationID); ok {
		s.WithHistory(h)
	}
	m.sessions[conversationID] = s
	return s
}

// Lookup returns an existing session without creating one.
func (m *Manager) Lookup(conversationID string) (*ChatSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[conversationID]
	return s, ok
}

// Forget drops an idle session from memory. Busy sessions are kept.
func (m *Manager) Forget(conversationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[conversationID]
	if !ok || s.Busy() {
		return false
	}
	delete(m.sessions, conversationID)
	return true
}

func (m *Manager) load(conversationID string) (stores.History, bool) {
	if m.Store == nil {
		return stores.History{}, false
	}
	msgs, err := m.Store.FetchHistory(conversationID, 0)
	if err != nil {
		m.Logger.Printf("Error fetching history for %s: %v", conversationID, err)
		return stores.History{}, false
	}
	if len(msgs) == 0 {
		return stores.History{}, false
	}

	h := stores.History{ConversationID: conversationID, Messages: msgs}
	if convs, err := m.Store.ListConversations(); err == nil {
		for _, c := range convs {
			if c.ConversationID == conversationID {
				h.SessionID = c.SessionID
				break
			}
		}
	}
	return h, true
}
