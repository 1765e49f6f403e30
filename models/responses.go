package models

import (
	"github.com/Desarso/crmstream/render"
	"github.com/Desarso/crmstream/stores"
	"github.com/Desarso/crmstream/structured"
)

// Session_Event announces the conversation served by a relay stream.
type Session_Event struct {
	Conversation_ID string `json:"conversation_id"`
	Session_ID      string `json:"session_id,omitempty"`
}

// Token_Event carries one token together with the re-parsed message.
type Token_Event struct {
	Token      string           `json:"token"`
	Content    string           `json:"content"`
	Structured *structured.Info `json:"structured"`
}

// Done_Event closes a relay stream.
type Done_Event struct {
	Message stores.ChatMessage `json:"message"`
}

// Error_Response is the error body used by the relay server and the mock
// backend.
type Error_Response struct {
	Detail string `json:"detail"`
}

// History_Response wraps a conversation transcript.
type History_Response struct {
	History stores.History `json:"history"`
}

// Conversations_Response lists stored conversations.
type Conversations_Response struct {
	Conversations []stores.ConversationInfo `json:"conversations"`
}

// Parse_Response is the parse endpoint result. Structured and View are nil
// when the content carries no structured markers.
type Parse_Response struct {
	Structured *structured.Info `json:"structured"`
	View       *render.View     `json:"view,omitempty"`
}

// Health_Response is returned by the health endpoint.
type Health_Response struct {
	Status  string `json:"status"`
	Backend string `json:"backend"`
	Store   string `json:"store,omitempty"`
}
