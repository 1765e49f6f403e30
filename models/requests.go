package models

import (
	"encoding/json"
	"strconv"
)

// Chat_Request is the body posted to the backend streaming chat endpoint.
type Chat_Request struct {
	Message string `json:"message"`
	Model   string `json:"model,omitempty"`
	// Session_ID continues a backend session announced through a
	// session_info event. Omitted on the first turn.
	Session_ID json.RawMessage `json:"session_id,omitempty"`
}

// Relay_Request is the body accepted by the relay server's chat endpoint.
type Relay_Request struct {
	Message string `json:"message" binding:"required"`
	// Customer_ID routes the turn to the customer-scoped stream.
	Customer_ID *int `json:"customer_id,omitempty"`
}

// Parse_Request asks the relay server to parse a reply.
type Parse_Request struct {
	Content string `json:"content"`
}

// SessionIDValue encodes a stored session id for Chat_Request. Numeric ids go
// out as JSON numbers, anything else as a string.
func SessionIDValue(id string) json.RawMessage {
	if id == "" {
		return nil
	}
	if _, err := strconv.ParseInt(id, 10, 64); err == nil {
		return json.RawMessage(id)
	}
	raw, _ := json.Marshal(id)
	return raw
}
