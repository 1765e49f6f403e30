package stream

import "encoding/json"

// Kind identifies what a decoded stream record carries.
type Kind int

const (
	KindToken Kind = iota
	KindNamedEvent
	KindDone
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindToken:
		return "token"
	case KindNamedEvent:
		return "event"
	case KindDone:
		return "done"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one decoded unit from the wire. Only the fields matching Kind are set.
type Event struct {
	Kind    Kind            `json:"kind"`
	Text    string          `json:"text,omitempty"`    // KindToken
	Name    string          `json:"name,omitempty"`    // KindNamedEvent
	Payload json.RawMessage `json:"payload,omitempty"` // KindNamedEvent
	Message string          `json:"message,omitempty"` // KindError
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Kind == KindDone || e.Kind == KindError
}

func TokenEvent(text string) Event {
	return Event{Kind: KindToken, Text: text}
}

func NamedEvent(name string, payload json.RawMessage) Event {
	return Event{Kind: KindNamedEvent, Name: name, Payload: payload}
}

func DoneEvent() Event {
	return Event{Kind: KindDone}
}

func ErrorEvent(message string) Event {
	return Event{Kind: KindError, Message: message}
}
