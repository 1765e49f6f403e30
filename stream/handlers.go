package stream

import (
	"context"
	"encoding/json"
)

// Handlers is the callback form of a stream consumer. Only OnToken is
// required; the others are skipped when nil.
type Handlers struct {
	OnToken func(text string)
	OnEvent func(name string, payload json.RawMessage)
	OnError func(message string)
	OnDone  func()
}

// Dispatch invokes the callback matching evt.
func (h Handlers) Dispatch(evt Event) {
	switch evt.Kind {
	case KindToken:
		if h.OnToken != nil {
			h.OnToken(evt.Text)
		}
	case KindNamedEvent:
		if h.OnEvent != nil {
			h.OnEvent(evt.Name, evt.Payload)
		}
	case KindError:
		if h.OnError != nil {
			h.OnError(evt.Message)
		}
	case KindDone:
		if h.OnDone != nil {
			h.OnDone()
		}
	}
}

// Drain reads events until the channel closes and dispatches them in order.
// Exactly one of OnDone/OnError fires: a channel closed without a terminal
// event counts as a clean completion.
func Drain(events <-chan Event, h Handlers) {
	terminated := false
	for evt := range events {
		if terminated {
			continue
		}
		h.Dispatch(evt)
		terminated = evt.Terminal()
	}
	if !terminated {
		h.Dispatch(DoneEvent())
	}
}

// Consume runs a stream to completion, invoking h in wire order, and returns
// once a terminal callback has fired.
func (c *Client) Consume(ctx context.Context, endpoint string, payload any, h Handlers) {
	Drain(c.Stream(ctx, endpoint, payload), h)
}
