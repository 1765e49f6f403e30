package stream

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// DoneSentinel is the data payload that ends a stream regardless of event name.
const DoneSentinel = "[DONE]"

var recordSeparator = []byte("\n\n")

// Decoder frames a text/event-stream byte sequence into Events. It is fed raw
// transport chunks in order; chunk boundaries never need to line up with
// record boundaries. A Decoder is not safe for concurrent use.
type Decoder struct {
	buf  []byte
	done bool
}

// NewDecoder returns an empty Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends chunk to the internal buffer and returns the events of every
// complete record now present, in wire order. Once a terminal event has been
// returned the decoder drops all further input.
func (d *Decoder) Feed(chunk []byte) []Event {
	if d.done {
		return nil
	}
	for _, b := range chunk {
		if b != '\r' {
			d.buf = append(d.buf, b)
		}
	}

	var events []Event
	for {
		idx := bytes.Index(d.buf, recordSeparator)
		if idx < 0 {
			break
		}
		record := string(d.buf[:idx])
		d.buf = d.buf[idx+len(recordSeparator):]

		evt, ok := decodeRecord(record)
		if !ok {
			continue
		}
		events = append(events, evt)
		if evt.Terminal() {
			d.done = true
			d.buf = nil
			break
		}
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return events
}

// Done reports whether a terminal event has been decoded.
func (d *Decoder) Done() bool {
	return d.done
}

// Pending returns the number of buffered bytes not yet framed into a record.
func (d *Decoder) Pending() int {
	return len(d.buf)
}

// Reset discards buffered bytes and terminal state so the decoder can be reused.
func (d *Decoder) Reset() {
	d.buf = nil
	d.done = false
}

// DecodeAll decodes a complete stream held in memory. Trailing bytes that do
// not form a complete record are discarded.
func DecodeAll(raw []byte) []Event {
	return NewDecoder().Feed(raw)
}

func decodeRecord(record string) (Event, bool) {
	var name string
	var data strings.Builder

	for _, line := range strings.Split(record, "\n") {
		switch {
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimLeft(strings.TrimPrefix(line, "data:"), " \t"))
		}
	}

	return classify(name, data.String())
}

func classify(name, data string) (Event, bool) {
	lname := strings.ToLower(name)
	trimmed := strings.TrimSpace(data)

	if lname == "done" || trimmed == DoneSentinel {
		return DoneEvent(), true
	}
	if trimmed == "" {
		return Event{}, false
	}

	if isFailureEvent(lname) {
		return ErrorEvent(errorMessage(data)), true
	}

	switch lname {
	case "", "message", "token", "delta":
		return tokenFromData(data)
	}

	payload := json.RawMessage(trimmed)
	if !gjson.Valid(trimmed) {
		payload, _ = json.Marshal(data)
	}
	return NamedEvent(name, payload), true
}

// tokenFromData applies the token/message/raw-text fallback chain.
func tokenFromData(data string) (Event, bool) {
	if !gjson.Valid(data) {
		return TokenEvent(data), true
	}

	parsed := gjson.Parse(data)
	if !parsed.IsObject() {
		if parsed.Type == gjson.String {
			return TokenEvent(parsed.String()), true
		}
		return TokenEvent(data), true
	}
	if token := parsed.Get("token"); token.Exists() {
		return TokenEvent(token.String()), true
	}
	if message := parsed.Get("message"); message.Exists() {
		return TokenEvent(message.String()), true
	}
	return Event{}, false
}

func isFailureEvent(lname string) bool {
	switch lname {
	case "error", "failed", "failure":
		return true
	}
	return strings.HasSuffix(lname, "_error") || strings.HasSuffix(lname, ".error")
}

// errorMessage extracts the most useful diagnostic from an error payload.
func errorMessage(data string) string {
	trimmed := strings.TrimSpace(data)
	if gjson.Valid(trimmed) {
		parsed := gjson.Parse(trimmed)
		if parsed.Type == gjson.String {
			return parsed.String()
		}
		for _, field := range []string{"message", "detail", "error.message", "error"} {
			if v := parsed.Get(field); v.Exists() && v.String() != "" {
				return v.String()
			}
		}
	}
	return trimmed
}
