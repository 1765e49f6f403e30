package stores

import (
	"log"
	"strings"
)

// SanitizeHistory prepares a loaded history for display and replay.
//
// A saved history may contain an AI message that was still streaming when
// the previous process stopped; its content is a truncated reply that will
// never be completed, so it is dropped. AI messages with no content are
// dropped as well. Everything else is kept in order.
func SanitizeHistory(msgs []ChatMessage) []ChatMessage {
	if len(msgs) == 0 {
		return msgs
	}

	result := make([]ChatMessage, 0, len(msgs))
	interrupted, empty := 0, 0
	for _, msg := range msgs {
		if msg.Role == RoleAI {
			if msg.Status == StatusStreaming {
				interrupted++
				continue
			}
			if strings.TrimSpace(msg.Content) == "" {
				empty++
				continue
			}
		}
		result = append(result, msg)
	}

	if interrupted > 0 {
		log.Printf("[HISTORY_SANITIZER] Dropped %d interrupted AI messages", interrupted)
	}
	if empty > 0 {
		log.Printf("[HISTORY_SANITIZER] Dropped %d empty AI messages", empty)
	}
	return result
}

// SanitizeLoaded applies SanitizeHistory to h in place and returns it.
func SanitizeLoaded(h History) History {
	h.Messages = SanitizeHistory(h.Messages)
	if h.Messages == nil {
		h.Messages = []ChatMessage{}
	}
	return h
}
