package structured

import "sync"

// Memo caches the result of the last Parse call. While a reply streams in the
// same content is rendered many times between tokens; Memo skips the re-scan
// when the text has not changed.
type Memo struct {
	mu      sync.Mutex
	content string
	info    *Info
	valid   bool
}

// Parse returns Parse(content), reusing the previous result for identical
// input.
func (m *Memo) Parse(content string) *Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.valid && m.content == content {
		return m.info
	}
	m.content = content
	m.info = Parse(content)
	m.valid = true
	return m.info
}

// Reset drops the cached result.
func (m *Memo) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.content = ""
	m.info = nil
	m.valid = false
}
