package session

import (
	"sync"
	"time"
)

// Entry is one chat line.
type Entry struct {
	Speaker Speaker   `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// Transcript is an append-only, concurrency-safe list of entries.
// It is display-only; nothing reads it back to build a payload.
type Transcript struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{entries: make([]Entry, 0, 32)}
}

// Append adds an entry and returns the new length.
func (t *Transcript) Append(e Entry) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, e)
	return len(t.entries)
}

// Entries returns a copy of all entries.
func (t *Transcript) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Count returns how many entries the speaker produced.
func (t *Transcript) Count(s Speaker) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, e := range t.entries {
		if e.Speaker == s {
			n++
		}
	}
	return n
}

// Last returns the most recent entry.
func (t *Transcript) Last() (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.entries) == 0 {
		return Entry{}, false
	}
	return t.entries[len(t.entries)-1], true
}
