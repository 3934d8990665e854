// Package messages implements the per-query message store: a thread-safe,
// append-only log of status and error events.
package messages

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Severity classifies a message entry.
type Severity int

const (
	Info Severity = iota
	Error
	UnknownSeverity
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "INFO"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Message is one entry in the store.
type Message struct {
	ChunkID     int
	Code        int
	Description string
	Timestamp   time.Time
	Severity    Severity
}

// Store is a thread-safe, append-only, query-scoped message log. It
// lives for the query's lifetime and never evicts entries.
type Store struct {
	mu       sync.Mutex
	messages []Message
	log      *zap.SugaredLogger
}

// New returns an empty Store. log may be nil, in which case entries are
// not mirrored into structured logs.
func New(log *zap.SugaredLogger) *Store {
	return &Store{log: log}
}

// AddMessage appends a new entry, stamping it with the current time.
func (s *Store) AddMessage(chunkID, code int, description string, severity Severity) {
	s.mu.Lock()
	msg := Message{
		ChunkID:     chunkID,
		Code:        code,
		Description: description,
		Timestamp:   time.Now(),
		Severity:    severity,
	}
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	if s.log != nil {
		switch severity {
		case Error:
			s.log.Errorw(description, "chunkId", chunkID, "code", code)
		default:
			s.log.Infow(description, "chunkId", chunkID, "code", code)
		}
	}
}

// MessageCount returns the total number of entries.
func (s *Store) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// MessageCountForCode returns the number of entries carrying the given code.
func (s *Store) MessageCountForCode(code int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.messages {
		if m.Code == code {
			n++
		}
	}
	return n
}

// GetMessage returns the entry at index (0-based, insertion order) and
// whether it exists.
func (s *Store) GetMessage(index int) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.messages) {
		return Message{}, false
	}
	return s.messages[index], true
}

// Snapshot returns a time-ordered copy of all entries, suitable for
// building the query's aggregated, user-visible message list.
func (s *Store) Snapshot() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// HasErrors reports whether any ERROR-severity message was recorded.
func (s *Store) HasErrors() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.Severity == Error {
			return true
		}
	}
	return false
}
