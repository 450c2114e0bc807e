// Package history stores per-session conversation transcripts. Two
// backends implement one contract: an in-memory map and an embedded
// SQLite database. Trimming and summarization live in Manager;
// sanitization is a pure function applied at read time.
package history

import (
	"sync"

	"github.com/piyushgupta53/featherbot-sub000/internal/providers"
)

// Store persists ordered messages per session key ("channel:chatId").
// Implementations are safe for concurrent use.
type Store interface {
	// Add appends a message to the session, creating it if needed.
	Add(sessionKey string, msg providers.Message) error

	// Messages returns a snapshot of the session's messages in order.
	// Unknown sessions return an empty slice.
	Messages(sessionKey string) ([]providers.Message, error)

	// Replace atomically swaps the session's messages, used after a trim.
	Replace(sessionKey string, msgs []providers.Message) error

	// Clear removes all messages for the session.
	Clear(sessionKey string) error

	// Len reports the number of stored messages for the session.
	Len(sessionKey string) (int, error)

	// Touch bumps the session's updated-at metadata.
	Touch(sessionKey string) error

	// Close releases backend resources.
	Close() error
}

// MemoryStore is the in-memory backend.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]providers.Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]providers.Message)}
}

func (s *MemoryStore) Add(sessionKey string, msg providers.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionKey] = append(s.sessions[sessionKey], msg)
	return nil
}

func (s *MemoryStore) Messages(sessionKey string) ([]providers.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.sessions[sessionKey]
	out := make([]providers.Message, len(src))
	copy(out, src)
	return out, nil
}

func (s *MemoryStore) Replace(sessionKey string, msgs []providers.Message) error {
	cp := make([]providers.Message, len(msgs))
	copy(cp, msgs)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionKey] = cp
	return nil
}

func (s *MemoryStore) Clear(sessionKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionKey)
	return nil
}

func (s *MemoryStore) Len(sessionKey string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions[sessionKey]), nil
}

func (s *MemoryStore) Touch(string) error { return nil }

func (s *MemoryStore) Close() error { return nil }
