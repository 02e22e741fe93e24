package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/novelarc/novelarc/internal/novel"
)

// ErrSessionNotFound aliases the store-neutral sentinel so callers can match
// it without caring which driver is behind the interface.
var ErrSessionNotFound = novel.ErrSessionNotFound

// SessionStore keeps sessions in memory. Reads hand out deep copies so the
// controller can keep mutating while the API renders snapshots.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]novel.Session
}

// NewSessionStore constructs an empty SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]novel.Session)}
}

// CreateSession stores a new session.
func (s *SessionStore) CreateSession(_ context.Context, sess novel.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; exists {
		return errors.New("session already exists")
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

// GetSession returns a snapshot of the session.
func (s *SessionStore) GetSession(_ context.Context, id string) (novel.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return novel.Session{}, ErrSessionNotFound
	}
	return sess.Clone(), nil
}

// SetState updates the session lifecycle state.
func (s *SessionStore) SetState(_ context.Context, id string, state novel.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	sess.State = state
	sess.Updated = time.Now().UTC()
	s.sessions[id] = sess
	return nil
}

// UpdateChapter replaces the chapter matching ch.Seq.
func (s *SessionStore) UpdateChapter(_ context.Context, id string, ch novel.Chapter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	idx := ch.Seq - 1
	if idx < 0 || idx >= len(sess.Chapters) {
		return errors.New("chapter seq out of range")
	}
	chapters := make([]novel.Chapter, len(sess.Chapters))
	copy(chapters, sess.Chapters)
	chapters[idx] = ch
	sess.Chapters = chapters
	sess.Updated = time.Now().UTC()
	s.sessions[id] = sess
	return nil
}
