package store

import (
	"sync"

	"nutriwise/models"
)

// SessionStore holds the ordered list of the user's chat sessions.
// It is a pure in-memory container: no persistence, no failure modes.
// Pagination appends to the tail; freshly created sessions go to the head
// so they show up first regardless of server ordering.
type SessionStore struct {
	mu       sync.RWMutex
	sessions []models.Session
	ids      map[int64]struct{}
}

func NewSessionStore() *SessionStore {
	return &SessionStore{ids: make(map[int64]struct{})}
}

// Append adds a fetched page to the tail preserving arrival order.
// Sessions already present are skipped, so refetching a page after a
// transient error cannot produce duplicates.
func (s *SessionStore) Append(batch []models.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range batch {
		if _, ok := s.ids[sess.SessionID]; ok {
			continue
		}
		s.ids[sess.SessionID] = struct{}{}
		s.sessions = append(s.sessions, sess)
	}
}

// Prepend puts a freshly created session at the head of the list.
func (s *SessionStore) Prepend(sess models.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[sess.SessionID]; ok {
		return
	}
	s.ids[sess.SessionID] = struct{}{}
	s.sessions = append([]models.Session{sess}, s.sessions...)
}

// Remove deletes a session by id. Removing an absent id is a no-op.
func (s *SessionStore) Remove(sessionID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[sessionID]; !ok {
		return
	}
	delete(s.ids, sessionID)
	for i, sess := range s.sessions {
		if sess.SessionID == sessionID {
			s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
			return
		}
	}
}

// ReplaceAll swaps the whole list for a freshly fetched first page.
// The dedup index is rebuilt from the new content.
func (s *SessionStore) ReplaceAll(batch []models.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make([]models.Session, 0, len(batch))
	s.ids = make(map[int64]struct{}, len(batch))
	for _, sess := range batch {
		if _, ok := s.ids[sess.SessionID]; ok {
			continue
		}
		s.ids[sess.SessionID] = struct{}{}
		s.sessions = append(s.sessions, sess)
	}
}

// All returns a copy of the session list in display order.
func (s *SessionStore) All() []models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Session, len(s.sessions))
	copy(out, s.sessions)
	return out
}

func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
