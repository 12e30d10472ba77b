package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"nutriwise/cmd/chat/clients/chatclient"
	"nutriwise/cmd/chat/store"
	"nutriwise/cmd/internal/logger"
	"nutriwise/models"
)

// IdentityProvider answers "who is the current user". Resolution happens
// asynchronously at startup; before it completes UserID returns
// identity.ErrNotReady and session operations fail fast instead of
// issuing requests with a bogus user id.
type IdentityProvider interface {
	UserID() (int64, error)
}

// ChatService is the orchestrator between the remote chat API and the two
// local stores. It owns the single "active session" state:
//
//	NoSessionSelected  <->  SessionActive(sessionID)
//
// Selecting a session replaces the message thread; deselecting or deleting
// the active session clears it. All mutations of the stores happen only
// after the triggering network call fully succeeded, so a failure never
// leaves them half-updated.
type ChatService struct {
	client   *chatclient.Client
	identity IdentityProvider
	sessions *store.SessionStore
	messages *store.MessageStore
	pager    *Pager

	mu        sync.Mutex
	active    int64 // 0 means no session selected
	selectSeq int64 // bumped on every selection change; stale fetches check it
	sending   bool  // at-most-one in-flight send
}

func NewChatService(client *chatclient.Client, id IdentityProvider, sessions *store.SessionStore, messages *store.MessageStore) *ChatService {
	svc := &ChatService{
		client:   client,
		identity: id,
		sessions: sessions,
		messages: messages,
	}
	svc.pager = NewPager(sessions, func(ctx context.Context, pageNumber int) ([]models.Session, error) {
		userID, err := id.UserID()
		if err != nil {
			return nil, err
		}
		return client.ListSessions(ctx, userID, pageNumber)
	})
	return svc
}

// ActiveSession returns the currently selected session id, if any.
func (s *ChatService) ActiveSession() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.active != 0
}

func (s *ChatService) Pager() *Pager {
	return s.pager
}

// LoadMoreSessions fetches the next page of the session list. Dropped
// silently while a fetch is already in flight or after exhaustion.
func (s *ChatService) LoadMoreSessions(ctx context.Context) error {
	if err := s.pager.RequestNextPage(ctx); err != nil {
		return normalizeClientError("load_sessions", err)
	}
	return nil
}

// RefreshSessions refetches the first page and swaps it in. On failure
// the previously loaded list stays intact.
func (s *ChatService) RefreshSessions(ctx context.Context) error {
	if err := s.pager.Refresh(ctx); err != nil {
		return normalizeClientError("refresh_sessions", err)
	}
	return nil
}

// SelectSession fetches the full message history of the session and makes
// it active. If the selection changed again while the fetch was in flight
// the stale result is discarded without touching the stores.
func (s *ChatService) SelectSession(ctx context.Context, sessionID int64) error {
	s.mu.Lock()
	s.selectSeq++
	seq := s.selectSeq
	s.mu.Unlock()

	history, err := s.client.GetMessages(ctx, sessionID)
	if err != nil {
		return normalizeClientError("select_session", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.selectSeq {
		logger.DebugWithFields("discarding stale message history", logger.Fields{
			"session_id": sessionID,
		})
		return nil
	}
	s.active = sessionID
	s.messages.ReplaceAll(history)
	return nil
}

// Deselect returns to the session list. An in-flight history fetch for the
// previously selected session becomes stale and will be discarded.
func (s *ChatService) Deselect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectSeq++
	s.active = 0
	s.messages.Clear()
}

// CreateSession creates a new session server-side, puts it at the head of
// the list and makes it active with an empty thread. Requires resolved
// identity.
func (s *ChatService) CreateSession(ctx context.Context) (models.Session, error) {
	userID, err := s.identity.UserID()
	if err != nil {
		return models.Session{}, normalizeClientError("create_session", err)
	}

	title := s.nextSessionTitle()
	created, err := s.client.CreateSession(ctx, userID, title)
	if err != nil {
		return models.Session{}, normalizeClientError("create_session", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectSeq++ // supersedes any in-flight history fetch
	s.sessions.Prepend(created)
	s.active = created.SessionID
	s.messages.ReplaceAll(nil)

	logger.InfoWithFields("session created", logger.Fields{
		"session_id": created.SessionID,
		"title":      created.Title,
	})
	return created, nil
}

// nextSessionTitle derives the default title from the highest known
// session id, falling back to count-based naming for an empty list.
func (s *ChatService) nextSessionTitle() string {
	all := s.sessions.All()
	if len(all) == 0 {
		return fmt.Sprintf("New Session %d", len(all)+1)
	}
	var maxID int64
	for _, sess := range all {
		if sess.SessionID > maxID {
			maxID = sess.SessionID
		}
	}
	return fmt.Sprintf("New Session %d", maxID+1)
}

// SendMessage posts the trimmed text to the active session, creating one
// first if none is selected. On success the confirmed user message and the
// assistant reply (when present) are appended in send-then-receive order.
// On failure nothing is appended; the caller keeps the input text so the
// user can retry.
//
// Blank input is a silent no-op. A send while another send is still in
// flight is dropped, mirroring the pagination guard.
func (s *ChatService) SendMessage(ctx context.Context, text string) error {
	content := strings.TrimSpace(text)
	if content == "" {
		return nil
	}

	s.mu.Lock()
	if s.sending {
		s.mu.Unlock()
		logger.DebugWithFields("send already in flight, dropped", nil)
		return nil
	}
	s.sending = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.sending = false
		s.mu.Unlock()
	}()

	sessionID, err := s.ensureActiveSession(ctx)
	if err != nil {
		return err
	}

	result, err := s.client.SendMessage(ctx, sessionID, content)
	if err != nil {
		return normalizeClientError("send_message", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != sessionID {
		// the user switched threads while the send was in flight
		logger.DebugWithFields("discarding send result for inactive session", logger.Fields{
			"session_id": sessionID,
		})
		return nil
	}
	s.messages.AppendPair(result.UserMessage, result.AIResponse)
	return nil
}

// ensureActiveSession returns the active session id, creating a session
// when none is selected. The send that follows must use the id returned
// here, never a stale one.
func (s *ChatService) ensureActiveSession(ctx context.Context) (int64, error) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active != 0 {
		return active, nil
	}

	created, err := s.CreateSession(ctx)
	if err != nil {
		return 0, err
	}
	return created.SessionID, nil
}

// DeleteSession removes the session server-side and locally. A 404 from
// the server means it is already gone and counts as success. Deleting the
// active session clears the thread and returns to the session list. Must
// only be invoked after the UI's confirmation gate answered yes.
func (s *ChatService) DeleteSession(ctx context.Context, sessionID int64) error {
	if err := s.client.DeleteSession(ctx, sessionID); err != nil && !errors.Is(err, chatclient.ErrNotFound) {
		return normalizeClientError("delete_session", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions.Remove(sessionID)
	if s.active == sessionID {
		s.selectSeq++
		s.active = 0
		s.messages.Clear()
	}

	logger.InfoWithFields("session deleted", logger.Fields{"session_id": sessionID})
	return nil
}
