package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nutriwise/cmd/chat/clients/chatclient"
	"nutriwise/cmd/chat/identity"
	"nutriwise/cmd/chat/store"
	"nutriwise/models"
)

// Wire shapes the fake backend speaks, matching the real .NET API.

type wireSession struct {
	ChatSessionID   int64  `json:"chatSessionId"`
	Title           string `json:"title"`
	CreatedDate     string `json:"createdDate"`
	LastUpdatedDate string `json:"lastUpdatedDate"`
}

type wireMessage struct {
	ChatMessageID int64  `json:"chatMessageId"`
	ChatSessionID int64  `json:"chatSessionId"`
	IsUserMessage bool   `json:"isUserMessage"`
	Content       string `json:"content"`
	Timestamp     string `json:"timestamp"`
}

// fakeBackend is an in-memory stand-in for the chat API. It counts calls
// so tests can assert exactly how many requests an operation issued.
type fakeBackend struct {
	t *testing.T

	mu          sync.Mutex
	nextID      int64
	sessions    map[int64]wireSession
	messages    map[int64][]wireMessage
	pages       [][]wireSession
	replyText   string // assistant reply content; "" means no aiResponse
	listCalls   int
	createCalls int
	sendCalls   int
	deleteCalls int

	// when true, the session list endpoint answers 500
	listFail bool

	// when set for a session id, GetMessages blocks until the channel
	// closes; blockEntered signals that the request reached the handler
	blockHistory map[int64]chan struct{}
	blockEntered map[int64]chan struct{}

	// same mechanism for the send endpoint, one in flight at a time
	blockSend        chan struct{}
	blockSendEntered chan struct{}
}

func newFakeBackend(t *testing.T) *fakeBackend {
	return &fakeBackend{
		t:            t,
		nextID:       1,
		sessions:     make(map[int64]wireSession),
		messages:     make(map[int64][]wireMessage),
		replyText:    "assistant says hi",
		blockHistory: make(map[int64]chan struct{}),
		blockEntered: make(map[int64]chan struct{}),
	}
}

func (b *fakeBackend) addSession(id int64, title string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[id] = wireSession{ChatSessionID: id, Title: title, CreatedDate: "2025-03-05T09:00:00"}
	if id >= b.nextID {
		b.nextID = id + 1
	}
}

func (b *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /user/{userID}", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.listCalls++
		if b.listFail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		page, _ := strconv.Atoi(r.URL.Query().Get("pageNumber"))
		var out []wireSession
		if page >= 1 && page <= len(b.pages) {
			out = b.pages[page-1]
		}
		if out == nil {
			out = []wireSession{}
		}
		json.NewEncoder(w).Encode(out)
	})

	mux.HandleFunc("GET /messages/{sessionID}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(r.PathValue("sessionID"), 10, 64)

		b.mu.Lock()
		block := b.blockHistory[id]
		entered := b.blockEntered[id]
		delete(b.blockEntered, id)
		b.mu.Unlock()
		if entered != nil {
			close(entered)
		}
		if block != nil {
			<-block
		}

		b.mu.Lock()
		defer b.mu.Unlock()
		out := b.messages[id]
		if out == nil {
			out = []wireMessage{}
		}
		json.NewEncoder(w).Encode(out)
	})

	mux.HandleFunc("POST /session", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID int64  `json:"userId"`
			Title  string `json:"title"`
		}
		require.NoError(b.t, json.NewDecoder(r.Body).Decode(&req))

		b.mu.Lock()
		defer b.mu.Unlock()
		b.createCalls++
		session := wireSession{
			ChatSessionID:   b.nextID,
			Title:           req.Title,
			CreatedDate:     "2025-03-05T09:00:00",
			LastUpdatedDate: "2025-03-05T09:00:00",
		}
		b.nextID++
		b.sessions[session.ChatSessionID] = session
		json.NewEncoder(w).Encode(session)
	})

	mux.HandleFunc("POST /message", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ChatSessionID int64  `json:"chatSessionId"`
			Content       string `json:"content"`
		}
		require.NoError(b.t, json.NewDecoder(r.Body).Decode(&req))

		b.mu.Lock()
		block := b.blockSend
		entered := b.blockSendEntered
		b.blockSend = nil
		b.blockSendEntered = nil
		b.mu.Unlock()
		if entered != nil {
			close(entered)
		}
		if block != nil {
			<-block
		}

		b.mu.Lock()
		defer b.mu.Unlock()
		b.sendCalls++

		if _, ok := b.sessions[req.ChatSessionID]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		userMsg := wireMessage{
			ChatMessageID: b.nextID,
			ChatSessionID: req.ChatSessionID,
			IsUserMessage: true,
			Content:       req.Content,
			Timestamp:     "2025-03-05T09:01:00",
		}
		b.nextID++
		b.messages[req.ChatSessionID] = append(b.messages[req.ChatSessionID], userMsg)

		resp := map[string]any{"userMessage": userMsg, "aiResponse": nil}
		if b.replyText != "" {
			aiMsg := wireMessage{
				ChatMessageID: b.nextID,
				ChatSessionID: req.ChatSessionID,
				IsUserMessage: false,
				Content:       b.replyText,
				Timestamp:     "2025-03-05T09:01:05",
			}
			b.nextID++
			b.messages[req.ChatSessionID] = append(b.messages[req.ChatSessionID], aiMsg)
			resp["aiResponse"] = aiMsg
		}
		json.NewEncoder(w).Encode(resp)
	})

	mux.HandleFunc("DELETE /session/{sessionID}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(r.PathValue("sessionID"), 10, 64)

		b.mu.Lock()
		defer b.mu.Unlock()
		b.deleteCalls++
		if _, ok := b.sessions[id]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(b.sessions, id)
		delete(b.messages, id)
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

type staticIdentity struct {
	id  int64
	err error
}

func (s staticIdentity) UserID() (int64, error) { return s.id, s.err }

type fixture struct {
	backend  *fakeBackend
	server   *httptest.Server
	sessions *store.SessionStore
	messages *store.MessageStore
	svc      *ChatService
}

func newFixture(t *testing.T) *fixture {
	backend := newFakeBackend(t)
	server := httptest.NewServer(backend.handler())
	t.Cleanup(server.Close)

	sessions := store.NewSessionStore()
	messages := store.NewMessageStore()
	client := chatclient.New(server.Client(), server.URL)
	svc := NewChatService(client, staticIdentity{id: 1}, sessions, messages)

	return &fixture{backend: backend, server: server, sessions: sessions, messages: messages, svc: svc}
}

func TestSendMessageBlankIsSilentNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.NoError(t, f.svc.SendMessage(ctx, ""))
	assert.NoError(t, f.svc.SendMessage(ctx, "   "))
	assert.NoError(t, f.svc.SendMessage(ctx, "\n\t"))

	assert.Equal(t, 0, f.backend.sendCalls, "blank input must not reach the network")
	assert.Equal(t, 0, f.backend.createCalls)
	assert.Equal(t, 0, f.messages.Len())
}

func TestSendMessageCreatesSessionLazily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.SendMessage(ctx, "  Hello  "))

	assert.Equal(t, 1, f.backend.createCalls, "exactly one createSession call")
	assert.Equal(t, 1, f.backend.sendCalls, "exactly one sendMessage call")

	active, ok := f.svc.ActiveSession()
	require.True(t, ok)
	assert.Equal(t, int64(1), active, "send must use the freshly created session id")

	all := f.messages.All()
	require.Len(t, all, 2)
	assert.True(t, all[0].FromUser)
	assert.Equal(t, "Hello", all[0].Content, "content is trimmed before sending")
	assert.False(t, all[1].FromUser)
	assert.Equal(t, "assistant says hi", all[1].Content)

	// new session is at the head of the list
	require.Equal(t, 1, f.sessions.Len())
	assert.Equal(t, int64(1), f.sessions.All()[0].SessionID)
}

func TestSendMessageWithoutAssistantReply(t *testing.T) {
	f := newFixture(t)
	f.backend.replyText = ""
	ctx := context.Background()

	require.NoError(t, f.svc.SendMessage(ctx, "Hello"))

	all := f.messages.All()
	require.Len(t, all, 1)
	assert.True(t, all[0].FromUser)
}

func TestSendMessageFailureLeavesStoresUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.SendMessage(ctx, "first"))
	before := f.messages.Len()

	// the active session disappears server-side; send now 404s
	f.backend.mu.Lock()
	delete(f.backend.sessions, 1)
	f.backend.mu.Unlock()

	err := f.svc.SendMessage(ctx, "second")
	require.Error(t, err)
	var chatErr *ChatError
	require.ErrorAs(t, err, &chatErr)
	assert.Equal(t, ErrCodeNotFound, chatErr.ErrorCode)

	assert.Equal(t, before, f.messages.Len(), "no optimistic insert, no partial update")
}

func TestSendMessageSingleFlight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.SendMessage(ctx, "first"))
	before := f.messages.Len()

	block := make(chan struct{})
	entered := make(chan struct{})
	f.backend.mu.Lock()
	f.backend.blockSend = block
	f.backend.blockSendEntered = entered
	sendsBefore := f.backend.sendCalls
	f.backend.mu.Unlock()

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- f.svc.SendMessage(ctx, "pending")
	}()
	<-entered

	// a second send while one is in flight is dropped, not queued
	require.NoError(t, f.svc.SendMessage(ctx, "dropped"))

	close(block)
	require.NoError(t, <-firstDone)

	f.backend.mu.Lock()
	sendsAfter := f.backend.sendCalls
	f.backend.mu.Unlock()
	assert.Equal(t, sendsBefore+1, sendsAfter, "exactly one send reaches the network")

	all := f.messages.All()
	require.Len(t, all, before+2, "only the pending send's pair is appended")
	for _, msg := range all {
		assert.NotEqual(t, "dropped", msg.Content)
	}
}

func TestSelectSessionStaleResponseDiscarded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.backend.addSession(1, "one")
	f.backend.addSession(2, "two")
	f.backend.mu.Lock()
	f.backend.messages[1] = []wireMessage{{ChatMessageID: 10, ChatSessionID: 1, IsUserMessage: true, Content: "from one", Timestamp: "2025-03-05T09:00:00"}}
	f.backend.messages[2] = []wireMessage{{ChatMessageID: 20, ChatSessionID: 2, IsUserMessage: true, Content: "from two", Timestamp: "2025-03-05T09:00:00"}}
	block := make(chan struct{})
	entered := make(chan struct{})
	f.backend.blockHistory[1] = block
	f.backend.blockEntered[1] = entered
	f.backend.mu.Unlock()

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- f.svc.SelectSession(ctx, 1)
	}()
	<-entered

	// supersede the blocked selection, then release it
	require.NoError(t, f.svc.SelectSession(ctx, 2))
	close(block)
	require.NoError(t, <-firstDone)

	active, ok := f.svc.ActiveSession()
	require.True(t, ok)
	assert.Equal(t, int64(2), active, "late response must not steal the active session")

	all := f.messages.All()
	require.Len(t, all, 1)
	assert.Equal(t, "from two", all[0].Content, "stale history must not overwrite the thread")
}

func TestDeleteActiveSessionClearsThread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.SendMessage(ctx, "Hello"))
	active, _ := f.svc.ActiveSession()

	require.NoError(t, f.svc.DeleteSession(ctx, active))

	_, ok := f.svc.ActiveSession()
	assert.False(t, ok, "deleting the active session returns to NoSessionSelected")
	assert.Equal(t, 0, f.messages.Len())
	assert.Equal(t, 0, f.sessions.Len())
}

func TestDeleteNonActiveSessionLeavesThreadUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.backend.addSession(5, "other")
	f.sessions.Append([]models.Session{{SessionID: 5, Title: "other"}})

	require.NoError(t, f.svc.SendMessage(ctx, "Hello"))
	before := f.messages.Len()
	require.NotZero(t, before)

	require.NoError(t, f.svc.DeleteSession(ctx, 5))

	active, ok := f.svc.ActiveSession()
	assert.True(t, ok, "active session survives deleting another one")
	assert.NotEqual(t, int64(5), active)
	assert.Equal(t, before, f.messages.Len())
}

func TestDeleteSessionMissingServerSideIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// never existed server-side: 404 counts as already deleted
	assert.NoError(t, f.svc.DeleteSession(ctx, 999))
	assert.Equal(t, 1, f.backend.deleteCalls)
}

func TestCreateSessionFailsFastWithoutIdentity(t *testing.T) {
	f := newFixture(t)
	f.svc.identity = staticIdentity{err: identity.ErrNotReady}
	ctx := context.Background()

	_, err := f.svc.CreateSession(ctx)
	require.Error(t, err)
	var chatErr *ChatError
	require.ErrorAs(t, err, &chatErr)
	assert.Equal(t, ErrCodeIdentityNotReady, chatErr.ErrorCode)
	assert.Equal(t, 0, f.backend.createCalls, "no request with an unresolved user id")

	// sendMessage goes through the same gate via lazy creation
	err = f.svc.SendMessage(ctx, "Hello")
	require.Error(t, err)
	require.ErrorAs(t, err, &chatErr)
	assert.Equal(t, ErrCodeIdentityNotReady, chatErr.ErrorCode)
	assert.Equal(t, 0, f.backend.sendCalls)
}

func TestCreateSessionTitleUsesMaxOrdinal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// empty list falls back to count-based naming
	first, err := f.svc.CreateSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "New Session 1", first.Title)

	// afterwards the highest known session id + 1 wins
	second, err := f.svc.CreateSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "New Session "+strconv.FormatInt(first.SessionID+1, 10), second.Title)
}

func TestLoadMoreSessionsPaginatesThroughBackend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.backend.mu.Lock()
	f.backend.pages = [][]wireSession{
		{{ChatSessionID: 1, Title: "a", CreatedDate: "2025-03-05T09:00:00"}, {ChatSessionID: 2, Title: "b", CreatedDate: "2025-03-05T09:00:00"}},
		{{ChatSessionID: 3, Title: "c", CreatedDate: "2025-03-05T09:00:00"}},
	}
	f.backend.mu.Unlock()

	require.NoError(t, f.svc.LoadMoreSessions(ctx))
	assert.Equal(t, 2, f.sessions.Len())

	require.NoError(t, f.svc.LoadMoreSessions(ctx))
	assert.Equal(t, 3, f.sessions.Len())

	require.NoError(t, f.svc.LoadMoreSessions(ctx))
	assert.False(t, f.svc.Pager().HasMore())

	calls := f.backend.listCalls
	require.NoError(t, f.svc.LoadMoreSessions(ctx))
	assert.Equal(t, calls, f.backend.listCalls, "exhausted list must not refetch")
}

func TestRefreshSessionsSwapsInFirstPage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.backend.mu.Lock()
	f.backend.pages = [][]wireSession{
		{{ChatSessionID: 1, Title: "a", CreatedDate: "2025-03-05T09:00:00"}},
		{{ChatSessionID: 2, Title: "b", CreatedDate: "2025-03-05T09:00:00"}},
	}
	f.backend.mu.Unlock()

	require.NoError(t, f.svc.LoadMoreSessions(ctx))
	require.NoError(t, f.svc.LoadMoreSessions(ctx))
	require.Equal(t, 2, f.sessions.Len())

	// server-side content changed; refresh restarts from the top
	f.backend.mu.Lock()
	f.backend.pages = [][]wireSession{
		{{ChatSessionID: 3, Title: "c", CreatedDate: "2025-03-06T09:00:00"}},
	}
	f.backend.mu.Unlock()

	require.NoError(t, f.svc.RefreshSessions(ctx))

	all := f.sessions.All()
	require.Len(t, all, 1)
	assert.Equal(t, int64(3), all[0].SessionID)
	assert.Equal(t, 2, f.svc.Pager().PageNumber())
	assert.True(t, f.svc.Pager().HasMore())
}

func TestRefreshSessionsKeepsListOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.backend.mu.Lock()
	f.backend.pages = [][]wireSession{
		{{ChatSessionID: 1, Title: "a", CreatedDate: "2025-03-05T09:00:00"}},
	}
	f.backend.mu.Unlock()

	require.NoError(t, f.svc.LoadMoreSessions(ctx))
	require.Equal(t, 1, f.sessions.Len())
	pageBefore := f.svc.Pager().PageNumber()

	f.backend.mu.Lock()
	f.backend.listFail = true
	f.backend.mu.Unlock()

	err := f.svc.RefreshSessions(ctx)
	require.Error(t, err)
	var chatErr *ChatError
	require.ErrorAs(t, err, &chatErr)

	assert.Equal(t, 1, f.sessions.Len(), "failed refresh must not drop the loaded list")
	assert.Equal(t, pageBefore, f.svc.Pager().PageNumber())
}

func TestRoundTripSelectAwayAndBackReproducesHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.backend.addSession(100, "other")

	created, err := f.svc.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, f.svc.SendMessage(ctx, "x"))

	want := f.messages.All()
	require.Len(t, want, 2)

	require.NoError(t, f.svc.SelectSession(ctx, 100))
	assert.Equal(t, 0, f.messages.Len())

	require.NoError(t, f.svc.SelectSession(ctx, created.SessionID))
	got := f.messages.All()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].MessageID, got[i].MessageID)
		assert.Equal(t, want[i].Content, got[i].Content)
		assert.Equal(t, want[i].FromUser, got[i].FromUser)
	}
}

func TestDeselectClearsThread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.SendMessage(ctx, "Hello"))
	require.NotZero(t, f.messages.Len())

	f.svc.Deselect()

	_, ok := f.svc.ActiveSession()
	assert.False(t, ok)
	assert.Equal(t, 0, f.messages.Len())
}
