package tui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"nutriwise/cmd/chat/identity"
	"nutriwise/cmd/chat/services"
	"nutriwise/cmd/chat/store"
	"nutriwise/cmd/chat/trace"
	"nutriwise/models"
)

const opTimeout = 45 * time.Second

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	footerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("160"))
	noticeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("70"))
	confirmStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	userMsgStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("36"))
	aiMsgStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
)

type viewState int

const (
	viewSessions viewState = iota
	viewThread
)

type (
	identityReadyMsg  struct{ err error }
	sessionsLoadedMsg struct{ err error }
	historyLoadedMsg  struct {
		sessionID int64
		err       error
	}
	sessionCreatedMsg struct {
		session models.Session
		err     error
	}
	messageSentMsg   struct{ err error }
	sessionDeletedMsg struct {
		sessionID int64
		err       error
	}
)

// Model is the bubbletea model for the chat screens: the session list and
// the message thread. It observes the two stores and calls the service;
// it never talks to the backend directly.
type Model struct {
	svc      *services.ChatService
	sessions *store.SessionStore
	messages *store.MessageStore
	resolver *identity.Resolver

	state    viewState
	list     list.Model
	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model
	keys     keyMap
	help     help.Model

	width  int
	height int

	busy          bool
	sendPending   bool
	confirmDelete int64 // session id awaiting yes/no, 0 when no prompt is open
	notice        string
	errNotice     string
}

func New(svc *services.ChatService, sessions *store.SessionStore, messages *store.MessageStore, resolver *identity.Resolver) Model {
	delegate := list.NewDefaultDelegate()
	l := list.New(nil, delegate, 0, 0)
	l.Title = "Nutriwise Chat"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)

	input := textinput.New()
	input.Placeholder = "Type your message..."
	input.CharLimit = 2000

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		svc:      svc,
		sessions: sessions,
		messages: messages,
		resolver: resolver,
		list:     l,
		viewport: viewport.New(0, 0),
		input:    input,
		spinner:  sp,
		keys:     newKeyMap(),
		help:     help.New(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitIdentityCmd())
}

// -------------------- Commands --------------------

func opContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	return trace.NewOperation(ctx), cancel
}

func (m Model) waitIdentityCmd() tea.Cmd {
	resolver := m.resolver
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		return identityReadyMsg{err: resolver.WaitReady(ctx)}
	}
}

func (m Model) loadSessionsCmd() tea.Cmd {
	svc := m.svc
	return func() tea.Msg {
		ctx, cancel := opContext()
		defer cancel()
		return sessionsLoadedMsg{err: svc.LoadMoreSessions(ctx)}
	}
}

func (m Model) refreshSessionsCmd() tea.Cmd {
	svc := m.svc
	return func() tea.Msg {
		ctx, cancel := opContext()
		defer cancel()
		return sessionsLoadedMsg{err: svc.RefreshSessions(ctx)}
	}
}

func (m Model) selectSessionCmd(sessionID int64) tea.Cmd {
	svc := m.svc
	return func() tea.Msg {
		ctx, cancel := opContext()
		defer cancel()
		return historyLoadedMsg{sessionID: sessionID, err: svc.SelectSession(ctx, sessionID)}
	}
}

func (m Model) createSessionCmd() tea.Cmd {
	svc := m.svc
	return func() tea.Msg {
		ctx, cancel := opContext()
		defer cancel()
		session, err := svc.CreateSession(ctx)
		return sessionCreatedMsg{session: session, err: err}
	}
}

func (m Model) sendMessageCmd(text string) tea.Cmd {
	svc := m.svc
	return func() tea.Msg {
		ctx, cancel := opContext()
		defer cancel()
		return messageSentMsg{err: svc.SendMessage(ctx, text)}
	}
}

func (m Model) deleteSessionCmd(sessionID int64) tea.Cmd {
	svc := m.svc
	return func() tea.Msg {
		ctx, cancel := opContext()
		defer cancel()
		return sessionDeletedMsg{sessionID: sessionID, err: svc.DeleteSession(ctx, sessionID)}
	}
}

// -------------------- Update --------------------

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.list.SetSize(msg.Width, msg.Height-4)
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - 6
		m.input.Width = msg.Width - 4
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case identityReadyMsg:
		if msg.err != nil {
			m.errNotice = "Sign-in required: " + msg.err.Error()
			return m, nil
		}
		m.busy = true
		return m, m.loadSessionsCmd()

	case sessionsLoadedMsg:
		m.busy = false
		if msg.err != nil {
			m.errNotice = "Failed to load sessions"
		}
		m.list.SetItems(sessionItems(m.sessions.All()))
		return m, nil

	case historyLoadedMsg:
		m.busy = false
		if msg.err != nil {
			m.errNotice = "Failed to load messages"
			return m, nil
		}
		if active, ok := m.svc.ActiveSession(); ok && active == msg.sessionID {
			m.state = viewThread
			m.renderThread()
			m.input.Focus()
		}
		return m, nil

	case sessionCreatedMsg:
		m.busy = false
		if msg.err != nil {
			m.errNotice = "Failed to create session. Please try again."
			return m, nil
		}
		m.list.SetItems(sessionItems(m.sessions.All()))
		m.state = viewThread
		m.renderThread()
		m.input.Focus()
		return m, nil

	case messageSentMsg:
		m.sendPending = false
		if msg.err != nil {
			// keep the input so the user can retry
			m.errNotice = "Failed to send message"
			return m, nil
		}
		m.input.SetValue("")
		m.renderThread()
		return m, nil

	case sessionDeletedMsg:
		m.busy = false
		if msg.err != nil {
			m.errNotice = "Failed to delete session"
			return m, nil
		}
		m.notice = "Session deleted successfully"
		m.list.SetItems(sessionItems(m.sessions.All()))
		if _, ok := m.svc.ActiveSession(); !ok {
			m.state = viewSessions
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.errNotice = ""
	m.notice = ""

	if key.Matches(msg, m.keys.Quit) && m.state == viewSessions && m.confirmDelete == 0 {
		return m, tea.Quit
	}

	// yes/no gate: delete is only ever issued after an explicit "y"
	if m.confirmDelete != 0 {
		switch msg.String() {
		case "y", "Y":
			id := m.confirmDelete
			m.confirmDelete = 0
			m.busy = true
			return m, m.deleteSessionCmd(id)
		case "n", "N", "esc":
			m.confirmDelete = 0
		}
		return m, nil
	}

	switch m.state {
	case viewSessions:
		return m.handleSessionsKey(msg)
	case viewThread:
		return m.handleThreadKey(msg)
	}
	return m, nil
}

func (m Model) handleSessionsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Select):
		if item, ok := m.list.SelectedItem().(sessionItem); ok {
			m.busy = true
			return m, m.selectSessionCmd(item.session.SessionID)
		}
		return m, nil

	case key.Matches(msg, m.keys.New):
		m.busy = true
		return m, m.createSessionCmd()

	case key.Matches(msg, m.keys.Delete):
		if item, ok := m.list.SelectedItem().(sessionItem); ok {
			m.confirmDelete = item.session.SessionID
		}
		return m, nil

	case key.Matches(msg, m.keys.Refresh):
		m.busy = true
		return m, m.refreshSessionsCmd()
	}

	atEnd := m.list.Index() == len(m.list.Items())-1
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)

	// reaching the end of the list loads the next page, like
	// onEndReached on the mobile list view
	if atEnd && msg.String() == "down" && m.svc.Pager().HasMore() {
		return m, tea.Batch(cmd, m.loadSessionsCmd())
	}
	return m, cmd
}

func (m Model) handleThreadKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Back):
		m.svc.Deselect()
		m.state = viewSessions
		m.input.Blur()
		m.input.SetValue("")
		return m, nil

	case key.Matches(msg, m.keys.Send):
		if strings.TrimSpace(m.input.Value()) == "" {
			return m, nil
		}
		if m.sendPending {
			return m, nil
		}
		m.sendPending = true
		return m, m.sendMessageCmd(m.input.Value())
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// -------------------- View --------------------

func (m *Model) renderThread() {
	var b strings.Builder
	for _, msg := range m.messages.All() {
		if msg.FromUser {
			b.WriteString(userMsgStyle.Render("You: ") + msg.Content)
		} else {
			b.WriteString(aiMsgStyle.Render("Nutriwise: ") + msg.Content)
		}
		b.WriteString("\n\n")
	}
	if b.Len() == 0 {
		b.WriteString(dimStyle.Render("No messages yet. Say hi!"))
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func (m Model) View() string {
	var b strings.Builder

	switch m.state {
	case viewSessions:
		if len(m.list.Items()) == 0 && !m.busy {
			b.WriteString(headerStyle.Render("Nutriwise Chat") + "\n\n")
			b.WriteString(dimStyle.Render("No sessions available") + "\n")
		} else {
			b.WriteString(m.list.View() + "\n")
		}
	case viewThread:
		b.WriteString(headerStyle.Render("Chat") + "\n")
		b.WriteString(m.viewport.View() + "\n")
		b.WriteString(m.input.View() + "\n")
	}

	if m.confirmDelete != 0 {
		b.WriteString(confirmStyle.Render("Are you sure you want to delete this session? (y/n)") + "\n")
	}
	if m.busy || m.sendPending {
		b.WriteString(m.spinner.View() + dimStyle.Render(" loading...") + "\n")
	}
	if m.errNotice != "" {
		b.WriteString(errStyle.Render(m.errNotice) + "\n")
	}
	if m.notice != "" {
		b.WriteString(noticeStyle.Render(m.notice) + "\n")
	}
	b.WriteString(footerStyle.Render(m.help.View(m.keys)))

	return b.String()
}
