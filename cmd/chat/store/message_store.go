package store

import (
	"sync"

	"nutriwise/models"
)

// MessageStore holds the message thread of the currently active session.
// Switching sessions replaces the whole thread atomically; there is no
// partial or interleaved state visible to the UI.
type MessageStore struct {
	mu       sync.RWMutex
	messages []models.Message
}

func NewMessageStore() *MessageStore {
	return &MessageStore{}
}

// ReplaceAll swaps in the full history of a newly selected session.
func (m *MessageStore) ReplaceAll(messages []models.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = make([]models.Message, len(messages))
	copy(m.messages, messages)
}

// AppendPair appends the confirmed user message and, if the server
// returned one, the assistant reply. Both come from a single send
// response; the user message always lands first.
func (m *MessageStore) AppendPair(userMsg models.Message, assistantMsg *models.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, userMsg)
	if assistantMsg != nil {
		m.messages = append(m.messages, *assistantMsg)
	}
}

// Clear drops the thread. Called on deselection and on deletion of the
// active session.
func (m *MessageStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
}

// All returns a copy of the thread in chronological order.
func (m *MessageStore) All() []models.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

func (m *MessageStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages)
}
