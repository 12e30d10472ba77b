package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"

	"nutriwise/models"
)

// sessionItem adapts a models.Session to the bubbles list.
type sessionItem struct {
	session models.Session
}

func (i sessionItem) Title() string {
	if i.session.Title != "" {
		return i.session.Title
	}
	return fmt.Sprintf("New Session %d", i.session.SessionID)
}

func (i sessionItem) Description() string {
	if i.session.CreatedAt.IsZero() {
		return "—"
	}
	return i.session.CreatedAt.Format("2006-01-02 15:04")
}

func (i sessionItem) FilterValue() string {
	return i.Title()
}

func sessionItems(sessions []models.Session) []list.Item {
	items := make([]list.Item, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, sessionItem{session: s})
	}
	return items
}
