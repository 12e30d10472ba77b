package models

import "time"

// Session represents one conversation thread between the user and the
// assistant. The backend owns the identifier and both timestamps; the
// client never mutates a session except through server-confirmed calls.
type Session struct {
	SessionID     int64     `json:"session_id"`
	Title         string    `json:"title"`
	CreatedAt     time.Time `json:"created_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// Message is a single chat message inside a session.
// FromUser discriminates user input from assistant replies.
type Message struct {
	MessageID int64     `json:"message_id"`
	SessionID int64     `json:"session_id"`
	Content   string    `json:"content"`
	SentAt    time.Time `json:"sent_at"`
	FromUser  bool      `json:"from_user"`
}
