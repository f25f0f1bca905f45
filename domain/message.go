// Package domain contains core concepts of the chat system.
// This file defines Message events and related rules.
// Messages are immutable once appended, except for the author's tombstone.
package domain

import (
	"strings"
	"time"
)

// FileRef points at a blob held by the external blob store.
// Only the locator and display metadata are kept, never the bytes.
type FileRef struct {
	URL         string `validate:"required"`
	Name        string `validate:"required"`
	ContentType string
	Size        int64 `validate:"gte=0"`
}

// Message represents an immutable chat event.
type Message struct {
	ID        string
	ChatID    string
	AuthorID  string
	CreatedAt time.Time
	Seq       uint64 // store write sequence, breaks CreatedAt ties
	Text      string
	File      *FileRef
	DeletedAt *time.Time
}

func (m Message) Deleted() bool {
	return m.DeletedAt != nil
}

func (m Message) HasContent() bool {
	return strings.TrimSpace(m.Text) != "" || m.File != nil
}
