// Package domain contains core concepts of the chat system.
// This file defines chat rooms and their denormalized aggregates.
package domain

import "time"

// ChatRoom is a directory entry. MessageCount and LastMessageAt are
// derived from the message log and only ever written by the aggregate maintainer.
type ChatRoom struct {
	ID            string
	Title         string
	CreatedAt     time.Time
	CreatedBy     string
	LastMessageAt time.Time
	MessageCount  int64
}

// Before reports whether r is listed ahead of other: most recently active
// first, then newest first.
// The id breaks remaining ties so listings are deterministic.
func (r ChatRoom) Before(other ChatRoom) bool {
	if !r.LastMessageAt.Equal(other.LastMessageAt) {
		return r.LastMessageAt.After(other.LastMessageAt)
	}
	if !r.CreatedAt.Equal(other.CreatedAt) {
		return r.CreatedAt.After(other.CreatedAt)
	}
	return r.ID > other.ID
}
