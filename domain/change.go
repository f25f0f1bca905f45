package domain

import "fmt"

type TargetKind int

const (
	TargetDirectory TargetKind = iota
	TargetRoom
)

// Target is what a subscription watches: the room directory or one room's log.
type Target struct {
	Kind   TargetKind
	ChatID string
}

func DirectoryTarget() Target {
	return Target{Kind: TargetDirectory}
}

func RoomTarget(chatID string) Target {
	return Target{Kind: TargetRoom, ChatID: chatID}
}

func (t Target) String() string {
	if t.Kind == TargetDirectory {
		return "directory"
	}
	return fmt.Sprintf("room:%s", t.ChatID)
}

type ChangeKind int

const (
	Added ChangeKind = iota
	Modified
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	default:
		return "removed"
	}
}

// Change is one document delta as reported by the store.
// Key is the document's storage key, which is also its ordering key inside a room.
// Version is the store commit version, monotonically increasing across the feed.
// Room or Message is nil when the document was hard-deleted.
type Change struct {
	Target  Target
	Kind    ChangeKind
	Key     string
	Version uint64
	Room    *ChatRoom
	Message *Message
}

// Batch is what an observer receives in one callback.
// Initial marks the snapshot delivered when a subscription (re)enters Active,
// as opposed to live increments.
type Batch struct {
	Target  Target
	Initial bool
	Changes []Change
}

// LastAddedMessage returns the last message added by this batch, if any.
func (b Batch) LastAddedMessage() (Message, bool) {
	for i := len(b.Changes) - 1; i >= 0; i-- {
		c := b.Changes[i]
		if c.Kind == Added && c.Message != nil {
			return *c.Message, true
		}
	}
	return Message{}, false
}
