package identity

import (
	"strings"
	"sync"

	"roomsync/domain"
)

// MemoryDirectory keeps user display attributes in memory.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]domain.User
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{users: make(map[string]domain.User)}
}

func (d *MemoryDirectory) Put(user domain.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[user.ID] = user
}

func (d *MemoryDirectory) Lookup(userID string) (domain.User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	user, ok := d.users[userID]
	return user, ok
}

// Learn records what a verified token tells about its user, without
// overwriting attributes the directory already has.
func (d *MemoryDirectory) Learn(p Principal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	user := d.users[p.UserID]
	user.ID = p.UserID
	if user.Email == "" {
		user.Email = p.Email
	}
	if user.FirstName == "" && user.LastName == "" && p.DisplayName != "" {
		first, last, _ := strings.Cut(strings.TrimSpace(p.DisplayName), " ")
		user.FirstName, user.LastName = first, strings.TrimSpace(last)
	}
	d.users[p.UserID] = user
}
