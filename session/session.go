// Package session binds a verified user to what it observes: its
// subscriptions and its notification state live and die with the session.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"roomsync/attachment"
	"roomsync/contract"
	"roomsync/domain"
	"roomsync/identity"
	"roomsync/mention"
	"roomsync/notification"
	"roomsync/projection"
	"roomsync/runtime"
	"roomsync/services"

	"github.com/google/uuid"
)

var ErrClosed = fmt.Errorf("session closed")

// UserDirectory is a user directory that also records what verified tokens
// say about their users.
type UserDirectory interface {
	contract.UserDirectory
	Learn(p identity.Principal)
}

type Manager struct {
	verifier   *identity.Verifier
	users      UserDirectory
	directory  services.IDirectory
	messageLog services.IMessageLog
	attacher   *attachment.Attacher
	sink       contract.NotificationSink
	log        *slog.Logger
}

func NewManager(verifier *identity.Verifier, users UserDirectory, directory services.IDirectory,
	messageLog services.IMessageLog, attacher *attachment.Attacher, sink contract.NotificationSink,
	log *slog.Logger) *Manager {
	return &Manager{
		verifier:   verifier,
		users:      users,
		directory:  directory,
		messageLog: messageLog,
		attacher:   attacher,
		sink:       sink,
		log:        log,
	}
}

// Open verifies token and starts a session for its user.
func (m *Manager) Open(_ context.Context, token string) (*Session, error) {
	principal, err := m.verifier.Verify(token)
	if err != nil {
		return nil, err
	}
	m.users.Learn(principal)
	id := uuid.NewString()
	m.log.Debug("Session opened", "session_id", id, "user_id", principal.UserID)
	return &Session{
		ID:        id,
		Principal: principal,
		manager:   m,
		notify:    notification.NewSession(principal.UserID),
		subs:      make(map[domain.Target]*runtime.Subscription),
		log:       m.log.With("session_id", id, "user_id", principal.UserID),
	}, nil
}

type Session struct {
	ID        string
	Principal identity.Principal

	manager *Manager
	log     *slog.Logger

	mu     sync.Mutex
	notify *notification.Session
	subs   map[domain.Target]*runtime.Subscription
	closed bool
}

// WatchRooms keeps the returned list in line with the room directory.
func (s *Session) WatchRooms(ctx context.Context) (*projection.RoomList, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rooms := projection.NewRoomList()
	sub, err := s.manager.directory.WatchRooms(ctx, s.ID, rooms)
	if err != nil {
		return nil, err
	}
	return rooms, s.track(sub)
}

// OpenRoom keeps the returned timeline in line with the room, alerting on
// messages from other users as they arrive.
func (s *Session) OpenRoom(ctx context.Context, chatID string) (*projection.Timeline, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	room, err := s.manager.directory.GetRoom(ctx, chatID)
	if err != nil {
		return nil, err
	}
	timeline := projection.NewTimeline(s.Principal.UserID)
	s.mu.Lock()
	state := s.notify
	s.mu.Unlock()
	if state == nil {
		return nil, ErrClosed
	}
	obs := notification.NewObserver(timeline, state, s.manager.sink, s.manager.users, room.Title, s.log)
	sub, err := s.manager.messageLog.Watch(ctx, s.ID, chatID, obs)
	if err != nil {
		return nil, err
	}
	return timeline, s.track(sub)
}

func (s *Session) CloseRoom(chatID string) {
	s.untrack(domain.RoomTarget(chatID))
}

func (s *Session) CloseRooms() {
	s.untrack(domain.DirectoryTarget())
}

func (s *Session) CreateRoom(ctx context.Context, title string) (domain.ChatRoom, error) {
	if err := s.checkOpen(); err != nil {
		return domain.ChatRoom{}, err
	}
	return s.manager.directory.CreateRoom(ctx, services.CreateRoomCommand{Title: title, CreatorID: s.Principal.UserID})
}

func (s *Session) DeleteRoom(ctx context.Context, chatID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.manager.directory.DeleteRoom(ctx, chatID, s.Principal.UserID)
}

// Send appends a text message. A non-empty idempotencyKey makes retries safe.
func (s *Session) Send(ctx context.Context, chatID, text, idempotencyKey string) (domain.Message, error) {
	if err := s.checkOpen(); err != nil {
		return domain.Message{}, err
	}
	return s.manager.messageLog.Append(ctx, services.AppendCommand{
		ChatID:         chatID,
		AuthorID:       s.Principal.UserID,
		Text:           text,
		IdempotencyKey: idempotencyKey,
	})
}

// SendFile uploads data to the blob store and appends a message referencing it.
func (s *Session) SendFile(ctx context.Context, chatID, name string, data []byte) (domain.Message, error) {
	if err := s.checkOpen(); err != nil {
		return domain.Message{}, err
	}
	if _, err := s.manager.directory.GetRoom(ctx, chatID); err != nil {
		return domain.Message{}, err
	}
	ref, err := s.manager.attacher.Attach(ctx, chatID, name, data)
	if err != nil {
		return domain.Message{}, err
	}
	return s.manager.messageLog.Append(ctx, services.AppendCommand{
		ChatID:   chatID,
		AuthorID: s.Principal.UserID,
		File:     &ref,
	})
}

func (s *Session) Delete(ctx context.Context, messageID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.manager.messageLog.Delete(ctx, messageID, s.Principal.UserID)
}

// Mention returns draft with a mention of userID appended.
func (s *Session) Mention(draft, userID string) string {
	return mention.InsertMention(draft, mention.ResolveMention(userID, s.manager.users))
}

// Close ends every subscription of the session, then drops its notification state.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	s.notify = nil
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	s.log.Debug("Session closed", "subscriptions", len(subs))
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// track records sub, which the engine already substituted for any previous
// subscription of the session on the same target.
func (s *Session) track(sub *runtime.Subscription) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.Close()
		return ErrClosed
	}
	s.subs[sub.Target()] = sub
	s.mu.Unlock()
	return nil
}

func (s *Session) untrack(target domain.Target) {
	s.mu.Lock()
	sub, ok := s.subs[target]
	delete(s.subs, target)
	s.mu.Unlock()
	if ok {
		sub.Close()
	}
}

func (s *Session) Subscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
