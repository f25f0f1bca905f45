package services

import (
	"context"
	"log/slog"
	"time"

	"roomsync/contract"
	"roomsync/domain"
	"roomsync/errors"
	"roomsync/repositories"
	"roomsync/runtime"

	"github.com/google/uuid"
)

type Clock interface {
	Now() time.Time
}

type IDirectory interface {
	CreateRoom(ctx context.Context, cmd CreateRoomCommand) (domain.ChatRoom, error)
	ListRooms(ctx context.Context) ([]domain.ChatRoom, error)
	WatchRooms(ctx context.Context, observerID string, observer contract.Observer) (*runtime.Subscription, error)
	GetRoom(ctx context.Context, chatID string) (domain.ChatRoom, error)
	RenameRoom(ctx context.Context, cmd RenameRoomCommand) (domain.ChatRoom, error)
	DeleteRoom(ctx context.Context, chatID, actorID string) error
}

// Directory is the room catalogue.
type Directory struct {
	chats  repositories.IChatRepository
	clock  Clock
	engine *runtime.Engine
	log    *slog.Logger
}

func NewDirectory(chats repositories.IChatRepository, clock Clock, engine *runtime.Engine, log *slog.Logger) *Directory {
	return &Directory{chats: chats, clock: clock, engine: engine, log: log}
}

func (d *Directory) CreateRoom(ctx context.Context, cmd CreateRoomCommand) (domain.ChatRoom, error) {
	cmd = cmd.normalize()
	if err := check(cmd); err != nil {
		return domain.ChatRoom{}, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return domain.ChatRoom{}, errors.Transient(err)
	}
	now := d.clock.Now()
	room := domain.ChatRoom{
		ID:            id.String(),
		Title:         cmd.Title,
		CreatedAt:     now,
		CreatedBy:     cmd.CreatorID,
		LastMessageAt: now,
	}
	if err = d.chats.Insert(ctx, room); err != nil {
		return domain.ChatRoom{}, err
	}
	d.log.Info("Room created", "chat_id", room.ID, "created_by", room.CreatedBy)
	return room, nil
}

// ListRooms returns the rooms most recently active first.
func (d *Directory) ListRooms(ctx context.Context) ([]domain.ChatRoom, error) {
	return d.chats.List(ctx)
}

// WatchRooms is the live counterpart of ListRooms: the observer gets the
// directory snapshot, then every room created, updated or deleted.
func (d *Directory) WatchRooms(ctx context.Context, observerID string, observer contract.Observer) (*runtime.Subscription, error) {
	return d.engine.Subscribe(ctx, observerID, domain.DirectoryTarget(), observer)
}

func (d *Directory) GetRoom(ctx context.Context, chatID string) (domain.ChatRoom, error) {
	return d.chats.Get(ctx, chatID)
}

// RenameRoom changes the title. Only the creator may rename.
func (d *Directory) RenameRoom(ctx context.Context, cmd RenameRoomCommand) (domain.ChatRoom, error) {
	cmd = cmd.normalize()
	if err := check(cmd); err != nil {
		return domain.ChatRoom{}, err
	}
	return d.chats.Update(ctx, cmd.ChatID, "rename_room", func(room *domain.ChatRoom) error {
		if room.CreatedBy != cmd.ActorID {
			return errors.Permission("only the creator may rename room %s", room.ID)
		}
		room.Title = cmd.Title
		return nil
	})
}

// DeleteRoom removes a room, then its messages.
// The room disappears atomically; message cleanup runs right away and, if it
// is interrupted, is finished later by the janitor. Readers of a deleted room
// see an empty log meanwhile.
func (d *Directory) DeleteRoom(ctx context.Context, chatID, actorID string) error {
	err := d.chats.Delete(ctx, chatID, func(room domain.ChatRoom) error {
		if room.CreatedBy != actorID {
			return errors.Permission("only the creator may delete room %s", room.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	d.log.Info("Room deleted", "chat_id", chatID, "actor_id", actorID)

	if _, err = d.chats.PurgeMessages(ctx, chatID); err != nil {
		d.log.Warn("Room cleanup incomplete, left to the janitor", "chat_id", chatID, "error", err)
	}
	return nil
}
