package services

import (
	"strings"

	"roomsync/domain"
	"roomsync/errors"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type CreateRoomCommand struct {
	Title     string `validate:"required,max=200"`
	CreatorID string `validate:"required"`
}

type RenameRoomCommand struct {
	ChatID  string `validate:"required"`
	ActorID string `validate:"required"`
	Title   string `validate:"required,max=200"`
}

// AppendCommand carries a message to append. Text or File must be set.
// IdempotencyKey is optional: a retry carrying the same key returns the
// message written by the first attempt.
type AppendCommand struct {
	ChatID         string `validate:"required,excludesall=:"`
	AuthorID       string `validate:"required,excludesall=:"`
	Text           string `validate:"required_without=File,max=4000"`
	File           *domain.FileRef
	IdempotencyKey string `validate:"max=128"`
}

func (c CreateRoomCommand) normalize() CreateRoomCommand {
	c.Title = strings.TrimSpace(c.Title)
	return c
}

func (c RenameRoomCommand) normalize() RenameRoomCommand {
	c.Title = strings.TrimSpace(c.Title)
	return c
}

func (c AppendCommand) normalize() AppendCommand {
	c.Text = strings.TrimSpace(c.Text)
	return c
}

// check validates a command and maps failures to the validation error kind.
func check(cmd any) error {
	if err := validate.Struct(cmd); err != nil {
		return errors.Validation("%v", err)
	}
	return nil
}
