package notification

import (
	"context"
	"fmt"
	"log/slog"

	"roomsync/contract"
	"roomsync/domain"
	"roomsync/mention"
	"roomsync/observability"
)

// Observer forwards every batch of a room subscription to the wrapped
// observer, then alerts on the last message added by a live batch.
// Initial batches only replay history and never alert.
type Observer struct {
	next      contract.Observer
	session   *Session
	dedup     Deduplicator
	sink      contract.NotificationSink
	directory contract.UserDirectory
	title     string
	log       *slog.Logger
}

func NewObserver(next contract.Observer, session *Session, sink contract.NotificationSink,
	directory contract.UserDirectory, title string, log *slog.Logger) *Observer {
	return &Observer{
		next:      next,
		session:   session,
		sink:      sink,
		directory: directory,
		title:     title,
		log:       log,
	}
}

func (o *Observer) Deliver(ctx context.Context, batch domain.Batch) error {
	if err := o.next.Deliver(ctx, batch); err != nil {
		return err
	}
	if batch.Initial {
		return nil
	}
	message, ok := batch.LastAddedMessage()
	if !ok || !o.dedup.ShouldNotify(o.session, message) {
		return nil
	}
	if err := o.sink.Notify(ctx, o.title, o.body(message)); err != nil {
		o.log.Warn("Notification not delivered", "chat_id", message.ChatID, "message_id", message.ID, "error", err)
		return nil
	}
	observability.NotificationsSent.Inc()
	return nil
}

func (o *Observer) Closed(err error) {
	o.next.Closed(err)
}

func (o *Observer) body(message domain.Message) string {
	author := mention.ResolveMention(message.AuthorID, o.directory)
	switch {
	case message.Text != "":
		return fmt.Sprintf("%s: %s", author, message.Text)
	case message.File != nil:
		return fmt.Sprintf("%s sent %s", author, message.File.Name)
	}
	return author
}
