// Package search keeps a full-text index of room messages, fed by the store
// change feed.
package search

import (
	"context"
	"fmt"
	"log/slog"

	"roomsync/domain"
	"roomsync/errors"

	"github.com/abadojack/whatlanggo"
	"github.com/blugelabs/bluge"
)

const (
	fieldText      = "text"
	fieldChatID    = "chat_id"
	fieldMessageID = "message_id"
	fieldCreated   = "created"
	fieldLang      = "lang"
)

// Index documents are keyed by the message storage key: hard deletes reported
// by the feed only carry that key.
type Index struct {
	writer *bluge.Writer
	log    *slog.Logger
}

// OpenIndex opens the index stored at path, or an in-memory one when path is empty.
func OpenIndex(path string, log *slog.Logger) (*Index, error) {
	cfg := bluge.InMemoryOnlyConfig()
	if path != "" {
		cfg = bluge.DefaultConfig(path)
	}
	writer, err := bluge.OpenWriter(cfg)
	if err != nil {
		return nil, fmt.Errorf("open search index: %w", err)
	}
	return &Index{writer: writer, log: log}, nil
}

func (i *Index) Close() error {
	return i.writer.Close()
}

// Consume applies the room changes of a feed batch in one index batch.
func (i *Index) Consume(_ context.Context, changes []domain.Change) error {
	batch := bluge.NewBatch()
	n := 0
	for _, c := range changes {
		if c.Target.Kind != domain.TargetRoom {
			continue
		}
		switch {
		case c.Kind == domain.Removed || c.Message == nil || c.Message.Deleted():
			batch.Delete(bluge.Identifier(c.Key))
		default:
			batch.Update(bluge.Identifier(c.Key), toDocument(c.Key, *c.Message))
		}
		n++
	}
	if n == 0 {
		return nil
	}
	if err := i.writer.Batch(batch); err != nil {
		return fmt.Errorf("index %d changes: %w", n, err)
	}
	return nil
}

func toDocument(key string, m domain.Message) *bluge.Document {
	text := m.Text
	if m.File != nil {
		text = fmt.Sprintf("%s %s", text, m.File.Name)
	}
	doc := bluge.NewDocument(key).
		AddField(bluge.NewTextField(fieldText, text)).
		AddField(bluge.NewKeywordField(fieldChatID, m.ChatID)).
		AddField(bluge.NewKeywordField(fieldMessageID, m.ID).StoreValue()).
		AddField(bluge.NewDateTimeField(fieldCreated, m.CreatedAt))
	if info := whatlanggo.Detect(m.Text); info.IsReliable() {
		doc.AddField(bluge.NewKeywordField(fieldLang, info.Lang.Iso6391()).StoreValue())
	}
	return doc
}

// Search returns the ids of the messages of chatID matching query, best first.
func (i *Index) Search(ctx context.Context, chatID, query string, limit int) ([]string, error) {
	return i.SearchLang(ctx, chatID, query, "", limit)
}

// SearchLang is Search restricted to messages detected as written in lang
// (ISO 639-1). An empty lang does not filter.
func (i *Index) SearchLang(ctx context.Context, chatID, query, lang string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, errors.Validation("search limit must be positive")
	}
	q := bluge.NewBooleanQuery().
		AddMust(bluge.NewMatchQuery(query).SetField(fieldText)).
		AddMust(bluge.NewTermQuery(chatID).SetField(fieldChatID))
	if lang != "" {
		q.AddMust(bluge.NewTermQuery(lang).SetField(fieldLang))
	}

	reader, err := i.writer.Reader()
	if err != nil {
		return nil, errors.Transient(err)
	}
	defer func() { _ = reader.Close() }()

	matches, err := reader.Search(ctx, bluge.NewTopNSearch(limit, q))
	if err != nil {
		return nil, errors.Transient(err)
	}
	var ids []string
	match, err := matches.Next()
	for err == nil && match != nil {
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			if field == fieldMessageID {
				ids = append(ids, string(value))
				return false
			}
			return true
		})
		if err == nil {
			match, err = matches.Next()
		}
	}
	if err != nil {
		return nil, errors.Transient(err)
	}
	i.log.Debug("Search done", "chat_id", chatID, "hits", len(ids))
	return ids, nil
}
