// Package attachment stores file payloads in the blob store and describes them
// as references a message can carry.
package attachment

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"roomsync/contract"
	"roomsync/domain"
	"roomsync/errors"

	"github.com/gabriel-vasile/mimetype"
	"github.com/oklog/ulid/v2"
)

const DefaultMaxSize = 25 << 20

type Attacher struct {
	store   contract.BlobStore
	maxSize int64
	log     *slog.Logger
}

func NewAttacher(store contract.BlobStore, maxSize int64, log *slog.Logger) *Attacher {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Attacher{store: store, maxSize: maxSize, log: log}
}

// Attach uploads data under a fresh path of the room and returns its reference.
// The content type is sniffed from the bytes, the name is only displayed.
func (a *Attacher) Attach(ctx context.Context, chatID, name string, data []byte) (domain.FileRef, error) {
	name = strings.TrimSpace(filepath.Base(filepath.Clean("/" + name)))
	switch {
	case name == "" || name == "/" || name == ".":
		return domain.FileRef{}, errors.Validation("file name is required")
	case len(data) == 0:
		return domain.FileRef{}, errors.Validation("file %s is empty", name)
	case int64(len(data)) > a.maxSize:
		return domain.FileRef{}, errors.Validation("file %s exceeds %d bytes", name, a.maxSize)
	}

	contentType := mimetype.Detect(data).String()
	blobPath := path.Join(chatID, ulid.Make().String(), name)
	url, err := a.store.Put(ctx, blobPath, data)
	if err != nil {
		return domain.FileRef{}, errors.Transient(fmt.Errorf("put blob %s: %w", blobPath, err))
	}
	a.log.Debug("Attachment stored", "chat_id", chatID, "path", blobPath, "content_type", contentType)
	return domain.FileRef{
		URL:         url,
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
	}, nil
}
