package repositories

import (
	"fmt"
	"time"

	"roomsync/domain"

	"google.golang.org/protobuf/encoding/protowire"
)

// Documents are stored in protobuf wire format. Field numbers are part of the
// on-disk format: never renumber, only add.
const (
	roomID            protowire.Number = 1
	roomTitle         protowire.Number = 2
	roomCreatedAt     protowire.Number = 3
	roomCreatedBy     protowire.Number = 4
	roomLastMessageAt protowire.Number = 5
	roomMessageCount  protowire.Number = 6
)

const (
	msgID        protowire.Number = 1
	msgChatID    protowire.Number = 2
	msgAuthorID  protowire.Number = 3
	msgCreatedAt protowire.Number = 4
	msgSeq       protowire.Number = 5
	msgText      protowire.Number = 6
	msgFile      protowire.Number = 7
	msgDeletedAt protowire.Number = 8
)

const (
	fileURL         protowire.Number = 1
	fileName        protowire.Number = 2
	fileContentType protowire.Number = 3
	fileSize        protowire.Number = 4
)

func MarshalRoom(room domain.ChatRoom) []byte {
	var b []byte
	b = appendString(b, roomID, room.ID)
	b = appendString(b, roomTitle, room.Title)
	b = appendTime(b, roomCreatedAt, room.CreatedAt)
	b = appendString(b, roomCreatedBy, room.CreatedBy)
	b = appendTime(b, roomLastMessageAt, room.LastMessageAt)
	b = appendVarint(b, roomMessageCount, uint64(room.MessageCount))
	return b
}

func UnmarshalRoom(b []byte) (domain.ChatRoom, error) {
	var room domain.ChatRoom
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == roomID && typ == protowire.BytesType:
			return consumeString(b, &room.ID)
		case num == roomTitle && typ == protowire.BytesType:
			return consumeString(b, &room.Title)
		case num == roomCreatedAt && typ == protowire.VarintType:
			return consumeTime(b, &room.CreatedAt)
		case num == roomCreatedBy && typ == protowire.BytesType:
			return consumeString(b, &room.CreatedBy)
		case num == roomLastMessageAt && typ == protowire.VarintType:
			return consumeTime(b, &room.LastMessageAt)
		case num == roomMessageCount && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			room.MessageCount = int64(v)
			return n
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
	if err != nil {
		return domain.ChatRoom{}, fmt.Errorf("decode room: %w", err)
	}
	return room, nil
}

func MarshalMessage(m domain.Message) []byte {
	var b []byte
	b = appendString(b, msgID, m.ID)
	b = appendString(b, msgChatID, m.ChatID)
	b = appendString(b, msgAuthorID, m.AuthorID)
	b = appendTime(b, msgCreatedAt, m.CreatedAt)
	b = appendVarint(b, msgSeq, m.Seq)
	b = appendString(b, msgText, m.Text)
	if m.File != nil {
		var f []byte
		f = appendString(f, fileURL, m.File.URL)
		f = appendString(f, fileName, m.File.Name)
		f = appendString(f, fileContentType, m.File.ContentType)
		f = appendVarint(f, fileSize, uint64(m.File.Size))
		b = protowire.AppendTag(b, msgFile, protowire.BytesType)
		b = protowire.AppendBytes(b, f)
	}
	if m.DeletedAt != nil {
		b = appendTime(b, msgDeletedAt, *m.DeletedAt)
	}
	return b
}

func UnmarshalMessage(b []byte) (domain.Message, error) {
	var m domain.Message
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == msgID && typ == protowire.BytesType:
			return consumeString(b, &m.ID)
		case num == msgChatID && typ == protowire.BytesType:
			return consumeString(b, &m.ChatID)
		case num == msgAuthorID && typ == protowire.BytesType:
			return consumeString(b, &m.AuthorID)
		case num == msgCreatedAt && typ == protowire.VarintType:
			return consumeTime(b, &m.CreatedAt)
		case num == msgSeq && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.Seq = v
			return n
		case num == msgText && typ == protowire.BytesType:
			return consumeString(b, &m.Text)
		case num == msgFile && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n
			}
			file, err := unmarshalFile(raw)
			if err != nil {
				return -1
			}
			m.File = &file
			return n
		case num == msgDeletedAt && typ == protowire.VarintType:
			var at time.Time
			n := consumeTime(b, &at)
			m.DeletedAt = &at
			return n
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("decode message: %w", err)
	}
	return m, nil
}

func unmarshalFile(b []byte) (domain.FileRef, error) {
	var f domain.FileRef
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == fileURL && typ == protowire.BytesType:
			return consumeString(b, &f.URL)
		case num == fileName && typ == protowire.BytesType:
			return consumeString(b, &f.Name)
		case num == fileContentType && typ == protowire.BytesType:
			return consumeString(b, &f.ContentType)
		case num == fileSize && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			f.Size = int64(v)
			return n
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
	return f, err
}

// consumeFields walks a wire-format buffer, handing each field value to fn.
// fn returns the number of bytes it consumed or a negative protowire error code.
func consumeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		n = fn(num, typ, b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}
	return nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendTime(b []byte, num protowire.Number, t time.Time) []byte {
	if t.IsZero() {
		return b
	}
	return appendVarint(b, num, uint64(t.UnixNano()))
}

func consumeString(b []byte, out *string) int {
	v, n := protowire.ConsumeString(b)
	if n >= 0 {
		*out = v
	}
	return n
}

func consumeTime(b []byte, out *time.Time) int {
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		*out = time.Unix(0, int64(v)).UTC()
	}
	return n
}
