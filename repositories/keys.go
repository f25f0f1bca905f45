package repositories

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Key layout of the document store.
//
//	chat:{chat_id}                          room document
//	msg:{chat_id}:{unix_nano_19}:{seq_20}   message document, nested under its room
//	mid:{message_id}                        message id -> message key
//	idem:{chat_id}:{author_id}:{token}      idempotency token -> message key
//	gc:{chat_id}                            room deleted, messages still to purge
//	feed:ping                               change feed handshake
//
// Zero padding keeps lexicographic order equal to (created_at, seq) order,
// so a prefix scan of a room replays its log in write order.
const (
	ChatPrefix    = "chat:"
	MessagePrefix = "msg:"
	messageIDPfx  = "mid:"
	idempotPfx    = "idem:"
	gcPrefix      = "gc:"
	feedPrefix    = "feed:"
	pingKey       = "feed:ping"
	sequenceKey   = "seq:messages"
)

func ChatKey(chatID string) []byte {
	return []byte(ChatPrefix + chatID)
}

func RoomPrefix(chatID string) []byte {
	return []byte(MessagePrefix + chatID + ":")
}

func MessageKey(chatID string, at time.Time, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%019d:%020d", MessagePrefix, chatID, at.UnixNano(), seq))
}

func messageIDKey(messageID string) []byte {
	return []byte(messageIDPfx + messageID)
}

func idempotencyKey(chatID, authorID, token string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%s", idempotPfx, chatID, authorID, token))
}

func idempotencyRoomPrefix(chatID string) []byte {
	return []byte(idempotPfx + chatID + ":")
}

func gcKey(chatID string) []byte {
	return []byte(gcPrefix + chatID)
}

// ParseMessageKey splits a message key back into its parts.
func ParseMessageKey(key string) (chatID string, at time.Time, seq uint64, ok bool) {
	rest, found := strings.CutPrefix(key, MessagePrefix)
	if !found {
		return "", time.Time{}, 0, false
	}
	parts := strings.Split(rest, ":")
	if len(parts) != 3 {
		return "", time.Time{}, 0, false
	}
	nanos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", time.Time{}, 0, false
	}
	seq, err = strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return "", time.Time{}, 0, false
	}
	return parts[0], time.Unix(0, nanos).UTC(), seq, true
}

func chatIDFromKey(key string) (string, bool) {
	return strings.CutPrefix(key, ChatPrefix)
}
