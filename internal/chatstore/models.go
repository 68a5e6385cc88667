package chatstore

import (
	"database/sql"
	"fmt"
	"time"
)

// Conversation is a read-only view of one store-level conversation record.
// The store may split one logical conversation into multiple partition
// records with disjoint time ranges, so ID is not a unique key for "the same
// logical conversation"; callers that want a logical unit select a set of
// conversation ids.
type Conversation struct {
	ID               int64     `db:"id"`
	Name             string    `db:"name"`
	ParticipantCount int       `db:"participant_count"`
	MessageCount     int       `db:"message_count"`
	LastMessageAt    time.Time `db:"-"`

	// HasMusicLinks is computed lazily and never stored. nil means unknown:
	// some listing paths cannot answer it cheaply and leave it unset rather
	// than guessing false.
	HasMusicLinks *bool `db:"-"`
}

// Reaction is a tapback-style reaction attached to a message.
type Reaction struct {
	Kind   int64
	Sender string
}

// Message is the canonical representation of one message row after text
// resolution and timestamp normalization.
type Message struct {
	ConversationID int64
	Text           string
	Timestamp      time.Time
	Sender         string // "" means system/unknown
	FromMe         bool
	Reactions      []Reaction
}

// keyPrefixLen is the number of leading text bytes used in the derived
// message key.
const keyPrefixLen = 32

// Key derives a best-effort message identity from the text prefix and the
// second-resolution timestamp. The store exposes no stable per-message row
// key for this purpose, so two distinct messages sharing the first 32 bytes
// of text and the same second may collide. This is a documented precision
// limit, not a guarantee.
func (m Message) Key() string {
	prefix := m.Text
	if len(prefix) > keyPrefixLen {
		prefix = prefix[:keyPrefixLen]
	}
	return fmt.Sprintf("%s|%d", prefix, m.Timestamp.Unix())
}

// messageRow mirrors one row of the store's message table.
type messageRow struct {
	ConversationID int64          `db:"conversation_id"`
	Text           sql.NullString `db:"text"`
	Payload        []byte         `db:"payload"`
	Date           int64          `db:"date"`
	Sender         sql.NullString `db:"sender"`
	FromMe         int            `db:"is_from_me"`
	ReactionKind   int64          `db:"reaction_kind"`
	ReactionTarget sql.NullString `db:"reaction_target"`
}
