// Package chatstore provides read-only access to the local message store:
// conversation listing, message streaming, payload decoding, and timestamp
// normalization. The store file is never mutated by this package.
package chatstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/namarks/chatmix/internal/apperr"

	_ "modernc.org/sqlite" //revive:disable:blank-imports
)

// ErrStopScan may be returned from a message callback to stop a scan early
// without reporting an error.
var ErrStopScan = errors.New("stop scan")

// Store is the read-only message store boundary.
type Store interface {
	// ListConversations returns all conversations ordered by most recent
	// message timestamp descending, ties broken by id ascending.
	ListConversations(ctx context.Context) ([]Conversation, error)

	// Participants returns the participant identities of one conversation.
	Participants(ctx context.Context, conversationID int64) ([]string, error)

	// MessagesInRange streams the conversation's normalized messages within
	// the inclusive [from, to] range (zero bounds are open) in timestamp
	// order. The callback may return ErrStopScan to stop early. The context
	// is checked at row granularity.
	MessagesInRange(ctx context.Context, conversationID int64, from, to time.Time, fn func(Message) error) error

	// ContainsText reports whether any message in the conversation contains
	// the substring, case-insensitively, after text resolution.
	ContainsText(ctx context.Context, conversationID int64, substr string) (bool, error)

	Close() error
}

type sqlStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Open opens the message store read-only. A missing or unreadable file is
// surfaced as a store-access error with an actionable remedy; the caller can
// then offer an alternative ingestion path.
func Open(path string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	f, err := os.Open(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, apperr.NewStoreAccessError(fmt.Sprintf("message store not found at %s", path), err)
	case errors.Is(err, os.ErrPermission):
		return nil, apperr.NewStoreAccessError(fmt.Sprintf("access to message store at %s denied", path), err)
	case err != nil:
		return nil, apperr.NewStoreAccessError(fmt.Sprintf("cannot open message store at %s", path), err)
	}
	if err := f.Close(); err != nil {
		logger.Warn("Error closing store probe handle", "path", path, "error", err)
	}

	db, err := sqlx.Connect("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, apperr.NewStoreAccessError(fmt.Sprintf("cannot open message store at %s", path), err)
	}

	// Read-only store: concurrent readers are safe by construction.
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	logger.Info("Message store opened read-only", "path", path)
	return &sqlStore{
		db:     db,
		logger: logger.With("component", "chatstore"),
	}, nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

func (s *sqlStore) ListConversations(ctx context.Context) ([]Conversation, error) {
	type convRow struct {
		ID               int64  `db:"id"`
		Name             string `db:"name"`
		ParticipantCount int    `db:"participant_count"`
		MessageCount     int    `db:"message_count"`
		LastDate         int64  `db:"last_date"`
	}

	query := `
        SELECT c.id, c.name, c.participant_count, c.message_count,
               COALESCE(MAX(m.date), 0) AS last_date
        FROM conversations c
        LEFT JOIN messages m ON m.conversation_id = c.id
        GROUP BY c.id
        ORDER BY last_date DESC, c.id ASC;
    `

	var rows []convRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	conversations := make([]Conversation, 0, len(rows))
	for _, r := range rows {
		conv := Conversation{
			ID:               r.ID,
			Name:             r.Name,
			ParticipantCount: r.ParticipantCount,
			MessageCount:     r.MessageCount,
		}
		if r.LastDate != 0 {
			conv.LastMessageAt = FromStoreTime(r.LastDate)
		}
		conversations = append(conversations, conv)
	}

	s.logger.DebugContext(ctx, "Listed conversations", "count", len(conversations))
	return conversations, nil
}

func (s *sqlStore) Participants(ctx context.Context, conversationID int64) ([]string, error) {
	var identities []string
	query := `SELECT identity FROM participants WHERE conversation_id = ? ORDER BY identity ASC;`
	if err := s.db.SelectContext(ctx, &identities, query, conversationID); err != nil {
		return nil, fmt.Errorf("failed to load participants for conversation %d: %w", conversationID, err)
	}
	return identities, nil
}

func (s *sqlStore) MessagesInRange(ctx context.Context, conversationID int64, from, to time.Time, fn func(Message) error) error {
	where := "conversation_id = ?"
	args := []any{conversationID}
	if !from.IsZero() {
		where += " AND date >= ?"
		args = append(args, ToStoreTime(from))
	}
	if !to.IsZero() {
		where += " AND date <= ?"
		args = append(args, ToStoreTime(to))
	}

	reactions, err := s.loadReactions(ctx, where, args)
	if err != nil {
		return err
	}

	query := `
        SELECT conversation_id, text, payload, date, sender, is_from_me,
               reaction_kind, reaction_target
        FROM messages
        WHERE ` + where + ` AND reaction_kind = 0
        ORDER BY date ASC, rowid ASC;
    `

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to scan messages for conversation %d: %w", conversationID, err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.WarnContext(ctx, "Error closing message rows", "error", closeErr)
		}
	}()

	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}

		var row messageRow
		if err := rows.StructScan(&row); err != nil {
			return fmt.Errorf("failed to scan message row: %w", err)
		}

		msg := normalize(ctx, s.logger, row)
		msg.Reactions = reactions[msg.Key()]

		if err := fn(msg); err != nil {
			if errors.Is(err, ErrStopScan) {
				return nil
			}
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate messages for conversation %d: %w", conversationID, err)
	}
	return nil
}

// loadReactions collects the reaction rows in range keyed by the derived key
// of their target message, so the main scan can attach them in one pass.
func (s *sqlStore) loadReactions(ctx context.Context, where string, args []any) (map[string][]Reaction, error) {
	query := `
        SELECT conversation_id, text, payload, date, sender, is_from_me,
               reaction_kind, reaction_target
        FROM messages
        WHERE ` + where + ` AND reaction_kind != 0
        ORDER BY date ASC;
    `

	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to load reactions: %w", err)
	}

	reactions := make(map[string][]Reaction)
	for _, row := range rows {
		if !row.isReaction() {
			continue
		}
		sender := ""
		if row.Sender.Valid {
			sender = row.Sender.String
		}
		target := row.ReactionTarget.String
		reactions[target] = append(reactions[target], Reaction{Kind: row.ReactionKind, Sender: sender})
	}
	return reactions, nil
}

func (s *sqlStore) ContainsText(ctx context.Context, conversationID int64, substr string) (bool, error) {
	// Message text may live in the binary payload, so a SQL LIKE over the
	// text column alone would miss payload-only messages. Scan normalized
	// text and stop at the first match.
	needle := strings.ToLower(substr)
	found := false
	err := s.MessagesInRange(ctx, conversationID, time.Time{}, time.Time{}, func(m Message) error {
		if strings.Contains(strings.ToLower(m.Text), needle) {
			found = true
			return ErrStopScan
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}
