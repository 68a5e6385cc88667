package chatstore

import (
	"context"
	"log/slog"
	"strings"

	"github.com/namarks/chatmix/internal/apperr"
)

// normalize converts one raw message row into the canonical Message.
//
// Text resolution policy: the plain text column wins when present and
// non-empty; otherwise the binary payload is decoded; if both fail the
// message has empty text and simply never matches link extraction. A decode
// failure is absorbed here and never aborts the caller's scan.
func normalize(ctx context.Context, log *slog.Logger, row messageRow) Message {
	msg := Message{
		ConversationID: row.ConversationID,
		Timestamp:      FromStoreTime(row.Date),
		FromMe:         row.FromMe != 0,
	}
	if row.Sender.Valid {
		msg.Sender = strings.TrimSpace(row.Sender.String)
	}

	switch {
	case row.Text.Valid && row.Text.String != "":
		msg.Text = row.Text.String
	case len(row.Payload) > 0:
		text, err := ExtractText(row.Payload)
		if err != nil {
			log.DebugContext(ctx, "Undecodable message payload, treating as empty text",
				"conversation_id", row.ConversationID,
				"code", apperr.Code(err),
				"error", err)
		} else {
			msg.Text = text
		}
	}
	return msg
}

// isReaction reports whether the row is a reaction record rather than a
// standalone message.
func (r messageRow) isReaction() bool {
	return r.ReactionKind != 0 && r.ReactionTarget.Valid
}
