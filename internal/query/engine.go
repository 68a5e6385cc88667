// Package query implements filtered, incrementally-streamed conversation
// search over the read-only message store, with cancellation at
// one-conversation scan granularity.
package query

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/namarks/chatmix/internal/apperr"
	"github.com/namarks/chatmix/internal/chatstore"
)

// Item is one streamed search result. A non-nil Err terminates the stream;
// cancellation is a normal outcome and never produces an Err item.
type Item struct {
	Conversation chatstore.Conversation
	Err          error
}

// Engine executes searches against one open message store.
type Engine struct {
	store  chatstore.Store
	logger *slog.Logger
}

func NewEngine(store chatstore.Store, logger *slog.Logger) *Engine {
	return &Engine{
		store:  store,
		logger: logger.With("component", "query"),
	}
}

// ListConversations returns all conversations, most recent first.
func (e *Engine) ListConversations(ctx context.Context) ([]chatstore.Conversation, error) {
	return e.store.ListConversations(ctx)
}

// Search streams conversations matching pred. Results are emitted
// incrementally on the returned channel and the channel is closed on
// completion, error, or cancellation. Ordering is relevance then recency:
// conversations whose name or participants match the free-text query come
// first, then conversations matched only through message content; each group
// is in recency order. The caller may stop consuming at any point by
// cancelling ctx, which halts underlying store I/O within one conversation
// scan.
func (e *Engine) Search(ctx context.Context, pred Predicate) <-chan Item {
	out := make(chan Item)
	go func() {
		defer close(out)
		start := time.Now()
		emitted, err := e.search(ctx, pred, out)
		switch {
		case err == nil:
			e.logger.DebugContext(ctx, "Search completed",
				"results", emitted, "duration", time.Since(start))
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			// A cancelled search is a normal outcome, never an error item.
			e.logger.DebugContext(ctx, "Search cancelled",
				"code", apperr.CodeQueryCancelled,
				"results", emitted, "duration", time.Since(start))
		default:
			e.logger.WarnContext(ctx, "Search failed", "error", err)
			emit(ctx, out, Item{Err: err})
		}
	}()
	return out
}

func (e *Engine) search(ctx context.Context, pred Predicate, out chan<- Item) (int, error) {
	conversations, err := e.store.ListConversations(ctx)
	if err != nil {
		return 0, err
	}

	// Phase 1 emits metadata matches immediately; conversations that can
	// only match through message content are deferred so cheap matches
	// stream out before any message scan runs.
	var contentCandidates []candidate
	emitted := 0

	for _, conv := range conversations {
		if err := ctx.Err(); err != nil {
			return emitted, err
		}

		cand, err := e.classify(ctx, conv, pred)
		if err != nil {
			return emitted, err
		}
		switch {
		case cand.matched:
			if !emit(ctx, out, Item{Conversation: conv}) {
				return emitted, ctx.Err()
			}
			emitted++
		case cand.needsContentScan:
			contentCandidates = append(contentCandidates, cand)
		}
	}

	for _, cand := range contentCandidates {
		if err := ctx.Err(); err != nil {
			return emitted, err
		}

		ok, err := e.scanMatches(ctx, cand.conv.ID, cand.scanNeedles, pred.From, pred.To)
		if err != nil {
			return emitted, err
		}
		if ok {
			if !emit(ctx, out, Item{Conversation: cand.conv}) {
				return emitted, ctx.Err()
			}
			emitted++
		}
	}
	return emitted, nil
}

// candidate is one conversation's classification against a predicate:
// either already matched on metadata alone, or still viable pending a
// message-content scan with the given needles.
type candidate struct {
	conv             chatstore.Conversation
	matched          bool
	needsContentScan bool
	scanNeedles      []string
}

func (e *Engine) classify(ctx context.Context, conv chatstore.Conversation, pred Predicate) (candidate, error) {
	cand := candidate{conv: conv}

	var identities []string
	if pred.Text != "" || len(pred.Participants) > 0 {
		var err error
		identities, err = e.store.Participants(ctx, conv.ID)
		if err != nil {
			return cand, err
		}
	}

	if !pred.matchesParticipants(identities) {
		return cand, nil
	}

	// The date range and content filters both require a message scan; the
	// free-text query requires one only when metadata does not satisfy it.
	needles := make([]string, 0, 2)
	if pred.Content != "" {
		needles = append(needles, pred.Content)
	}

	textOnMetadata := pred.Text == "" ||
		pred.matchesName(conv.Name) || pred.matchesParticipantText(identities)
	if !textOnMetadata {
		needles = append(needles, pred.Text)
	}

	if len(needles) == 0 && pred.From.IsZero() && pred.To.IsZero() {
		cand.matched = true
		return cand, nil
	}
	if textOnMetadata && len(needles) == 0 {
		// Only the date range remains: an in-range message is enough, and
		// the conversation still counts as a metadata match for ordering.
		ok, err := e.scanMatches(ctx, conv.ID, nil, pred.From, pred.To)
		if err != nil {
			return cand, err
		}
		cand.matched = ok
		return cand, nil
	}
	if textOnMetadata && pred.Content != "" {
		// Content is an explicit filter; a metadata text match does not
		// bypass it, so the scan still decides, but in phase 1 order.
		ok, err := e.scanMatches(ctx, conv.ID, needles, pred.From, pred.To)
		if err != nil {
			return cand, err
		}
		cand.matched = ok
		return cand, nil
	}

	cand.needsContentScan = true
	cand.scanNeedles = needles
	return cand, nil
}

// scanMatches streams the conversation's messages in range and reports
// whether every needle occurs in at least one message body. With no needles
// it reports whether any in-range message exists. The scan stops at the first
// satisfying row.
func (e *Engine) scanMatches(ctx context.Context, convID int64, needles []string, from, to time.Time) (bool, error) {
	remaining := make(map[string]bool, len(needles))
	for _, n := range needles {
		remaining[n] = true
	}

	satisfied := false
	err := e.store.MessagesInRange(ctx, convID, from, to, func(m chatstore.Message) error {
		for n := range remaining {
			if containsFold(m.Text, n) {
				delete(remaining, n)
			}
		}
		if len(remaining) == 0 {
			satisfied = true
			return chatstore.ErrStopScan
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return satisfied, nil
}

// emit sends an item unless the context is done first. It returns false when
// the send was abandoned.
func emit(ctx context.Context, out chan<- Item, item Item) bool {
	select {
	case out <- item:
		return true
	case <-ctx.Done():
		return false
	}
}
