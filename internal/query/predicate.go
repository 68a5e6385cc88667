package query

import (
	"strings"
	"time"
)

// Predicate is one search filter set. All supplied fields are ANDed; the zero
// Predicate matches every conversation.
type Predicate struct {
	// Text is a free-text query matched case-insensitively against the
	// conversation name, participant identities, and message bodies.
	Text string

	// Participants lists identities that must all be present (all-of
	// semantics, substring match per identity).
	Participants []string

	// Content is a substring that must occur in at least one message body.
	Content string

	// From and To bound the inclusive date range; zero values are open.
	From time.Time
	To   time.Time
}

// IsEmpty reports whether the predicate has no constraints, making the search
// equivalent to a plain listing.
func (p Predicate) IsEmpty() bool {
	return p.Text == "" && len(p.Participants) == 0 && p.Content == "" &&
		p.From.IsZero() && p.To.IsZero()
}

// matchesName reports whether the free-text query matches the conversation
// name.
func (p Predicate) matchesName(name string) bool {
	return p.Text != "" && containsFold(name, p.Text)
}

// matchesParticipantText reports whether the free-text query matches any
// participant identity.
func (p Predicate) matchesParticipantText(identities []string) bool {
	if p.Text == "" {
		return false
	}
	for _, id := range identities {
		if containsFold(id, p.Text) {
			return true
		}
	}
	return false
}

// matchesParticipants applies the all-of participant filter.
func (p Predicate) matchesParticipants(identities []string) bool {
	for _, want := range p.Participants {
		found := false
		for _, id := range identities {
			if containsFold(id, want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
