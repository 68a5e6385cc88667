// Package extract scans message text for Spotify resource URLs and
// canonicalizes them into deduplication-safe identifiers with provenance.
package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/namarks/chatmix/internal/chatstore"
)

// Kind is the resource kind encoded in a shared link path.
type Kind string

const (
	KindTrack Kind = "track"
	KindAlbum Kind = "album"
)

// Link is one extracted music link with its provenance. Multiple Links may
// carry the same canonical identifier (the same song shared twice); that is
// expected and resolved at the deduplication stage, not here.
type Link struct {
	Kind           Kind
	ID             string
	ConversationID int64
	MessageKey     string
	MessageTime    time.Time
	Sender         string
}

// CanonicalID is the deduplication key. Two URLs reference the same resource
// iff their canonical identifiers are byte-equal. The path-derived identifier
// is kept verbatim: identifiers are case-sensitive, only the host and kind
// segments fold.
func (l Link) CanonicalID() string {
	return string(l.Kind) + ":" + l.ID
}

// linkPattern matches shared catalog URLs in free text: optional scheme,
// case-folded host, optional regional path segment, then kind and the opaque
// base62-like identifier. Query parameters and fragments fall outside the
// identifier capture, which canonicalizes them away.
var linkPattern = regexp.MustCompile(
	`(?i:\b(?:https?://)?open\.spotify\.com/(?:intl-[a-z]{2}(?:-[a-z]{2})?/)?(track|album)/)([0-9A-Za-z]+)`,
)

// Scan returns the canonical links found in text, in order of appearance.
// Scanning is idempotent: repeated calls yield the same identifiers in the
// same order.
func Scan(text string) []Link {
	matches := linkPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	links := make([]Link, 0, len(matches))
	for _, m := range matches {
		links = append(links, Link{
			Kind: Kind(strings.ToLower(m[1])),
			ID:   m[2],
		})
	}
	return links
}

// FromMessage scans one normalized message and attaches provenance to every
// link found. A message with multiple distinct links yields multiple records
// referencing the same message.
func FromMessage(m chatstore.Message) []Link {
	links := Scan(m.Text)
	for i := range links {
		links[i].ConversationID = m.ConversationID
		links[i].MessageKey = m.Key()
		links[i].MessageTime = m.Timestamp
		links[i].Sender = m.Sender
	}
	return links
}
