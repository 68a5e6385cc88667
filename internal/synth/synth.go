// Package synth orchestrates playlist synthesis: streaming message
// extraction across a set of conversation partitions, cross-partition
// deduplication, cache-first track resolution, and remote playlist creation.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/namarks/chatmix/internal/cache"
	"github.com/namarks/chatmix/internal/catalog"
	"github.com/namarks/chatmix/internal/chatstore"
	"github.com/namarks/chatmix/internal/extract"
)

// Catalog is the remote-catalog surface synthesis depends on.
type Catalog interface {
	Tracks(ctx context.Context, ids []string) (map[string]catalog.Track, error)
	CreatePlaylist(ctx context.Context, name, description string) (*catalog.Playlist, error)
	AddTracks(ctx context.Context, playlistID string, trackIDs []string) error
}

// Request describes one synthesis: a set of conversation partitions treated
// as one logical unit, an inclusive date range (zero bounds are open), and
// the playlist name. The store may split one logical conversation into
// multiple partition records, so callers supply the whole set; deduplication
// runs across it, not per partition.
type Request struct {
	ConversationIDs []int64
	From            time.Time
	To              time.Time
	Name            string
}

// PlaylistTrack is one resolved track with the provenance of its first
// extraction.
type PlaylistTrack struct {
	ID             string
	Title          string
	Artist         string
	DurationMS     int64
	ExternalURL    string
	ConversationID int64
	SharedBy       string
	SharedAt       time.Time
}

// Result is a successful synthesis. Unresolved lists track identifiers the
// catalog could not resolve (delisted or unknown); it is a warning, not a
// failure — the playlist holds the resolvable subset.
type Result struct {
	Playlist   catalog.Playlist
	Tracks     []PlaylistTrack
	Unresolved []string
	CreatedAt  time.Time
}

// Options bound the retry loop around remote catalog calls.
type Options struct {
	MaxRetries     int
	RetryBaseDelay time.Duration
}

type Synthesizer struct {
	store   chatstore.Store
	cache   *cache.Cache
	catalog Catalog
	opts    Options
	logger  *slog.Logger

	// resolveGroup collapses concurrent remote lookups of the same miss set
	// across overlapping syntheses.
	resolveGroup singleflight.Group
}

func New(store chatstore.Store, c *cache.Cache, cat Catalog, opts Options, logger *slog.Logger) *Synthesizer {
	return &Synthesizer{
		store:   store,
		cache:   c,
		catalog: cat,
		opts:    opts,
		logger:  logger.With("component", "synth"),
	}
}

// Synthesize runs one synthesis to completion. Once started it is not
// cancellable by the caller: playlist creation runs to a deterministic
// success or partial-failure outcome, with each catalog call individually
// time-bounded so an unreachable catalog cannot hang the operation. Partition
// order determines first-extraction order, so callers wanting stable
// playlists across runs must supply conversation ids in the same order.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request) (*Result, error) {
	if len(req.ConversationIDs) == 0 {
		return nil, errors.New("synthesis requires at least one conversation id")
	}
	if req.Name == "" {
		return nil, errors.New("synthesis requires a playlist name")
	}
	ctx = context.WithoutCancel(ctx)

	start := time.Now()
	ordered, provenance, err := s.extractLinks(ctx, req)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "Link extraction completed",
		"conversations", len(req.ConversationIDs), "distinct_tracks", len(ordered))

	entries, unresolved, err := s.resolve(ctx, ordered)
	if err != nil {
		return nil, err
	}

	playlist, err := s.createPlaylist(ctx, req, ordered, entries)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Playlist:   *playlist,
		Unresolved: unresolved,
		CreatedAt:  start,
	}
	for _, id := range ordered {
		entry, ok := entries[id]
		if !ok {
			continue
		}
		link := provenance[id]
		result.Tracks = append(result.Tracks, PlaylistTrack{
			ID:             link.ID,
			Title:          entry.Title,
			Artist:         entry.Artist,
			DurationMS:     entry.DurationMS,
			ExternalURL:    entry.ExternalURL,
			ConversationID: link.ConversationID,
			SharedBy:       link.Sender,
			SharedAt:       link.MessageTime,
		})
	}

	s.logger.InfoContext(ctx, "Synthesis completed",
		"playlist_id", playlist.ID,
		"resolved", len(result.Tracks),
		"unresolved", len(unresolved),
		"duration", time.Since(start))
	return result, nil
}

// extractLinks streams every partition's messages in range and accumulates
// extracted track links into one cross-partition set. The returned slice
// preserves first-extraction order; provenance keeps the first sighting of
// each identifier (later sightings only dedup, they never reassign
// provenance).
func (s *Synthesizer) extractLinks(ctx context.Context, req Request) ([]string, map[string]extract.Link, error) {
	var ordered []string
	provenance := make(map[string]extract.Link)

	for _, convID := range req.ConversationIDs {
		err := s.store.MessagesInRange(ctx, convID, req.From, req.To, func(m chatstore.Message) error {
			for _, link := range extract.FromMessage(m) {
				if link.Kind != extract.KindTrack {
					continue
				}
				id := link.CanonicalID()
				if _, seen := provenance[id]; seen {
					continue
				}
				provenance[id] = link
				ordered = append(ordered, id)
			}
			return nil
		})
		if err != nil {
			return nil, nil, fmt.Errorf("extraction failed for conversation %d: %w", convID, err)
		}
	}
	return ordered, provenance, nil
}

// resolve produces metadata for every canonical identifier, cache-first.
// Misses go to the catalog in one retried batch; identifiers the catalog
// does not know end up in the unresolved list rather than failing the
// synthesis.
func (s *Synthesizer) resolve(ctx context.Context, canonicalIDs []string) (map[string]cache.Entry, []string, error) {
	entries := make(map[string]cache.Entry, len(canonicalIDs))
	var misses []string

	for _, id := range canonicalIDs {
		if entry, ok := s.cache.Get(ctx, id); ok {
			entries[id] = entry
			continue
		}
		misses = append(misses, id)
	}

	if len(misses) > 0 {
		resolved, err := s.resolveMisses(ctx, misses)
		if err != nil {
			return nil, nil, err
		}
		for id, entry := range resolved {
			entries[id] = entry
			if err := s.cache.Put(ctx, entry); err != nil {
				s.logger.WarnContext(ctx, "Failed to cache resolved track", "id", id, "error", err)
			}
		}
	}

	var unresolved []string
	for _, id := range canonicalIDs {
		if _, ok := entries[id]; !ok {
			unresolved = append(unresolved, trackID(id))
		}
	}
	return entries, unresolved, nil
}

func (s *Synthesizer) resolveMisses(ctx context.Context, canonicalIDs []string) (map[string]cache.Entry, error) {
	key := strings.Join(canonicalIDs, ",")
	v, err, shared := s.resolveGroup.Do(key, func() (any, error) {
		trackIDs := make([]string, 0, len(canonicalIDs))
		for _, id := range canonicalIDs {
			trackIDs = append(trackIDs, trackID(id))
		}

		var tracks map[string]catalog.Track
		err := catalog.Do(ctx, s.opts.MaxRetries, s.opts.RetryBaseDelay, func() error {
			var lookupErr error
			tracks, lookupErr = s.catalog.Tracks(ctx, trackIDs)
			return lookupErr
		})
		if err != nil {
			return nil, err
		}

		entries := make(map[string]cache.Entry, len(tracks))
		for _, id := range canonicalIDs {
			track, ok := tracks[trackID(id)]
			if !ok {
				continue
			}
			entries[id] = cache.Entry{
				ID:          id,
				Title:       track.Title,
				Artist:      track.Artist,
				DurationMS:  track.DurationMS,
				ExternalURL: track.ExternalURL,
			}
		}
		return entries, nil
	})
	if err != nil {
		return nil, fmt.Errorf("track resolution failed: %w", err)
	}
	if shared {
		s.logger.DebugContext(ctx, "Track resolution shared with concurrent synthesis", "ids", len(canonicalIDs))
	}
	return v.(map[string]cache.Entry), nil
}

func (s *Synthesizer) createPlaylist(ctx context.Context, req Request, ordered []string, entries map[string]cache.Entry) (*catalog.Playlist, error) {
	description := fmt.Sprintf("Tracks shared across %d conversation(s)", len(req.ConversationIDs))

	var playlist *catalog.Playlist
	err := catalog.Do(ctx, s.opts.MaxRetries, s.opts.RetryBaseDelay, func() error {
		var createErr error
		playlist, createErr = s.catalog.CreatePlaylist(ctx, req.Name, description)
		return createErr
	})
	if err != nil {
		return nil, fmt.Errorf("playlist creation failed: %w", err)
	}

	trackIDs := make([]string, 0, len(entries))
	for _, id := range ordered {
		if _, ok := entries[id]; ok {
			trackIDs = append(trackIDs, trackID(id))
		}
	}
	if len(trackIDs) == 0 {
		return playlist, nil
	}

	err = catalog.Do(ctx, s.opts.MaxRetries, s.opts.RetryBaseDelay, func() error {
		return s.catalog.AddTracks(ctx, playlist.ID, trackIDs)
	})
	if err != nil {
		return nil, fmt.Errorf("track append failed: %w", err)
	}
	return playlist, nil
}

// trackID strips the kind prefix from a canonical identifier.
func trackID(canonicalID string) string {
	if i := strings.IndexByte(canonicalID, ':'); i >= 0 {
		return canonicalID[i+1:]
	}
	return canonicalID
}
