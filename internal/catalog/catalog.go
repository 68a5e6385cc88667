// Package catalog implements the remote music catalog client: OAuth token
// state, rate-limited metadata lookup, and playlist creation. All remote
// calls carry the configured per-request timeout; transient failures surface
// as retryable coded errors for the caller's bounded retry loop.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/namarks/chatmix/internal/apperr"
	"github.com/namarks/chatmix/internal/config"
)

const (
	// maxLookupBatch is the catalog's batch-lookup limit for track metadata.
	maxLookupBatch = 50

	// maxAppendBatch is the catalog's per-call maximum for playlist track
	// appends.
	maxAppendBatch = 100

	// defaultRetryAfter applies when a rate-limit response omits a usable
	// Retry-After header.
	defaultRetryAfter = 2 * time.Second
)

// Track is resolved track metadata.
type Track struct {
	ID          string
	Title       string
	Artist      string
	DurationMS  int64
	ExternalURL string
}

// Playlist is a remote playlist reference. ID is assigned by the catalog on
// creation; the remote catalog is the system of record.
type Playlist struct {
	ID          string
	Name        string
	ExternalURL string
}

// Client talks to the remote catalog. It holds a single credential state
// shared by all callers; see the auth methods for the refresh contract.
type Client struct {
	api      *resty.Client
	accounts *resty.Client
	cfg      config.CatalogConfig
	logger   *slog.Logger
	limiter  *rate.Limiter

	token tokenState
}

// NewClient builds a catalog client from configuration. The client paces its
// own requests below the catalog's rate limit; rate-limit responses that
// still occur surface as retryable errors.
func NewClient(cfg config.CatalogConfig, logger *slog.Logger) *Client {
	burst := int(cfg.RequestsPerSec)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		api:      resty.New().SetBaseURL(cfg.APIBaseURL).SetTimeout(cfg.RequestTimeout),
		accounts: resty.New().SetBaseURL(cfg.AccountsURL).SetTimeout(cfg.RequestTimeout),
		cfg:      cfg,
		logger:   logger.With("component", "catalog"),
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), burst),
	}
}

// Me returns the authorized user's catalog identifier.
func (c *Client) Me(ctx context.Context) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.get(ctx, "/v1/me", nil, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// Tracks resolves a batch of track identifiers to metadata, grouped into
// requests sized to the catalog's batch-lookup limit. Identifiers the catalog
// does not know are absent from the result rather than errors.
func (c *Client) Tracks(ctx context.Context, ids []string) (map[string]Track, error) {
	resolved := make(map[string]Track, len(ids))

	for start := 0; start < len(ids); start += maxLookupBatch {
		end := start + maxLookupBatch
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		var out struct {
			Tracks []*trackPayload `json:"tracks"`
		}
		query := map[string]string{"ids": strings.Join(batch, ",")}
		if err := c.get(ctx, "/v1/tracks", query, &out); err != nil {
			return nil, err
		}

		// The catalog returns null for unknown identifiers, position-aligned
		// with the request.
		for _, tp := range out.Tracks {
			if tp == nil {
				continue
			}
			resolved[tp.ID] = tp.toTrack()
		}
	}

	c.logger.DebugContext(ctx, "Resolved track batch", "requested", len(ids), "resolved", len(resolved))
	return resolved, nil
}

// CreatePlaylist creates a private playlist for the authorized user.
func (c *Client) CreatePlaylist(ctx context.Context, name, description string) (*Playlist, error) {
	userID, err := c.Me(ctx)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"name":        name,
		"public":      false,
		"description": description,
	}
	var out playlistPayload
	if err := c.post(ctx, "/v1/users/"+userID+"/playlists", body, &out); err != nil {
		return nil, err
	}

	pl := out.toPlaylist()
	c.logger.InfoContext(ctx, "Playlist created", "playlist_id", pl.ID, "name", pl.Name)
	return &pl, nil
}

// AddTracks appends track identifiers to a playlist in the given order,
// chunked to the catalog's per-call maximum. Chunks are sent sequentially so
// the final playlist order matches the input order.
func (c *Client) AddTracks(ctx context.Context, playlistID string, trackIDs []string) error {
	for start := 0; start < len(trackIDs); start += maxAppendBatch {
		end := start + maxAppendBatch
		if end > len(trackIDs) {
			end = len(trackIDs)
		}

		uris := make([]string, 0, end-start)
		for _, id := range trackIDs[start:end] {
			uris = append(uris, "spotify:track:"+id)
		}

		body := map[string]any{"uris": uris}
		if err := c.post(ctx, "/v1/playlists/"+playlistID+"/tracks", body, nil); err != nil {
			return err
		}
	}
	return nil
}

// ListPlaylists returns the authorized user's playlists.
func (c *Client) ListPlaylists(ctx context.Context) ([]Playlist, error) {
	var out struct {
		Items []playlistPayload `json:"items"`
	}
	if err := c.get(ctx, "/v1/me/playlists", nil, &out); err != nil {
		return nil, err
	}

	playlists := make([]Playlist, 0, len(out.Items))
	for _, item := range out.Items {
		playlists = append(playlists, item.toPlaylist())
	}
	return playlists, nil
}

type trackPayload struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	DurationMS int64  `json:"duration_ms"`
	Artists    []struct {
		Name string `json:"name"`
	} `json:"artists"`
	ExternalURLs struct {
		Spotify string `json:"spotify"`
	} `json:"external_urls"`
}

func (t *trackPayload) toTrack() Track {
	names := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		names = append(names, a.Name)
	}
	return Track{
		ID:          t.ID,
		Title:       t.Name,
		Artist:      strings.Join(names, ", "),
		DurationMS:  t.DurationMS,
		ExternalURL: t.ExternalURLs.Spotify,
	}
}

type playlistPayload struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ExternalURLs struct {
		Spotify string `json:"spotify"`
	} `json:"external_urls"`
}

func (p playlistPayload) toPlaylist() Playlist {
	return Playlist{ID: p.ID, Name: p.Name, ExternalURL: p.ExternalURLs.Spotify}
}

func (c *Client) get(ctx context.Context, path string, query map[string]string, out any) error {
	return c.call(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.call(ctx, http.MethodPost, path, nil, body, out)
}

// call executes one authorized API request. A 401 triggers one transparent
// token refresh and retry; a second 401 is an auth error. Rate-limit and
// server-side failures map to the retryable error codes.
func (c *Client) call(ctx context.Context, method, path string, query map[string]string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	token, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}

	resp, err := c.execute(ctx, method, path, query, body, out, token)
	if err != nil {
		return apperr.NewUnavailableError("catalog request failed", err)
	}

	if resp.StatusCode() == http.StatusUnauthorized {
		token, err = c.forceRefresh(ctx, token)
		if err != nil {
			return err
		}
		resp, err = c.execute(ctx, method, path, query, body, out, token)
		if err != nil {
			return apperr.NewUnavailableError("catalog request failed", err)
		}
		if resp.StatusCode() == http.StatusUnauthorized {
			return apperr.NewAuthError("catalog rejected refreshed credential", nil)
		}
	}

	return c.checkStatus(resp)
}

func (c *Client) execute(ctx context.Context, method, path string, query map[string]string, body, out any, token string) (*resty.Response, error) {
	req := c.api.R().
		SetContext(ctx).
		SetAuthToken(token)
	if query != nil {
		req.SetQueryParams(query)
	}
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	return req.Execute(method, path)
}

func (c *Client) checkStatus(resp *resty.Response) error {
	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return apperr.NewRateLimitedError(retryAfter(resp))
	case code >= 500:
		return apperr.NewUnavailableError(
			fmt.Sprintf("catalog returned %d for %s", code, resp.Request.URL), nil)
	default:
		return fmt.Errorf("catalog returned %d for %s: %s", code, resp.Request.URL, resp.String())
	}
}

// retryAfter reads the suggested backoff from a rate-limit response, with a
// sane floor when the header is missing or unparsable.
func retryAfter(resp *resty.Response) time.Duration {
	header := resp.Header().Get("Retry-After")
	if header == "" {
		return defaultRetryAfter
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 1 {
		return defaultRetryAfter
	}
	return time.Duration(secs) * time.Second
}
