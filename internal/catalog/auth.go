package catalog

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/namarks/chatmix/internal/apperr"
)

// authScopes are the catalog permissions the playlist flow needs.
const authScopes = "playlist-modify-private playlist-modify-public"

// expirySkew renews credentials slightly before their advertised expiry so
// in-flight requests never carry a token that lapses mid-call.
const expirySkew = 30 * time.Second

// tokenState is the single credential shared by all callers. The mutex
// serializes refreshes: concurrent callers hitting an expired token wait for
// the one in-flight refresh instead of issuing duplicates.
type tokenState struct {
	mu           sync.Mutex
	accessToken  string
	refreshToken string
	expiry       time.Time
}

func (t *tokenState) valid() bool {
	return t.accessToken != "" && time.Now().Before(t.expiry.Add(-expirySkew))
}

// IsAuthorized reports whether the client holds a usable credential
// (directly, or refreshable).
func (c *Client) IsAuthorized() bool {
	c.token.mu.Lock()
	defer c.token.mu.Unlock()
	return c.token.valid() || c.token.refreshToken != ""
}

// AuthURL returns the catalog consent URL for the authorization-code flow.
// state is echoed back on the callback and must be verified by the caller.
func (c *Client) AuthURL(state string) string {
	q := url.Values{}
	q.Set("client_id", c.cfg.ClientID)
	q.Set("response_type", "code")
	q.Set("redirect_uri", c.cfg.RedirectURL)
	q.Set("scope", authScopes)
	q.Set("state", state)
	return c.cfg.AccountsURL + "/authorize?" + q.Encode()
}

// Exchange trades an authorization code for the initial credential pair.
func (c *Client) Exchange(ctx context.Context, code string) error {
	form := map[string]string{
		"grant_type":   "authorization_code",
		"code":         code,
		"redirect_uri": c.cfg.RedirectURL,
	}
	tok, err := c.requestToken(ctx, form)
	if err != nil {
		return err
	}

	c.token.mu.Lock()
	defer c.token.mu.Unlock()
	c.token.accessToken = tok.AccessToken
	c.token.expiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	if tok.RefreshToken != "" {
		c.token.refreshToken = tok.RefreshToken
	}
	c.logger.InfoContext(ctx, "Catalog authorization completed")
	return nil
}

// ensureToken returns a currently-valid access token, refreshing if needed.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.token.mu.Lock()
	defer c.token.mu.Unlock()

	if c.token.valid() {
		return c.token.accessToken, nil
	}
	return c.refreshLocked(ctx)
}

// forceRefresh discards the access token the catalog just rejected and
// refreshes, for the 401-retry path. A caller that raced an
// already-completed refresh gets the newer token without a second refresh
// round-trip.
func (c *Client) forceRefresh(ctx context.Context, rejected string) (string, error) {
	c.token.mu.Lock()
	defer c.token.mu.Unlock()

	if c.token.accessToken != rejected && c.token.valid() {
		return c.token.accessToken, nil
	}
	c.token.accessToken = ""
	return c.refreshLocked(ctx)
}

func (c *Client) refreshLocked(ctx context.Context) (string, error) {
	if c.token.refreshToken == "" {
		return "", apperr.NewAuthError("no catalog credential available", nil)
	}

	form := map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": c.token.refreshToken,
	}
	tok, err := c.requestToken(ctx, form)
	if err != nil {
		return "", err
	}

	c.token.accessToken = tok.AccessToken
	c.token.expiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	if tok.RefreshToken != "" {
		c.token.refreshToken = tok.RefreshToken
	}
	c.logger.DebugContext(ctx, "Catalog credential refreshed", "expires_in", tok.ExpiresIn)
	return c.token.accessToken, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

func (c *Client) requestToken(ctx context.Context, form map[string]string) (*tokenResponse, error) {
	var tok tokenResponse
	resp, err := c.accounts.R().
		SetContext(ctx).
		SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret).
		SetFormData(form).
		SetResult(&tok).
		Post("/api/token")
	if err != nil {
		return nil, apperr.NewUnavailableError("catalog token request failed", err)
	}

	switch {
	case resp.StatusCode() == http.StatusOK:
		return &tok, nil
	case resp.StatusCode() >= 500:
		return nil, apperr.NewUnavailableError("catalog token endpoint unavailable", nil)
	default:
		return nil, apperr.NewAuthError("catalog refused the credential exchange", nil)
	}
}
