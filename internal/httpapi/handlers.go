package httpapi

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/namarks/chatmix/internal/apperr"
	"github.com/namarks/chatmix/internal/chatstore"
	"github.com/namarks/chatmix/internal/query"
	"github.com/namarks/chatmix/internal/synth"
)

type conversationJSON struct {
	ID               int64      `json:"id"`
	Name             string     `json:"name"`
	ParticipantCount int        `json:"participant_count"`
	MessageCount     int        `json:"message_count"`
	LastMessageAt    *time.Time `json:"last_message_at,omitempty"`

	// HasMusicLinks is omitted (unknown) unless it has been computed; the
	// listing never guesses false.
	HasMusicLinks *bool `json:"has_music_links,omitempty"`
}

func toConversationJSON(c chatstore.Conversation) conversationJSON {
	out := conversationJSON{
		ID:               c.ID,
		Name:             c.Name,
		ParticipantCount: c.ParticipantCount,
		MessageCount:     c.MessageCount,
		HasMusicLinks:    c.HasMusicLinks,
	}
	if !c.LastMessageAt.IsZero() {
		t := c.LastMessageAt
		out.LastMessageAt = &t
	}
	return out
}

type errorJSON struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Remedy string `json:"remedy,omitempty"`
}

func (s *Server) writeError(c *gin.Context, err error) {
	body := errorJSON{
		Error:  err.Error(),
		Code:   apperr.Code(err),
		Remedy: apperr.Remedy(err),
	}

	status := http.StatusInternalServerError
	switch body.Code {
	case apperr.CodeAuth:
		status = http.StatusUnauthorized
	case apperr.CodeRateLimited:
		status = http.StatusTooManyRequests
	case apperr.CodeUnavailable:
		status = http.StatusBadGateway
	case apperr.CodeStoreAccess:
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, body)
}

// handleListConversations lists all conversations, most recent first. With
// `?music=true` the music-link flag is computed per conversation by scanning
// its messages; the plain listing leaves the flag unknown rather than
// guessing false.
func (s *Server) handleListConversations(c *gin.Context) {
	ctx := c.Request.Context()
	conversations, err := s.engine.ListConversations(ctx)
	if err != nil {
		s.writeError(c, err)
		return
	}

	computeMusic := c.Query("music") == "true"
	items := make([]conversationJSON, 0, len(conversations))
	for _, conv := range conversations {
		if computeMusic {
			has, err := s.store.ContainsText(ctx, conv.ID, "open.spotify.com/")
			if err != nil {
				s.writeError(c, err)
				return
			}
			conv.HasMusicLinks = &has
		}
		items = append(items, toConversationJSON(conv))
	}
	c.JSON(http.StatusOK, gin.H{"conversations": items})
}

// parsePredicate maps search query parameters onto a predicate. Dates accept
// RFC 3339 or plain YYYY-MM-DD; a bare date as the upper bound extends to the
// end of that day so the range stays inclusive.
func parsePredicate(c *gin.Context) (query.Predicate, error) {
	pred := query.Predicate{
		Text:    c.Query("q"),
		Content: c.Query("content"),
	}
	if raw := c.Query("participants"); raw != "" {
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				pred.Participants = append(pred.Participants, p)
			}
		}
	}

	var err error
	if pred.From, err = parseTime(c.Query("from"), false); err != nil {
		return pred, err
	}
	if pred.To, err = parseTime(c.Query("to"), true); err != nil {
		return pred, err
	}
	return pred, nil
}

func parseTime(raw string, endOfDay bool) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

// handleSearch streams matching conversations as server-sent events. Event
// types: "conversation" per result, then a terminal "done" or "error". A new
// search request supersedes the previous one on the shared slot; the
// superseded stream simply ends.
func (s *Server) handleSearch(c *gin.Context) {
	pred, err := parsePredicate(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorJSON{Error: "invalid date parameter: " + err.Error(), Code: apperr.CodeUnknown})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	items := s.slot.Search(c.Request.Context(), pred)
	failed := false
	c.Stream(func(io.Writer) bool {
		item, ok := <-items
		if !ok {
			if !failed {
				c.SSEvent("done", gin.H{})
			}
			return false
		}
		if item.Err != nil {
			failed = true
			c.SSEvent("error", errorJSON{
				Error:  item.Err.Error(),
				Code:   apperr.Code(item.Err),
				Remedy: apperr.Remedy(item.Err),
			})
			return false
		}
		c.SSEvent("conversation", toConversationJSON(item.Conversation))
		return true
	})
}

type synthesizeRequest struct {
	ConversationIDs []int64 `json:"conversation_ids" binding:"required,min=1"`
	Name            string  `json:"name" binding:"required"`
	From            string  `json:"from"`
	To              string  `json:"to"`
}

type synthesizeResponse struct {
	PlaylistID    string   `json:"playlist_id"`
	Name          string   `json:"name"`
	ExternalURL   string   `json:"external_url"`
	ResolvedCount int      `json:"resolved_count"`
	Unresolved    []string `json:"unresolved"`
}

func (s *Server) handleSynthesize(c *gin.Context) {
	var req synthesizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorJSON{Error: err.Error(), Code: apperr.CodeUnknown})
		return
	}

	from, err := parseTime(req.From, false)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorJSON{Error: "invalid from date: " + err.Error(), Code: apperr.CodeUnknown})
		return
	}
	to, err := parseTime(req.To, true)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorJSON{Error: "invalid to date: " + err.Error(), Code: apperr.CodeUnknown})
		return
	}

	result, err := s.synthesizer.Synthesize(c.Request.Context(), synth.Request{
		ConversationIDs: req.ConversationIDs,
		From:            from,
		To:              to,
		Name:            req.Name,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	unresolved := result.Unresolved
	if unresolved == nil {
		unresolved = []string{}
	}
	c.JSON(http.StatusOK, synthesizeResponse{
		PlaylistID:    result.Playlist.ID,
		Name:          result.Playlist.Name,
		ExternalURL:   result.Playlist.ExternalURL,
		ResolvedCount: len(result.Tracks),
		Unresolved:    unresolved,
	})
}

func (s *Server) handleAuthStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"authorized": s.catalog.IsAuthorized()})
}

func (s *Server) handleAuthLogin(c *gin.Context) {
	state := uuid.NewString()
	s.authMu.Lock()
	s.authState = state
	s.authMu.Unlock()

	c.Redirect(http.StatusFound, s.catalog.AuthURL(state))
}

func (s *Server) handleAuthCallback(c *gin.Context) {
	s.authMu.Lock()
	expected := s.authState
	s.authState = ""
	s.authMu.Unlock()

	if expected == "" || c.Query("state") != expected {
		c.JSON(http.StatusBadRequest, errorJSON{Error: "authorization state mismatch", Code: apperr.CodeAuth,
			Remedy: "restart the authorization flow via /api/auth/login"})
		return
	}
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, errorJSON{Error: "authorization was denied or returned no code", Code: apperr.CodeAuth,
			Remedy: "restart the authorization flow via /api/auth/login"})
		return
	}

	if err := s.catalog.Exchange(c.Request.Context(), code); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"authorized": true})
}
