// Package httpapi exposes the local HTTP surface of the service: conversation
// listing, streamed search, playlist synthesis, and the authorization
// endpoints. The server binds to localhost only; there is a single local
// operator and no user management.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/namarks/chatmix/internal/catalog"
	"github.com/namarks/chatmix/internal/chatstore"
	"github.com/namarks/chatmix/internal/config"
	"github.com/namarks/chatmix/internal/logger"
	"github.com/namarks/chatmix/internal/query"
	"github.com/namarks/chatmix/internal/synth"
)

// Server is the local HTTP API server.
type Server struct {
	http        *http.Server
	logger      *slog.Logger
	store       chatstore.Store
	engine      *query.Engine
	slot        *query.Slot
	synthesizer *synth.Synthesizer
	catalog     *catalog.Client

	// authState is the pending OAuth state nonce; one consent flow may be
	// in flight at a time.
	authMu    sync.Mutex
	authState string
}

func NewServer(
	cfg config.HTTPConfig,
	store chatstore.Store,
	queryEngine *query.Engine,
	synthesizer *synth.Synthesizer,
	catalogClient *catalog.Client,
	log *slog.Logger,
) *Server {
	s := &Server{
		logger:      log.With("component", "httpapi"),
		store:       store,
		engine:      queryEngine,
		slot:        query.NewSlot(queryEngine),
		synthesizer: synthesizer,
		catalog:     catalogClient,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), logger.Middleware(s.logger))

	api := router.Group("/api")
	{
		api.GET("/conversations", s.handleListConversations)
		api.GET("/search", s.handleSearch)
		api.POST("/synthesize", s.handleSynthesize)

		auth := api.Group("/auth")
		{
			auth.GET("/status", s.handleAuthStatus)
			auth.GET("/login", s.handleAuthLogin)
			auth.GET("/callback", s.handleAuthCallback)
		}
	}

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start runs the server until Shutdown is called or the listener fails.
func (s *Server) Start() error {
	s.logger.Info("HTTP API listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.slot.Cancel()
	return s.http.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}
