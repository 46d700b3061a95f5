// Package server exposes tracking, click-intent, telephony webhook and
// admin endpoints over HTTP.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/headline-goat/callgoat/internal/attribution"
	"github.com/headline-goat/callgoat/internal/config"
	apperrors "github.com/headline-goat/callgoat/internal/errors"
	"github.com/headline-goat/callgoat/internal/experiment"
	"github.com/headline-goat/callgoat/internal/metrics"
	"github.com/headline-goat/callgoat/internal/stats"
	"github.com/headline-goat/callgoat/internal/store"
)

// Store is the direct store access handlers need beyond the services.
type Store interface {
	Ping(ctx context.Context) error
	SizeBytes(ctx context.Context) (int64, error)
	GetCall(ctx context.Context, callSid string) (*store.CallRecord, error)
	ListCalls(ctx context.Context, limit int) ([]*store.CallRecord, error)
	GetEvents(ctx context.Context, experiment string) ([]*store.Event, error)
	GetAssignment(ctx context.Context, experiment, visitorID string) (*store.Assignment, error)
}

// Deps are the services the server routes requests to.
type Deps struct {
	Store      Store
	Registry   *experiment.Registry
	Assigner   *experiment.Assigner
	Recorder   *experiment.Recorder
	Stats      *stats.Engine
	Attributor *attribution.Attributor
	Metrics    *metrics.Metrics
	Log        logrus.FieldLogger
}

type Server struct {
	cfg       *config.Config
	deps      Deps
	log       logrus.FieldLogger
	token     string
	tokenFile string
	router    *gin.Engine
	startTime time.Time
}

// New builds the server. The admin token comes from cfg, or is generated
// when cfg leaves it empty.
func New(cfg *config.Config, deps Deps, tokenFile string) *Server {
	token := cfg.AdminToken
	if token == "" {
		token = generateToken()
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &Server{
		cfg:       cfg,
		deps:      deps,
		log:       deps.Log,
		token:     token,
		tokenFile: tokenFile,
		router:    gin.New(),
		startTime: time.Now(),
	}

	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery(), s.requestLogger(), apperrors.ExposeDetails(s.cfg.HTTP.ExposeErrorDetails))

	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))

	// Browser-facing endpoints are called cross-origin from the marketing site.
	public := s.router.Group("/", cors.New(corsConfig(s.cfg.CORS.AllowedOrigins)), limitBody(s.cfg.HTTP.MaxBodyBytes))
	{
		public.POST("/track", s.handleTrack)
		public.GET("/variant", s.handleVariant)
		public.POST("/call-track", s.handleCallTrack)
		public.OPTIONS("/track", noContent)
		public.OPTIONS("/variant", noContent)
		public.OPTIONS("/call-track", noContent)
	}

	s.router.POST("/webhooks/call", limitBody(s.cfg.HTTP.MaxBodyBytes), s.handleCallWebhook)

	api := s.router.Group("/api", s.authMiddleware())
	{
		api.GET("/experiments", s.handleListExperiments)
		api.POST("/experiments", s.handleCreateExperiment)
		api.GET("/experiments/:name/stats", s.handleExperimentStats)
		api.GET("/experiments/:name/events", s.handleExperimentEvents)
		api.POST("/experiments/:name/winner", s.handleSetWinner)
		api.POST("/experiments/:name/reset", s.handleReset)
		api.GET("/calls", s.handleListCalls)
		api.GET("/calls/:sid", s.handleGetCall)
	}
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			// credentials rule out a literal "*", so echo the caller's origin
			cfg.AllowOriginFunc = func(string) bool { return true }
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	return cfg
}

// limitBody caps the request body at n bytes. Reads past the limit fail
// with *http.MaxBytesError.
func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if n > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	return s.StartWithOptions(ctx, true)
}

// StartQuiet starts the server without printing startup messages
func (s *Server) StartQuiet(ctx context.Context) error {
	return s.StartWithOptions(ctx, false)
}

func (s *Server) StartWithOptions(ctx context.Context, printMessages bool) error {
	// Write token to file for the token command
	if s.tokenFile != "" {
		if err := os.WriteFile(s.tokenFile, []byte(s.token), 0600); err != nil {
			s.log.WithError(err).Warn("failed to write token file")
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if printMessages {
		fmt.Println()
		fmt.Printf("callgoat running on http://localhost:%d\n", s.cfg.Port)
		fmt.Printf("Admin API: http://localhost:%d/api/experiments?token=%s\n", s.cfg.Port, s.token)
		fmt.Println()
		fmt.Println("Press Ctrl+C to stop")
	}

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

func (s *Server) Token() string {
	return s.token
}

func (s *Server) StartTime() time.Time {
	return s.startTime
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func generateToken() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		panic(fmt.Sprintf("server: generate token: %v", err))
	}
	return hex.EncodeToString(bytes)
}
