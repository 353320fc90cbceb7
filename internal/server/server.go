// Package server exposes the leaderboard over HTTP: a JSON API under /api,
// HTML pages, a live event stream, health and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
	"github.com/krellgit/claude-autonomy-tracker/internal/config"
	"github.com/krellgit/claude-autonomy-tracker/internal/format"
	"github.com/krellgit/claude-autonomy-tracker/internal/logger"
	"github.com/krellgit/claude-autonomy-tracker/internal/metrics"
	"github.com/krellgit/claude-autonomy-tracker/internal/models"
	"github.com/krellgit/claude-autonomy-tracker/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// Options configures a Server.
type Options struct {
	Store    *store.Store
	Config   config.ServerConfig
	Log      zerolog.Logger
	Registry *prometheus.Registry
	Out      io.Writer

	// PollInterval is how often the event stream checks for new sessions.
	PollInterval time.Duration
}

// Server is the HTTP front end over a Store.
type Server struct {
	store        *store.Store
	cfg          config.ServerConfig
	log          zerolog.Logger
	registry     *prometheus.Registry
	metrics      *metrics.Metrics
	router       *gin.Engine
	out          io.Writer
	pollInterval time.Duration

	shutdown chan struct{}
	stopOnce sync.Once
}

// New builds the router. It does not listen.
func New(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("server: store is required")
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
		opts.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	if opts.Config.Port <= 0 {
		opts.Config.Port = 8080
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 3 * time.Second
	}

	s := &Server{
		store:        opts.Store,
		cfg:          opts.Config,
		log:          opts.Log,
		registry:     opts.Registry,
		metrics:      metrics.New(opts.Registry),
		out:          opts.Out,
		pollInterval: opts.PollInterval,
		shutdown:     make(chan struct{}),
	}

	tmpl, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	router := gin.New()
	router.Use(gin.Recovery(), logger.Requests(opts.Log), s.metrics.Middleware())
	router.SetHTMLTemplate(tmpl)
	s.registerRoutes(router)
	s.router = router
	return s, nil
}

// Handler returns the router wrapped with CORS and gzip. The event stream is
// left uncompressed so each event reaches the client when flushed.
func (s *Server) Handler() http.Handler {
	gz := gzhttp.GzipHandler(s.router)
	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.GzipEnabled() || strings.HasPrefix(r.URL.Path, "/api/events") {
			s.router.ServeHTTP(w, r)
			return
		}
		gz.ServeHTTP(w, r)
	})

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", logger.RequestIDHeader},
		ExposedHeaders: []string{logger.RequestIDHeader},
	}).Handler(h)
}

// Start listens on the configured port until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. Open event streams
// are closed when shutdown begins so it does not wait on them.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       time.Minute,
		IdleTimeout:       5 * time.Minute,
		MaxHeaderBytes:    8 * 1024,
	}
	srv.RegisterOnShutdown(s.stopStreams)

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("server shutdown")
		}
	}()

	port := s.cfg.Port
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	}
	s.log.Info().Int("port", port).Msg("server listening")
	if s.out != nil {
		fmt.Fprintf(s.out, "Leaderboard running at http://localhost:%d\n", port)
	}

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	<-done
	return nil
}

func (s *Server) stopStreams() {
	s.stopOnce.Do(func() { close(s.shutdown) })
}

// withTimeout bounds every request's context by the configured timeout.
func (s *Server) withTimeout() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.RequestTimeout <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// metricsHandler refreshes the pool gauges before each scrape.
func (s *Server) metricsHandler() gin.HandlerFunc {
	h := promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		if sqlDB, err := s.store.DB().DB(); err == nil {
			s.metrics.RecordDBPoolStats(sqlDB.Stats())
		}
		h.ServeHTTP(c.Writer, c.Request)
	}
}

var templateFuncs = template.FuncMap{
	"duration":      format.Duration,
	"shortDuration": format.ShortDuration,
	"count":         format.Count,
	"relative":      format.Relative,
	"date":          format.Date,
	"inc":           func(i int) int { return i + 1 },
	"row": func(i int, s models.Session) sessionRow {
		return sessionRow{Rank: i + 1, Session: s}
	},
	"deref": func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	},
}

// sessionRow is the argument of the "sessionRow" template.
type sessionRow struct {
	Rank    int
	Session models.Session
}

// parseTemplates loads the embedded HTML templates.
func parseTemplates() (*template.Template, error) {
	tmpl, err := template.New("").Funcs(templateFuncs).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return tmpl, nil
}
