// Package server exposes a read-only JSON view of the activity log.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bassamadnan/mailpilot/classifier"
	"github.com/bassamadnan/mailpilot/logger"
	"github.com/bassamadnan/mailpilot/store"
)

const (
	defaultLimit    = 50
	maxLimit        = 500
	shutdownTimeout = 5 * time.Second
)

// Server serves /health, /api/emails and /api/stats.
type Server struct {
	logs   store.LogReader
	state  func() string
	log    *zap.Logger
	engine *gin.Engine
}

// New builds the router. state reports the agent's current step and may be
// nil.
func New(logs store.LogReader, state func() string, log *zap.Logger) *Server {
	s := &Server{logs: logs, state: state, log: logger.OrDefault(log)}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.log))
	r.GET("/health", s.health)
	api := r.Group("/api")
	api.GET("/emails", s.listEmails)
	api.GET("/stats", s.stats)
	s.engine = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("status server listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if s.state != nil {
		body["state"] = s.state()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) listEmails(c *gin.Context) {
	limit := defaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxLimit)
	}

	logs, err := s.logs.ListLogs(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read email logs"})
		return
	}
	c.JSON(http.StatusOK, logs)
}

func (s *Server) stats(c *gin.Context) {
	st, err := s.logs.Stats(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read stats"})
		return
	}

	categories := make(map[string]int, len(st.Categories))
	for _, cat := range classifier.Categories() {
		categories[string(cat)] = 0
	}
	for cat, n := range st.Categories {
		categories[cat] = n
	}
	c.JSON(http.StatusOK, gin.H{"total": st.Total, "categories": categories})
}
