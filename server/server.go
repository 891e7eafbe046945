// Package server exposes the legal assistant over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/lexgraph/graph"
	"github.com/dshills/lexgraph/graph/emit"
	"github.com/dshills/lexgraph/graph/store"
	"github.com/dshills/lexgraph/legal"
	"github.com/dshills/lexgraph/logger"
)

// Workflow is the part of legal.Assistant the server drives.
type Workflow interface {
	Run(ctx context.Context, userID, threadID, query string) (legal.Result, error)
	Resume(ctx context.Context, userID, threadID, feedback string) (legal.Result, error)
	GetState(ctx context.Context, userID, threadID string) (legal.Snapshot, error)
}

// Server routes HTTP requests to a Workflow.
type Server struct {
	wf       Workflow
	events   *emit.BufferedEmitter
	secret   []byte
	log      logger.Logger
	gatherer prometheus.Gatherer
}

// Option configures a Server.
type Option func(*Server)

// WithEvents returns each call's engine events in its response. The emitter
// must be the one the workflow emits to.
func WithEvents(b *emit.BufferedEmitter) Option {
	return func(s *Server) { s.events = b }
}

// WithLogger sets the request logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithGatherer sets the registry served on /metrics. The default registry is
// used otherwise.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// New creates a Server. secret verifies bearer tokens.
func New(wf Workflow, secret []byte, opts ...Option) *Server {
	s := &Server{
		wf:       wf,
		secret:   secret,
		log:      logger.NewNop(),
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type chatRequest struct {
	Query string `json:"query" binding:"required"`
}

type resumeRequest struct {
	Feedback string `json:"feedback" binding:"required"`
}

type chatResponse struct {
	ThreadID string       `json:"thread_id"`
	RunID    string       `json:"run_id"`
	PausedAt string       `json:"paused_at,omitempty"`
	Answer   string       `json:"answer"`
	State    legal.State  `json:"state"`
	Events   []emit.Event `json:"events,omitempty"`
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	chat := r.Group("/chat", JWTAuth(s.secret))
	chat.POST("", s.handleNewChat)
	chat.POST("/:thread_id", s.handleChat)
	chat.POST("/:thread_id/resume", s.handleResume)
	chat.GET("/:thread_id/state", s.handleState)

	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server", "listening", map[string]interface{}{"addr": addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleNewChat(c *gin.Context) {
	s.chat(c, uuid.NewString())
}

func (s *Server) handleChat(c *gin.Context) {
	s.chat(c, c.Param("thread_id"))
}

func (s *Server) chat(c *gin.Context, threadID string) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := s.wf.Run(c.Request.Context(), userID(c), threadID, req.Query)
	s.respond(c, res, err)
}

func (s *Server) handleResume(c *gin.Context) {
	var req resumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := s.wf.Resume(c.Request.Context(), userID(c), c.Param("thread_id"), req.Feedback)
	s.respond(c, res, err)
}

func (s *Server) handleState(c *gin.Context) {
	snap, err := s.wf.GetState(c.Request.Context(), userID(c), c.Param("thread_id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) respond(c *gin.Context, res legal.Result, err error) {
	var events []emit.Event
	if s.events != nil && res.RunID != "" {
		events = s.events.GetHistory(res.RunID)
		s.events.Clear(res.RunID)
	}

	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.log.Error("server", "workflow call failed", map[string]interface{}{
				"user_id":   userID(c),
				"thread_id": res.ThreadID,
				"error":     err.Error(),
			})
		}
		c.JSON(status, gin.H{"error": err.Error(), "thread_id": res.ThreadID, "events": events})
		return
	}

	c.JSON(http.StatusOK, chatResponse{
		ThreadID: res.ThreadID,
		RunID:    res.RunID,
		PausedAt: res.PausedAt,
		Answer:   res.State.Answer,
		State:    res.State,
		Events:   events,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, legal.ErrEmptyQuery), errors.Is(err, legal.ErrEmptyFeedback):
		return http.StatusBadRequest
	case errors.Is(err, graph.ErrNoCheckpoint):
		return http.StatusNotFound
	case graph.IsContractViolation(err), errors.Is(err, graph.ErrNotPaused), errors.Is(err, store.ErrLockTimeout):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("server", "request", map[string]interface{}{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}
}
