package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"autopress/internal/agent"
	"autopress/internal/cache"
	"autopress/internal/core"
	"autopress/internal/logger"

	"github.com/gin-gonic/gin"
)

// Agent is the pipeline surface the API exposes.
type Agent interface {
	Execute(ctx context.Context, opts agent.Options) (*core.ExecutionRecord, error)
	Running() bool
}

// Schedule is the scheduling surface the API exposes.
type Schedule interface {
	State(ctx context.Context) (core.ScheduleState, error)
	SetEnabled(ctx context.Context, enabled bool) error
	SetIntervalHours(ctx context.Context, hours int) error
	ScheduleNextRun(ctx context.Context) error
}

// History reads past executions.
type History interface {
	GetExecution(ctx context.Context, id string) (*core.ExecutionRecord, error)
	RecentExecutions(ctx context.Context, n int) ([]core.ExecutionRecord, error)
}

// Cache is the cache-control surface the API exposes.
type Cache interface {
	Stats() cache.Stats
	InvalidateByTag(ctx context.Context, tag string)
	InvalidateByPattern(ctx context.Context, pattern string)
	ClearAll(ctx context.Context)
}

// Server is the admin API. It triggers runs, reports status and
// history, controls the schedule, and manages the cache.
type Server struct {
	agent    Agent
	schedule Schedule
	history  History
	cache    Cache
	addr     string
	http     *http.Server
}

// New creates a server. schedule and cache may be nil; their routes
// then answer 503.
func New(addr string, ag Agent, schedule Schedule, history History, c Cache) *Server {
	return &Server{
		agent:    ag,
		schedule: schedule,
		history:  history,
		cache:    c,
		addr:     addr,
	}
}

// Router builds the gin handler. Exposed for tests.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	{
		api.POST("/agent/run", s.handleRun)
		api.GET("/agent/status", s.handleStatus)
		api.GET("/agent/history", s.handleHistory)
		api.GET("/agent/executions/:id", s.handleExecution)
		api.PUT("/agent/schedule", s.handleUpdateSchedule)
		api.GET("/cache/stats", s.handleCacheStats)
		api.POST("/cache/invalidate", s.handleCacheInvalidate)
	}
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}

// Start runs the HTTP server until the context is canceled.
func (s *Server) Start(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin API listening", "addr", s.addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

type runRequest struct {
	ForceCategory string `json:"force_category"`
}

// handleRun starts a pipeline run in the background. A run already in
// flight answers 409.
func (s *Server) handleRun(c *gin.Context) {
	var req runRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	if s.agent.Running() {
		c.JSON(http.StatusConflict, gin.H{"error": "a run is already in progress"})
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if _, err := s.agent.Execute(ctx, agent.Options{Trigger: "manual", ForceCategory: req.ForceCategory}); err != nil {
			logger.Error("manual run failed", err)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

func (s *Server) handleStatus(c *gin.Context) {
	resp := gin.H{"running": s.agent.Running()}

	if s.schedule != nil {
		state, err := s.schedule.State(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "reading schedule state failed"})
			return
		}
		resp["schedule"] = state
	}
	if recent, err := s.history.RecentExecutions(c.Request.Context(), 1); err == nil && len(recent) > 0 {
		resp["last_execution"] = recent[0]
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleHistory(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 200"})
			return
		}
		limit = n
	}
	records, err := s.history.RecentExecutions(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reading history failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": records, "count": len(records)})
}

func (s *Server) handleExecution(c *gin.Context) {
	rec, err := s.history.GetExecution(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reading execution failed"})
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

type scheduleRequest struct {
	Enabled       *bool `json:"enabled"`
	IntervalHours *int  `json:"interval_hours"`
}

func (s *Server) handleUpdateSchedule(c *gin.Context) {
	if s.schedule == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scheduling is not configured"})
		return
	}
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Enabled == nil && req.IntervalHours == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to update"})
		return
	}

	ctx := c.Request.Context()
	if req.Enabled != nil {
		if err := s.schedule.SetEnabled(ctx, *req.Enabled); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "updating enabled flag failed"})
			return
		}
	}
	if req.IntervalHours != nil {
		if err := s.schedule.SetIntervalHours(ctx, *req.IntervalHours); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		// A new interval takes effect now, not after the next run.
		if err := s.schedule.ScheduleNextRun(ctx); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "rescheduling failed"})
			return
		}
	}

	state, err := s.schedule.State(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reading schedule state failed"})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleCacheStats(c *gin.Context) {
	if s.cache == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cache is not configured"})
		return
	}
	c.JSON(http.StatusOK, s.cache.Stats())
}

type invalidateRequest struct {
	Tag     string `json:"tag"`
	Pattern string `json:"pattern"`
	All     bool   `json:"all"`
}

func (s *Server) handleCacheInvalidate(c *gin.Context) {
	if s.cache == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cache is not configured"})
		return
	}
	var req invalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ctx := c.Request.Context()
	switch {
	case req.All:
		s.cache.ClearAll(ctx)
	case req.Tag != "":
		s.cache.InvalidateByTag(ctx, req.Tag)
	case req.Pattern != "":
		s.cache.InvalidateByPattern(ctx, req.Pattern)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "one of tag, pattern, or all is required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "invalidated"})
}
