// Package monitor serves health, metrics and run history over HTTP while
// watch mode is running.
package monitor

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xeonx/timeago"
	"go.uber.org/zap"

	"github.com/gotrs-io/shopwalk/internal/report"
	"github.com/gotrs-io/shopwalk/internal/runner"
	"github.com/gotrs-io/shopwalk/internal/runstore"
	"github.com/gotrs-io/shopwalk/internal/storage"
	"github.com/gotrs-io/shopwalk/internal/version"
)

// RunSource reads stored runs.
type RunSource interface {
	ListRuns(ctx context.Context, limit int) ([]*report.Run, error)
	GetRun(ctx context.Context, id string) (*report.Run, error)
}

// Scheduler reports task state and accepts manual triggers.
type Scheduler interface {
	Status() []runner.TaskStatus
	Trigger(name string) error
}

// DefaultLimit caps /runs when no limit is given.
const DefaultLimit = 20

// Options wires the server's collaborators. Runs, Scheduler and Store may
// be nil; the matching routes then answer 503.
type Options struct {
	Runs      RunSource
	Scheduler Scheduler
	Store     storage.Backend
	Gatherer  prometheus.Gatherer
	// Tokens guards POST /runs when set.
	Tokens *TokenManager
	Logger *zap.Logger
	Now    func() time.Time
}

// Server is the monitor HTTP surface.
type Server struct {
	opts   Options
	engine *gin.Engine
	logger *zap.Logger
	hub    *Hub
}

// New builds the router.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{opts: opts, logger: opts.Logger, hub: NewHub(opts.Logger)}
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), AccessLog(opts.Logger))

	r.GET("/healthz", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	r.GET("/runs", s.listRuns)
	r.POST("/runs", RequireToken(opts.Tokens), s.triggerRun)
	r.GET("/runs/events", s.hub.serve)
	r.GET("/runs/:id", s.getRun)
	r.GET("/runs/:id/report", s.getReport)
	r.GET("/runs/:id/artifacts", s.listArtifacts)

	s.engine = r
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Hub returns the event hub behind /runs/events.
func (s *Server) Hub() *Hub { return s.hub }

// PublishRun announces a finished run to event subscribers.
func (s *Server) PublishRun(run *report.Run) {
	if run == nil {
		return
	}
	s.hub.Publish(Event{Type: EventRunFinished, At: s.opts.Now(), Run: s.summarize(run)})
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("monitor listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.hub.Close()
	return srv.Shutdown(shutdownCtx)
}

// RunSummary is the /runs list entry.
type RunSummary struct {
	ID         string        `json:"id"`
	Status     report.Status `json:"status"`
	Driver     string        `json:"driver"`
	BaseURL    string        `json:"base_url"`
	StartedAt  time.Time     `json:"started_at"`
	Age        string        `json:"age"`
	Duration   string        `json:"duration"`
	Passed     int           `json:"passed"`
	Steps      int           `json:"steps"`
	FailedStep string        `json:"failed_step,omitempty"`
	Error      string        `json:"error,omitempty"`
}

func (s *Server) summarize(run *report.Run) RunSummary {
	sum := RunSummary{
		ID:        run.ID,
		Status:    run.Status,
		Driver:    run.Driver,
		BaseURL:   run.BaseURL,
		StartedAt: run.StartedAt,
		Age:       s.age(run.StartedAt),
		Duration:  report.FormatDuration(run.Duration()),
		Passed:    run.Count(report.StatusPassed),
		Steps:     len(run.Steps),
	}
	if failed := run.FailedStep(); failed != nil {
		sum.FailedStep = failed.Name
		sum.Error = failed.Error
	}
	return sum
}

func (s *Server) age(t time.Time) string {
	return timeago.English.FormatReference(t, s.opts.Now())
}

func (s *Server) health(c *gin.Context) {
	resp := gin.H{
		"status":  "ok",
		"version": version.Version,
	}
	if s.opts.Scheduler != nil {
		resp["tasks"] = s.opts.Scheduler.Status()
	}
	if s.opts.Store != nil {
		resp["artifacts"] = s.opts.Store.GetInfo()
		if err := s.opts.Store.HealthCheck(c.Request.Context()); err != nil {
			resp["status"] = "degraded"
			resp["error"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
	}
	if s.opts.Runs != nil {
		runs, err := s.opts.Runs.ListRuns(c.Request.Context(), 1)
		if err != nil {
			resp["status"] = "degraded"
			resp["error"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
		if len(runs) > 0 {
			resp["last_run"] = s.summarize(runs[0])
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) listRuns(c *gin.Context) {
	if s.opts.Runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run history is disabled"})
		return
	}
	limit := DefaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	runs, err := s.opts.Runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list runs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}
	out := make([]RunSummary, 0, len(runs))
	for _, run := range runs {
		out = append(out, s.summarize(run))
	}
	c.JSON(http.StatusOK, gin.H{"runs": out, "count": len(out)})
}

func (s *Server) triggerRun(c *gin.Context) {
	if s.opts.Scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scheduler is not running"})
		return
	}
	task := c.DefaultQuery("task", "journey")
	if err := s.opts.Scheduler.Trigger(task); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "triggered", "task": task})
}

func (s *Server) loadRun(c *gin.Context) (*report.Run, bool) {
	if s.opts.Runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run history is disabled"})
		return nil, false
	}
	run, err := s.opts.Runs.GetRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, runstore.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return nil, false
	}
	if err != nil {
		s.logger.Error("failed to load run", zap.String("run_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load run"})
		return nil, false
	}
	return run, true
}

func (s *Server) getRun(c *gin.Context) {
	run, ok := s.loadRun(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"run":     run,
		"summary": s.summarize(run),
	})
}

// getReport renders the run as markdown, or as HTML with ?format=html.
func (s *Server) getReport(c *gin.Context) {
	run, ok := s.loadRun(c)
	if !ok {
		return
	}
	switch c.DefaultQuery("format", "md") {
	case "md", "markdown":
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(report.Markdown(run)))
	case "html":
		page, err := report.HTML(run, s.opts.Now())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", page)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be md or html"})
	}
}

func (s *Server) listArtifacts(c *gin.Context) {
	if s.opts.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "artifact storage is not configured"})
		return
	}
	refs, err := s.opts.Store.List(c.Request.Context(), c.Param("id"))
	if errors.Is(err, storage.ErrInvalidName) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"artifacts": refs, "count": len(refs)})
}
