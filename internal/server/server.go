// Package server exposes session control over HTTP.
//
// Routes:
//
//	GET  /api/v1/health
//	POST /api/v1/session          start (202, 409 while one is running)
//	GET  /api/v1/session          status and outcome
//	POST /api/v1/session/pause
//	POST /api/v1/session/resume
//	POST /api/v1/session/stop
//	GET  /api/v1/session/events   SSE progress, then a final "outcome" event
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jmylchreest/slipstream/internal/logger"
	"github.com/jmylchreest/slipstream/internal/models"
	"github.com/jmylchreest/slipstream/internal/version"
)

// Config holds HTTP server settings.
type Config struct {
	Addr string `mapstructure:"addr"`
	// Mode is the gin mode: debug, release or test.
	Mode string `mapstructure:"mode"`
	// RequestsPerSecond per client IP. Zero or less disables limiting.
	RequestsPerSecond float64       `mapstructure:"rate_limit"`
	Burst             int           `mapstructure:"burst"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:              ":8080",
		Mode:              gin.ReleaseMode,
		RequestsPerSecond: 5,
		Burst:             10,
		ShutdownTimeout:   10 * time.Second,
	}
}

// Server is the HTTP control surface for a Manager.
type Server struct {
	cfg     Config
	manager *Manager
	engine  *gin.Engine
	started time.Time
}

// New builds the router.
func New(cfg Config, m *Manager) *Server {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	s := &Server{cfg: cfg, manager: m, started: time.Now()}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())

	v1 := r.Group("/api/v1")
	v1.GET("/health", s.health)

	api := v1.Group("")
	if cfg.RequestsPerSecond > 0 {
		api.Use(rateLimit(cfg.RequestsPerSecond, cfg.Burst))
	}
	api.POST("/session", s.startSession)
	api.GET("/session", s.sessionStatus)
	api.POST("/session/pause", s.pause)
	api.POST("/session/resume", s.resume)
	api.POST("/session/stop", s.stop)
	api.GET("/session/events", s.events)

	s.engine = r
	return s
}

// Handler returns the gin engine.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is done, then stops the running session and shuts
// the listener down.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn("session did not stop in time", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// --- Handlers ---

type healthResponse struct {
	Status  string       `json:"status"`
	Session string       `json:"session"`
	Uptime  string       `json:"uptime"`
	Version version.Info `json:"version"`
}

func (s *Server) health(c *gin.Context) {
	state := "idle"
	if t := s.manager.Current(); t != nil {
		state = t.Status().State
	}
	c.JSON(http.StatusOK, healthResponse{
		Status:  "ok",
		Session: state,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Version: version.Get(),
	})
}

func (s *Server) startSession(c *gin.Context) {
	var req models.ScrapeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, models.NewScrapeError(models.ErrCodeInvalidRequest, "malformed request body", err))
		return
	}
	t, err := s.manager.Start(req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, t.Status())
}

func (s *Server) sessionStatus(c *gin.Context) {
	t, ok := s.current(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, t.Status())
}

type controlResponse struct {
	Changed bool   `json:"changed"`
	Status  Status `json:"status"`
}

func (s *Server) pause(c *gin.Context) {
	t, ok := s.running(c)
	if !ok {
		return
	}
	changed := t.Pause()
	c.JSON(http.StatusOK, controlResponse{Changed: changed, Status: t.Status()})
}

func (s *Server) resume(c *gin.Context) {
	t, ok := s.running(c)
	if !ok {
		return
	}
	changed := t.Resume()
	c.JSON(http.StatusOK, controlResponse{Changed: changed, Status: t.Status()})
}

func (s *Server) stop(c *gin.Context) {
	t, ok := s.running(c)
	if !ok {
		return
	}
	t.Stop()
	c.JSON(http.StatusAccepted, controlResponse{Changed: true, Status: t.Status()})
}

// events streams progress as server-sent events. ?from=n skips the first n.
func (s *Server) events(c *gin.Context) {
	t, ok := s.current(c)
	if !ok {
		return
	}
	from, err := strconv.Atoi(c.DefaultQuery("from", "0"))
	if err != nil || from < 0 {
		abortWithError(c, models.NewScrapeError(models.ErrCodeInvalidRequest, "from must be a non-negative integer", nil))
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	reqCtx := c.Request.Context()
	c.Stream(func(_ io.Writer) bool {
		evs, out, changed := t.Since(from)
		for _, ev := range evs {
			c.SSEvent("progress", ev)
		}
		from += len(evs)
		if out != nil {
			c.SSEvent("outcome", out)
			return false
		}
		select {
		case <-changed:
			return true
		case <-reqCtx.Done():
			return false
		}
	})
}

func (s *Server) current(c *gin.Context) (*Tracked, bool) {
	t := s.manager.Current()
	if t == nil {
		abortWithError(c, models.NewScrapeError(models.ErrCodeNotFound, "no session has been started", nil))
		return nil, false
	}
	return t, true
}

func (s *Server) running(c *gin.Context) (*Tracked, bool) {
	t, ok := s.current(c)
	if !ok {
		return nil, false
	}
	if t.Finished() {
		abortWithError(c, models.NewScrapeError(models.ErrCodeConflict, "session "+t.ID()+" has already finished", nil))
		return nil, false
	}
	return t, true
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(httpStatus(err), models.Detail(err))
}

func httpStatus(err error) int {
	switch models.Code(err) {
	case models.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case models.ErrCodeConflict:
		return http.StatusConflict
	case models.ErrCodeNotFound:
		return http.StatusNotFound
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
