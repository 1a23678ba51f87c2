// Package httpapi is the control surface: engine start/stop, live position
// snapshots, event history and health. It observes and commands the engine
// but sits outside the trading path.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"vela/internal/engine"
	"vela/internal/logger"
	"vela/internal/store/eventlog"
)

type Server struct {
	addr   string
	router *gin.Engine
}

type ServerConfig struct {
	Addr   string
	Engine *engine.Engine
	Events *eventlog.Store

	// RunCtx is the lifetime handed to Engine.Start on POST /api/engine/start.
	RunCtx context.Context
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("http server requires an engine")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8712"
	}
	if cfg.RunCtx == nil {
		cfg.RunCtx = context.Background()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	health := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "running": cfg.Engine.Running()})
	}
	router.GET("/healthz", health)

	api := router.Group("/api")
	api.GET("/health", health)
	h := &handlers{engine: cfg.Engine, events: cfg.Events, runCtx: cfg.RunCtx}
	api.POST("/engine/start", h.startEngine)
	api.POST("/engine/stop", h.stopEngine)
	api.GET("/engine/status", h.engineStatus)
	api.GET("/positions", h.listPositions)
	api.GET("/events", h.listEvents)

	return &Server{addr: cfg.Addr, router: router}, nil
}

func (s *Server) Addr() string { return s.addr }

// Start serves until the context ends or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

type handlers struct {
	engine *engine.Engine
	events *eventlog.Store
	runCtx context.Context
}

func (h *handlers) startEngine(c *gin.Context) {
	if h.engine.Running() {
		c.JSON(http.StatusConflict, gin.H{"error": "engine already running"})
		return
	}
	if err := h.engine.Start(h.runCtx); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func (h *handlers) stopEngine(c *gin.Context) {
	if !h.engine.Running() {
		c.JSON(http.StatusConflict, gin.H{"error": "engine not running"})
		return
	}
	h.engine.Stop()
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (h *handlers) engineStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"running":   h.engine.Running(),
		"positions": len(h.engine.Positions()),
		"halted":    h.engine.Halted(),
	})
}

func (h *handlers) listPositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": h.engine.Positions()})
}

func (h *handlers) listEvents(c *gin.Context) {
	if h.events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event log not enabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	q := eventlog.Query{
		Symbol: strings.TrimSpace(c.Query("symbol")),
		Type:   strings.TrimSpace(c.Query("type")),
		Limit:  limit,
	}
	if since := strings.TrimSpace(c.Query("since")); since != "" {
		if ts, err := time.Parse(time.RFC3339, since); err == nil {
			q.Since = ts
		}
	}
	items, err := h.events.List(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": items})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		c.Next()
		logger.Debugf("HTTP %s %s status=%d dur=%s", method, path, c.Writer.Status(), time.Since(start))
	}
}
