// Package server exposes the engine over HTTP and WebSocket: REST endpoints
// for the current snapshot and manual refresh, plus a hub that pushes every
// published snapshot to connected clients.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"portfolio-sentinel/internal/engine"
	"portfolio-sentinel/internal/logger"
	"portfolio-sentinel/internal/store"
	"portfolio-sentinel/internal/types"
)

// Server serves the snapshot API and the WebSocket hub.
type Server struct {
	cfg    *store.Config
	eng    *engine.Engine
	router *gin.Engine
	http   *http.Server

	clients    map[*client]struct{}
	broadcast  chan types.Snapshot
	register   chan *client
	unregister chan *client
	hubDone    chan struct{} // closed when hubLoop exits

	refreshMu sync.Mutex // serializes manual refresh triggers
}

// New builds the server and subscribes it to the engine's snapshot stream.
func New(cfg *store.Config, eng *engine.Engine) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:        cfg,
		eng:        eng,
		router:     gin.New(),
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan types.Snapshot, 64),
		register:   make(chan *client),
		unregister: make(chan *client),
		hubDone:    make(chan struct{}),
	}
	s.router.Use(gin.Recovery())
	s.routes()

	eng.Subscribe(s.Publish)
	return s
}

func (s *Server) routes() {
	api := s.router.Group("/api")
	api.GET("/snapshot", s.getSnapshot)
	api.POST("/refresh", s.postRefresh)
	api.GET("/health", s.getHealth)

	s.router.GET("/ws", s.handleWebSocket)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go s.hubLoop(ctx)

	s.http = &http.Server{Addr: s.cfg.Server.Addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "http server listening", "addr", s.cfg.Server.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Publish queues a snapshot for broadcast. Drops the update when the hub is
// backed up; clients always get the latest state on the next cycle anyway.
func (s *Server) Publish(snap types.Snapshot) {
	select {
	case s.broadcast <- snap:
	default:
		logger.Warn(context.Background(), "broadcast queue full, snapshot dropped", "generation", snap.Generation)
	}
}

func (s *Server) getSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, s.eng.Snapshot())
}

// postRefresh kicks off a new fetch generation in the background. The
// response carries the snapshot state at trigger time; clients follow the
// WebSocket stream for progress.
func (s *Server) postRefresh(c *gin.Context) {
	go func() {
		s.refreshMu.Lock()
		defer s.refreshMu.Unlock()
		if _, err := s.eng.Refresh(context.Background()); err != nil {
			logger.ErrorWithErr(context.Background(), "manual refresh failed", err)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{
		"status": "refresh started",
		"busy":   true,
	})
}

func (s *Server) getHealth(c *gin.Context) {
	snap := s.eng.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"busy":       snap.Busy,
		"phase":      snap.Phase,
		"generation": snap.Generation,
		"as_of":      snap.AsOf,
	})
}
