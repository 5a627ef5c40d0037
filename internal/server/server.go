// Package server exposes the arena over HTTP and WebSocket using gin.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/config"
	"github.com/park285/chess-arena/internal/match"
	"github.com/park285/chess-arena/internal/matchmaking"
	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/store"
	"github.com/park285/chess-arena/internal/syncchan"
)

// queuePollWait caps how long GET /api/queue/:player blocks for a pairing.
const queuePollWait = 25 * time.Second

type Server struct {
	cfg     *config.AppConfig
	matches *match.Manager
	hub     *syncchan.Hub
	queue   *matchmaking.Queue
	st      store.Store

	http *http.Server
}

func New(cfg *config.AppConfig, matches *match.Manager, hub *syncchan.Hub, queue *matchmaking.Queue, st store.Store) *Server {
	s := &Server{
		cfg:     cfg,
		matches: matches,
		hub:     hub,
		queue:   queue,
		st:      st,
	}
	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLog())

	r.GET("/healthz", s.healthz)

	api := r.Group("/api")
	{
		api.POST("/queue", s.enqueue)
		api.DELETE("/queue/:player", s.cancelQueue)
		api.GET("/queue/:player", s.pollQueue)

		api.GET("/matches/:id", s.getMatch)
		api.POST("/matches/:id/moves", s.postMove)
		api.POST("/matches/:id/resign", s.postResign)
		api.GET("/matches/:id/moves", s.getLegalMoves)
		api.GET("/matches/:id/pgn", s.getPGN)
		api.GET("/matches/:id/board.png", s.getBoardPNG)
		api.GET("/matches/:id/events", s.events)
	}
	return r
}

// Run serves until the context is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		obslog.L().Info("http_listen", zap.String("addr", s.cfg.ListenAddr))
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		obslog.L().Debug("http_request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}
