package server

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/chess-arena/internal/obslog"
)

const wsWriteTimeout = 10 * time.Second

// GET /api/matches/:id/events — WebSocket stream. The first frame is always a
// full state snapshot; move, clock and presence events follow. A client that
// loses the socket reconnects and starts from a fresh snapshot.
func (s *Server) events(c *gin.Context) {
	matchID := c.Param("id")
	playerID := c.Query("player")

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("ws_accept_error", zap.String("match_id", matchID), zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closed")

	ctx := c.Request.Context()
	sub, err := s.hub.Subscribe(ctx, matchID, playerID)
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sub.Close(closeCtx)
	}()

	// Reads are drained only to observe disconnects; the stream is one-way.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "server shutdown")
			return
		case <-readDone:
			return
		case ev, ok := <-sub.C:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "stream ended")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					obslog.L().Debug("ws_write_error", zap.String("match_id", matchID), zap.Error(err))
				}
				return
			}
		}
	}
}
