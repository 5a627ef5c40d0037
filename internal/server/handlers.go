package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/park285/chess-arena/internal/boardimg"
	"github.com/park285/chess-arena/internal/match"
	"github.com/park285/chess-arena/internal/rules"
	"github.com/park285/chess-arena/internal/store"
	"github.com/park285/chess-arena/pkg/arenadto"
)

// POST /api/queue
func (s *Server) enqueue(c *gin.Context) {
	var req arenadto.EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.PlayerID == "" {
		badRequest(c, "player_id is required")
		return
	}

	// The durable rating is authoritative; the request rating is only a hint
	// for players the store has never seen.
	ratingValue := req.Rating
	if p, err := s.st.EnsurePlayer(c.Request.Context(), req.PlayerID); err == nil {
		ratingValue = p.Rating
	} else if !errors.Is(err, store.ErrUnavailable) {
		writeError(c, err)
		return
	}

	ch, err := s.queue.Enqueue(c.Request.Context(), req.PlayerID, ratingValue)
	if err != nil {
		writeError(c, err)
		return
	}

	// Answer immediately when the enqueue itself produced a pairing.
	select {
	case p := <-ch:
		c.JSON(http.StatusOK, arenadto.EnqueueResponse{PlayerID: req.PlayerID, Queued: false, MatchID: p.MatchID})
	default:
		c.JSON(http.StatusAccepted, arenadto.EnqueueResponse{PlayerID: req.PlayerID, Queued: true})
	}
}

// DELETE /api/queue/:player
func (s *Server) cancelQueue(c *gin.Context) {
	s.queue.Cancel(c.Param("player"))
	c.Status(http.StatusNoContent)
}

// GET /api/queue/:player — long poll that resolves when a pairing lands.
func (s *Server) pollQueue(c *gin.Context) {
	playerID := c.Param("player")

	if p, ok := s.queue.TakePairing(playerID); ok {
		c.JSON(http.StatusOK, arenadto.EnqueueResponse{PlayerID: playerID, Queued: false, MatchID: p.MatchID})
		return
	}
	if !s.queue.Queued(playerID) {
		writeError(c, match.ErrNotFound)
		return
	}

	deadline := time.NewTimer(queuePollWait)
	defer deadline.Stop()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-deadline.C:
			c.JSON(http.StatusOK, arenadto.EnqueueResponse{PlayerID: playerID, Queued: true})
			return
		case <-ticker.C:
			if p, ok := s.queue.TakePairing(playerID); ok {
				c.JSON(http.StatusOK, arenadto.EnqueueResponse{PlayerID: playerID, Queued: false, MatchID: p.MatchID})
				return
			}
		}
	}
}

// GET /api/matches/:id
func (s *Server) getMatch(c *gin.Context) {
	m, err := s.matches.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m.Snapshot(time.Now()))
}

// POST /api/matches/:id/moves
func (s *Server) postMove(c *gin.Context) {
	var req arenadto.MoveRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.PlayerID == "" || req.From == "" || req.To == "" {
		badRequest(c, "player_id, from and to are required")
		return
	}

	m, _, err := s.matches.Commit(c.Request.Context(), c.Param("id"), req.PlayerID, req)
	if err != nil {
		s.writeMatchError(c, c.Param("id"), err)
		return
	}
	c.JSON(http.StatusOK, m.Snapshot(time.Now()))
}

// POST /api/matches/:id/resign
func (s *Server) postResign(c *gin.Context) {
	var req arenadto.ResignRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.PlayerID == "" {
		badRequest(c, "player_id is required")
		return
	}

	m, err := s.matches.Resign(c.Request.Context(), c.Param("id"), req.PlayerID)
	if err != nil {
		s.writeMatchError(c, c.Param("id"), err)
		return
	}
	c.JSON(http.StatusOK, m.Snapshot(time.Now()))
}

// GET /api/matches/:id/moves?from=e2 — legal moves in the live position.
func (s *Server) getLegalMoves(c *gin.Context) {
	m, err := s.matches.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	pos, err := rules.FromFEN(m.FEN)
	if err != nil {
		writeError(c, err)
		return
	}
	moves := rules.LegalMoves(pos, c.Query("from"))
	c.JSON(http.StatusOK, gin.H{"match_id": m.ID, "turn": string(pos.Turn()), "moves": moves})
}

// GET /api/matches/:id/board.png
func (s *Server) getBoardPNG(c *gin.Context) {
	m, err := s.matches.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	opts := boardimg.Options{}
	if n := len(m.MovesUCI); n > 0 {
		last := m.MovesUCI[n-1]
		if len(last) >= 4 {
			opts.LastFrom, opts.LastTo = last[:2], last[2:4]
		}
	}
	img, err := boardimg.RenderPNG(c.Request.Context(), m.FEN, opts)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", img)
}

// GET /api/matches/:id/pgn
func (s *Server) getPGN(c *gin.Context) {
	m, err := s.matches.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		// Finished matches may have been evicted from Redis; the durable row
		// still has the PGN.
		if errors.Is(err, match.ErrNotFound) {
			if pgn, serr := s.st.LoadPGN(c.Request.Context(), c.Param("id")); serr == nil {
				c.Data(http.StatusOK, "application/x-chess-pgn", []byte(pgn))
				return
			}
		}
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/x-chess-pgn", []byte(store.BuildPGN(m)))
}
