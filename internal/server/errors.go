package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/park285/chess-arena/internal/match"
	"github.com/park285/chess-arena/internal/matchmaking"
	"github.com/park285/chess-arena/internal/rules"
	"github.com/park285/chess-arena/internal/store"
	"github.com/park285/chess-arena/pkg/arenadto"
)

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, arenadto.DomainError{Code: "bad_request", Message: msg})
}

// writeError maps domain errors onto HTTP statuses. Conflicts are retryable:
// the client refetches the snapshot and retries against it.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, match.ErrNotFound):
		c.JSON(http.StatusNotFound, arenadto.DomainError{Code: "not_found", Message: "match not found"})
	case errors.Is(err, match.ErrNotParticipant):
		c.JSON(http.StatusForbidden, arenadto.DomainError{Code: "not_participant", Message: err.Error()})
	case errors.Is(err, rules.ErrIllegalMove), errors.Is(err, match.ErrNotYourTurn):
		c.JSON(http.StatusUnprocessableEntity, arenadto.DomainError{Code: "rejected_move", Message: err.Error()})
	case errors.Is(err, rules.ErrMalformedPosition):
		c.JSON(http.StatusUnprocessableEntity, arenadto.DomainError{Code: "malformed_position", Message: err.Error()})
	case errors.Is(err, match.ErrStaleState), errors.Is(err, match.ErrAlreadyTerminal):
		c.JSON(http.StatusConflict, arenadto.DomainError{Code: "stale_state", Message: err.Error(), Retryable: true})
	case errors.Is(err, matchmaking.ErrAlreadyQueued):
		c.JSON(http.StatusConflict, arenadto.DomainError{Code: "already_queued", Message: err.Error()})
	case errors.Is(err, matchmaking.ErrInvalidEntry):
		c.JSON(http.StatusBadRequest, arenadto.DomainError{Code: "bad_request", Message: err.Error()})
	case errors.Is(err, store.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, arenadto.DomainError{Code: "store_unavailable", Message: "durable store unavailable", Retryable: true})
	default:
		c.JSON(http.StatusInternalServerError, arenadto.DomainError{Code: "internal", Message: "internal error"})
	}
}

// writeMatchError is writeError plus the current snapshot on conflicts, so a
// client that raced another writer can resync silently from the response.
func (s *Server) writeMatchError(c *gin.Context, matchID string, err error) {
	if errors.Is(err, match.ErrStaleState) || errors.Is(err, match.ErrAlreadyTerminal) {
		if m, gerr := s.matches.Get(c.Request.Context(), matchID); gerr == nil {
			c.JSON(http.StatusConflict, gin.H{
				"error":    arenadto.DomainError{Code: "stale_state", Message: err.Error(), Retryable: true},
				"snapshot": m.Snapshot(time.Now()),
			})
			return
		}
	}
	writeError(c, err)
}
