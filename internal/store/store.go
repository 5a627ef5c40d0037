// Package store persists finished matches, the per-move log, and player
// ratings. Live match state lives in Redis; this layer is the durable record
// behind it and the single writer of rating updates.
package store

import (
	"context"
	"time"

	"github.com/park285/chess-arena/internal/match"
)

var (
	ErrUnavailable    = errf("store unavailable")
	ErrPlayerNotFound = errf("player not found")
	ErrMatchNotFound  = errf("match not found")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// Player is the durable rating record.
type Player struct {
	ID        string
	Rating    int
	Wins      int
	Losses    int
	Draws     int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is the durable backend. It extends the match recorder with the player
// reads the matchmaking and HTTP layers need.
type Store interface {
	match.Recorder

	// EnsurePlayer returns the player's record, creating it at the default
	// rating on first sight.
	EnsurePlayer(ctx context.Context, playerID string) (*Player, error)
	LoadPlayer(ctx context.Context, playerID string) (*Player, error)
	LoadPGN(ctx context.Context, matchID string) (string, error)

	Close() error
}
