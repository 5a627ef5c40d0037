// Package matchmaking pairs waiting players by rating proximity. The queue is
// a single server-owned structure; pairing, removal and match creation happen
// inside one critical section so no entry can be claimed twice.
package matchmaking

import (
	"context"
	"crypto/rand"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/rules"
)

// DefaultWindow is the rating distance within which two players may pair.
const DefaultWindow = 200

// recentTTL bounds how long an unclaimed pairing is held for pollers. Clients
// that consumed the enqueue channel never poll, so their entries expire here.
const recentTTL = time.Minute

var (
	ErrAlreadyQueued = errf("player already queued")
	ErrInvalidEntry  = errf("invalid queue entry")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// Pairing is delivered to both players once a match exists.
type Pairing struct {
	MatchID    string
	OpponentID string
	Color      rules.Side
}

// Entry is one waiting player.
type Entry struct {
	ID         string
	PlayerID   string
	Rating     int
	EnqueuedAt time.Time

	paired chan Pairing // buffered 1, closed never; receives exactly once
}

// MatchCreator builds the match for a selected pair. Implemented by
// match.Manager via a thin adapter in the server wiring.
type MatchCreator interface {
	CreateMatch(ctx context.Context, whiteID, blackID string) (matchID string, err error)
}

// Queue holds the waiting entries in enqueue order. All operations take the
// one mutex; the pairing scan runs on every enqueue rather than on a client
// poll loop, so there is exactly one pairer and no duplicated scans.
type Queue struct {
	mu       sync.Mutex
	entries  []*Entry
	byPlayer map[string]*Entry
	recent   map[string]recentPairing // pairings not yet picked up by a poll

	window  int
	creator MatchCreator
}

func NewQueue(creator MatchCreator, window int) *Queue {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Queue{
		byPlayer: make(map[string]*Entry),
		recent:   make(map[string]recentPairing),
		window:   window,
		creator:  creator,
	}
}

// Enqueue adds the player and immediately attempts a pairing. The returned
// channel receives the pairing when an opponent is found; it stays silent
// until then. A player may hold at most one entry.
func (q *Queue) Enqueue(ctx context.Context, playerID string, ratingValue int) (<-chan Pairing, error) {
	if playerID == "" {
		return nil, ErrInvalidEntry
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.pruneRecentLocked(time.Now())

	if _, ok := q.byPlayer[playerID]; ok {
		return nil, ErrAlreadyQueued
	}

	e := &Entry{
		ID:         uuid.NewString(),
		PlayerID:   playerID,
		Rating:     ratingValue,
		EnqueuedAt: time.Now(),
		paired:     make(chan Pairing, 1),
	}
	q.entries = append(q.entries, e)
	q.byPlayer[playerID] = e
	obslog.L().Info("queue_enqueue",
		zap.String("player_id", playerID),
		zap.Int("rating", ratingValue),
		zap.Int("depth", len(q.entries)),
	)

	q.pairLocked(ctx, e)
	return e.paired, nil
}

// Cancel removes the player's entry. No-op when absent; reports whether an
// entry was removed. A player already paired cannot cancel the pairing.
func (q *Queue) Cancel(playerID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.byPlayer[playerID]
	if !ok {
		return false
	}
	q.removeLocked(e)
	obslog.L().Info("queue_cancel", zap.String("player_id", playerID))
	return true
}

// TakePairing returns and clears a completed pairing for the player, for
// clients that poll instead of holding the enqueue channel.
func (q *Queue) TakePairing(playerID string) (Pairing, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pruneRecentLocked(time.Now())
	r, ok := q.recent[playerID]
	if ok {
		delete(q.recent, playerID)
	}
	return r.Pairing, ok
}

// Queued reports whether the player currently holds an entry.
func (q *Queue) Queued(playerID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.byPlayer[playerID]
	return ok
}

// Len returns the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// pairLocked scans for the earliest-enqueued opponent within the rating
// window of the newcomer. FIFO within window bounds wait time; nearest-rating
// would starve outliers. Both entries are removed and the match created
// before the lock is released, so a concurrent enqueue can never claim either
// player. On creation failure both entries are restored.
func (q *Queue) pairLocked(ctx context.Context, newcomer *Entry) {
	var opponent *Entry
	for _, e := range q.entries {
		if e.PlayerID == newcomer.PlayerID {
			continue
		}
		if abs(e.Rating-newcomer.Rating) <= q.window {
			opponent = e
			break
		}
	}
	if opponent == nil {
		return
	}

	q.removeLocked(opponent)
	q.removeLocked(newcomer)

	whiteEntry, blackEntry := opponent, newcomer
	if coin() {
		whiteEntry, blackEntry = newcomer, opponent
	}

	matchID, err := q.creator.CreateMatch(ctx, whiteEntry.PlayerID, blackEntry.PlayerID)
	if err != nil {
		obslog.L().Error("queue_pair_create_error",
			zap.String("white_id", whiteEntry.PlayerID),
			zap.String("black_id", blackEntry.PlayerID),
			zap.Error(err),
		)
		q.restoreLocked(opponent)
		q.restoreLocked(newcomer)
		return
	}

	obslog.L().Info("queue_pair",
		zap.String("match_id", matchID),
		zap.String("white_id", whiteEntry.PlayerID),
		zap.String("black_id", blackEntry.PlayerID),
		zap.Int("rating_gap", abs(whiteEntry.Rating-blackEntry.Rating)),
		zap.Duration("waited", time.Since(opponent.EnqueuedAt)),
	)

	q.deliverLocked(whiteEntry, Pairing{MatchID: matchID, OpponentID: blackEntry.PlayerID, Color: rules.SideWhite})
	q.deliverLocked(blackEntry, Pairing{MatchID: matchID, OpponentID: whiteEntry.PlayerID, Color: rules.SideBlack})
}

// recentPairing is a delivered pairing kept for pollers until recentTTL.
type recentPairing struct {
	Pairing
	deliveredAt time.Time
}

func (q *Queue) deliverLocked(e *Entry, p Pairing) {
	q.recent[e.PlayerID] = recentPairing{Pairing: p, deliveredAt: time.Now()}
	e.paired <- p
}

// pruneRecentLocked drops unclaimed pairings older than recentTTL so the map
// stays bounded by recent throughput rather than process lifetime.
func (q *Queue) pruneRecentLocked(now time.Time) {
	for pid, r := range q.recent {
		if now.Sub(r.deliveredAt) > recentTTL {
			delete(q.recent, pid)
		}
	}
}

func (q *Queue) removeLocked(target *Entry) {
	for i, e := range q.entries {
		if e == target {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
	delete(q.byPlayer, target.PlayerID)
}

// restoreLocked reinserts an entry preserving enqueue order.
func (q *Queue) restoreLocked(e *Entry) {
	pos := len(q.entries)
	for i, other := range q.entries {
		if e.EnqueuedAt.Before(other.EnqueuedAt) {
			pos = i
			break
		}
	}
	q.entries = append(q.entries[:pos], append([]*Entry{e}, q.entries[pos:]...)...)
	q.byPlayer[e.PlayerID] = e
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// coin flips a fair crypto/rand coin for color assignment.
func coin() bool {
	n, err := rand.Int(rand.Reader, big.NewInt(2))
	return err == nil && n.Int64() == 0
}
