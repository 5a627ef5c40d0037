// Package syncchan is the per-match publish/subscribe fabric. Move events are
// delivered in commit order (they carry the ply as a sequence number); clock
// and presence events are best-effort snapshots. Transport failures never
// touch match state; subscribers that fall behind resync from a snapshot.
package syncchan

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/match"
	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/rules"
	"github.com/park285/chess-arena/pkg/arenadto"
)

const (
	ttlPresence     = 24 * time.Hour
	publishAttempts = 3
	publishBackoff  = 100 * time.Millisecond
	subscriberBuf   = 64
)

// ErrTransport marks a publish or subscribe failure after retries.
var ErrTransport = errf("sync channel transport failure")

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// Hub multiplexes match event channels over Redis pub/sub. One Hub serves
// every match; each match gets its own topic scoped by id, released when the
// last subscriber leaves.
type Hub struct {
	rdb     *redis.Client
	matches *match.Manager
}

func NewHub(rdb *redis.Client, matches *match.Manager) *Hub {
	return &Hub{rdb: rdb, matches: matches}
}

// BroadcastMove publishes a committed move. Order is inherited from the
// commit order because the match manager calls this while holding the commit
// result, and consumers apply events by Seq.
func (h *Hub) BroadcastMove(ctx context.Context, m *match.Match, mv rules.Move, playerID string) {
	ply := len(m.MovesUCI)
	h.publish(ctx, m.ID, arenadto.EventMove, ply, arenadto.MoveEvent{
		PlayerID:  playerID,
		From:      mv.From,
		To:        mv.To,
		Promotion: mv.Promotion,
		SAN:       mv.SAN,
		FENAfter:  mv.FENAfter,
		Ply:       ply,
	})
}

// BroadcastClock publishes the latest authoritative clock reading.
func (h *Hub) BroadcastClock(ctx context.Context, m *match.Match) {
	now := time.Now()
	running, _ := m.ClockRunning()
	h.publish(ctx, m.ID, arenadto.EventClock, 0, arenadto.ClockEvent{
		WhiteRemainingMs: m.RemainingMs(rules.SideWhite, now),
		BlackRemainingMs: m.RemainingMs(rules.SideBlack, now),
		RunningSide:      string(running),
		ReadAt:           now,
	})
}

// BroadcastState publishes a full snapshot, used on terminal transitions.
func (h *Hub) BroadcastState(ctx context.Context, m *match.Match) {
	online, _ := h.Online(ctx, m.ID)
	h.publish(ctx, m.ID, arenadto.EventState, len(m.MovesUCI), arenadto.StateEvent{
		Snapshot: m.Snapshot(time.Now()),
		Online:   online,
	})
}

// Online lists players currently tracked as connected to the match channel.
func (h *Hub) Online(ctx context.Context, matchID string) ([]string, error) {
	return h.rdb.SMembers(ctx, presenceKey(matchID)).Result()
}

func (h *Hub) publish(ctx context.Context, matchID string, typ arenadto.EventType, seq int, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		obslog.L().Error("sync_publish_encode_error", zap.String("match_id", matchID), zap.Error(err))
		return
	}
	ev := arenadto.Event{
		Type:      typ,
		MatchID:   matchID,
		Seq:       seq,
		EmittedAt: time.Now(),
		Payload:   raw,
	}
	data, err := json.Marshal(ev)
	if err != nil {
		obslog.L().Error("sync_publish_encode_error", zap.String("match_id", matchID), zap.Error(err))
		return
	}

	// Bounded retry with linear backoff. A publish that still fails only
	// delays subscribers until their next resync; the committed state stands.
	var lastErr error
	for attempt := 1; attempt <= publishAttempts; attempt++ {
		if lastErr = h.rdb.Publish(ctx, eventsKey(matchID), data).Err(); lastErr == nil {
			return
		}
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
		case <-time.After(publishBackoff * time.Duration(attempt)):
			continue
		}
		break
	}
	obslog.L().Warn("sync_publish_error",
		zap.String("match_id", matchID),
		zap.String("type", string(typ)),
		zap.Error(lastErr),
	)
}

func eventsKey(matchID string) string   { return "arena:sync:" + matchID + ":events" }
func presenceKey(matchID string) string { return "arena:sync:" + matchID + ":online" }
