package syncchan

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/pkg/arenadto"
)

// Subscription is one client's handle on a match channel. Events arrive on C
// starting with a full state snapshot; the channel closes when the
// subscription ends.
type Subscription struct {
	C <-chan arenadto.Event

	hub      *Hub
	matchID  string
	playerID string
	pubsub   *redis.PubSub
	cancel   context.CancelFunc
}

// Subscribe attaches to a match channel. The Redis subscription is opened
// before the snapshot is read, so no committed event can fall between the
// snapshot and the incremental stream; duplicates below the snapshot ply are
// dropped instead. A non-empty playerID is tracked as present on the match.
func (h *Hub) Subscribe(ctx context.Context, matchID, playerID string) (*Subscription, error) {
	pubsub := h.rdb.Subscribe(ctx, eventsKey(matchID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, ErrTransport
	}

	m, err := h.matches.Get(ctx, matchID)
	if err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	if playerID != "" {
		h.trackPresence(ctx, matchID, playerID, true)
	}

	relayCtx, cancel := context.WithCancel(context.Background())
	out := make(chan arenadto.Event, subscriberBuf)
	sub := &Subscription{
		C:        out,
		hub:      h,
		matchID:  matchID,
		playerID: playerID,
		pubsub:   pubsub,
		cancel:   cancel,
	}

	online, _ := h.Online(ctx, matchID)
	snapshotPly := len(m.MovesUCI)
	snapshot, err := json.Marshal(arenadto.StateEvent{Snapshot: m.Snapshot(time.Now()), Online: online})
	if err != nil {
		_ = pubsub.Close()
		cancel()
		return nil, err
	}
	first := arenadto.Event{
		Type:      arenadto.EventState,
		MatchID:   matchID,
		Seq:       snapshotPly,
		EmittedAt: time.Now(),
		Payload:   snapshot,
	}

	go sub.relay(relayCtx, out, first, snapshotPly)
	return sub, nil
}

func (s *Subscription) relay(ctx context.Context, out chan<- arenadto.Event, first arenadto.Event, snapshotPly int) {
	defer close(out)

	select {
	case out <- first:
	case <-ctx.Done():
		return
	}

	msgs := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var ev arenadto.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				obslog.L().Warn("sync_event_decode_error", zap.String("match_id", s.matchID), zap.Error(err))
				continue
			}
			// Moves already reflected in the snapshot are duplicates.
			if ev.Type == arenadto.EventMove && ev.Seq <= snapshotPly {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Close detaches from the channel and clears the player's presence.
func (s *Subscription) Close(ctx context.Context) error {
	s.cancel()
	if s.playerID != "" {
		s.hub.trackPresence(ctx, s.matchID, s.playerID, false)
	}
	return s.pubsub.Close()
}

// trackPresence updates the match's online set and emits a presence event.
// Best-effort on both counts: presence is informational only.
func (h *Hub) trackPresence(ctx context.Context, matchID, playerID string, online bool) {
	key := presenceKey(matchID)
	status := "offline"
	if online {
		if err := h.rdb.SAdd(ctx, key, playerID).Err(); err != nil {
			obslog.L().Warn("presence_track_error", zap.String("match_id", matchID), zap.Error(err))
		}
		_ = h.rdb.Expire(ctx, key, ttlPresence).Err()
		status = "online"
	} else {
		if err := h.rdb.SRem(ctx, key, playerID).Err(); err != nil {
			obslog.L().Warn("presence_track_error", zap.String("match_id", matchID), zap.Error(err))
		}
	}
	h.publish(ctx, matchID, arenadto.EventPresence, 0, arenadto.PresenceEvent{
		PlayerID: playerID,
		Status:   status,
	})
}
