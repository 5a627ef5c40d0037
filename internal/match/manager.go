package match

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/rules"
	"github.com/park285/chess-arena/pkg/arenadto"
)

const ttlMatch = 24 * time.Hour

// ErrClockNotExpired is returned by Timeout when the running side still has
// time at recheck; the tick raced a commit and should simply try again later.
var ErrClockNotExpired = errf("clock not expired")

// Recorder is the durable record store consumed by the manager. Failures are
// surfaced by the operation that hit them but never roll back live state.
type Recorder interface {
	SaveMatch(ctx context.Context, m *Match) error
	AppendMove(ctx context.Context, m *Match, ply int, playerID string, mv rules.Move) error
	// SettleRatings atomically applies the rating/counter update for both
	// players from their pre-match ratings and returns the two deltas.
	SettleRatings(ctx context.Context, whiteID, blackID string, whiteScore float64) (whiteDelta, blackDelta int, err error)
}

// Broadcaster fans committed events out to match subscribers. Implementations
// must never block match mutation on transport failures.
type Broadcaster interface {
	BroadcastMove(ctx context.Context, m *Match, mv rules.Move, playerID string)
	BroadcastClock(ctx context.Context, m *Match)
	BroadcastState(ctx context.Context, m *Match)
}

// Manager owns every match mutation. Concurrent mutators on one match are
// linearized with a WATCH transaction on the match key: the first writer
// wins and the loser sees ErrStaleState or ErrAlreadyTerminal.
type Manager struct {
	rdb      *redis.Client
	recorder Recorder
	bcast    Broadcaster
}

func NewManager(rdb *redis.Client) *Manager {
	return &Manager{rdb: rdb}
}

// AttachRecorder wires the durable record store.
func (mgr *Manager) AttachRecorder(r Recorder) {
	if mgr != nil {
		mgr.recorder = r
	}
}

// AttachBroadcaster wires the per-match sync channel.
func (mgr *Manager) AttachBroadcaster(b Broadcaster) {
	if mgr != nil {
		mgr.bcast = b
	}
}

// Create builds a pending match between two players. Clocks are full and
// paused until the first commit.
func (mgr *Manager) Create(ctx context.Context, whiteID, blackID string, timeControlSec int) (*Match, error) {
	now := time.Now()
	m := &Match{
		ID:               uuid.NewString(),
		WhiteID:          whiteID,
		BlackID:          blackID,
		FEN:              rules.StartFEN,
		MovesUCI:         []string{},
		MovesSAN:         []string{},
		Turn:             rules.SideWhite,
		Status:           StatusPending,
		TimeControlSec:   timeControlSec,
		WhiteRemainingMs: int64(timeControlSec) * 1000,
		BlackRemainingMs: int64(timeControlSec) * 1000,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := mgr.save(ctx, m); err != nil {
		return nil, err
	}
	if err := mgr.indexParticipants(ctx, m); err != nil {
		return nil, err
	}
	if mgr.recorder != nil {
		if err := mgr.recorder.SaveMatch(ctx, m); err != nil {
			obslog.L().Error("match_create_persist_error", zap.String("match_id", m.ID), zap.Error(err))
		}
	}
	obslog.L().Info("match_create",
		zap.String("match_id", m.ID),
		zap.String("white_id", m.WhiteID),
		zap.String("black_id", m.BlackID),
		zap.Int("time_control_sec", timeControlSec),
	)
	return m, nil
}

// Get loads a match by id.
func (mgr *Manager) Get(ctx context.Context, id string) (*Match, error) {
	raw, err := mgr.rdb.Get(ctx, matchKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var m Match
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ActiveByPlayer returns the player's non-terminal match, if any. Used for
// reconnect flows.
func (mgr *Manager) ActiveByPlayer(ctx context.Context, playerID string) (*Match, error) {
	ids, err := mgr.rdb.SMembers(ctx, playerIdxKey(playerID)).Result()
	if err != nil {
		return nil, err
	}
	var latest *Match
	for _, id := range ids {
		m, gerr := mgr.Get(ctx, id)
		if gerr != nil || m.Status.Terminal() {
			continue
		}
		if latest == nil || m.UpdatedAt.After(latest.UpdatedAt) {
			latest = m
		}
	}
	return latest, nil
}

// Commit validates and applies one move. prevFEN (when supplied) must match
// the current position or the submission is a duplicate/racing one and fails
// with ErrStaleState. On success the mover's clock is charged and the
// terminal condition re-evaluated. A mover whose clock ran out before the
// commit loses on time instead of moving.
func (mgr *Manager) Commit(ctx context.Context, id, playerID string, req arenadto.MoveRequest) (*Match, rules.Move, error) {
	var (
		result   *Match
		applied  rules.Move
		timedOut bool
	)
	key := matchKey(id)

	err := mgr.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := loadTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if cur.Status.Terminal() {
			return ErrAlreadyTerminal
		}
		if req.PrevFEN != "" && req.PrevFEN != cur.FEN {
			return ErrStaleState
		}
		side := cur.SideOf(playerID)
		if side == "" {
			return ErrNotParticipant
		}
		if side != cur.Turn {
			return ErrNotYourTurn
		}

		pos, err := rules.Replay(cur.MovesUCI)
		if err != nil {
			return err
		}
		next, mv, err := rules.Apply(pos, req.From, req.To, req.Promotion)
		if err != nil {
			return err // rules.ErrIllegalMove
		}

		now := time.Now()
		if cur.Status == StatusPending {
			cur.Status = StatusActive
		} else {
			elapsed := now.Sub(cur.AttributedAt).Milliseconds()
			rem := cur.remaining(side) - elapsed
			if rem <= 0 {
				// Flag fell before the move arrived: the server clock is
				// authoritative, so this resolves as a timeout loss.
				cur.setRemaining(side, 0)
				finalize(cur, resultFor(side.Opponent()), cur.PlayerFor(side.Opponent()), "timeout", now)
				timedOut = true
				result = cur
				return saveTx(ctx, tx, key, cur)
			}
			cur.setRemaining(side, rem)
		}

		cur.FEN = mv.FENAfter
		cur.MovesUCI = append(cur.MovesUCI, mv.UCI)
		cur.MovesSAN = append(cur.MovesSAN, mv.SAN)
		cur.Turn = side.Opponent()
		cur.AttributedAt = now
		cur.UpdatedAt = now

		if cls := rules.Classify(next); cls.Terminal() {
			switch cls.State {
			case rules.StateCheckmate:
				finalize(cur, resultFor(cls.Winner), cur.PlayerFor(cls.Winner), "checkmate", now)
			case rules.StateStalemate:
				finalize(cur, ResultDraw, "", "stalemate", now)
			default:
				finalize(cur, ResultDraw, "", string(cls.DrawReason), now)
			}
		}

		applied = mv
		result = cur
		return saveTx(ctx, tx, key, cur)
	}, key)

	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return nil, rules.Move{}, ErrStaleState
		}
		return nil, rules.Move{}, err
	}

	if timedOut {
		obslog.L().Info("match_commit_flag_fall", zap.String("match_id", result.ID), zap.String("player_id", playerID))
		mgr.afterTerminal(ctx, result)
		return result, rules.Move{}, nil
	}

	obslog.L().Info("match_commit",
		zap.String("match_id", result.ID),
		zap.String("player_id", playerID),
		zap.String("uci", applied.UCI),
		zap.Int("ply", len(result.MovesUCI)),
		zap.String("status", string(result.Status)),
	)

	if mgr.recorder != nil {
		if err := mgr.recorder.AppendMove(ctx, result, len(result.MovesUCI), playerID, applied); err != nil {
			obslog.L().Error("match_move_persist_error", zap.String("match_id", result.ID), zap.Error(err))
		}
	}
	if mgr.bcast != nil {
		mgr.bcast.BroadcastMove(ctx, result, applied, playerID)
		mgr.bcast.BroadcastClock(ctx, result)
	}
	if result.Status.Terminal() {
		mgr.afterTerminal(ctx, result)
	}
	return result, applied, nil
}

// Resign forfeits the match for the given player.
func (mgr *Manager) Resign(ctx context.Context, id, playerID string) (*Match, error) {
	var result *Match
	key := matchKey(id)

	err := mgr.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := loadTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if cur.Status.Terminal() {
			return ErrAlreadyTerminal
		}
		side := cur.SideOf(playerID)
		if side == "" {
			return ErrNotParticipant
		}
		now := time.Now()
		chargeRunning(cur, now)
		finalize(cur, resultFor(side.Opponent()), cur.PlayerFor(side.Opponent()), "resignation", now)
		result = cur
		return saveTx(ctx, tx, key, cur)
	}, key)

	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return nil, ErrAlreadyTerminal
		}
		return nil, err
	}

	obslog.L().Info("match_resign",
		zap.String("match_id", result.ID),
		zap.String("resigner", playerID),
		zap.String("winner", result.Winner),
	)
	mgr.afterTerminal(ctx, result)
	return result, nil
}

// Timeout forces a loss on time for the given side. The remaining time is
// recomputed inside the transaction so a tick racing a commit backs off with
// ErrClockNotExpired instead of ending a match whose clock was just fed.
func (mgr *Manager) Timeout(ctx context.Context, id string, side rules.Side) (*Match, error) {
	var result *Match
	key := matchKey(id)

	err := mgr.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := loadTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if cur.Status.Terminal() {
			return ErrAlreadyTerminal
		}
		now := time.Now()
		if cur.RemainingMs(side, now) > 0 {
			return ErrClockNotExpired
		}
		cur.setRemaining(side, 0)
		finalize(cur, resultFor(side.Opponent()), cur.PlayerFor(side.Opponent()), "timeout", now)
		result = cur
		return saveTx(ctx, tx, key, cur)
	}, key)

	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return nil, ErrClockNotExpired
		}
		return nil, err
	}

	obslog.L().Info("match_timeout",
		zap.String("match_id", result.ID),
		zap.String("side", string(side)),
		zap.String("winner", result.Winner),
	)
	mgr.afterTerminal(ctx, result)
	return result, nil
}

// Settle records an externally signaled terminal result (e.g. agreed draw).
// Calling it on an already terminal match is a no-op returning the stored
// result, since a timeout tick and a client report can race here.
func (mgr *Manager) Settle(ctx context.Context, id string, res Result, winner, method string) (*Match, error) {
	var (
		result  *Match
		settled bool
	)
	key := matchKey(id)

	err := mgr.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := loadTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if cur.Status.Terminal() {
			result = cur
			return nil
		}
		now := time.Now()
		chargeRunning(cur, now)
		finalize(cur, res, winner, method, now)
		result = cur
		settled = true
		return saveTx(ctx, tx, key, cur)
	}, key)

	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			// Lost the race; the match is settled, return what won.
			return mgr.Get(ctx, id)
		}
		return nil, err
	}
	if settled {
		obslog.L().Info("match_settle",
			zap.String("match_id", result.ID),
			zap.String("result", string(result.Result)),
			zap.String("method", method),
		)
		mgr.afterTerminal(ctx, result)
	}
	return result, nil
}

// Abandon marks a match that never started as abandoned. No ratings move.
func (mgr *Manager) Abandon(ctx context.Context, id string) (*Match, error) {
	var result *Match
	key := matchKey(id)

	err := mgr.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := loadTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if cur.Status.Terminal() {
			return ErrAlreadyTerminal
		}
		if cur.Status != StatusPending {
			return ErrStaleState
		}
		now := time.Now()
		cur.Status = StatusAbandoned
		cur.UpdatedAt = now
		cur.EndedAt = now
		result = cur
		return saveTx(ctx, tx, key, cur)
	}, key)

	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return nil, ErrStaleState
		}
		return nil, err
	}

	obslog.L().Info("match_abandon", zap.String("match_id", result.ID))
	if mgr.recorder != nil {
		if err := mgr.recorder.SaveMatch(ctx, result); err != nil {
			obslog.L().Error("match_abandon_persist_error", zap.String("match_id", result.ID), zap.Error(err))
		}
	}
	if mgr.bcast != nil {
		mgr.bcast.BroadcastState(ctx, result)
	}
	return result, nil
}

// afterTerminal runs exactly once per match: only the mutator that performed
// the terminal transition reaches it. It settles ratings from pre-match
// records, persists the finished match, and broadcasts the final state.
func (mgr *Manager) afterTerminal(ctx context.Context, m *Match) {
	if m.Status == StatusCompleted && mgr.recorder != nil {
		wd, bd, err := mgr.recorder.SettleRatings(ctx, m.WhiteID, m.BlackID, m.Result.WhiteScore())
		if err != nil {
			obslog.L().Error("rating_settle_error", zap.String("match_id", m.ID), zap.Error(err))
		} else {
			m.WhiteDelta, m.BlackDelta = wd, bd
			if err := mgr.save(ctx, m); err != nil {
				obslog.L().Error("match_delta_save_error", zap.String("match_id", m.ID), zap.Error(err))
			}
			obslog.L().Info("rating_settle",
				zap.String("match_id", m.ID),
				zap.String("result", string(m.Result)),
				zap.Int("white_delta", wd),
				zap.Int("black_delta", bd),
			)
		}
	}
	if mgr.recorder != nil {
		if err := mgr.recorder.SaveMatch(ctx, m); err != nil {
			obslog.L().Error("match_result_persist_error", zap.String("match_id", m.ID), zap.Error(err))
		}
	}
	if mgr.bcast != nil {
		mgr.bcast.BroadcastClock(ctx, m)
		mgr.bcast.BroadcastState(ctx, m)
	}
}

// chargeRunning charges the running side up to `now` so stored clocks stay
// accurate across a terminal transition.
func chargeRunning(m *Match, now time.Time) {
	side, running := m.ClockRunning()
	if !running {
		return
	}
	m.setRemaining(side, m.remaining(side)-now.Sub(m.AttributedAt).Milliseconds())
	m.AttributedAt = now
}

func finalize(m *Match, res Result, winner, method string, now time.Time) {
	m.Status = StatusCompleted
	m.Result = res
	m.Winner = winner
	m.Method = method
	m.UpdatedAt = now
	m.EndedAt = now
}

// Persistence helpers.

func (mgr *Manager) save(ctx context.Context, m *Match) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return mgr.rdb.Set(ctx, matchKey(m.ID), raw, ttlMatch).Err()
}

func (mgr *Manager) indexParticipants(ctx context.Context, m *Match) error {
	for _, pid := range []string{m.WhiteID, m.BlackID} {
		key := playerIdxKey(pid)
		if err := mgr.rdb.SAdd(ctx, key, m.ID).Err(); err != nil {
			return err
		}
		_ = mgr.rdb.Expire(ctx, key, ttlMatch).Err()
	}
	return nil
}

func loadTx(ctx context.Context, tx *redis.Tx, key string) (*Match, error) {
	raw, err := tx.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var m Match
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func saveTx(ctx context.Context, tx *redis.Tx, key string, m *Match) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	pipe := tx.TxPipeline()
	pipe.Set(ctx, key, raw, ttlMatch)
	_, err = pipe.Exec(ctx)
	return err
}

func matchKey(id string) string     { return "arena:match:" + id }
func playerIdxKey(id string) string { return "arena:match:player:" + id }
