package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/park285/chess-arena/internal/match"
	"github.com/park285/chess-arena/internal/rating"
	"github.com/park285/chess-arena/internal/rules"
)

// Postgres is the production Store. Schema (applied by EnsureSchema):
//
//	players(id, rating, wins, losses, draws, created_at, updated_at)
//	matches(id, white_id, black_id, time_control_sec, status, result,
//	        result_method, winner_id, moves_uci, moves_san, pgn,
//	        white_delta, black_delta, started_at, ended_at, duration_ms)
//	match_moves(match_id, ply, player_id, from_sq, to_sq, promotion,
//	            san, fen_after, played_at)
type Postgres struct {
	db *sql.DB
}

func NewPostgres(databaseURL string) (*Postgres, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (s *Postgres) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// EnsureSchema creates the tables when absent. Idempotent.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS players (
			id         TEXT PRIMARY KEY,
			rating     INTEGER NOT NULL,
			wins       INTEGER NOT NULL DEFAULT 0,
			losses     INTEGER NOT NULL DEFAULT 0,
			draws      INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS matches (
			id               TEXT PRIMARY KEY,
			white_id         TEXT NOT NULL,
			black_id         TEXT NOT NULL,
			time_control_sec INTEGER NOT NULL,
			status           TEXT NOT NULL,
			result           TEXT,
			result_method    TEXT,
			winner_id        TEXT,
			moves_uci        TEXT NOT NULL DEFAULT '[]',
			moves_san        TEXT NOT NULL DEFAULT '[]',
			pgn              TEXT NOT NULL DEFAULT '',
			white_delta      INTEGER NOT NULL DEFAULT 0,
			black_delta      INTEGER NOT NULL DEFAULT 0,
			started_at       TIMESTAMPTZ NOT NULL,
			ended_at         TIMESTAMPTZ,
			duration_ms      BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS match_moves (
			match_id   TEXT NOT NULL REFERENCES matches(id),
			ply        INTEGER NOT NULL,
			player_id  TEXT NOT NULL,
			from_sq    TEXT NOT NULL,
			to_sq      TEXT NOT NULL,
			promotion  TEXT NOT NULL DEFAULT '',
			san        TEXT NOT NULL,
			fen_after  TEXT NOT NULL,
			played_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (match_id, ply)
		)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return nil
}

// SaveMatch upserts the match row, recomputing the PGN from the SAN log.
func (s *Postgres) SaveMatch(ctx context.Context, m *match.Match) error {
	if s == nil || s.db == nil || m == nil {
		return nil
	}

	movesUCIRaw, _ := json.Marshal(m.MovesUCI)
	movesSANRaw, _ := json.Marshal(m.MovesSAN)
	duration := m.UpdatedAt.Sub(m.CreatedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}
	var endedAt any
	if !m.EndedAt.IsZero() {
		endedAt = m.EndedAt
	}

	q := `INSERT INTO matches (
	    id, white_id, black_id, time_control_sec,
	    status, result, result_method, winner_id,
	    moves_uci, moves_san, pgn, white_delta, black_delta,
	    started_at, ended_at, duration_ms
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
	  ) ON CONFLICT (id) DO UPDATE SET
	    status=EXCLUDED.status,
	    result=EXCLUDED.result,
	    result_method=EXCLUDED.result_method,
	    winner_id=EXCLUDED.winner_id,
	    moves_uci=EXCLUDED.moves_uci,
	    moves_san=EXCLUDED.moves_san,
	    pgn=EXCLUDED.pgn,
	    white_delta=EXCLUDED.white_delta,
	    black_delta=EXCLUDED.black_delta,
	    ended_at=EXCLUDED.ended_at,
	    duration_ms=EXCLUDED.duration_ms`

	_, err := s.db.ExecContext(ctx, q,
		m.ID, m.WhiteID, m.BlackID, m.TimeControlSec,
		string(m.Status), string(m.Result), m.Method, m.Winner,
		string(movesUCIRaw), string(movesSANRaw), BuildPGN(m),
		m.WhiteDelta, m.BlackDelta,
		m.CreatedAt, endedAt, duration,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// AppendMove records one committed move. The (match_id, ply) key makes a
// replayed write after a crash a harmless no-op.
func (s *Postgres) AppendMove(ctx context.Context, m *match.Match, ply int, playerID string, mv rules.Move) error {
	q := `INSERT INTO match_moves (
	    match_id, ply, player_id, from_sq, to_sq, promotion, san, fen_after, played_at
	  ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	  ON CONFLICT (match_id, ply) DO NOTHING`
	_, err := s.db.ExecContext(ctx, q,
		m.ID, ply, playerID, mv.From, mv.To, mv.Promotion, mv.SAN, mv.FENAfter, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// SettleRatings applies one ELO settlement inside a single transaction: both
// player rows are locked, deltas computed from the locked ratings, and the
// updates written as relative adjustments. Two concurrent settlements for
// different matches serialize on the row locks and both apply.
func (s *Postgres) SettleRatings(ctx context.Context, whiteID, blackID string, whiteScore float64) (int, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	whiteRating, err := lockPlayerTx(ctx, tx, whiteID)
	if err != nil {
		return 0, 0, err
	}
	blackRating, err := lockPlayerTx(ctx, tx, blackID)
	if err != nil {
		return 0, 0, err
	}

	st := rating.Settle(whiteRating, blackRating, rating.Score(whiteScore))

	whiteWins, whiteLosses, whiteDraws := tally(whiteScore)
	blackWins, blackLosses, blackDraws := tally(1 - whiteScore)

	upd := `UPDATE players SET
	    rating = rating + $2,
	    wins = wins + $3, losses = losses + $4, draws = draws + $5,
	    updated_at = now()
	  WHERE id = $1`
	if _, err := tx.ExecContext(ctx, upd, whiteID, st.WhiteDelta, whiteWins, whiteLosses, whiteDraws); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if _, err := tx.ExecContext(ctx, upd, blackID, st.BlackDelta, blackWins, blackLosses, blackDraws); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return st.WhiteDelta, st.BlackDelta, nil
}

// lockPlayerTx upserts the row at the default rating if missing, then locks
// it and returns the current rating.
func lockPlayerTx(ctx context.Context, tx *sql.Tx, playerID string) (int, error) {
	ins := `INSERT INTO players (id, rating) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`
	if _, err := tx.ExecContext(ctx, ins, playerID, rating.DefaultRating); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var r int
	err := tx.QueryRowContext(ctx, `SELECT rating FROM players WHERE id = $1 FOR UPDATE`, playerID).Scan(&r)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return r, nil
}

func tally(score float64) (wins, losses, draws int) {
	switch score {
	case 1:
		return 1, 0, 0
	case 0:
		return 0, 1, 0
	default:
		return 0, 0, 1
	}
}

func (s *Postgres) EnsurePlayer(ctx context.Context, playerID string) (*Player, error) {
	q := `INSERT INTO players (id, rating) VALUES ($1, $2)
	  ON CONFLICT (id) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, q, playerID, rating.DefaultRating); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return s.LoadPlayer(ctx, playerID)
}

func (s *Postgres) LoadPlayer(ctx context.Context, playerID string) (*Player, error) {
	p := &Player{ID: playerID}
	err := s.db.QueryRowContext(ctx,
		`SELECT rating, wins, losses, draws, created_at, updated_at FROM players WHERE id = $1`,
		playerID,
	).Scan(&p.Rating, &p.Wins, &p.Losses, &p.Draws, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlayerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return p, nil
}

func (s *Postgres) LoadPGN(ctx context.Context, matchID string) (string, error) {
	var pgn string
	err := s.db.QueryRowContext(ctx, `SELECT pgn FROM matches WHERE id = $1`, matchID).Scan(&pgn)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrMatchNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return pgn, nil
}
