package store

import (
	"context"
	"sync"
	"time"

	"github.com/park285/chess-arena/internal/match"
	"github.com/park285/chess-arena/internal/rating"
	"github.com/park285/chess-arena/internal/rules"
)

// Memory is a map-backed Store for tests and DATABASE_URL-less deployments.
// It keeps the same settlement semantics as Postgres behind one mutex.
type Memory struct {
	mu      sync.Mutex
	players map[string]*Player
	matches map[string]*match.Match
	pgns    map[string]string
	moves   map[string][]MoveRow
}

// MoveRow mirrors one match_moves row.
type MoveRow struct {
	Ply       int
	PlayerID  string
	From      string
	To        string
	Promotion string
	SAN       string
	FENAfter  string
	PlayedAt  time.Time
}

func NewMemory() *Memory {
	return &Memory{
		players: make(map[string]*Player),
		matches: make(map[string]*match.Match),
		pgns:    make(map[string]string),
		moves:   make(map[string][]MoveRow),
	}
}

func (s *Memory) Close() error { return nil }

func (s *Memory) SaveMatch(_ context.Context, m *match.Match) error {
	if m == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	cp.MovesUCI = append([]string(nil), m.MovesUCI...)
	cp.MovesSAN = append([]string(nil), m.MovesSAN...)
	s.matches[m.ID] = &cp
	s.pgns[m.ID] = BuildPGN(m)
	return nil
}

func (s *Memory) AppendMove(_ context.Context, m *match.Match, ply int, playerID string, mv rules.Move) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.moves[m.ID] {
		if row.Ply == ply {
			return nil
		}
	}
	s.moves[m.ID] = append(s.moves[m.ID], MoveRow{
		Ply:       ply,
		PlayerID:  playerID,
		From:      mv.From,
		To:        mv.To,
		Promotion: mv.Promotion,
		SAN:       mv.SAN,
		FENAfter:  mv.FENAfter,
		PlayedAt:  time.Now(),
	})
	return nil
}

func (s *Memory) SettleRatings(_ context.Context, whiteID, blackID string, whiteScore float64) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	white := s.ensureLocked(whiteID)
	black := s.ensureLocked(blackID)

	st := rating.Settle(white.Rating, black.Rating, rating.Score(whiteScore))
	white.Rating += st.WhiteDelta
	black.Rating += st.BlackDelta
	applyTally(white, whiteScore)
	applyTally(black, 1-whiteScore)
	now := time.Now()
	white.UpdatedAt, black.UpdatedAt = now, now
	return st.WhiteDelta, st.BlackDelta, nil
}

func (s *Memory) EnsurePlayer(_ context.Context, playerID string) (*Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.ensureLocked(playerID)
	cp := *p
	return &cp, nil
}

func (s *Memory) LoadPlayer(_ context.Context, playerID string) (*Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[playerID]
	if !ok {
		return nil, ErrPlayerNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Memory) LoadPGN(_ context.Context, matchID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pgn, ok := s.pgns[matchID]
	if !ok {
		return "", ErrMatchNotFound
	}
	return pgn, nil
}

// Moves returns the recorded move log for a match, in ply order.
func (s *Memory) Moves(matchID string) []MoveRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]MoveRow(nil), s.moves[matchID]...)
}

func (s *Memory) ensureLocked(playerID string) *Player {
	p, ok := s.players[playerID]
	if !ok {
		now := time.Now()
		p = &Player{ID: playerID, Rating: rating.DefaultRating, CreatedAt: now, UpdatedAt: now}
		s.players[playerID] = p
	}
	return p
}

func applyTally(p *Player, score float64) {
	switch score {
	case 1:
		p.Wins++
	case 0:
		p.Losses++
	default:
		p.Draws++
	}
}
