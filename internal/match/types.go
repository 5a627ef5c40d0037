package match

import (
	"time"

	"github.com/park285/chess-arena/internal/rules"
	"github.com/park285/chess-arena/pkg/arenadto"
)

// Status is the match lifecycle state. Terminal states are final.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusAbandoned Status = "ABANDONED"
)

// Terminal reports whether no further mutation is allowed.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusAbandoned }

// Result classifies a finished match.
type Result string

const (
	ResultWinWhite Result = "win_white"
	ResultWinBlack Result = "win_black"
	ResultDraw     Result = "draw"
)

// Match is the authoritative record of one game. It is stored as JSON in
// Redis under match:<id> and mutated only through Manager, which serializes
// every mutation per match id.
type Match struct {
	ID       string     `json:"id"`
	WhiteID  string     `json:"white_id"`
	BlackID  string     `json:"black_id"`
	FEN      string     `json:"fen"`
	MovesUCI []string   `json:"moves_uci"`
	MovesSAN []string   `json:"moves_san"`
	Turn     rules.Side `json:"turn"`
	Status   Status     `json:"status"`
	Winner   string     `json:"winner,omitempty"`
	Result   Result     `json:"result,omitempty"`
	Method   string     `json:"method,omitempty"`

	TimeControlSec   int   `json:"time_control_sec"`
	WhiteRemainingMs int64 `json:"white_remaining_ms"`
	BlackRemainingMs int64 `json:"black_remaining_ms"`
	// AttributedAt is the wall-clock point time is charged from. Zero until
	// the first commit activates the match; clocks do not run before that.
	AttributedAt time.Time `json:"attributed_at,omitzero"`

	WhiteDelta int `json:"white_delta,omitempty"`
	BlackDelta int `json:"black_delta,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
}

// SideOf returns the color the player holds, or "" for spectators.
func (m *Match) SideOf(playerID string) rules.Side {
	switch playerID {
	case m.WhiteID:
		return rules.SideWhite
	case m.BlackID:
		return rules.SideBlack
	default:
		return ""
	}
}

// PlayerFor returns the player id holding the given side.
func (m *Match) PlayerFor(side rules.Side) string {
	if side == rules.SideWhite {
		return m.WhiteID
	}
	return m.BlackID
}

func (m *Match) remaining(side rules.Side) int64 {
	if side == rules.SideWhite {
		return m.WhiteRemainingMs
	}
	return m.BlackRemainingMs
}

func (m *Match) setRemaining(side rules.Side, ms int64) {
	if ms < 0 {
		ms = 0
	}
	if side == rules.SideWhite {
		m.WhiteRemainingMs = ms
	} else {
		m.BlackRemainingMs = ms
	}
}

// RemainingMs is the authoritative clock reading for a side at `now`: stored
// remaining time minus whatever the running side has consumed since the last
// attribution point. Never negative.
func (m *Match) RemainingMs(side rules.Side, now time.Time) int64 {
	rem := m.remaining(side)
	if m.Status == StatusActive && side == m.Turn && !m.AttributedAt.IsZero() {
		rem -= now.Sub(m.AttributedAt).Milliseconds()
	}
	if rem < 0 {
		return 0
	}
	return rem
}

// ClockRunning reports whether a clock is counting down and for which side.
func (m *Match) ClockRunning() (rules.Side, bool) {
	if m.Status != StatusActive || m.AttributedAt.IsZero() {
		return "", false
	}
	return m.Turn, true
}

// Snapshot converts the match to its client-facing shape with live clock
// readings computed at `now`.
func (m *Match) Snapshot(now time.Time) arenadto.MatchSnapshot {
	return arenadto.MatchSnapshot{
		ID:               m.ID,
		WhiteID:          m.WhiteID,
		BlackID:          m.BlackID,
		FEN:              m.FEN,
		MovesUCI:         append([]string(nil), m.MovesUCI...),
		MovesSAN:         append([]string(nil), m.MovesSAN...),
		Turn:             string(m.Turn),
		Status:           string(m.Status),
		Winner:           m.Winner,
		Result:           string(m.Result),
		TimeControlSec:   m.TimeControlSec,
		WhiteRemainingMs: m.RemainingMs(rules.SideWhite, now),
		BlackRemainingMs: m.RemainingMs(rules.SideBlack, now),
		WhiteDelta:       m.WhiteDelta,
		BlackDelta:       m.BlackDelta,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
		EndedAt:          m.EndedAt,
	}
}

// resultFor maps a winning side to the match result.
func resultFor(winner rules.Side) Result {
	if winner == rules.SideWhite {
		return ResultWinWhite
	}
	return ResultWinBlack
}

// WhiteScore is white's actual score for rating settlement.
func (r Result) WhiteScore() float64 {
	switch r {
	case ResultWinWhite:
		return 1
	case ResultWinBlack:
		return 0
	default:
		return 0.5
	}
}
