package arenadto

import "time"

// MatchSnapshot is the full client-facing view of one match.
type MatchSnapshot struct {
	ID               string    `json:"id"`
	WhiteID          string    `json:"white_id"`
	BlackID          string    `json:"black_id"`
	FEN              string    `json:"fen"`
	MovesUCI         []string  `json:"moves_uci"`
	MovesSAN         []string  `json:"moves_san"`
	Turn             string    `json:"turn"`
	Status           string    `json:"status"`
	Winner           string    `json:"winner,omitempty"`
	Result           string    `json:"result,omitempty"`
	TimeControlSec   int       `json:"time_control_sec"`
	WhiteRemainingMs int64     `json:"white_remaining_ms"`
	BlackRemainingMs int64     `json:"black_remaining_ms"`
	WhiteDelta       int       `json:"white_delta,omitempty"`
	BlackDelta       int       `json:"black_delta,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	EndedAt          time.Time `json:"ended_at,omitzero"`
}
