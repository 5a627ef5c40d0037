package arenadto

import (
	"encoding/json"
	"time"
)

// EventType discriminates match channel payloads.
type EventType string

const (
	EventState    EventType = "state"
	EventMove     EventType = "move"
	EventClock    EventType = "clock"
	EventPresence EventType = "presence"
)

// Event is the envelope published on a match channel. Seq is the ply count
// after the event for move events; move consumers must apply events in Seq
// order. Clock and presence events are snapshots and may arrive more than
// once; the newest EmittedAt wins.
type Event struct {
	Type      EventType       `json:"type"`
	MatchID   string          `json:"match_id"`
	Seq       int             `json:"seq,omitempty"`
	EmittedAt time.Time       `json:"emitted_at"`
	Payload   json.RawMessage `json:"payload"`
}

// MoveEvent is broadcast after a move has been committed to the match.
type MoveEvent struct {
	PlayerID  string `json:"player_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
	SAN       string `json:"san"`
	FENAfter  string `json:"fen_after"`
	Ply       int    `json:"ply"`
}

// ClockEvent carries the latest authoritative clock reading.
type ClockEvent struct {
	WhiteRemainingMs int64     `json:"white_remaining_ms"`
	BlackRemainingMs int64     `json:"black_remaining_ms"`
	RunningSide      string    `json:"running_side,omitempty"`
	ReadAt           time.Time `json:"read_at"`
}

// PresenceEvent reports a participant's connectivity. Informational only.
type PresenceEvent struct {
	PlayerID string `json:"player_id"`
	Status   string `json:"status"` // online | offline
}

// StateEvent is the resync snapshot sent to every new subscriber before any
// incremental event, and on terminal transitions.
type StateEvent struct {
	Snapshot MatchSnapshot `json:"snapshot"`
	Online   []string      `json:"online,omitempty"`
}
