package arenadto

// EnqueueRequest asks matchmaking to find an opponent for the player.
type EnqueueRequest struct {
	PlayerID string `json:"player_id"`
	Rating   int    `json:"rating"`
}

// EnqueueResponse reports queue placement. MatchID is set once paired.
type EnqueueResponse struct {
	PlayerID string `json:"player_id"`
	Queued   bool   `json:"queued"`
	MatchID  string `json:"match_id,omitempty"`
}

// MoveRequest proposes a single move. PrevFEN is the position the client
// believes is current; a mismatch means the client raced another mutation.
type MoveRequest struct {
	PlayerID  string `json:"player_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
	PrevFEN   string `json:"prev_fen"`
}

// ResignRequest forfeits the match for the sending player.
type ResignRequest struct {
	PlayerID string `json:"player_id"`
}
