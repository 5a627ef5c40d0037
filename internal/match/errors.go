package match

// Race losers get ErrStaleState or ErrAlreadyTerminal; both are expected
// outcomes of concurrent play and callers resync rather than report them.
var (
	ErrNotFound        = errf("match not found")
	ErrNotParticipant  = errf("player not in match")
	ErrNotYourTurn     = errf("not your turn")
	ErrStaleState      = errf("stale match state")
	ErrAlreadyTerminal = errf("match already terminal")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }
