package rating

import "math"

// KFactor is the fixed K used for every settlement.
const KFactor = 32

// DefaultRating seeds players with no record.
const DefaultRating = 1200

// Score is a player's actual result for one match.
type Score float64

const (
	ScoreWin  Score = 1
	ScoreLoss Score = 0
	ScoreDraw Score = 0.5
)

// Expected returns the expected score of a player rated `own` against an
// opponent rated `opp`.
func Expected(own, opp int) float64 {
	return 1 / (1 + math.Pow(10, float64(opp-own)/400))
}

// Delta returns the rating change for one player. Rounding makes the two
// sides of a match independent; their deltas are not required to cancel out.
func Delta(own, opp int, actual Score) int {
	return int(math.Round(KFactor * (float64(actual) - Expected(own, opp))))
}

// Settlement holds both players' deltas, computed from pre-match ratings.
type Settlement struct {
	WhiteDelta int
	BlackDelta int
}

// Settle computes both deltas for a finished match. whiteScore is white's
// actual score; black's is its complement.
func Settle(whiteRating, blackRating int, whiteScore Score) Settlement {
	return Settlement{
		WhiteDelta: Delta(whiteRating, blackRating, whiteScore),
		BlackDelta: Delta(blackRating, whiteRating, 1-whiteScore),
	}
}
