package rules

import (
	nchess "github.com/corentings/chess/v2"
)

// State is the terminal classification of a position.
type State string

const (
	StateOngoing   State = "ongoing"
	StateCheckmate State = "checkmate"
	StateStalemate State = "stalemate"
	StateDraw      State = "draw"
)

// DrawReason enumerates how a draw arose. ReasonAgreement is signaled by the
// players, never detected here.
type DrawReason string

const (
	ReasonInsufficientMaterial DrawReason = "insufficient_material"
	ReasonRepetition           DrawReason = "repetition"
	ReasonMoveCount            DrawReason = "move_count"
	ReasonAgreement            DrawReason = "agreement"
)

// Classification is the result of inspecting a position for terminal states.
type Classification struct {
	State      State
	Winner     Side       // set when State == StateCheckmate
	DrawReason DrawReason // set when State == StateDraw
}

// Terminal reports whether the game cannot continue from this position.
func (c Classification) Terminal() bool { return c.State != StateOngoing }

// Classify inspects the position for checkmate, stalemate and draw
// conditions. Repetition and move-count draws are declared as soon as they
// become claimable, matching how the consumer-facing rules read. Positions
// without history (FromFEN) can still report checkmate, stalemate and
// insufficient material.
func Classify(p *Position) Classification {
	switch p.game.Outcome() {
	case nchess.WhiteWon:
		return Classification{State: StateCheckmate, Winner: SideWhite}
	case nchess.BlackWon:
		return Classification{State: StateCheckmate, Winner: SideBlack}
	case nchess.Draw:
		return Classification{State: drawState(p.game.Method()), DrawReason: drawReason(p.game.Method())}
	}

	// Claimable draws end the game here rather than waiting for a claim.
	for _, method := range p.game.EligibleDraws() {
		switch method {
		case nchess.ThreefoldRepetition:
			return Classification{State: StateDraw, DrawReason: ReasonRepetition}
		case nchess.FiftyMoveRule:
			return Classification{State: StateDraw, DrawReason: ReasonMoveCount}
		}
	}
	return Classification{State: StateOngoing}
}

func drawState(method nchess.Method) State {
	if method == nchess.Stalemate {
		return StateStalemate
	}
	return StateDraw
}

func drawReason(method nchess.Method) DrawReason {
	switch method {
	case nchess.InsufficientMaterial:
		return ReasonInsufficientMaterial
	case nchess.ThreefoldRepetition, nchess.FivefoldRepetition:
		return ReasonRepetition
	case nchess.FiftyMoveRule, nchess.SeventyFiveMoveRule:
		return ReasonMoveCount
	case nchess.DrawOffer:
		return ReasonAgreement
	default:
		return ""
	}
}
