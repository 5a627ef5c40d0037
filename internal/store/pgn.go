package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/park285/chess-arena/internal/match"
)

func resultToPGN(res match.Result) string {
	switch res {
	case match.ResultWinWhite:
		return "1-0"
	case match.ResultWinBlack:
		return "0-1"
	case match.ResultDraw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

// BuildPGN renders the match's SAN move list as a PGN document with standard
// seven-tag-adjacent headers. Safe on unfinished matches ("*" result).
func BuildPGN(m *match.Match) string {
	if m == nil {
		return ""
	}
	pgnResult := resultToPGN(m.Result)

	var b strings.Builder
	date := m.EndedAt
	if date.IsZero() {
		date = time.Now()
	}
	b.WriteString("[Event \"Arena Match\"]\n")
	b.WriteString("[Site \"chess-arena\"]\n")
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(m.WhiteID)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(m.BlackID)))
	if m.TimeControlSec > 0 {
		b.WriteString(fmt.Sprintf("[TimeControl \"%d\"]\n", m.TimeControlSec))
	}
	if strings.TrimSpace(m.Method) != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(strings.ToLower(m.Method))))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", pgnResult))

	for i := 0; i < len(m.MovesSAN); i += 2 {
		turn := (i / 2) + 1
		b.WriteString(fmt.Sprintf("%d. %s", turn, strings.TrimSpace(m.MovesSAN[i])))
		if i+1 < len(m.MovesSAN) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(m.MovesSAN[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(pgnResult)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
