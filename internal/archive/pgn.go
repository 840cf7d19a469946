package archive

import (
	"fmt"
	"strings"
	"time"

	"github.com/park285/cheese-arena/internal/store"
)

// ResultToPGN maps a stored result to the PGN result token.
func ResultToPGN(r store.Result) string {
	switch r {
	case store.ResultWhiteWins:
		return "1-0"
	case store.ResultBlackWins:
		return "0-1"
	case store.ResultDraw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

// BuildPGN renders headers and numbered SAN for a game record.
func BuildPGN(g *store.Game) string {
	if g == nil {
		return ""
	}
	var b strings.Builder
	date := g.UpdatedAt
	if date.IsZero() {
		date = time.Now()
	}
	result := ResultToPGN(g.Result)
	b.WriteString("[Event \"Online game\"]\n")
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(g.WhitePlayerID)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(g.BlackPlayerID)))
	if g.TimeControl != "" {
		b.WriteString(fmt.Sprintf("[TimeControl \"%d\"]\n", g.TimeControl.BaseMillis()/1000))
	}
	if strings.TrimSpace(g.Termination) != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(strings.ToLower(g.Termination))))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", result))

	for i := 0; i < len(g.MovesSAN); i += 2 {
		b.WriteString(fmt.Sprintf("%d. %s", i/2+1, strings.TrimSpace(g.MovesSAN[i])))
		if i+1 < len(g.MovesSAN) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(g.MovesSAN[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(result)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
