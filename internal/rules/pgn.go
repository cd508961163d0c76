package rules

import (
	"fmt"
	"strconv"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

type pgnHeaders struct {
	event, site, date string
	white, black      string
}

// PGN renders the movetext export of the whole move stack. Games that did not
// start from the standard position carry SetUp and FEN tags.
func (e *Engine) PGN() string {
	result := resultToken(e.game.Outcome(), e.game.Method())

	var b strings.Builder
	writeTag(&b, "Event", e.headers.event)
	writeTag(&b, "Site", e.headers.site)
	date := e.headers.date
	if strings.TrimSpace(date) == "" {
		date = "????.??.??"
	}
	writeTag(&b, "Date", date)
	writeTag(&b, "Round", "")
	writeTag(&b, "White", e.headers.white)
	writeTag(&b, "Black", e.headers.black)
	writeTag(&b, "Result", result)
	if !e.standard {
		writeTag(&b, "SetUp", "1")
		writeTag(&b, "FEN", e.initialFEN)
	}
	b.WriteString("\n")

	number, whiteToMove := startCounters(e.initialFEN)
	sans := e.SANMoves()
	for i, san := range sans {
		switch {
		case whiteToMove:
			fmt.Fprintf(&b, "%d. ", number)
		case i == 0:
			fmt.Fprintf(&b, "%d... ", number)
		}
		b.WriteString(san)
		b.WriteString(" ")
		if !whiteToMove {
			number++
		}
		whiteToMove = !whiteToMove
	}
	b.WriteString(result)
	return b.String()
}

func writeTag(b *strings.Builder, name, value string) {
	value = sanitizeTag(value)
	if value == "" {
		value = "?"
	}
	fmt.Fprintf(b, "[%s \"%s\"]\n", name, value)
}

func sanitizeTag(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}

// Only mate ends a game here; automatic draws are not reported.
func resultToken(outcome nchess.Outcome, method nchess.Method) string {
	if method != nchess.Checkmate {
		return "*"
	}
	switch outcome {
	case nchess.WhiteWon:
		return "1-0"
	case nchess.BlackWon:
		return "0-1"
	default:
		return "*"
	}
}

func startCounters(fen string) (int, bool) {
	fields := strings.Fields(fen)
	number := 1
	whiteToMove := true
	if len(fields) >= 2 {
		whiteToMove = fields[1] != "b"
	}
	if len(fields) >= 6 {
		if n, err := strconv.Atoi(fields[5]); err == nil && n > 0 {
			number = n
		}
	}
	return number, whiteToMove
}
