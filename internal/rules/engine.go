// Package rules derives legality, notation and position exports from a move history.
//
// An Engine is rebuilt from the persisted history for every validation, so the
// position it reports is always the one implied by the stored moves.
package rules

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	crerr "github.com/cockroachdb/errors"
	nchess "github.com/corentings/chess/v2"
	"github.com/park285/cheese-arena/internal/domain"
)

var uciPattern = regexp.MustCompile(`^[a-h][1-8][a-h][1-8][qrbn]?$`)

// Result describes the position reached by one applied move.
type Result struct {
	UCI         string
	SAN         string
	FEN         string
	MoveNumber  int
	Mover       domain.Color
	IsCheck     bool
	IsCheckmate bool
	PGN         string
}

type Engine struct {
	initialFEN string
	standard   bool
	game       *nchess.Game
	headers    pgnHeaders
}

type Option func(*Engine)

// WithPlayers fills the White/Black PGN tags.
func WithPlayers(white, black string) Option {
	return func(e *Engine) {
		e.headers.white = white
		e.headers.black = black
	}
}

// WithEvent fills the Event/Site/Date PGN tags. Empty values stay as "?".
func WithEvent(event, site, date string) Option {
	return func(e *Engine) {
		e.headers.event = event
		e.headers.site = site
		e.headers.date = date
	}
}

// New replays history (UCI strings) from initialFEN. An empty FEN means the standard start.
func New(initialFEN string, history []string, opts ...Option) (*Engine, error) {
	fen := strings.TrimSpace(initialFEN)
	if fen == "" {
		fen = domain.DefaultStartFEN
	}
	e := &Engine{initialFEN: fen, standard: fen == domain.DefaultStartFEN}
	for _, opt := range opts {
		opt(e)
	}

	if e.standard {
		e.game = nchess.NewGame()
	} else {
		setup, err := nchess.FEN(fen)
		if err != nil {
			return nil, crerr.Wrapf(err, "parse starting position %q", fen)
		}
		e.game = nchess.NewGame(setup)
	}

	notation := nchess.UCINotation{}
	for i, raw := range history {
		mv, err := notation.Decode(e.game.Position(), raw)
		if err != nil {
			return nil, crerr.Wrapf(err, "decode history move %d (%s)", i+1, raw)
		}
		if err := e.game.Move(mv, nil); err != nil {
			return nil, crerr.Wrapf(err, "replay history move %d (%s)", i+1, raw)
		}
	}
	return e, nil
}

// NormalizeUCI trims and lower-cases a coordinate move and checks its shape.
func NormalizeUCI(raw string) (string, error) {
	uci := strings.ToLower(strings.TrimSpace(raw))
	if !uciPattern.MatchString(uci) {
		return "", crerr.Wrapf(domain.ErrInvalidMoveFormat, "%q", raw)
	}
	return uci, nil
}

// ValidateAndApply checks uci against the legal moves of the side to move and advances the position.
func (e *Engine) ValidateAndApply(raw string) (Result, error) {
	uci, err := NormalizeUCI(raw)
	if err != nil {
		return Result{}, err
	}

	before := e.game.Position()
	mover := colorFrom(before.Turn())
	mv, err := nchess.UCINotation{}.Decode(before, uci)
	if err != nil {
		return Result{}, crerr.Wrapf(domain.ErrIllegalMove, "%s: %v", uci, err)
	}
	if !e.isLegal(uci) {
		return Result{}, crerr.Wrapf(domain.ErrIllegalMove, "%s", uci)
	}
	if err := e.game.Move(mv, nil); err != nil {
		return Result{}, crerr.Wrapf(domain.ErrIllegalMove, "%s: %v", uci, err)
	}

	// SAN은 수를 두기 전 포지션 기준으로 계산해야 중의성 표기가 맞다.
	applied := lastMove(e.game)
	san := nchess.AlgebraicNotation{}.Encode(before, applied)
	mate := e.game.Method() == nchess.Checkmate
	fen := e.game.FEN()

	return Result{
		UCI:         uci,
		SAN:         san,
		FEN:         fen,
		MoveNumber:  moveNumber(fen),
		Mover:       mover,
		IsCheck:     mate || applied.HasTag(nchess.Check) || strings.HasSuffix(san, "+"),
		IsCheckmate: mate,
		PGN:         e.PGN(),
	}, nil
}

func (e *Engine) isLegal(uci string) bool {
	for _, cand := range e.LegalMoves() {
		if cand == uci {
			return true
		}
	}
	return false
}

// LegalMoves lists the legal moves of the side to move in coordinate notation.
func (e *Engine) LegalMoves() []string {
	valid := e.game.ValidMoves()
	out := make([]string, 0, len(valid))
	for _, mv := range valid {
		out = append(out, strings.ToLower(mv.String()))
	}
	sort.Strings(out)
	return out
}

func (e *Engine) SideToMove() domain.Color { return colorFrom(e.game.Position().Turn()) }

func (e *Engine) FEN() string { return e.game.FEN() }

// SANMoves returns the notation of every move on the stack, each encoded against the position it was played in.
func (e *Engine) SANMoves() []string {
	positions := e.game.Positions()
	moves := e.game.Moves()
	out := make([]string, len(moves))
	notation := nchess.AlgebraicNotation{}
	for i, mv := range moves {
		if i < len(positions) {
			out[i] = notation.Encode(positions[i], mv)
		}
	}
	return out
}

func lastMove(game *nchess.Game) *nchess.Move {
	moves := game.Moves()
	if len(moves) == 0 {
		return nil
	}
	return moves[len(moves)-1]
}

func colorFrom(c nchess.Color) domain.Color {
	if c == nchess.White {
		return domain.White
	}
	return domain.Black
}

// moveNumber is the full-move number of the move that produced fen.
func moveNumber(fen string) int {
	fields := strings.Fields(fen)
	if len(fields) < 6 {
		return 0
	}
	n, err := strconv.Atoi(fields[5])
	if err != nil {
		return 0
	}
	if fields[1] == "w" {
		n--
	}
	return n
}
