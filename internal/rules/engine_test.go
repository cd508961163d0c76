package rules

import (
	"strings"
	"testing"

	crerr "github.com/cockroachdb/errors"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, fen string, history ...string) *Engine {
	t.Helper()
	e, err := New(fen, history)
	require.NoError(t, err)
	return e
}

func TestApplyOpeningMove(t *testing.T) {
	e := newEngine(t, "")
	require.Equal(t, domain.White, e.SideToMove())

	res, err := e.ValidateAndApply(" E2E4 ")
	require.NoError(t, err)
	require.Equal(t, "e2e4", res.UCI)
	require.Equal(t, "e4", res.SAN)
	require.Equal(t, 1, res.MoveNumber)
	require.Equal(t, domain.White, res.Mover)
	require.False(t, res.IsCheck)
	require.False(t, res.IsCheckmate)
	require.True(t, strings.HasPrefix(res.FEN, "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b "))
	require.Equal(t, domain.Black, e.SideToMove())
	require.Contains(t, res.PGN, "1. e4 *")
	require.NotContains(t, res.PGN, "SetUp")
}

func TestRejectsMalformedMoves(t *testing.T) {
	for _, in := range []string{"", "e2", "e9e4", "i2i4", "e2e4x", "e7e8k", "Nf3"} {
		e := newEngine(t, "")
		_, err := e.ValidateAndApply(in)
		require.Truef(t, crerr.Is(err, domain.ErrInvalidMoveFormat), "input %q: %v", in, err)
		require.Empty(t, e.SANMoves())
	}
}

func TestRejectsIllegalMoves(t *testing.T) {
	cases := map[string][]string{
		"pawn jump":      {"e2e5"},
		"wrong side":     {"e7e5"},
		"empty square":   {"e4e5"},
		"pinned pawn":    {"e2e4", "e7e5", "d1h5", "f7f6"},
		"castle blocked": {"e2e4", "e7e5", "e1g1"},
	}
	for name, seq := range cases {
		t.Run(name, func(t *testing.T) {
			e := newEngine(t, "", seq[:len(seq)-1]...)
			before := e.FEN()
			_, err := e.ValidateAndApply(seq[len(seq)-1])
			require.True(t, crerr.Is(err, domain.ErrIllegalMove), "got %v", err)
			require.Equal(t, before, e.FEN())
		})
	}
}

func TestCheckIsFlagged(t *testing.T) {
	e := newEngine(t, "", "e2e4", "f7f6")
	res, err := e.ValidateAndApply("d1h5")
	require.NoError(t, err)
	require.Equal(t, "Qh5+", res.SAN)
	require.True(t, res.IsCheck)
	require.False(t, res.IsCheckmate)
	require.Equal(t, 2, res.MoveNumber)
}

func TestFoolsMateByBlack(t *testing.T) {
	e := newEngine(t, "", "f2f3", "e7e5", "g2g4")
	res, err := e.ValidateAndApply("d8h4")
	require.NoError(t, err)
	require.Equal(t, "Qh4#", res.SAN)
	require.True(t, res.IsCheckmate)
	require.True(t, res.IsCheck)
	require.Equal(t, domain.Black, res.Mover)
	require.Equal(t, 2, res.MoveNumber)
	require.Empty(t, e.LegalMoves())
	require.Contains(t, res.PGN, `[Result "0-1"]`)
	require.True(t, strings.HasSuffix(res.PGN, "1. f3 e5 2. g4 Qh4# 0-1"))
}

func TestCastlingSAN(t *testing.T) {
	e := newEngine(t, "", "e2e4", "e7e5", "g1f3", "b8c6", "f1c4", "g8f6")
	res, err := e.ValidateAndApply("e1g1")
	require.NoError(t, err)
	require.Equal(t, "O-O", res.SAN)
	require.Equal(t, 4, res.MoveNumber)
}

func TestPromotionFromCustomPosition(t *testing.T) {
	fen := "8/P7/8/8/8/8/8/k6K w - - 0 1"
	e := newEngine(t, fen)
	require.Contains(t, e.LegalMoves(), "a7a8q")

	_, err := e.ValidateAndApply("a7a8")
	require.True(t, crerr.Is(err, domain.ErrIllegalMove))

	res, err := e.ValidateAndApply("a7a8q")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(res.SAN, "a8=Q"))
	require.Contains(t, res.PGN, `[SetUp "1"]`)
	require.Contains(t, res.PGN, `[FEN "`+fen+`"]`)
}

func TestBlackToMoveNumbering(t *testing.T) {
	fen := "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1"
	e := newEngine(t, fen)
	res, err := e.ValidateAndApply("e7e5")
	require.NoError(t, err)
	require.Equal(t, 1, res.MoveNumber)
	require.Contains(t, res.PGN, "1... e5 ")

	res, err = e.ValidateAndApply("g1f3")
	require.NoError(t, err)
	require.Equal(t, 2, res.MoveNumber)
	require.Contains(t, res.PGN, "1... e5 2. Nf3 *")
}

func TestReplayDeterminism(t *testing.T) {
	line := []string{"e2e4", "c7c5", "g1f3", "d7d6", "d2d4", "c5d4", "f3d4", "g8f6", "b1c3", "a7a6"}
	var history []string
	var fens []string
	for _, mv := range line {
		e := newEngine(t, "", history...)
		res, err := e.ValidateAndApply(mv)
		require.NoError(t, err)
		history = append(history, mv)
		fens = append(fens, res.FEN)
	}
	for i := range line {
		replayed := newEngine(t, "", line[:i+1]...)
		require.Equal(t, fens[i], replayed.FEN(), "ply %d", i+1)
	}
	require.Len(t, newEngine(t, "", line...).SANMoves(), len(line))
}

func TestNewRejectsBadHistory(t *testing.T) {
	_, err := New("", []string{"e2e4", "e2e4"})
	require.Error(t, err)

	_, err = New("not a fen", nil)
	require.Error(t, err)
}

func TestPlayersInHeaders(t *testing.T) {
	e, err := New("", nil, WithPlayers("alice", "bob"), WithEvent("Arena", "cheese-arena", "2026.10.19"))
	require.NoError(t, err)
	pgn := e.PGN()
	require.Contains(t, pgn, `[White "alice"]`)
	require.Contains(t, pgn, `[Black "bob"]`)
	require.Contains(t, pgn, `[Date "2026.10.19"]`)
	require.Contains(t, pgn, `[Round "?"]`)
}

func TestLegalMovesAtStart(t *testing.T) {
	moves := newEngine(t, "").LegalMoves()
	require.Len(t, moves, 20)
	require.Contains(t, moves, "g1f3")
}
