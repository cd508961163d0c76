package gameplay

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	crerr "github.com/cockroachdb/errors"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/store"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	moves   []string
	games   []domain.Status
	lobby   int
	settled []string
	failReq error
}

func (r *recorder) MoveApplied(_ context.Context, _ *domain.Game, m *domain.Move) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.moves = append(r.moves, m.UCI)
}

func (r *recorder) GameChanged(_ context.Context, g *domain.Game) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.games = append(r.games, g.Status)
}

func (r *recorder) LobbyChanged(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lobby++
}

func (r *recorder) Request(_ context.Context, gameID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failReq != nil {
		return r.failReq
	}
	r.settled = append(r.settled, gameID)
	return nil
}

func newTestCoordinator(t *testing.T) (*Coordinator, *store.Store, *recorder) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb, err := store.Connect(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	st := store.New(rdb)
	rec := &recorder{}
	ctx := context.Background()
	for id, name := range map[string]string{"w": "white-player", "b": "black-player", "x": "outsider"} {
		_, err := st.EnsurePlayer(ctx, id, name, domain.DefaultRating)
		require.NoError(t, err)
	}
	return New(st, rec, rec), st, rec
}

func openGame(t *testing.T, c *Coordinator) *domain.Game {
	t.Helper()
	g, err := c.CreateGame(context.Background(), NewGame{RequesterID: "w", OpponentID: "b", PlayAs: "white"})
	require.NoError(t, err)
	return g
}

func play(t *testing.T, c *Coordinator, g *domain.Game, ucis ...string) *AppliedMove {
	t.Helper()
	var last *AppliedMove
	for i, uci := range ucis {
		player := g.WhiteID
		if i%2 == 1 {
			player = g.BlackID
		}
		var err error
		last, err = c.ApplyPlayerMove(context.Background(), g.ID, player, uci)
		require.NoError(t, err, uci)
	}
	return last
}

func TestFirstMoveStartsGame(t *testing.T) {
	c, _, rec := newTestCoordinator(t)
	g := openGame(t, c)
	require.Equal(t, domain.StatusWaiting, g.Status)
	lobbyBefore := rec.lobby

	res, err := c.ApplyPlayerMove(context.Background(), g.ID, "w", "e2e4")
	require.NoError(t, err)
	require.Equal(t, domain.StatusWaiting, res.PreviousStatus)
	require.Equal(t, domain.StatusLive, res.NewStatus)
	require.True(t, res.StatusChanged())
	require.Equal(t, 1, res.Game.MoveCount)
	require.True(t, strings.HasPrefix(res.Game.CurrentFEN, "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq"), res.Game.CurrentFEN)
	require.NotNil(t, res.Game.StartedAt)
	require.False(t, res.Move.IsCheck)
	require.Equal(t, "e4", res.Move.SAN)
	require.Equal(t, 1, res.Move.MoveNumber)
	require.Contains(t, res.Game.PGN, `[White "white-player"]`)

	require.Equal(t, []string{"e2e4"}, rec.moves)
	require.Equal(t, lobbyBefore+1, rec.lobby)

	// 상태 변화가 없으면 로비 갱신도 없다.
	res, err = c.ApplyPlayerMove(context.Background(), g.ID, "b", "e7e5")
	require.NoError(t, err)
	require.False(t, res.LobbyRefresh())
	require.Equal(t, lobbyBefore+1, rec.lobby)
	require.Len(t, rec.moves, 2)
	// 1.e4 e5 이후에도 수 번호는 1이다.
	require.Equal(t, 1, res.Game.MoveCount)

	res, err = c.ApplyPlayerMove(context.Background(), g.ID, "w", "g1f3")
	require.NoError(t, err)
	require.Equal(t, 2, res.Game.MoveCount)
}

func TestMovePreconditions(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	g := openGame(t, c)

	_, err := c.ApplyPlayerMove(ctx, "missing", "w", "e2e4")
	require.True(t, crerr.Is(err, domain.ErrGameNotFound))

	_, err = c.ApplyPlayerMove(ctx, g.ID, "x", "e2e4")
	require.True(t, crerr.Is(err, domain.ErrNotParticipant))

	_, err = c.ApplyPlayerMove(ctx, g.ID, "b", "e7e5")
	require.True(t, crerr.Is(err, domain.ErrNotYourTurn))

	_, err = c.ApplyPlayerMove(ctx, g.ID, "w", "e2")
	require.True(t, crerr.Is(err, domain.ErrInvalidMoveFormat))

	_, err = c.ApplyPlayerMove(ctx, g.ID, "w", "e2e5")
	require.True(t, crerr.Is(err, domain.ErrIllegalMove))

	// 거절된 수는 아무것도 남기지 않는다.
	moves, err := c.Moves(ctx, g.ID)
	require.NoError(t, err)
	require.Empty(t, moves)
	cur, err := c.GameState(ctx, g.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusWaiting, cur.Status)
}

func TestCheckmateFinishesAndRequestsSettlement(t *testing.T) {
	c, _, rec := newTestCoordinator(t)
	ctx := context.Background()
	g := openGame(t, c)

	res := play(t, c, g, "f2f3", "e7e5", "g2g4", "d8h4")
	require.True(t, res.Move.IsMate)
	require.True(t, res.Move.IsCheck)
	require.Equal(t, domain.StatusFinished, res.NewStatus)
	require.Equal(t, domain.WinnerBlack, res.Game.Winner)
	require.NotNil(t, res.Game.EndedAt)
	require.Equal(t, []string{g.ID}, rec.settled)

	_, err := c.ApplyPlayerMove(ctx, g.ID, "w", "a2a3")
	require.True(t, crerr.Is(err, domain.ErrGameNotAcceptingMoves))

	_, legal, err := c.LegalMoves(ctx, g.ID)
	require.NoError(t, err)
	require.Empty(t, legal)
}

func TestMateIsRecordedWhenSettlementRequestFails(t *testing.T) {
	c, st, rec := newTestCoordinator(t)
	ctx := context.Background()
	rec.failReq = crerr.New("queue unavailable")
	g := openGame(t, c)

	res := play(t, c, g, "f2f3", "e7e5", "g2g4", "d8h4")
	require.Equal(t, domain.StatusFinished, res.NewStatus)
	require.Empty(t, rec.settled)

	// 워커의 스윕이 이 목록으로 다시 정산한다.
	ids, err := st.UnsettledGames(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{g.ID}, ids)
}

func TestTurnsAlternate(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	g := openGame(t, c)
	play(t, c, g, "e2e4", "e7e5", "g1f3", "b8c6")

	moves, err := c.Moves(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, moves, 4)
	for i := 1; i < len(moves); i++ {
		require.NotEqual(t, moves[i-1].PlayerID, moves[i].PlayerID)
	}
	require.Equal(t, []int{1, 1, 2, 2}, []int{moves[0].MoveNumber, moves[1].MoveNumber, moves[2].MoveNumber, moves[3].MoveNumber})

	side, legal, err := c.LegalMoves(ctx, g.ID)
	require.NoError(t, err)
	require.Equal(t, domain.White, side)
	require.Contains(t, legal, "f1b5")
}

func TestConcurrentMovesOnSameGame(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	g := openGame(t, c)

	candidates := []string{"e2e4", "d2d4", "c2c4", "g1f3", "b1c3", "a2a3"}
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for _, uci := range candidates {
		wg.Add(1)
		go func(uci string) {
			defer wg.Done()
			_, err := c.ApplyPlayerMove(ctx, g.ID, "w", uci)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			if !crerr.Is(err, domain.ErrNotYourTurn) {
				t.Errorf("unexpected error for %s: %v", uci, err)
			}
		}(uci)
	}
	wg.Wait()
	require.Equal(t, 1, wins)

	moves, err := c.Moves(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, moves, 1)
}

func TestCreateGameSeating(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	g, err := c.CreateGame(ctx, NewGame{RequesterID: "w", OpponentID: "b", PlayAs: "auto"})
	require.NoError(t, err)
	require.Equal(t, "w", g.WhiteID)
	require.Equal(t, domain.DefaultTimeControl(), g.TimeControl)

	g, err = c.CreateGame(ctx, NewGame{RequesterID: "w", OpponentID: "b", PlayAs: "black", TimeControl: domain.TimeControl{Base: 600, Increment: 5}})
	require.NoError(t, err)
	require.Equal(t, "b", g.WhiteID)
	require.Equal(t, "w", g.BlackID)
	require.Equal(t, 600, g.TimeControl.Base)

	_, err = c.CreateGame(ctx, NewGame{RequesterID: "w", OpponentID: "w"})
	require.True(t, crerr.Is(err, domain.ErrSelfPlay))

	_, err = c.CreateGame(ctx, NewGame{RequesterID: "w", OpponentID: "ghost"})
	require.True(t, crerr.Is(err, domain.ErrPlayerNotFound))

	_, err = c.CreateGame(ctx, NewGame{RequesterID: "w", OpponentID: "b", PlayAs: "green"})
	require.True(t, crerr.Is(err, domain.ErrInvalidInput))

	_, err = c.CreateGame(ctx, NewGame{RequesterID: "w", OpponentID: "b", TimeControl: domain.TimeControl{Base: -1}})
	require.True(t, crerr.Is(err, domain.ErrInvalidInput))
}

func TestAbort(t *testing.T) {
	c, st, rec := newTestCoordinator(t)
	ctx := context.Background()
	g := openGame(t, c)
	play(t, c, g, "e2e4")

	_, err := c.Abort(ctx, g.ID, "x")
	require.True(t, crerr.Is(err, domain.ErrNotParticipant))

	aborted, err := c.Abort(ctx, g.ID, "b")
	require.NoError(t, err)
	require.Equal(t, domain.StatusAborted, aborted.Status)
	require.Equal(t, domain.WinnerNone, aborted.Winner)
	require.NotNil(t, aborted.EndedAt)
	require.Equal(t, []domain.Status{domain.StatusAborted}, rec.games)
	require.Empty(t, rec.settled)

	_, err = c.Abort(ctx, g.ID, "w")
	require.True(t, crerr.Is(err, domain.ErrGameNotAcceptingMoves))

	live, waiting, err := st.LobbyCounts(ctx)
	require.NoError(t, err)
	require.Zero(t, live)
	require.Zero(t, waiting)
}

func TestStoreOutageIsRetryable(t *testing.T) {
	c, st, _ := newTestCoordinator(t)
	g := openGame(t, c)
	require.NoError(t, st.Client().Close())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := c.ApplyPlayerMove(ctx, g.ID, "w", "e2e4")
	require.Error(t, err)
	require.True(t, domain.Retryable(err))
}
