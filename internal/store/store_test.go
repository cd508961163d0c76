package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	sonic "github.com/bytedance/sonic"
	crerr "github.com/cockroachdb/errors"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb, err := Connect(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()))
	if err != nil {
		t.Fatalf("store.Connect: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, opts...), mr
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := sonic.Marshal(v)
	require.NoError(t, err)
	return raw
}

func sampleGame(id string, created time.Time) *domain.Game {
	return &domain.Game{
		ID:          id,
		WhiteID:     "w",
		BlackID:     "b",
		InitialFEN:  domain.DefaultStartFEN,
		CurrentFEN:  domain.DefaultStartFEN,
		TimeControl: domain.DefaultTimeControl(),
		Status:      domain.StatusWaiting,
		Winner:      domain.WinnerNone,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func TestCreateAndMutateGame(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.CreateGame(ctx, sampleGame("g1", now)))
	live, waiting, err := s.LobbyCounts(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, live)
	require.EqualValues(t, 1, waiting)

	upd, err := s.MutateGame(ctx, "g1", func(g *domain.Game, moves []domain.Move) (*GameUpdate, error) {
		require.Empty(t, moves)
		g.Status = domain.StatusLive
		g.MoveCount = 1
		return &GameUpdate{Game: g, Move: &domain.Move{ID: "m1", GameID: g.ID, UCI: "e2e4", MoveNumber: 1}}, nil
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusLive, upd.Game.Status)

	moves, err := s.ListMoves(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, moves, 1)
	require.Equal(t, "e2e4", moves[0].UCI)

	live, waiting, err = s.LobbyCounts(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, live)
	require.EqualValues(t, 0, waiting)
}

func TestMutateGamePassesDecisionErrorsThrough(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateGame(ctx, sampleGame("g1", time.Now())))

	_, err := s.MutateGame(ctx, "g1", func(*domain.Game, []domain.Move) (*GameUpdate, error) {
		return nil, domain.ErrNotYourTurn
	})
	require.True(t, crerr.Is(err, domain.ErrNotYourTurn))
	require.False(t, domain.Retryable(err))

	_, err = s.MutateGame(ctx, "missing", func(*domain.Game, []domain.Move) (*GameUpdate, error) {
		t.Fatal("must not be called")
		return nil, nil
	})
	require.True(t, crerr.Is(err, domain.ErrGameNotFound))
}

func TestMutateGameRetriesOnceAfterConcurrentWrite(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateGame(ctx, sampleGame("g1", time.Now())))

	calls := 0
	_, err := s.MutateGame(ctx, "g1", func(g *domain.Game, _ []domain.Move) (*GameUpdate, error) {
		calls++
		if calls == 1 {
			// a competing writer touches the watched key between read and EXEC
			require.NoError(t, s.rdb.Set(ctx, keyGame("g1"), mustJSON(t, g), 0).Err())
		}
		g.MoveCount++
		return &GameUpdate{Game: g}, nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)

	calls = 0
	_, err = s.MutateGame(ctx, "g1", func(g *domain.Game, _ []domain.Move) (*GameUpdate, error) {
		calls++
		require.NoError(t, s.rdb.Set(ctx, keyGame("g1"), mustJSON(t, g), 0).Err())
		return &GameUpdate{Game: g}, nil
	})
	require.True(t, crerr.Is(err, domain.ErrConflict))
	require.True(t, domain.Retryable(err))
	require.Equal(t, 2, calls)
}

func appendMove(t *testing.T, s *Store, id string, status domain.Status) {
	t.Helper()
	_, err := s.MutateGame(context.Background(), id, func(g *domain.Game, moves []domain.Move) (*GameUpdate, error) {
		g.Status = status
		if status == domain.StatusFinished {
			g.Winner = domain.WinnerWhite
		}
		return &GameUpdate{Game: g, Move: &domain.Move{ID: fmt.Sprintf("m%d", len(moves)), GameID: id, MoveNumber: 1, UCI: "e2e4"}}, nil
	})
	require.NoError(t, err)
}

func TestTerminalGamesAreKeptByDefault(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateGame(ctx, sampleGame("g1", time.Now())))
	appendMove(t, s, "g1", domain.StatusLive)
	_, err := s.MutateGame(ctx, "g1", func(g *domain.Game, _ []domain.Move) (*GameUpdate, error) {
		g.Status = domain.StatusAborted
		return &GameUpdate{Game: g}, nil
	})
	require.NoError(t, err)

	mr.FastForward(73 * time.Hour)
	g, err := s.GetGame(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusAborted, g.Status)
	moves, err := s.ListMoves(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, moves, 1)
}

func TestTerminalGamesExpireWhenConfigured(t *testing.T) {
	s, mr := newTestStore(t, WithFinishedTTL(time.Hour))
	ctx := context.Background()
	require.NoError(t, s.CreateGame(ctx, sampleGame("g1", time.Now())))

	_, err := s.MutateGame(ctx, "g1", func(g *domain.Game, _ []domain.Move) (*GameUpdate, error) {
		g.Status = domain.StatusAborted
		return &GameUpdate{Game: g}, nil
	})
	require.NoError(t, err)
	_, waiting, err := s.LobbyCounts(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, waiting)

	mr.FastForward(2 * time.Hour)
	_, err = s.GetGame(ctx, "g1")
	require.True(t, crerr.Is(err, domain.ErrGameNotFound))
}

func TestFinishedGamesOutliveTTLUntilSettled(t *testing.T) {
	s, mr := newTestStore(t, WithFinishedTTL(time.Hour))
	ctx := context.Background()
	_, err := s.EnsurePlayer(ctx, "w", "alice", domain.DefaultRating)
	require.NoError(t, err)
	_, err = s.EnsurePlayer(ctx, "b", "bob", domain.DefaultRating)
	require.NoError(t, err)
	require.NoError(t, s.CreateGame(ctx, sampleGame("g1", time.Now())))
	appendMove(t, s, "g1", domain.StatusFinished)

	ids, err := s.UnsettledGames(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"g1"}, ids)

	mr.FastForward(2 * time.Hour)
	_, err = s.GetGame(ctx, "g1")
	require.NoError(t, err)

	res, err := s.Settle(ctx, "g1", func(g *domain.Game, _, _ *domain.Player) (bool, error) {
		g.RatedProcessed = true
		return true, nil
	})
	require.NoError(t, err)
	require.True(t, res.Applied)
	ids, err = s.UnsettledGames(ctx)
	require.NoError(t, err)
	require.Empty(t, ids)

	mr.FastForward(2 * time.Hour)
	_, err = s.GetGame(ctx, "g1")
	require.True(t, crerr.Is(err, domain.ErrGameNotFound))
	moves, err := s.ListMoves(ctx, "g1")
	require.NoError(t, err)
	require.Empty(t, moves)
}

func TestSettleForgetsGamesThatNeedNoRating(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	_, err := s.EnsurePlayer(ctx, "w", "alice", domain.DefaultRating)
	require.NoError(t, err)
	_, err = s.EnsurePlayer(ctx, "b", "bob", domain.DefaultRating)
	require.NoError(t, err)

	g := sampleGame("g1", time.Now())
	g.Status = domain.StatusFinished
	g.RatedProcessed = true
	require.NoError(t, s.CreateGame(ctx, g))
	ids, err := s.UnsettledGames(ctx)
	require.NoError(t, err)
	require.Empty(t, ids)

	// 인덱스에만 남은 id는 Settle이 정리한다.
	require.NoError(t, s.Client().SAdd(ctx, keyUnsettled(), "g1", "gone").Err())
	_, err = s.Settle(ctx, "g1", func(*domain.Game, *domain.Player, *domain.Player) (bool, error) {
		return false, nil
	})
	require.NoError(t, err)
	_, err = s.Settle(ctx, "gone", func(*domain.Game, *domain.Player, *domain.Player) (bool, error) {
		return true, nil
	})
	require.True(t, crerr.Is(err, domain.ErrGameNotFound))
	ids, err = s.UnsettledGames(ctx)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestRecentGamesNewestFirst(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	base := time.Now()
	for i := 0; i < 7; i++ {
		require.NoError(t, s.CreateGame(ctx, sampleGame(fmt.Sprintf("g%d", i), base.Add(time.Duration(i)*time.Second))))
	}
	games, err := s.RecentGames(ctx, 5)
	require.NoError(t, err)
	require.Len(t, games, 5)
	require.Equal(t, "g6", games[0].ID)
	require.Equal(t, "g2", games[4].ID)
}

func TestPlayersAndSettle(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	p, err := s.EnsurePlayer(ctx, "w", "alice", domain.DefaultRating)
	require.NoError(t, err)
	require.Equal(t, 1200, p.Rating)
	require.Equal(t, "alice", p.Username)

	// second call keeps the record
	require.NoError(t, s.PutPlayer(ctx, &domain.Player{ID: "w", Username: "alice", Rating: 1500, Wins: 3}))
	p, err = s.EnsurePlayer(ctx, "w", "", domain.DefaultRating)
	require.NoError(t, err)
	require.Equal(t, 1500, p.Rating)
	require.Equal(t, "alice", p.Username)

	_, err = s.EnsurePlayer(ctx, "b", "bob", domain.DefaultRating)
	require.NoError(t, err)

	g := sampleGame("g1", time.Now())
	g.Status = domain.StatusFinished
	g.Winner = domain.WinnerWhite
	require.NoError(t, s.CreateGame(ctx, g))

	res, err := s.Settle(ctx, "g1", func(g *domain.Game, white, black *domain.Player) (bool, error) {
		g.RatedProcessed = true
		white.Rating += 10
		white.Wins++
		black.Rating -= 10
		black.Losses++
		return true, nil
	})
	require.NoError(t, err)
	require.True(t, res.Applied)

	w, err := s.GetPlayer(ctx, "w")
	require.NoError(t, err)
	require.Equal(t, 1510, w.Rating)
	require.Equal(t, 4, w.Wins)
	b, err := s.GetPlayer(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, 1190, b.Rating)
	require.Equal(t, 1, b.Losses)
	got, err := s.GetGame(ctx, "g1")
	require.NoError(t, err)
	require.True(t, got.RatedProcessed)

	res, err = s.Settle(ctx, "g1", func(*domain.Game, *domain.Player, *domain.Player) (bool, error) {
		return false, nil
	})
	require.NoError(t, err)
	require.False(t, res.Applied)

	_, err = s.GetPlayer(ctx, "nobody")
	require.True(t, crerr.Is(err, domain.ErrPlayerNotFound))
}

func TestTicketLifecycle(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	clock := now
	s, _ := newTestStore(t, WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	first, err := s.UpsertTicket(ctx, &domain.Ticket{UserID: "u1", TimeControl: domain.DefaultTimeControl(), RatingMax: 4000, CreatedAt: now, ExpiresAt: now.Add(5 * time.Minute)})
	require.NoError(t, err)
	_, err = s.UpsertTicket(ctx, &domain.Ticket{UserID: "u2", TimeControl: domain.DefaultTimeControl(), RatingMax: 4000, CreatedAt: now.Add(time.Second), ExpiresAt: now.Add(time.Minute)})
	require.NoError(t, err)

	// rejoin keeps the original queue position
	clock = now.Add(10 * time.Second)
	again, err := s.UpsertTicket(ctx, &domain.Ticket{UserID: "u1", TimeControl: domain.TimeControl{Base: 600}, RatingMax: 2000, CreatedAt: clock, ExpiresAt: clock.Add(5 * time.Minute)})
	require.NoError(t, err)
	require.True(t, again.CreatedAt.Equal(first.CreatedAt))

	active, err := s.ActiveTickets(ctx, clock)
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, "u1", active[0].UserID)
	require.Equal(t, 600, active[0].TimeControl.Base)

	later := now.Add(2 * time.Minute)
	active, err = s.ActiveTickets(ctx, later)
	require.NoError(t, err)
	require.Len(t, active, 1)

	purged, err := s.PurgeExpiredTickets(ctx, later)
	require.NoError(t, err)
	require.Equal(t, 1, purged)
	_, err = s.GetTicket(ctx, "u2")
	require.True(t, crerr.Is(err, domain.ErrTicketNotFound))

	existed, err := s.DeleteTicket(ctx, "u1")
	require.NoError(t, err)
	require.True(t, existed)
	existed, err = s.DeleteTicket(ctx, "u1")
	require.NoError(t, err)
	require.False(t, existed)
	n, err := s.CountTickets(ctx, later)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestPairTickets(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	for i, u := range []string{"a", "b", "c"} {
		_, err := s.UpsertTicket(ctx, &domain.Ticket{UserID: u, TimeControl: domain.DefaultTimeControl(), RatingMax: 4000, CreatedAt: now.Add(time.Duration(i) * time.Second), ExpiresAt: now.Add(time.Hour)})
		require.NoError(t, err)
	}
	active, err := s.ActiveTickets(ctx, now)
	require.NoError(t, err)
	require.Len(t, active, 3)

	g := sampleGame("g1", now)
	g.WhiteID, g.BlackID = "a", "b"
	require.NoError(t, s.PairTickets(ctx, active[0], active[1], g))

	left, err := s.ActiveTickets(ctx, now)
	require.NoError(t, err)
	require.Len(t, left, 1)
	require.Equal(t, "c", left[0].UserID)
	_, err = s.GetGame(ctx, "g1")
	require.NoError(t, err)

	// stale snapshot of a consumed ticket
	err = s.PairTickets(ctx, active[0], active[2], sampleGame("g2", now))
	require.True(t, crerr.Is(err, domain.ErrTicketNotFound))

	// ticket rewritten after it was read
	_, err = s.UpsertTicket(ctx, &domain.Ticket{UserID: "c", TimeControl: domain.DefaultTimeControl(), RatingMin: 100, RatingMax: 200, CreatedAt: now, ExpiresAt: now.Add(time.Hour)})
	require.NoError(t, err)
	_, err = s.UpsertTicket(ctx, &domain.Ticket{UserID: "d", TimeControl: domain.DefaultTimeControl(), RatingMax: 4000, CreatedAt: now, ExpiresAt: now.Add(time.Hour)})
	require.NoError(t, err)
	d, err := s.GetTicket(ctx, "d")
	require.NoError(t, err)
	err = s.PairTickets(ctx, left[0], *d, sampleGame("g3", now))
	require.True(t, crerr.Is(err, domain.ErrConflict))
	_, err = s.GetGame(ctx, "g3")
	require.True(t, crerr.Is(err, domain.ErrGameNotFound))
}

func TestLocks(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	tok, ok, err := s.AcquireLock(ctx, "matchmaking", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = s.AcquireLock(ctx, "matchmaking", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.ReleaseLock(ctx, "matchmaking", "someone-else"))
	_, ok, err = s.AcquireLock(ctx, "matchmaking", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.ReleaseLock(ctx, "matchmaking", tok))
	_, ok, err = s.AcquireLock(ctx, "matchmaking", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSettlementQueue(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnqueueSettlement(ctx, "g1"))
	require.NoError(t, s.EnqueueSettlement(ctx, "g2"))
	n, err := s.PendingSettlements(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	id, err := s.DequeueSettlement(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, "g1", id)
	id, err = s.DequeueSettlement(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, "g2", id)
}
