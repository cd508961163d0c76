package matchmaking

import (
	"context"
	"sync"
	"time"

	crerr "github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/pkg/chessdto"
	"go.uber.org/zap"
)

// ErrBusy means another scheduler run holds the matchmaking lock.
var ErrBusy = crerr.New("matchmaking run already in progress")

const lockName = "matchmaking"

type SchedulerStore interface {
	PurgeExpiredTickets(ctx context.Context, now time.Time) (int, error)
	ActiveTickets(ctx context.Context, now time.Time) ([]domain.Ticket, error)
	GetPlayer(ctx context.Context, id string) (*domain.Player, error)
	PairTickets(ctx context.Context, a, b domain.Ticket, g *domain.Game) error
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, name, token string) error
	Now() time.Time
}

// Events are published once per run after all pairs are committed.
type Events interface {
	QueueChanged(ctx context.Context)
	LobbyChanged(ctx context.Context)
	Matched(ctx context.Context, g *domain.Game)
}

type MatchHook interface {
	NotifyMatched(ctx context.Context, ev chessdto.Matched) error
}

type Scheduler struct {
	store   SchedulerStore
	events  Events
	hook    MatchHook
	running sync.Mutex
	lockTTL time.Duration
	log     *zap.Logger
}

func NewScheduler(st SchedulerStore, events Events, hook MatchHook) *Scheduler {
	return &Scheduler{
		store:   st,
		events:  events,
		hook:    hook,
		lockTTL: 30 * time.Second,
		log:     obslog.With("matchmaking_scheduler"),
	}
}

// Run performs one pass and returns the ids of the games it created.
// Overlapping runs, in this process or another, fail with ErrBusy.
func (s *Scheduler) Run(ctx context.Context) ([]string, error) {
	if !s.running.TryLock() {
		return nil, ErrBusy
	}
	defer s.running.Unlock()

	token, ok, err := s.store.AcquireLock(ctx, lockName, s.lockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBusy
	}
	defer func() {
		if err := s.store.ReleaseLock(context.WithoutCancel(ctx), lockName, token); err != nil {
			s.log.Warn("matchmaking_lock_release_failed", zap.Error(err))
		}
	}()

	now := s.store.Now()
	purged, err := s.store.PurgeExpiredTickets(ctx, now)
	if err != nil {
		return nil, err
	}
	tickets, err := s.store.ActiveTickets(ctx, now)
	if err != nil {
		return nil, err
	}

	players := make(map[string]*domain.Player, len(tickets))
	ratings := make(map[string]int, len(tickets))
	for _, t := range tickets {
		p, err := s.store.GetPlayer(ctx, t.UserID)
		if err != nil {
			if crerr.Is(err, domain.ErrPlayerNotFound) {
				s.log.Warn("matchmaking_unknown_player", zap.String("user_id", t.UserID))
				continue
			}
			return nil, err
		}
		players[t.UserID] = p
		ratings[t.UserID] = p.Rating
	}

	var (
		created []*domain.Game
		runErr  error
	)
	for _, pair := range Pair(tickets, ratings) {
		g := newMatchedGame(pair, s.store.Now())
		if err := s.store.PairTickets(ctx, pair.White, pair.Black, g); err != nil {
			if crerr.Is(err, domain.ErrTicketNotFound) || crerr.Is(err, domain.ErrConflict) {
				// 읽은 뒤에 티켓이 바뀌었다. 다음 실행에서 다시 본다.
				s.log.Info("matchmaking_pair_skipped",
					zap.String("white_id", pair.White.UserID),
					zap.String("black_id", pair.Black.UserID),
					zap.Error(err))
				continue
			}
			// 이미 만든 게임은 아래에서 알린다.
			runErr = err
			break
		}
		created = append(created, g)
	}

	s.log.Debug("matchmaking_run",
		zap.Int("purged", purged),
		zap.Int("active", len(tickets)),
		zap.Int("created", len(created)),
	)
	if len(created) == 0 {
		return nil, runErr
	}

	s.events.QueueChanged(ctx)
	s.events.LobbyChanged(ctx)
	for _, g := range created {
		s.log.Info("match_found",
			zap.String("game_id", g.ID),
			zap.String("white_id", g.WhiteID),
			zap.String("black_id", g.BlackID),
		)
		s.events.Matched(ctx, g)
		s.notify(ctx, g, players)
	}
	return ids(created), runErr
}

func (s *Scheduler) notify(ctx context.Context, g *domain.Game, players map[string]*domain.Player) {
	if s.hook == nil {
		return
	}
	ev := chessdto.Matched{
		Type:   chessdto.EventMatched,
		GameID: g.ID,
		White:  ref(g.WhiteID, players),
		Black:  ref(g.BlackID, players),
	}
	if err := s.hook.NotifyMatched(ctx, ev); err != nil {
		s.log.Warn("match_webhook_failed", zap.String("game_id", g.ID), zap.Error(err))
	}
}

// Loop runs the scheduler every interval until ctx is cancelled.
func (s *Scheduler) Loop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Run(ctx); err != nil && !crerr.Is(err, ErrBusy) && ctx.Err() == nil {
				s.log.Error("matchmaking_run_failed", zap.Error(err))
			}
		}
	}
}

func newMatchedGame(p Pairing, now time.Time) *domain.Game {
	return &domain.Game{
		ID:          uuid.NewString(),
		WhiteID:     p.White.UserID,
		BlackID:     p.Black.UserID,
		InitialFEN:  domain.DefaultStartFEN,
		CurrentFEN:  domain.DefaultStartFEN,
		TimeControl: p.White.TimeControl,
		Status:      domain.StatusWaiting,
		Winner:      domain.WinnerNone,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func ref(id string, players map[string]*domain.Player) chessdto.PlayerRef {
	if p, ok := players[id]; ok && p.Username != "" {
		return chessdto.PlayerRef{ID: id, Username: p.Username}
	}
	return chessdto.PlayerRef{ID: id, Username: id}
}

func ids(games []*domain.Game) []string {
	out := make([]string, 0, len(games))
	for _, g := range games {
		out = append(out, g.ID)
	}
	return out
}
