// Package gameplay turns player requests into validated game state transitions.
package gameplay

import (
	"context"
	"strings"
	"time"

	crerr "github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/keylock"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/rules"
	"github.com/park285/cheese-arena/internal/store"
	"go.uber.org/zap"
)

const pgnEvent = "Cheese Arena"

// GameStore is the part of the store the coordinator writes through.
type GameStore interface {
	CreateGame(ctx context.Context, g *domain.Game) error
	GetGame(ctx context.Context, id string) (*domain.Game, error)
	ListMoves(ctx context.Context, id string) ([]domain.Move, error)
	MutateGame(ctx context.Context, id string, fn store.MutateFunc) (*store.GameUpdate, error)
	GetPlayer(ctx context.Context, id string) (*domain.Player, error)
}

// Events receives committed transitions. Implementations must not fail the caller.
type Events interface {
	MoveApplied(ctx context.Context, g *domain.Game, m *domain.Move)
	GameChanged(ctx context.Context, g *domain.Game)
	LobbyChanged(ctx context.Context)
}

// SettlementRequester schedules rating settlement for a finished game.
// Duplicate requests are harmless.
type SettlementRequester interface {
	Request(ctx context.Context, gameID string) error
}

// AppliedMove is what a successful move committed.
type AppliedMove struct {
	Move           *domain.Move
	Game           *domain.Game
	PreviousStatus domain.Status
	NewStatus      domain.Status
}

func (a *AppliedMove) StatusChanged() bool { return a.PreviousStatus != a.NewStatus }

// LobbyRefresh reports whether the lobby view is affected by this move.
func (a *AppliedMove) LobbyRefresh() bool {
	return a.StatusChanged() || (a.Move != nil && a.Move.IsMate)
}

type Coordinator struct {
	store  GameStore
	events Events
	settle SettlementRequester
	locks  *keylock.Locker
	now    func() time.Time
	log    *zap.Logger
}

type Option func(*Coordinator)

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLocker shares a keyed lock with other components of the same process.
func WithLocker(l *keylock.Locker) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.locks = l
		}
	}
}

func New(st GameStore, events Events, settle SettlementRequester, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:  st,
		events: events,
		settle: settle,
		locks:  keylock.New(),
		now:    func() time.Time { return time.Now().UTC() },
		log:    obslog.With("gameplay"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func gameKey(id string) string { return "game:" + id }

// ApplyPlayerMove validates uci for playerID against the persisted history of gameID and commits it.
func (c *Coordinator) ApplyPlayerMove(ctx context.Context, gameID, playerID, uci string) (*AppliedMove, error) {
	gameID = strings.TrimSpace(gameID)
	playerID = strings.TrimSpace(playerID)

	unlock := c.locks.Lock(gameKey(gameID))
	defer unlock()

	head, err := c.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	opts := c.pgnOptions(ctx, head)

	var prev domain.Status
	upd, err := c.store.MutateGame(ctx, gameID, func(g *domain.Game, moves []domain.Move) (*store.GameUpdate, error) {
		prev = g.Status
		return c.decideMove(g, moves, playerID, uci, opts)
	})
	if err != nil {
		return nil, err
	}

	out := &AppliedMove{Move: upd.Move, Game: upd.Game, PreviousStatus: prev, NewStatus: upd.Game.Status}
	c.log.Info("move_applied",
		zap.String("game_id", gameID),
		zap.String("player_id", playerID),
		zap.String("uci", out.Move.UCI),
		zap.String("san", out.Move.SAN),
		zap.Int("move_number", out.Move.MoveNumber),
		zap.String("status", string(out.NewStatus)),
	)

	if out.NewStatus == domain.StatusFinished {
		c.requestSettlement(ctx, gameID)
	}
	c.events.MoveApplied(ctx, out.Game, out.Move)
	if out.LobbyRefresh() {
		c.events.LobbyChanged(ctx)
	}
	return out, nil
}

func (c *Coordinator) decideMove(g *domain.Game, moves []domain.Move, playerID, uci string, opts []rules.Option) (*store.GameUpdate, error) {
	if !g.Status.Accepting() {
		return nil, crerr.Wrapf(domain.ErrGameNotAcceptingMoves, "game %s is %s", g.ID, g.Status)
	}
	color, ok := g.ColorOf(playerID)
	if !ok {
		return nil, crerr.Wrapf(domain.ErrNotParticipant, "player %s in game %s", playerID, g.ID)
	}
	eng, err := rules.New(g.InitialFEN, history(moves), opts...)
	if err != nil {
		return nil, crerr.Wrapf(err, "replay game %s", g.ID)
	}
	if eng.SideToMove() != color {
		return nil, crerr.Wrapf(domain.ErrNotYourTurn, "%s to move", eng.SideToMove())
	}
	res, err := eng.ValidateAndApply(uci)
	if err != nil {
		return nil, err
	}

	now := c.now()
	next := *g
	next.CurrentFEN = res.FEN
	next.PGN = res.PGN
	next.MoveCount = res.MoveNumber
	next.UpdatedAt = now
	if g.Status == domain.StatusWaiting {
		next.Status = domain.StatusLive
		next.StartedAt = &now
	}
	if res.IsCheckmate {
		next.Status = domain.StatusFinished
		next.Winner = domain.WinnerFor(res.Mover)
		next.EndedAt = &now
	}
	return &store.GameUpdate{
		Game: &next,
		Move: &domain.Move{
			ID:         uuid.NewString(),
			GameID:     g.ID,
			PlayerID:   playerID,
			MoveNumber: res.MoveNumber,
			UCI:        res.UCI,
			SAN:        res.SAN,
			FENAfter:   res.FEN,
			IsCheck:    res.IsCheck,
			IsMate:     res.IsCheckmate,
			CreatedAt:  now,
		},
	}, nil
}

func (c *Coordinator) requestSettlement(ctx context.Context, gameID string) {
	if c.settle == nil {
		return
	}
	if err := c.settle.Request(context.WithoutCancel(ctx), gameID); err != nil {
		c.log.Error("settlement_request_failed", zap.String("game_id", gameID), zap.Error(err))
	}
}

// pgnOptions names both players in the PGN tags. Lookup failures fall back to ids.
func (c *Coordinator) pgnOptions(ctx context.Context, g *domain.Game) []rules.Option {
	return []rules.Option{
		rules.WithPlayers(c.displayName(ctx, g.WhiteID), c.displayName(ctx, g.BlackID)),
		rules.WithEvent(pgnEvent, "", g.CreatedAt.UTC().Format("2006.01.02")),
	}
}

func (c *Coordinator) displayName(ctx context.Context, id string) string {
	p, err := c.store.GetPlayer(ctx, id)
	if err != nil || p == nil || p.Username == "" {
		return id
	}
	return p.Username
}

func history(moves []domain.Move) []string {
	out := make([]string, len(moves))
	for i, m := range moves {
		out[i] = m.UCI
	}
	return out
}
