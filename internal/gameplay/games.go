package gameplay

import (
	"context"
	"strings"

	crerr "github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/rules"
	"github.com/park285/cheese-arena/internal/store"
	"go.uber.org/zap"
)

// NewGame is a direct challenge from Requester to Opponent.
type NewGame struct {
	RequesterID string
	OpponentID  string
	// PlayAs is white, black or auto. Auto seats the requester as white.
	PlayAs      string
	TimeControl domain.TimeControl
}

func seat(req NewGame) (white, black string, err error) {
	switch strings.ToLower(strings.TrimSpace(req.PlayAs)) {
	case "", "auto", "white":
		return req.RequesterID, req.OpponentID, nil
	case "black":
		return req.OpponentID, req.RequesterID, nil
	}
	return "", "", crerr.Wrapf(domain.ErrInvalidInput, "play_as %q", req.PlayAs)
}

// CreateGame opens a Waiting game between two known players.
func (c *Coordinator) CreateGame(ctx context.Context, req NewGame) (*domain.Game, error) {
	req.RequesterID = strings.TrimSpace(req.RequesterID)
	req.OpponentID = strings.TrimSpace(req.OpponentID)
	if req.RequesterID == "" || req.OpponentID == "" {
		return nil, crerr.Wrap(domain.ErrInvalidInput, "both players are required")
	}
	if req.RequesterID == req.OpponentID {
		return nil, crerr.Wrapf(domain.ErrSelfPlay, "%s", req.RequesterID)
	}
	tc := req.TimeControl
	if tc.IsZero() {
		tc = domain.DefaultTimeControl()
	}
	if tc.Base < 0 || tc.Increment < 0 {
		return nil, crerr.Wrapf(domain.ErrInvalidInput, "time control %d+%d", tc.Base, tc.Increment)
	}
	white, black, err := seat(req)
	if err != nil {
		return nil, err
	}
	for _, id := range []string{white, black} {
		if _, err := c.store.GetPlayer(ctx, id); err != nil {
			return nil, err
		}
	}

	now := c.now()
	g := &domain.Game{
		ID:          uuid.NewString(),
		WhiteID:     white,
		BlackID:     black,
		InitialFEN:  domain.DefaultStartFEN,
		CurrentFEN:  domain.DefaultStartFEN,
		TimeControl: tc,
		Status:      domain.StatusWaiting,
		Winner:      domain.WinnerNone,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.store.CreateGame(ctx, g); err != nil {
		return nil, err
	}
	c.log.Info("game_created",
		zap.String("game_id", g.ID),
		zap.String("white_id", white),
		zap.String("black_id", black),
		zap.Int("base", tc.Base),
		zap.Int("increment", tc.Increment),
	)
	c.events.LobbyChanged(ctx)
	return g, nil
}

// Abort closes a Waiting or Live game without a winner. Only participants may abort.
func (c *Coordinator) Abort(ctx context.Context, gameID, playerID string) (*domain.Game, error) {
	gameID = strings.TrimSpace(gameID)
	playerID = strings.TrimSpace(playerID)

	unlock := c.locks.Lock(gameKey(gameID))
	defer unlock()

	upd, err := c.store.MutateGame(ctx, gameID, func(g *domain.Game, _ []domain.Move) (*store.GameUpdate, error) {
		if !g.Status.Accepting() {
			return nil, crerr.Wrapf(domain.ErrGameNotAcceptingMoves, "game %s is %s", g.ID, g.Status)
		}
		if _, ok := g.ColorOf(playerID); !ok {
			return nil, crerr.Wrapf(domain.ErrNotParticipant, "player %s in game %s", playerID, g.ID)
		}
		now := c.now()
		next := *g
		next.Status = domain.StatusAborted
		next.Winner = domain.WinnerNone
		next.EndedAt = &now
		next.UpdatedAt = now
		return &store.GameUpdate{Game: &next}, nil
	})
	if err != nil {
		return nil, err
	}
	c.log.Info("game_aborted", zap.String("game_id", gameID), zap.String("player_id", playerID))
	c.events.GameChanged(ctx, upd.Game)
	c.events.LobbyChanged(ctx)
	return upd.Game, nil
}

func (c *Coordinator) GameState(ctx context.Context, gameID string) (*domain.Game, error) {
	return c.store.GetGame(ctx, strings.TrimSpace(gameID))
}

// Moves returns the committed moves of a game, oldest first.
func (c *Coordinator) Moves(ctx context.Context, gameID string) ([]domain.Move, error) {
	gameID = strings.TrimSpace(gameID)
	if _, err := c.store.GetGame(ctx, gameID); err != nil {
		return nil, err
	}
	return c.store.ListMoves(ctx, gameID)
}

// LegalMoves lists the moves available to the side to move. Closed games have none.
func (c *Coordinator) LegalMoves(ctx context.Context, gameID string) (domain.Color, []string, error) {
	gameID = strings.TrimSpace(gameID)
	g, err := c.store.GetGame(ctx, gameID)
	if err != nil {
		return "", nil, err
	}
	moves, err := c.store.ListMoves(ctx, gameID)
	if err != nil {
		return "", nil, err
	}
	eng, err := rules.New(g.InitialFEN, history(moves))
	if err != nil {
		return "", nil, crerr.Wrapf(err, "replay game %s", g.ID)
	}
	if !g.Status.Accepting() {
		return eng.SideToMove(), []string{}, nil
	}
	return eng.SideToMove(), eng.LegalMoves(), nil
}
