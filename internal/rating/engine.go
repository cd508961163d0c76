package rating

import (
	"context"
	"strings"
	"time"

	"github.com/park285/cheese-arena/internal/archive"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/store"
	"go.uber.org/zap"
)

// SettleStore commits a settlement atomically.
type SettleStore interface {
	Settle(ctx context.Context, gameID string, fn store.SettleFunc) (*store.Settlement, error)
}

type LobbyNotifier interface {
	LobbyChanged(ctx context.Context)
}

// Outcome is the ratings after Settle. Applied is false for a no-op.
type Outcome struct {
	WhiteRating int
	BlackRating int
	Applied     bool
}

type Engine struct {
	store   SettleStore
	archive archive.Repository
	lobby   LobbyNotifier
	log     *zap.Logger
}

func NewEngine(st SettleStore, repo archive.Repository, lobby LobbyNotifier) *Engine {
	return &Engine{store: st, archive: repo, lobby: lobby, log: obslog.With("rating")}
}

// Settle rates a finished game once. Unfinished or already rated games are left untouched
// and their current ratings returned.
func (e *Engine) Settle(ctx context.Context, gameID string) (Outcome, error) {
	gameID = strings.TrimSpace(gameID)
	var whiteBefore, blackBefore int
	res, err := e.store.Settle(ctx, gameID, func(g *domain.Game, white, black *domain.Player) (bool, error) {
		if g.Status != domain.StatusFinished || g.RatedProcessed {
			return false, nil
		}
		whiteBefore, blackBefore = white.Rating, black.Rating
		ws, bs := Scores(g.Winner)
		whiteNew := NewRating(whiteBefore, blackBefore, ws, KFactor(white.GamesPlayed()))
		blackNew := NewRating(blackBefore, whiteBefore, bs, KFactor(black.GamesPlayed()))
		apply(white, whiteNew, ws)
		apply(black, blackNew, bs)
		g.RatedProcessed = true
		return true, nil
	})
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{WhiteRating: res.White.Rating, BlackRating: res.Black.Rating, Applied: res.Applied}
	if !res.Applied {
		e.log.Debug("settlement_skipped",
			zap.String("game_id", gameID),
			zap.String("status", string(res.Game.Status)),
			zap.Bool("rated_processed", res.Game.RatedProcessed),
		)
		return out, nil
	}

	e.log.Info("settlement_applied",
		zap.String("game_id", gameID),
		zap.String("winner", string(res.Game.Winner)),
		zap.Int("white_before", whiteBefore),
		zap.Int("white_after", out.WhiteRating),
		zap.Int("black_before", blackBefore),
		zap.Int("black_after", out.BlackRating),
	)
	e.archiveGame(ctx, res, whiteBefore, blackBefore)
	if e.lobby != nil {
		e.lobby.LobbyChanged(ctx)
	}
	return out, nil
}

func (e *Engine) archiveGame(ctx context.Context, res *store.Settlement, whiteBefore, blackBefore int) {
	if e.archive == nil {
		return
	}
	g := res.Game
	ended := g.UpdatedAt
	if g.EndedAt != nil {
		ended = *g.EndedAt
	}
	rec := archive.FinishedGame{
		TimeControl: g.TimeControl,
		GameID:      g.ID,
		WhiteID:     g.WhiteID,
		WhiteName:   res.White.Username,
		BlackID:     g.BlackID,
		BlackName:   res.Black.Username,
		Winner:      g.Winner,
		PGN:         g.PGN,
		FinalFEN:    g.CurrentFEN,
		MoveCount:   g.MoveCount,
		WhiteBefore: whiteBefore,
		WhiteAfter:  res.White.Rating,
		BlackBefore: blackBefore,
		BlackAfter:  res.Black.Rating,
		StartedAt:   g.StartedAt,
		EndedAt:     ended.UTC(),
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.archive.SaveFinishedGame(actx, rec); err != nil {
		// 레이팅은 이미 커밋됐다. 아카이브 누락만 남긴다.
		e.log.Error("archive_save_failed", zap.String("game_id", g.ID), zap.Error(err))
	}
}
