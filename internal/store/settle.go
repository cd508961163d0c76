package store

import (
	"context"

	sonic "github.com/bytedance/sonic"
	crerr "github.com/cockroachdb/errors"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/redis/go-redis/v9"
)

// SettleFunc receives the game and both rating records as read under WATCH.
// It mutates them in place and returns true to commit, false to leave everything untouched.
type SettleFunc func(g *domain.Game, white, black *domain.Player) (bool, error)

// Settlement is the state after Settle returns.
type Settlement struct {
	Game    *domain.Game
	White   *domain.Player
	Black   *domain.Player
	Applied bool
}

// Settle commits both rating records and the game in one MULTI.
// A game that no longer needs settlement is dropped from the unsettled index.
func (s *Store) Settle(ctx context.Context, gameID string, fn SettleFunc) (*Settlement, error) {
	head, err := s.GetGame(ctx, gameID)
	if err != nil {
		if crerr.Is(err, domain.ErrGameNotFound) {
			s.forgetUnsettled(ctx, gameID)
		}
		return nil, err
	}
	whiteKey, blackKey := keyPlayer(head.WhiteID), keyPlayer(head.BlackID)

	var (
		out  *Settlement
		pass passthrough
	)
	err = s.watchRetry(ctx, "settle game", func(tx *redis.Tx) error {
		g, err := loadGame(ctx, tx, gameID)
		if err != nil {
			if crerr.Is(err, domain.ErrGameNotFound) {
				return pass.set(err)
			}
			return err
		}
		white, err := loadPlayer(ctx, tx, g.WhiteID)
		if err != nil {
			if crerr.Is(err, domain.ErrPlayerNotFound) {
				return pass.set(err)
			}
			return err
		}
		black, err := loadPlayer(ctx, tx, g.BlackID)
		if err != nil {
			if crerr.Is(err, domain.ErrPlayerNotFound) {
				return pass.set(err)
			}
			return err
		}

		apply, err := fn(g, white, black)
		if err != nil {
			return pass.set(err)
		}
		out = &Settlement{Game: g, White: white, Black: black}
		if !apply {
			if !needsSettlement(g) {
				s.forgetUnsettled(ctx, g.ID)
			}
			return nil
		}
		raw, err := sonic.Marshal(g)
		if err != nil {
			return pass.set(crerr.Wrap(err, "marshal game"))
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, keyGame(g.ID), raw, s.gameTTL)
			if s.gameTTL > 0 {
				pipe.Expire(ctx, keyMoves(g.ID), s.gameTTL)
			}
			pipe.HSet(ctx, keyPlayer(white.ID), playerFields(white))
			pipe.HSet(ctx, keyPlayer(black.ID), playerFields(black))
			pipe.SRem(ctx, keyUnsettled(), g.ID)
			return nil
		})
		if err != nil {
			return err
		}
		out.Applied = true
		return nil
	}, keyGame(gameID), whiteKey, blackKey)
	if err != nil {
		return nil, pass.resolve(err, "settle game")
	}
	return out, nil
}

func (s *Store) forgetUnsettled(ctx context.Context, gameID string) {
	// 실패해도 다음 스윕에서 다시 정리된다.
	_ = s.rdb.SRem(ctx, keyUnsettled(), gameID).Err()
}
