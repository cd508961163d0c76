package store

import (
	"context"
	"errors"

	sonic "github.com/bytedance/sonic"
	crerr "github.com/cockroachdb/errors"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/redis/go-redis/v9"
)

// GameUpdate is the outcome of a mutation: the new game state and, optionally, one appended move.
type GameUpdate struct {
	Game *domain.Game
	Move *domain.Move
}

// MutateFunc inspects the current game and its moves and decides the update.
// Returning an error aborts the transaction with that error; returning nil, nil writes nothing.
type MutateFunc func(g *domain.Game, moves []domain.Move) (*GameUpdate, error)

// CreateGame stores a new game and indexes it.
func (s *Store) CreateGame(ctx context.Context, g *domain.Game) error {
	raw, err := sonic.Marshal(g)
	if err != nil {
		return crerr.Wrap(err, "marshal game")
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		writeNewGame(ctx, pipe, g, raw)
		return nil
	})
	if err != nil {
		return domain.Unavailable(err, "create game")
	}
	return nil
}

func writeNewGame(ctx context.Context, pipe redis.Pipeliner, g *domain.Game, raw []byte) {
	pipe.Set(ctx, keyGame(g.ID), raw, 0)
	pipe.SAdd(ctx, keyStatus(g.Status), g.ID)
	pipe.ZAdd(ctx, keyRecent(), redis.Z{Score: float64(g.CreatedAt.UnixNano()), Member: g.ID})
	pipe.ZRemRangeByRank(ctx, keyRecent(), 0, -recentKeep-1)
	if needsSettlement(g) {
		pipe.SAdd(ctx, keyUnsettled(), g.ID)
	}
}

func needsSettlement(g *domain.Game) bool {
	return g.Status == domain.StatusFinished && !g.RatedProcessed
}

// GetGame loads a game by id.
func (s *Store) GetGame(ctx context.Context, id string) (*domain.Game, error) {
	g, err := loadGame(ctx, s.rdb, id)
	if err != nil && !crerr.Is(err, domain.ErrGameNotFound) {
		return nil, domain.Unavailable(err, "load game")
	}
	return g, err
}

// ListMoves returns a game's moves in commit order.
func (s *Store) ListMoves(ctx context.Context, id string) ([]domain.Move, error) {
	moves, err := loadMoves(ctx, s.rdb, id)
	if err != nil {
		return nil, domain.Unavailable(err, "load moves")
	}
	return moves, nil
}

// MutateGame applies fn to the current state of game id atomically.
func (s *Store) MutateGame(ctx context.Context, id string, fn MutateFunc) (*GameUpdate, error) {
	var (
		out  *GameUpdate
		pass passthrough
	)
	err := s.watchRetry(ctx, "mutate game", func(tx *redis.Tx) error {
		out = nil
		cur, err := loadGame(ctx, tx, id)
		if err != nil {
			if crerr.Is(err, domain.ErrGameNotFound) {
				return pass.set(err)
			}
			return err
		}
		moves, err := loadMoves(ctx, tx, id)
		if err != nil {
			return err
		}
		prev := cur.Status

		upd, err := fn(cur, moves)
		if err != nil {
			return pass.set(err)
		}
		if upd == nil || upd.Game == nil {
			return nil
		}
		raw, err := sonic.Marshal(upd.Game)
		if err != nil {
			return pass.set(crerr.Wrap(err, "marshal game"))
		}
		var moveRaw []byte
		if upd.Move != nil {
			if moveRaw, err = sonic.Marshal(upd.Move); err != nil {
				return pass.set(crerr.Wrap(err, "marshal move"))
			}
		}

		terminal := !upd.Game.Status.Accepting()
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, keyGame(id), raw, 0)
			if moveRaw != nil {
				pipe.RPush(ctx, keyMoves(id), moveRaw)
			}
			if upd.Game.Status != prev {
				pipe.SRem(ctx, keyStatus(prev), id)
				if !terminal {
					pipe.SAdd(ctx, keyStatus(upd.Game.Status), id)
				}
			}
			if needsSettlement(upd.Game) {
				// 레이팅 반영 전에는 만료시키지 않는다.
				pipe.SAdd(ctx, keyUnsettled(), id)
			} else if terminal && s.gameTTL > 0 {
				pipe.Expire(ctx, keyGame(id), s.gameTTL)
				pipe.Expire(ctx, keyMoves(id), s.gameTTL)
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = upd
		return nil
	}, keyGame(id))
	if err != nil {
		return nil, pass.resolve(err, "mutate game")
	}
	return out, nil
}

// LobbyCounts returns the number of live and waiting games.
func (s *Store) LobbyCounts(ctx context.Context) (live, waiting int64, err error) {
	pipe := s.rdb.Pipeline()
	liveCmd := pipe.SCard(ctx, keyStatus(domain.StatusLive))
	waitCmd := pipe.SCard(ctx, keyStatus(domain.StatusWaiting))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, domain.Unavailable(err, "lobby counts")
	}
	return liveCmd.Val(), waitCmd.Val(), nil
}

// RecentGames returns up to limit games, newest first.
func (s *Store) RecentGames(ctx context.Context, limit int) ([]*domain.Game, error) {
	if limit <= 0 {
		return nil, nil
	}
	// 만료된 게임 키가 섞여 있을 수 있어 여유분을 더 읽는다.
	ids, err := s.rdb.ZRevRange(ctx, keyRecent(), 0, int64(limit*2-1)).Result()
	if err != nil {
		return nil, domain.Unavailable(err, "recent games")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyGame(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, domain.Unavailable(err, "recent games")
	}
	out := make([]*domain.Game, 0, limit)
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var g domain.Game
		if err := sonic.UnmarshalString(str, &g); err != nil {
			continue
		}
		out = append(out, &g)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func loadGame(ctx context.Context, c redis.Cmdable, id string) (*domain.Game, error) {
	raw, err := c.Get(ctx, keyGame(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, crerr.Wrapf(domain.ErrGameNotFound, "%s", id)
	}
	if err != nil {
		return nil, err
	}
	var g domain.Game
	if err := sonic.Unmarshal(raw, &g); err != nil {
		return nil, crerr.Wrap(err, "decode game")
	}
	return &g, nil
}

func loadMoves(ctx context.Context, c redis.Cmdable, id string) ([]domain.Move, error) {
	raws, err := c.LRange(ctx, keyMoves(id), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	moves := make([]domain.Move, 0, len(raws))
	for _, r := range raws {
		var m domain.Move
		if err := sonic.UnmarshalString(r, &m); err != nil {
			return nil, crerr.Wrap(err, "decode move")
		}
		moves = append(moves, m)
	}
	return moves, nil
}
