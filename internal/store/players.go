package store

import (
	"context"
	"strconv"
	"strings"

	crerr "github.com/cockroachdb/errors"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Players are Redis hashes so settlement can rewrite the counters field by field inside MULTI.
const (
	fieldUsername = "username"
	fieldRating   = "rating"
	fieldWins     = "wins"
	fieldLosses   = "losses"
	fieldDraws    = "draws"
)

// EnsurePlayer registers id with defaultRating unless it already exists, and refreshes the username.
func (s *Store) EnsurePlayer(ctx context.Context, id, username string, defaultRating int) (*domain.Player, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, crerr.Wrap(domain.ErrInvalidInput, "empty player id")
	}
	key := keyPlayer(id)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, fieldRating, defaultRating)
		pipe.HSetNX(ctx, key, fieldWins, 0)
		pipe.HSetNX(ctx, key, fieldLosses, 0)
		pipe.HSetNX(ctx, key, fieldDraws, 0)
		if name := strings.TrimSpace(username); name != "" {
			pipe.HSet(ctx, key, fieldUsername, name)
		} else {
			pipe.HSetNX(ctx, key, fieldUsername, id)
		}
		return nil
	})
	if err != nil {
		return nil, domain.Unavailable(err, "ensure player")
	}
	return s.GetPlayer(ctx, id)
}

// PutPlayer overwrites a rating record.
func (s *Store) PutPlayer(ctx context.Context, p *domain.Player) error {
	if p == nil || strings.TrimSpace(p.ID) == "" {
		return crerr.Wrap(domain.ErrInvalidInput, "player id required")
	}
	if err := s.rdb.HSet(ctx, keyPlayer(p.ID), playerFields(p)).Err(); err != nil {
		return domain.Unavailable(err, "put player")
	}
	return nil
}

// GetPlayer loads a rating record.
func (s *Store) GetPlayer(ctx context.Context, id string) (*domain.Player, error) {
	p, err := loadPlayer(ctx, s.rdb, id)
	if err != nil && !crerr.Is(err, domain.ErrPlayerNotFound) {
		return nil, domain.Unavailable(err, "load player")
	}
	return p, err
}

// GetPlayers loads several records; missing ids are an error.
func (s *Store) GetPlayers(ctx context.Context, ids ...string) (map[string]*domain.Player, error) {
	out := make(map[string]*domain.Player, len(ids))
	for _, id := range ids {
		if _, ok := out[id]; ok {
			continue
		}
		p, err := s.GetPlayer(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = p
	}
	return out, nil
}

func playerFields(p *domain.Player) map[string]any {
	name := strings.TrimSpace(p.Username)
	if name == "" {
		name = p.ID
	}
	return map[string]any{
		fieldUsername: name,
		fieldRating:   p.Rating,
		fieldWins:     p.Wins,
		fieldLosses:   p.Losses,
		fieldDraws:    p.Draws,
	}
}

func loadPlayer(ctx context.Context, c redis.Cmdable, id string) (*domain.Player, error) {
	vals, err := c.HGetAll(ctx, keyPlayer(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, crerr.Wrapf(domain.ErrPlayerNotFound, "%s", id)
	}
	p := &domain.Player{ID: strings.TrimSpace(id), Username: vals[fieldUsername]}
	if p.Rating, err = atoiField(vals, fieldRating); err != nil {
		return nil, err
	}
	if p.Wins, err = atoiField(vals, fieldWins); err != nil {
		return nil, err
	}
	if p.Losses, err = atoiField(vals, fieldLosses); err != nil {
		return nil, err
	}
	if p.Draws, err = atoiField(vals, fieldDraws); err != nil {
		return nil, err
	}
	return p, nil
}

func atoiField(vals map[string]string, field string) (int, error) {
	raw, ok := vals[field]
	if !ok || raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, crerr.Wrapf(err, "player field %s", field)
	}
	return n, nil
}
