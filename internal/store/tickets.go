package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	sonic "github.com/bytedance/sonic"
	crerr "github.com/cockroachdb/errors"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/redis/go-redis/v9"
)

// ticketGrace keeps a ticket key around a little past its expiry so the purge sweep, not Redis, removes it.
const ticketGrace = time.Minute

// UpsertTicket replaces the user's ticket. An unexpired previous ticket keeps its queue position.
func (s *Store) UpsertTicket(ctx context.Context, t *domain.Ticket) (*domain.Ticket, error) {
	if t == nil || strings.TrimSpace(t.UserID) == "" {
		return nil, crerr.Wrap(domain.ErrInvalidTicket, "user id required")
	}
	key := keyTicket(t.UserID)
	var (
		out  *domain.Ticket
		pass passthrough
	)
	err := s.watchRetry(ctx, "upsert ticket", func(tx *redis.Tx) error {
		next := *t
		prev, err := loadTicket(ctx, tx, t.UserID)
		if err != nil && !crerr.Is(err, domain.ErrTicketNotFound) {
			return err
		}
		if prev != nil && !prev.Expired(s.now()) {
			next.CreatedAt = prev.CreatedAt
		}
		raw, err := sonic.Marshal(&next)
		if err != nil {
			return pass.set(crerr.Wrap(err, "marshal ticket"))
		}
		ttl := next.ExpiresAt.Sub(s.now()) + ticketGrace
		if ttl < ticketGrace {
			ttl = ticketGrace
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, ttl)
			pipe.ZAdd(ctx, keyTickets(), redis.Z{Score: float64(next.CreatedAt.UnixNano()), Member: next.UserID})
			return nil
		})
		if err != nil {
			return err
		}
		out = &next
		return nil
	}, key)
	if err != nil {
		return nil, pass.resolve(err, "upsert ticket")
	}
	return out, nil
}

// DeleteTicket removes the user's ticket and reports whether one existed.
func (s *Store) DeleteTicket(ctx context.Context, userID string) (bool, error) {
	var delCmd *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		delCmd = pipe.Del(ctx, keyTicket(userID))
		pipe.ZRem(ctx, keyTickets(), strings.TrimSpace(userID))
		return nil
	})
	if err != nil {
		return false, domain.Unavailable(err, "delete ticket")
	}
	return delCmd.Val() > 0, nil
}

// GetTicket loads the user's ticket.
func (s *Store) GetTicket(ctx context.Context, userID string) (*domain.Ticket, error) {
	t, err := loadTicket(ctx, s.rdb, userID)
	if err != nil && !crerr.Is(err, domain.ErrTicketNotFound) {
		return nil, domain.Unavailable(err, "load ticket")
	}
	return t, err
}

// PurgeExpiredTickets deletes every ticket whose expiry is at or before now.
// Each deletion re-checks the ticket under WATCH so a concurrent rejoin survives.
func (s *Store) PurgeExpiredTickets(ctx context.Context, now time.Time) (int, error) {
	users, err := s.rdb.ZRange(ctx, keyTickets(), 0, -1).Result()
	if err != nil {
		return 0, domain.Unavailable(err, "list tickets")
	}
	purged := 0
	for _, user := range users {
		key := keyTicket(user)
		removed := false
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			t, err := loadTicket(ctx, tx, user)
			if err != nil && !crerr.Is(err, domain.ErrTicketNotFound) {
				return err
			}
			if t != nil && !t.Expired(now) {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.ZRem(ctx, keyTickets(), user)
				return nil
			})
			removed = err == nil && t != nil
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return purged, domain.Unavailable(err, "purge ticket")
		}
		if removed {
			purged++
		}
	}
	return purged, nil
}

// ActiveTickets returns unexpired tickets, oldest first.
func (s *Store) ActiveTickets(ctx context.Context, now time.Time) ([]domain.Ticket, error) {
	users, err := s.rdb.ZRange(ctx, keyTickets(), 0, -1).Result()
	if err != nil {
		return nil, domain.Unavailable(err, "list tickets")
	}
	if len(users) == 0 {
		return nil, nil
	}
	keys := make([]string, len(users))
	for i, u := range users {
		keys[i] = keyTicket(u)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, domain.Unavailable(err, "load tickets")
	}
	out := make([]domain.Ticket, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var t domain.Ticket
		if err := sonic.UnmarshalString(str, &t); err != nil {
			continue
		}
		if t.Expired(now) {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

// CountTickets returns the number of unexpired tickets.
func (s *Store) CountTickets(ctx context.Context, now time.Time) (int, error) {
	tickets, err := s.ActiveTickets(ctx, now)
	if err != nil {
		return 0, err
	}
	return len(tickets), nil
}

// PairTickets creates g and consumes both tickets in one MULTI.
// It fails with ErrTicketNotFound or ErrConflict when either ticket changed since it was read.
func (s *Store) PairTickets(ctx context.Context, a, b domain.Ticket, g *domain.Game) error {
	gameRaw, err := sonic.Marshal(g)
	if err != nil {
		return crerr.Wrap(err, "marshal game")
	}
	keyA, keyB := keyTicket(a.UserID), keyTicket(b.UserID)
	var pass passthrough
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		for _, want := range []domain.Ticket{a, b} {
			cur, err := loadTicket(ctx, tx, want.UserID)
			if err != nil {
				if crerr.Is(err, domain.ErrTicketNotFound) {
					return pass.set(err)
				}
				return err
			}
			if !sameTicket(cur, &want) {
				return pass.set(crerr.Wrapf(domain.ErrConflict, "ticket of %s changed", want.UserID))
			}
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			writeNewGame(ctx, pipe, g, gameRaw)
			pipe.Del(ctx, keyA, keyB)
			pipe.ZRem(ctx, keyTickets(), a.UserID, b.UserID)
			return nil
		})
		return err
	}, keyA, keyB)
	if errors.Is(err, redis.TxFailedErr) {
		return crerr.Mark(crerr.Wrap(err, "pair tickets"), domain.ErrConflict)
	}
	if err != nil {
		return pass.resolve(err, "pair tickets")
	}
	return nil
}

func sameTicket(x, y *domain.Ticket) bool {
	return x.UserID == y.UserID &&
		x.TimeControl == y.TimeControl &&
		x.RatingMin == y.RatingMin &&
		x.RatingMax == y.RatingMax &&
		x.CreatedAt.Equal(y.CreatedAt) &&
		x.ExpiresAt.Equal(y.ExpiresAt)
}

func loadTicket(ctx context.Context, c redis.Cmdable, userID string) (*domain.Ticket, error) {
	raw, err := c.Get(ctx, keyTicket(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, crerr.Wrapf(domain.ErrTicketNotFound, "%s", userID)
	}
	if err != nil {
		return nil, err
	}
	var t domain.Ticket
	if err := sonic.Unmarshal(raw, &t); err != nil {
		return nil, crerr.Wrap(err, "decode ticket")
	}
	return &t, nil
}
