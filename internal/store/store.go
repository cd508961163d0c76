// Package store keeps the authoritative arena state in Redis.
//
// Multi-key writes go through WATCH/MULTI so a reader never observes half of
// a transition; a transaction that loses a race is retried once and then
// reported as domain.ErrConflict.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	crerr "github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "arena:"

type Store struct {
	rdb     *redis.Client
	gameTTL time.Duration
	now     func() time.Time
}

type Option func(*Store)

// WithFinishedTTL bounds how long terminal games stay in Redis. Zero, the default, keeps them.
// Finished games only start expiring once they are rated.
func WithFinishedTTL(d time.Duration) Option {
	return func(s *Store) { s.gameTTL = d }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(rdb *redis.Client, opts ...Option) *Store {
	s := &Store{rdb: rdb, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect parses a redis:// or rediss:// URL and pings the server.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, crerr.New("REDIS_URL required")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, crerr.Wrap(err, "parse redis url")
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, crerr.Wrap(err, "redis ping")
	}
	return rdb, nil
}

func (s *Store) Client() *redis.Client { return s.rdb }

func (s *Store) Now() time.Time { return s.now() }

func keyGame(id string) string          { return keyPrefix + "game:" + strings.TrimSpace(id) }
func keyMoves(id string) string         { return keyGame(id) + ":moves" }
func keyRecent() string                 { return keyPrefix + "games:recent" }
func keyStatus(st domain.Status) string { return keyPrefix + "games:status:" + string(st) }
func keyTicket(user string) string      { return keyPrefix + "ticket:" + strings.TrimSpace(user) }
func keyTickets() string                { return keyPrefix + "tickets" }
func keyPlayer(id string) string        { return keyPrefix + "player:" + strings.TrimSpace(id) }
func keyLock(name string) string        { return keyPrefix + "lock:" + name }
func keySettlement() string             { return keyPrefix + "queue:settlement" }
func keyUnsettled() string              { return keyPrefix + "games:unsettled" }

// recentKeep bounds the recent-games index.
const recentKeep = 200

// watchRetry runs fn under WATCH and retries once when another client touched a watched key.
func (s *Store) watchRetry(ctx context.Context, op string, fn func(tx *redis.Tx) error, keys ...string) error {
	err := s.rdb.Watch(ctx, fn, keys...)
	if errors.Is(err, redis.TxFailedErr) {
		err = s.rdb.Watch(ctx, fn, keys...)
	}
	if errors.Is(err, redis.TxFailedErr) {
		return crerr.Mark(crerr.Wrap(err, op), domain.ErrConflict)
	}
	return err
}

// passthrough carries a decision made inside a transaction callback out of Watch untouched.
type passthrough struct{ err error }

func (p *passthrough) set(err error) error {
	p.err = err
	return err
}

func (p *passthrough) resolve(err error, op string) error {
	if err == nil {
		return nil
	}
	if p.err != nil && errors.Is(err, p.err) {
		return p.err
	}
	if crerr.Is(err, domain.ErrConflict) {
		return err
	}
	return domain.Unavailable(err, op)
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)

// AcquireLock takes a named lease. ok is false when someone else holds it.
func (s *Store) AcquireLock(ctx context.Context, name string, ttl time.Duration) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = s.rdb.SetNX(ctx, keyLock(name), token, ttl).Result()
	if err != nil {
		return "", false, domain.Unavailable(err, "acquire lock "+name)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseLock drops the lease only if token still owns it.
func (s *Store) ReleaseLock(ctx context.Context, name, token string) error {
	if token == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, s.rdb, []string{keyLock(name)}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return domain.Unavailable(err, "release lock "+name)
	}
	return nil
}

// EnqueueSettlement appends a game id to the settlement queue.
func (s *Store) EnqueueSettlement(ctx context.Context, gameID string) error {
	if err := s.rdb.RPush(ctx, keySettlement(), gameID).Err(); err != nil {
		return domain.Unavailable(err, "enqueue settlement")
	}
	return nil
}

// DequeueSettlement blocks up to timeout for the next game id. An empty id means the wait timed out.
func (s *Store) DequeueSettlement(ctx context.Context, timeout time.Duration) (string, error) {
	res, err := s.rdb.BLPop(ctx, timeout, keySettlement()).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", domain.Unavailable(err, "dequeue settlement")
	}
	if len(res) < 2 {
		return "", nil
	}
	return res[1], nil
}

// UnsettledGames lists finished games whose ratings have not been committed yet.
func (s *Store) UnsettledGames(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, keyUnsettled()).Result()
	if err != nil {
		return nil, domain.Unavailable(err, "unsettled games")
	}
	return ids, nil
}

// PendingSettlements reports the queue depth.
func (s *Store) PendingSettlements(ctx context.Context) (int64, error) {
	n, err := s.rdb.LLen(ctx, keySettlement()).Result()
	if err != nil {
		return 0, domain.Unavailable(err, "settlement queue length")
	}
	return n, nil
}
