package rating

import (
	"context"
	"strings"
	"time"

	crerr "github.com/cockroachdb/errors"
	"github.com/panjf2000/ants/v2"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/obslog"
	"go.uber.org/zap"
)

// QueueStore is the Redis list behind settlement requests.
type QueueStore interface {
	EnqueueSettlement(ctx context.Context, gameID string) error
	DequeueSettlement(ctx context.Context, timeout time.Duration) (string, error)
	UnsettledGames(ctx context.Context) ([]string, error)
}

// Queue hands settlement requests to a Worker, possibly in another process.
type Queue struct {
	store QueueStore
}

func NewQueue(st QueueStore) *Queue { return &Queue{store: st} }

// Request schedules settlement of gameID. Duplicates are settled as no-ops.
func (q *Queue) Request(ctx context.Context, gameID string) error {
	gameID = strings.TrimSpace(gameID)
	if gameID == "" {
		return crerr.Wrap(domain.ErrInvalidInput, "empty game id")
	}
	return q.store.EnqueueSettlement(ctx, gameID)
}

type Settler interface {
	Settle(ctx context.Context, gameID string) (Outcome, error)
}

// Worker drains the settlement queue onto a bounded goroutine pool.
// A periodic sweep re-enqueues finished games that are still unrated, so a lost
// request or a crash between dequeue and commit only delays settlement.
type Worker struct {
	queue      QueueStore
	settler    Settler
	pool       *ants.Pool
	poll       time.Duration
	backoff    time.Duration
	sweepEvery time.Duration
	log        *zap.Logger
}

func NewWorker(queue QueueStore, settler Settler, size int) (*Worker, error) {
	if size <= 0 {
		size = 1
	}
	log := obslog.With("settlement_worker")
	pool, err := ants.NewPool(size, ants.WithPanicHandler(func(p any) {
		log.Error("settlement_panic", zap.Any("panic", p))
	}))
	if err != nil {
		return nil, crerr.Wrap(err, "create settlement pool")
	}
	return &Worker{
		queue:   queue,
		settler: settler,
		pool:       pool,
		poll:       2 * time.Second,
		backoff:    time.Second,
		sweepEvery: 30 * time.Second,
		log:        log,
	}, nil
}

// Run blocks until ctx is cancelled, then waits for in-flight settlements.
func (w *Worker) Run(ctx context.Context) error {
	defer func() {
		if err := w.pool.ReleaseTimeout(10 * time.Second); err != nil {
			w.log.Warn("settlement_pool_release_timeout", zap.Error(err))
		}
	}()
	var lastSweep time.Time
	for {
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(lastSweep) >= w.sweepEvery {
			if _, err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
				w.log.Warn("settlement_sweep_failed", zap.Error(err))
			}
			lastSweep = time.Now()
		}
		gameID, err := w.queue.DequeueSettlement(ctx, w.poll)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.log.Warn("settlement_dequeue_failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.backoff):
			}
			continue
		}
		if gameID == "" {
			continue
		}
		id := gameID
		if err := w.pool.Submit(func() { w.settle(context.WithoutCancel(ctx), id) }); err != nil {
			w.log.Warn("settlement_submit_failed", zap.String("game_id", id), zap.Error(err))
			w.settle(context.WithoutCancel(ctx), id)
		}
	}
}

// Sweep re-enqueues every finished game still waiting for its rating update.
func (w *Worker) Sweep(ctx context.Context) (int, error) {
	ids, err := w.queue.UnsettledGames(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if err := w.queue.EnqueueSettlement(ctx, id); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		w.log.Info("settlement_sweep", zap.Int("requeued", n))
	}
	return n, nil
}

// ProcessOnce settles at most one queued game on the calling goroutine.
func (w *Worker) ProcessOnce(ctx context.Context, timeout time.Duration) (bool, error) {
	gameID, err := w.queue.DequeueSettlement(ctx, timeout)
	if err != nil || gameID == "" {
		return false, err
	}
	w.settle(ctx, gameID)
	return true, nil
}

func (w *Worker) settle(ctx context.Context, gameID string) {
	out, err := w.settler.Settle(ctx, gameID)
	switch {
	case err == nil:
		w.log.Debug("settlement_done", zap.String("game_id", gameID), zap.Bool("applied", out.Applied))
	case domain.Retryable(err):
		// 재시도해도 rated_processed 때문에 중복 적용은 없다.
		w.log.Warn("settlement_requeued", zap.String("game_id", gameID), zap.Error(err))
		if qerr := w.queue.EnqueueSettlement(ctx, gameID); qerr != nil {
			w.log.Error("settlement_requeue_failed", zap.String("game_id", gameID), zap.Error(qerr))
		}
	default:
		w.log.Error("settlement_failed", zap.String("game_id", gameID), zap.Error(err))
	}
}
