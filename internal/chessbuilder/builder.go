// Package chessbuilder wires the arena's stores, services and HTTP surface from config.
package chessbuilder

import (
	"context"
	"strings"

	crerr "github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	"github.com/park285/cheese-arena/internal/archive"
	"github.com/park285/cheese-arena/internal/broadcast"
	"github.com/park285/cheese-arena/internal/config"
	"github.com/park285/cheese-arena/internal/gameplay"
	"github.com/park285/cheese-arena/internal/httpapi"
	"github.com/park285/cheese-arena/internal/keylock"
	"github.com/park285/cheese-arena/internal/matchmaking"
	"github.com/park285/cheese-arena/internal/migrations"
	"github.com/park285/cheese-arena/internal/msgcat"
	"github.com/park285/cheese-arena/internal/notify"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/rating"
	"github.com/park285/cheese-arena/internal/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Deps struct {
	Redis   *redis.Client
	DB      *sqlx.DB
	Store   *store.Store
	Archive archive.Repository
	Fanout  *broadcast.Fanout

	Games     *gameplay.Coordinator
	Queue     *matchmaking.Service
	Scheduler *matchmaking.Scheduler
	Ratings   *rating.Engine
	Worker    *rating.Worker
	API       *httpapi.Server
}

// New connects Redis and, when configured, Postgres, then builds every service.
// Postgres is optional; without it finished games are archived in memory.
func New(ctx context.Context, cfg *config.AppConfig) (*Deps, error) {
	if cfg == nil {
		return nil, crerr.New("nil config")
	}
	log := obslog.With("builder")

	rdb, err := store.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	d := &Deps{Redis: rdb}

	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := archive.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			_ = d.Close()
			return nil, err
		}
		d.DB = db
		if cfg.DBAutoMigrate {
			if err := migrations.Up(db.DB); err != nil {
				_ = d.Close()
				return nil, err
			}
		}
		d.Archive = archive.NewPostgresRepository(db)
	} else {
		log.Warn("archive_in_memory", zap.String("reason", "DATABASE_URL not set"))
		d.Archive = archive.NewMemoryRepository()
	}

	messages, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		_ = d.Close()
		return nil, crerr.Wrap(err, "load messages")
	}

	d.Store = store.New(rdb, store.WithFinishedTTL(cfg.GameTTL))
	d.Fanout = broadcast.New(rdb, d.Store, broadcast.WithRecentLimit(cfg.LobbyRecentLimit))
	locks := keylock.New()

	d.Ratings = rating.NewEngine(d.Store, d.Archive, d.Fanout)
	d.Worker, err = rating.NewWorker(d.Store, d.Ratings, cfg.SettlementWorkers)
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	d.Games = gameplay.New(d.Store, d.Fanout, rating.NewQueue(d.Store), gameplay.WithLocker(locks))

	policy := matchmaking.Policy{
		DefaultTTL: cfg.TicketTTLDefault,
		MinTTL:     cfg.TicketTTLMin,
		MaxTTL:     cfg.TicketTTLMax,
		RangeSpan:  cfg.TicketRangeSpan,
	}
	d.Queue = matchmaking.NewService(d.Store, d.Fanout, policy, locks)

	hook := notify.NewWebhook(cfg.MatchWebhookURL)
	if hook.Enabled() {
		log.Info("match_webhook_enabled")
	}
	d.Scheduler = matchmaking.NewScheduler(d.Store, d.Fanout, hook)

	d.API = httpapi.NewServer(httpapi.Deps{
		Games:          d.Games,
		Queue:          d.Queue,
		Players:        d.Store,
		Feed:           d.Fanout,
		History:        d.Archive,
		Messages:       messages,
		DefaultRating:  cfg.DefaultRating,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	return d, nil
}

func (d *Deps) Close() error {
	var errs error
	if d.DB != nil {
		errs = crerr.CombineErrors(errs, d.DB.Close())
	}
	if d.Redis != nil {
		errs = crerr.CombineErrors(errs, d.Redis.Close())
	}
	return errs
}
