package archive

import (
	"context"
	"strings"
	"time"

	crerr "github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*sqlx.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, crerr.New("DATABASE_URL is required")
	}
	db, err := sqlx.Open("postgres", databaseURL)
	if err != nil {
		return nil, crerr.Wrap(err, "open postgres")
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, crerr.Wrap(err, "ping postgres")
	}
	return db, nil
}

type PostgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const upsertGameQuery = `
	INSERT INTO arena_games (
		game_id, white_id, white_name, black_id, black_name,
		winner, pgn, final_fen, move_count, base_seconds, increment_seconds,
		white_rating_before, white_rating_after, black_rating_before, black_rating_after,
		started_at, ended_at
	) VALUES (
		:game_id, :white_id, :white_name, :black_id, :black_name,
		:winner, :pgn, :final_fen, :move_count, :base_seconds, :increment_seconds,
		:white_rating_before, :white_rating_after, :black_rating_before, :black_rating_after,
		:started_at, :ended_at
	) ON CONFLICT (game_id) DO UPDATE SET
		white_name=EXCLUDED.white_name,
		black_name=EXCLUDED.black_name,
		winner=EXCLUDED.winner,
		pgn=EXCLUDED.pgn,
		final_fen=EXCLUDED.final_fen,
		move_count=EXCLUDED.move_count,
		white_rating_before=EXCLUDED.white_rating_before,
		white_rating_after=EXCLUDED.white_rating_after,
		black_rating_before=EXCLUDED.black_rating_before,
		black_rating_after=EXCLUDED.black_rating_after,
		started_at=EXCLUDED.started_at,
		ended_at=EXCLUDED.ended_at`

const insertHistoryQuery = `
	INSERT INTO arena_rating_history (game_id, player_id, rating_before, rating_after, recorded_at)
	VALUES (:game_id, :player_id, :rating_before, :rating_after, :recorded_at)
	ON CONFLICT (game_id, player_id) DO NOTHING`

type historyRow struct {
	GameID       string    `db:"game_id"`
	PlayerID     string    `db:"player_id"`
	RatingBefore int       `db:"rating_before"`
	RatingAfter  int       `db:"rating_after"`
	RecordedAt   time.Time `db:"recorded_at"`
}

// SaveFinishedGame upserts the game row and records both rating changes in one transaction.
func (r *PostgresRepository) SaveFinishedGame(ctx context.Context, g FinishedGame) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return crerr.Wrap(err, "begin archive tx")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.NamedExecContext(ctx, upsertGameQuery, g); err != nil {
		return crerr.Wrapf(err, "upsert arena game %s", g.GameID)
	}
	rows := []historyRow{
		{GameID: g.GameID, PlayerID: g.WhiteID, RatingBefore: g.WhiteBefore, RatingAfter: g.WhiteAfter, RecordedAt: g.EndedAt},
		{GameID: g.GameID, PlayerID: g.BlackID, RatingBefore: g.BlackBefore, RatingAfter: g.BlackAfter, RecordedAt: g.EndedAt},
	}
	for _, row := range rows {
		if _, err = tx.NamedExecContext(ctx, insertHistoryQuery, row); err != nil {
			return crerr.Wrapf(err, "insert rating history %s/%s", row.GameID, row.PlayerID)
		}
	}
	if err = tx.Commit(); err != nil {
		return crerr.Wrap(err, "commit archive tx")
	}
	return nil
}

const recentForPlayerQuery = `
	SELECT
		game_id, white_id, white_name, black_id, black_name,
		winner, pgn, final_fen, move_count, base_seconds, increment_seconds,
		white_rating_before, white_rating_after, black_rating_before, black_rating_after,
		started_at, ended_at
	FROM arena_games
	WHERE white_id = $1 OR black_id = $1
	ORDER BY ended_at DESC, game_id DESC
	LIMIT $2`

func (r *PostgresRepository) RecentForPlayer(ctx context.Context, playerID string, limit int) ([]FinishedGame, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	var out []FinishedGame
	if err := r.db.SelectContext(ctx, &out, recentForPlayerQuery, strings.TrimSpace(playerID), limit); err != nil {
		return nil, crerr.Wrapf(err, "select recent games for %s", playerID)
	}
	if out == nil {
		out = []FinishedGame{}
	}
	return out, nil
}
