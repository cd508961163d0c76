// Package archive keeps finished games and rating changes after their live state expires from Redis.
package archive

import (
	"context"
	"time"

	"github.com/park285/cheese-arena/internal/domain"
)

// FinishedGame is one settled game with both players' rating movement.
type FinishedGame struct {
	domain.TimeControl

	GameID      string        `db:"game_id"`
	WhiteID     string        `db:"white_id"`
	WhiteName   string        `db:"white_name"`
	BlackID     string        `db:"black_id"`
	BlackName   string        `db:"black_name"`
	Winner      domain.Winner `db:"winner"`
	PGN         string        `db:"pgn"`
	FinalFEN    string        `db:"final_fen"`
	MoveCount   int           `db:"move_count"`
	WhiteBefore int           `db:"white_rating_before"`
	WhiteAfter  int           `db:"white_rating_after"`
	BlackBefore int           `db:"black_rating_before"`
	BlackAfter  int           `db:"black_rating_after"`
	StartedAt   *time.Time    `db:"started_at"`
	EndedAt     time.Time     `db:"ended_at"`
}

// RatingDelta returns the rating change of playerID in this game.
func (f FinishedGame) RatingDelta(playerID string) int {
	switch playerID {
	case f.WhiteID:
		return f.WhiteAfter - f.WhiteBefore
	case f.BlackID:
		return f.BlackAfter - f.BlackBefore
	}
	return 0
}

// Repository stores finished games. Saving the same game twice keeps one row.
type Repository interface {
	SaveFinishedGame(ctx context.Context, g FinishedGame) error
	RecentForPlayer(ctx context.Context, playerID string, limit int) ([]FinishedGame, error)
}

const defaultRecentLimit = 10
