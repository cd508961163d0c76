// Package rating settles finished games into player ratings exactly once.
package rating

import (
	"math"

	"github.com/park285/cheese-arena/internal/domain"
)

// Expected is the logistic score expectation of a player rated r against opp.
func Expected(r, opp int) float64 {
	return 1 / (1 + math.Pow(10, float64(opp-r)/400))
}

// KFactor scales with experience, counted before the game being settled.
func KFactor(gamesPlayed int) int {
	switch {
	case gamesPlayed < 30:
		return 32
	case gamesPlayed < 100:
		return 24
	default:
		return 16
	}
}

// Scores maps a winner to (white, black) scores. Anything else scores zero for both.
func Scores(w domain.Winner) (white, black float64) {
	switch w {
	case domain.WinnerWhite:
		return 1, 0
	case domain.WinnerBlack:
		return 0, 1
	case domain.WinnerDraw:
		return 0.5, 0.5
	}
	return 0, 0
}

// NewRating rounds half to even.
func NewRating(r, opp int, score float64, k int) int {
	return int(math.RoundToEven(float64(r) + float64(k)*(score-Expected(r, opp))))
}

// apply updates p in place from pre-game ratings. Both players must be computed
// from their ratings before either is written.
func apply(p *domain.Player, rating int, score float64) {
	switch score {
	case 1:
		p.Wins++
	case 0.5:
		p.Draws++
	default:
		p.Losses++
	}
	p.Rating = rating
}
