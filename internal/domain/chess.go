package domain

import (
	"strings"
	"time"
)

// DefaultStartFEN is the standard initial position.
const DefaultStartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// DefaultRating is assigned to players the arena has not seen before.
const DefaultRating = 1200

type Color string

const (
	White Color = "white"
	Black Color = "black"
)

type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusLive     Status = "live"
	StatusFinished Status = "finished"
	StatusAborted  Status = "aborted"
)

// Accepting reports whether a game in this status still takes moves.
func (s Status) Accepting() bool {
	return s == StatusWaiting || s == StatusLive
}

type Winner string

const (
	WinnerWhite Winner = "white"
	WinnerBlack Winner = "black"
	WinnerDraw  Winner = "draw"
	WinnerNone  Winner = "none"
)

// WinnerFor maps the side that delivered mate to the game winner.
func WinnerFor(c Color) Winner {
	if c == White {
		return WinnerWhite
	}
	return WinnerBlack
}

// TimeControl is compared by value; two tickets match only on identical descriptors.
type TimeControl struct {
	Base      int `json:"base" db:"base_seconds"`
	Increment int `json:"increment" db:"increment_seconds"`
}

func DefaultTimeControl() TimeControl { return TimeControl{Base: 300, Increment: 0} }

func (tc TimeControl) IsZero() bool { return tc.Base == 0 && tc.Increment == 0 }

// Game is the authoritative state of one match.
type Game struct {
	ID             string      `json:"id"`
	WhiteID        string      `json:"white_id"`
	BlackID        string      `json:"black_id"`
	InitialFEN     string      `json:"initial_fen"`
	CurrentFEN     string      `json:"current_fen"`
	PGN            string      `json:"pgn"`
	TimeControl    TimeControl `json:"time_control"`
	MoveCount      int         `json:"move_count"` // full-move number of the last move
	Status         Status      `json:"status"`
	Winner         Winner      `json:"winner"`
	RatedProcessed bool        `json:"rated_processed"`
	CreatedAt      time.Time   `json:"created_at"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	EndedAt        *time.Time  `json:"ended_at,omitempty"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// ColorOf returns the color played by playerID, or false for non-participants.
func (g *Game) ColorOf(playerID string) (Color, bool) {
	id := strings.TrimSpace(playerID)
	switch {
	case id == "":
		return "", false
	case id == g.WhiteID:
		return White, true
	case id == g.BlackID:
		return Black, true
	}
	return "", false
}

// Move is immutable once committed.
type Move struct {
	ID         string    `json:"id"`
	GameID     string    `json:"game_id"`
	PlayerID   string    `json:"player_id"`
	MoveNumber int       `json:"move_number"`
	UCI        string    `json:"uci"`
	SAN        string    `json:"san"`
	FENAfter   string    `json:"fen_after"`
	IsCheck    bool      `json:"is_check"`
	IsMate     bool      `json:"is_mate"`
	CreatedAt  time.Time `json:"created_at"`
}

// Ticket is a pending matchmaking request. A user holds at most one.
type Ticket struct {
	UserID      string      `json:"user_id"`
	TimeControl TimeControl `json:"time_control"`
	RatingMin   int         `json:"rating_min"`
	RatingMax   int         `json:"rating_max"`
	CreatedAt   time.Time   `json:"created_at"`
	ExpiresAt   time.Time   `json:"expires_at"`
}

func (t *Ticket) Expired(now time.Time) bool { return !t.ExpiresAt.After(now) }

// Accepts reports whether rating falls inside the ticket's inclusive range.
func (t *Ticket) Accepts(rating int) bool {
	return rating >= t.RatingMin && rating <= t.RatingMax
}

// Player is the rating record owned by the identity side and updated by settlement.
type Player struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Rating   int    `json:"rating"`
	Wins     int    `json:"wins"`
	Losses   int    `json:"losses"`
	Draws    int    `json:"draws"`
}

func (p *Player) GamesPlayed() int { return p.Wins + p.Losses + p.Draws }
