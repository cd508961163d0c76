package chessdto

import "time"

// TimeControl mirrors {base, increment} in seconds.
type TimeControl struct {
	Base      int `json:"base"`
	Increment int `json:"increment"`
}

// GameView is the full public state of a game. PGN and MovesCount follow GameSummary.
type GameView struct {
	ID             string      `json:"id"`
	Status         string      `json:"status"`
	Winner         string      `json:"winner"`
	FEN            string      `json:"fen"`
	InitialFEN     string      `json:"initial_fen"`
	PGN            string      `json:"pgn"`
	TimeControl    TimeControl `json:"time_control"`
	MovesCount     int         `json:"moves_count"`
	White          PlayerRef   `json:"white"`
	Black          PlayerRef   `json:"black"`
	RatedProcessed bool        `json:"rated_processed"`
	CreatedAt      time.Time   `json:"created_at"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	EndedAt        *time.Time  `json:"ended_at,omitempty"`
}

// ArchivedGame is one finished game from a player's history.
type ArchivedGame struct {
	GameID      string    `json:"game_id"`
	White       string    `json:"white_id"`
	Black       string    `json:"black_id"`
	Winner      string    `json:"winner"`
	Status      string    `json:"status"`
	MovesCount  int       `json:"moves_count"`
	PGN         string    `json:"pgn"`
	RatingDelta int       `json:"rating_delta"`
	EndedAt     time.Time `json:"ended_at"`
}

// PlayerHistory answers GET /players/{id}/history.
type PlayerHistory struct {
	Player PlayerProfile  `json:"player"`
	Games  []ArchivedGame `json:"games"`
}
