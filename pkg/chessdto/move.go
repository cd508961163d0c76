package chessdto

// MoveView is one committed move as viewers see it. Player is the mover's username.
type MoveView struct {
	ID         string `json:"id"`
	SAN        string `json:"san"`
	UCI        string `json:"uci"`
	MoveNumber int    `json:"move_number"`
	IsCheck    bool   `json:"is_check"`
	IsMate     bool   `json:"is_mate"`
	Player     string `json:"player"`
}

// GameSummary is the game block carried by move_applied.
// PGN ends in "1-0" or "0-1" once a game is checkmated and "*" otherwise, aborts included;
// read the outcome from Status and Winner. MovesCount is the full-move number of the last move.
type GameSummary struct {
	FEN        string `json:"fen"`
	PGN        string `json:"pgn"`
	Status     string `json:"status"`
	Winner     string `json:"winner"`
	MovesCount int    `json:"moves_count"`
}

type LegalMovesResponse struct {
	GameID     string   `json:"game_id"`
	SideToMove string   `json:"side_to_move"`
	Moves      []string `json:"moves"`
}
