package chessdto

// PlayerRef identifies a player in events.
type PlayerRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// PlayerProfile is the public rating record.
type PlayerProfile struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Rating      int    `json:"rating"`
	Wins        int    `json:"wins"`
	Losses      int    `json:"losses"`
	Draws       int    `json:"draws"`
	GamesPlayed int    `json:"games_played"`
}
