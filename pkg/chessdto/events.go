package chessdto

const (
	EventMoveApplied = "move_applied"
	EventGameState   = "game_state"
	EventLobbyState  = "lobby_state"
	EventQueueUpdate = "queue_update"
	EventMatched     = "matched"
	EventError       = "error"
)

// MoveApplied is published on game:<id> after every committed move.
type MoveApplied struct {
	Type string      `json:"type"`
	Move MoveView    `json:"move"`
	Game GameSummary `json:"game"`
}

type GameSnapshot struct {
	Game  GameView   `json:"game"`
	Moves []MoveView `json:"moves"`
}

// GameState carries a full snapshot; sent on subscribe and after non-move transitions.
type GameState struct {
	Type  string       `json:"type"`
	State GameSnapshot `json:"state"`
}

type RecentGame struct {
	ID          string `json:"id"`
	WhitePlayer string `json:"white_player"`
	BlackPlayer string `json:"black_player"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

type LobbyState struct {
	Type         string       `json:"type"`
	ActiveGames  int          `json:"active_games"`
	WaitingGames int          `json:"waiting_games"`
	QueueCount   int          `json:"queue_count"`
	RecentGames  []RecentGame `json:"recent_games"`
}

type QueueUpdate struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type Matched struct {
	Type   string    `json:"type"`
	GameID string    `json:"game_id"`
	White  PlayerRef `json:"white"`
	Black  PlayerRef `json:"black"`
}

// ErrorEvent is sent to a single websocket client.
type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ClientMessage is what a websocket client may send. Only "move" is understood.
type ClientMessage struct {
	Type   string `json:"type"`
	GameID string `json:"game_id,omitempty"`
	UCI    string `json:"uci,omitempty"`
}
