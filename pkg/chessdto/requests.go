package chessdto

// CreateGameRequest asks for a direct game against opponent_id.
// PlayAs is white, black or auto; auto seats the requester as white.
type CreateGameRequest struct {
	OpponentID  string       `json:"opponent_id" validate:"required,max=64"`
	PlayAs      string       `json:"play_as" validate:"omitempty,oneof=white black auto"`
	TimeControl *TimeControl `json:"time_control,omitempty"`
}

type MoveRequest struct {
	UCI string `json:"uci" validate:"required,min=4,max=5"`
}

// JoinQueueRequest creates or replaces the caller's matchmaking ticket.
// Nil fields take server defaults.
type JoinQueueRequest struct {
	TimeControl *TimeControl `json:"time_control,omitempty"`
	RatingMin   *int         `json:"rating_min,omitempty" validate:"omitempty,min=0,max=4000"`
	RatingMax   *int         `json:"rating_max,omitempty" validate:"omitempty,min=0,max=4000"`
	ExpiresIn   *int         `json:"expires_in,omitempty" validate:"omitempty,min=1"`
}

type TicketView struct {
	UserID      string      `json:"user_id"`
	TimeControl TimeControl `json:"time_control"`
	RatingMin   int         `json:"rating_min"`
	RatingMax   int         `json:"rating_max"`
	CreatedAt   string      `json:"created_at"`
	ExpiresAt   string      `json:"expires_at"`
}

// AppliedMoveResponse answers a move submission.
type AppliedMoveResponse struct {
	Move           MoveView    `json:"move"`
	Game           GameSummary `json:"game"`
	PreviousStatus string      `json:"previous_status"`
}
