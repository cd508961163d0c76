package domain

import crerr "github.com/cockroachdb/errors"

// Format and rule violations. Never retried.
var (
	ErrInvalidMoveFormat     = crerr.New("invalid move format")
	ErrIllegalMove           = crerr.New("illegal move")
	ErrGameNotAcceptingMoves = crerr.New("game is not accepting moves")
	ErrNotParticipant        = crerr.New("player is not a participant of this game")
	ErrNotYourTurn           = crerr.New("not your turn")
	ErrSelfPlay              = crerr.New("cannot play against yourself")
	ErrInvalidTicket         = crerr.New("invalid matchmaking ticket")
	ErrInvalidInput          = crerr.New("invalid input")
)

// Lookups.
var (
	ErrGameNotFound   = crerr.New("game not found")
	ErrPlayerNotFound = crerr.New("player not found")
	ErrTicketNotFound = crerr.New("ticket not found")
)

// Retryable infrastructure outcomes.
var (
	ErrConflict         = crerr.New("concurrent update conflict")
	ErrStoreUnavailable = crerr.New("store unavailable")
)

// Unavailable marks err as a store failure while keeping its message and cause.
func Unavailable(err error, op string) error {
	if err == nil {
		return nil
	}
	return crerr.Mark(crerr.Wrap(err, op), ErrStoreUnavailable)
}

// Retryable reports whether the caller may resubmit the same request unchanged.
func Retryable(err error) bool {
	return crerr.Is(err, ErrConflict) || crerr.Is(err, ErrStoreUnavailable)
}
