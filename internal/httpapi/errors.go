package httpapi

import (
	"net/http"

	crerr "github.com/cockroachdb/errors"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/pkg/chessdto"
)

// errUnauthenticated is returned when a route needs X-User-Id and none was sent.
var errUnauthenticated = crerr.New("missing user identity")

type mappedError struct {
	status    int
	code      string
	retryable bool
}

// 순서대로 검사한다. 첫 번째 일치가 이긴다.
var errorTable = []struct {
	target error
	mapped mappedError
}{
	{domain.ErrInvalidMoveFormat, mappedError{http.StatusBadRequest, "invalid_move_format", false}},
	{domain.ErrIllegalMove, mappedError{http.StatusUnprocessableEntity, "illegal_move", false}},
	{domain.ErrGameNotAcceptingMoves, mappedError{http.StatusConflict, "game_not_accepting_moves", false}},
	{domain.ErrNotParticipant, mappedError{http.StatusForbidden, "not_participant", false}},
	{domain.ErrNotYourTurn, mappedError{http.StatusConflict, "not_your_turn", false}},
	{domain.ErrSelfPlay, mappedError{http.StatusBadRequest, "self_play", false}},
	{domain.ErrInvalidTicket, mappedError{http.StatusBadRequest, "invalid_ticket", false}},
	{domain.ErrInvalidInput, mappedError{http.StatusBadRequest, "invalid_input", false}},
	{domain.ErrGameNotFound, mappedError{http.StatusNotFound, "game_not_found", false}},
	{domain.ErrPlayerNotFound, mappedError{http.StatusNotFound, "player_not_found", false}},
	{domain.ErrTicketNotFound, mappedError{http.StatusNotFound, "ticket_not_found", false}},
	{domain.ErrConflict, mappedError{http.StatusConflict, "conflict", true}},
	{domain.ErrStoreUnavailable, mappedError{http.StatusServiceUnavailable, "store_unavailable", true}},
	{errUnauthenticated, mappedError{http.StatusUnauthorized, "unauthenticated", false}},
}

var internalError = mappedError{http.StatusInternalServerError, "internal", false}

func mapError(err error) mappedError {
	for _, e := range errorTable {
		if crerr.Is(err, e.target) {
			return e.mapped
		}
	}
	return internalError
}

// domainError renders err for clients. Unknown errors never expose their text.
func (s *Server) domainError(err error) (int, chessdto.DomainError) {
	m := mapError(err)
	return m.status, chessdto.DomainError{
		Code:      m.code,
		Message:   s.messages.ErrorText(m.code, fallbackText(m, err)),
		Retryable: m.retryable,
	}
}

func fallbackText(m mappedError, err error) string {
	if m == internalError {
		return "internal server error"
	}
	return err.Error()
}
