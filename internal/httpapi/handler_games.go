package httpapi

import (
	"net/http"
	"strings"

	crerr "github.com/cockroachdb/errors"
	"github.com/park285/cheese-arena/internal/broadcast"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/gameplay"
	"github.com/park285/cheese-arena/pkg/chessdto"
)

func toTimeControl(tc *chessdto.TimeControl) domain.TimeControl {
	if tc == nil {
		return domain.TimeControl{}
	}
	return domain.TimeControl{Base: tc.Base, Increment: tc.Increment}
}

func (s *Server) validate(r *http.Request, payload any, kind error) error {
	if err := s.validator.StructCtx(r.Context(), payload); err != nil {
		return crerr.Wrapf(kind, "validation failed: %v", err)
	}
	return nil
}

func (s *Server) createGame(w http.ResponseWriter, r *http.Request, user *domain.Player) {
	var req chessdto.CreateGameRequest
	if err := decodeBody(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.OpponentID = strings.TrimSpace(req.OpponentID)
	if err := s.validate(r, &req, domain.ErrInvalidInput); err != nil {
		s.writeError(w, r, err)
		return
	}
	g, err := s.games.CreateGame(r.Context(), gameplay.NewGame{
		RequesterID: user.ID,
		OpponentID:  req.OpponentID,
		PlayAs:      req.PlayAs,
		TimeControl: toTimeControl(req.TimeControl),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, err := s.feed.GameSnapshot(r.Context(), g)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap.State.Game)
}

func (s *Server) snapshot(r *http.Request) (chessdto.GameSnapshot, error) {
	g, err := s.games.GameState(r.Context(), r.PathValue("id"))
	if err != nil {
		return chessdto.GameSnapshot{}, err
	}
	state, err := s.feed.GameSnapshot(r.Context(), g)
	if err != nil {
		return chessdto.GameSnapshot{}, err
	}
	return state.State, nil
}

func (s *Server) getGame(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshot(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) listMoves(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshot(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap.Moves)
}

func (s *Server) legalMoves(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	side, moves, err := s.games.LegalMoves(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if moves == nil {
		moves = []string{}
	}
	writeJSON(w, http.StatusOK, chessdto.LegalMovesResponse{GameID: id, SideToMove: string(side), Moves: moves})
}

// normalizeMove trims the submitted move and rejects anything too short to be a coordinate move.
func normalizeMove(raw string) (string, error) {
	uci := strings.TrimSpace(raw)
	if len(uci) < 4 {
		return "", crerr.Wrapf(domain.ErrInvalidMoveFormat, "%q", raw)
	}
	return uci, nil
}

func (s *Server) submitMove(w http.ResponseWriter, r *http.Request, user *domain.Player) {
	var req chessdto.MoveRequest
	if err := decodeBody(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	uci, err := normalizeMove(req.UCI)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req.UCI = uci
	if err := s.validate(r, &req, domain.ErrInvalidMoveFormat); err != nil {
		s.writeError(w, r, err)
		return
	}
	applied, err := s.games.ApplyPlayerMove(r.Context(), r.PathValue("id"), user.ID, req.UCI)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chessdto.AppliedMoveResponse{
		Move:           broadcast.MoveView(applied.Move, user.Username),
		Game:           broadcast.Summary(applied.Game),
		PreviousStatus: string(applied.PreviousStatus),
	})
}

func (s *Server) abortGame(w http.ResponseWriter, r *http.Request, user *domain.Player) {
	g, err := s.games.Abort(r.Context(), r.PathValue("id"), user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, broadcast.Summary(g))
}
