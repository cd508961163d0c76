package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	crerr "github.com/cockroachdb/errors"
	"github.com/park285/cheese-arena/internal/archive"
	"github.com/park285/cheese-arena/internal/broadcast"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/matchmaking"
	"github.com/park285/cheese-arena/pkg/chessdto"
)

const maxHistoryLimit = 50

func (s *Server) currentTicket(w http.ResponseWriter, r *http.Request, user *domain.Player) {
	t, err := s.queue.Current(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, broadcast.TicketView(t))
}

func (s *Server) joinQueue(w http.ResponseWriter, r *http.Request, user *domain.Player) {
	var req chessdto.JoinQueueRequest
	if err := decodeBody(r, &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.validate(r, &req, domain.ErrInvalidTicket); err != nil {
		s.writeError(w, r, err)
		return
	}
	join := matchmaking.JoinRequest{
		RatingMin: req.RatingMin,
		RatingMax: req.RatingMax,
		ExpiresIn: req.ExpiresIn,
	}
	if req.TimeControl != nil {
		tc := toTimeControl(req.TimeControl)
		join.TimeControl = &tc
	}
	t, err := s.queue.Join(r.Context(), user.ID, join)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, broadcast.TicketView(t))
}

func (s *Server) leaveQueue(w http.ResponseWriter, r *http.Request, user *domain.Player) {
	removed, err := s.queue.Leave(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

func (s *Server) lobby(w http.ResponseWriter, r *http.Request) {
	state, err := s.feed.LobbySnapshot(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) playerProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.players.GetPlayer(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, broadcast.PlayerProfile(p))
}

func (s *Server) playerHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.players.GetPlayer(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	games, err := s.history.RecentForPlayer(r.Context(), p.ID, limit)
	if err != nil {
		s.writeError(w, r, domain.Unavailable(err, "load history"))
		return
	}
	out := chessdto.PlayerHistory{
		Player: broadcast.PlayerProfile(p),
		Games:  make([]chessdto.ArchivedGame, 0, len(games)),
	}
	for _, g := range games {
		out.Games = append(out.Games, archivedView(g, p.ID))
	}
	writeJSON(w, http.StatusOK, out)
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, crerr.Wrapf(domain.ErrInvalidInput, "limit %q", raw)
	}
	return min(n, maxHistoryLimit), nil
}

func archivedView(g archive.FinishedGame, playerID string) chessdto.ArchivedGame {
	return chessdto.ArchivedGame{
		GameID:      g.GameID,
		White:       g.WhiteID,
		Black:       g.BlackID,
		Winner:      string(g.Winner),
		Status:      string(domain.StatusFinished),
		MovesCount:  g.MoveCount,
		PGN:         g.PGN,
		RatingDelta: g.RatingDelta(playerID),
		EndedAt:     g.EndedAt,
	}
}
