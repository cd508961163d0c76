// Package httpapi exposes the arena over HTTP and a websocket feed.
// Identity comes from the X-User-Id and X-User-Name headers set by the fronting gateway.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/park285/cheese-arena/internal/archive"
	"github.com/park285/cheese-arena/internal/broadcast"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/gameplay"
	"github.com/park285/cheese-arena/internal/matchmaking"
	"github.com/park285/cheese-arena/internal/msgcat"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/pkg/chessdto"
	"go.uber.org/zap"
)

type Games interface {
	CreateGame(ctx context.Context, req gameplay.NewGame) (*domain.Game, error)
	ApplyPlayerMove(ctx context.Context, gameID, playerID, uci string) (*gameplay.AppliedMove, error)
	Abort(ctx context.Context, gameID, playerID string) (*domain.Game, error)
	GameState(ctx context.Context, gameID string) (*domain.Game, error)
	LegalMoves(ctx context.Context, gameID string) (domain.Color, []string, error)
}

type Queue interface {
	Join(ctx context.Context, userID string, req matchmaking.JoinRequest) (*domain.Ticket, error)
	Leave(ctx context.Context, userID string) (bool, error)
	Current(ctx context.Context, userID string) (*domain.Ticket, error)
}

type Players interface {
	EnsurePlayer(ctx context.Context, id, username string, defaultRating int) (*domain.Player, error)
	GetPlayer(ctx context.Context, id string) (*domain.Player, error)
}

// Feed is the read and subscribe side of the broadcast fanout.
type Feed interface {
	Subscribe(ctx context.Context, topics ...broadcast.Topic) (*broadcast.Subscription, error)
	GameSnapshot(ctx context.Context, g *domain.Game) (chessdto.GameState, error)
	LobbySnapshot(ctx context.Context) (chessdto.LobbyState, error)
	QueueSnapshot(ctx context.Context) (chessdto.QueueUpdate, error)
}

type Deps struct {
	Games    Games
	Queue    Queue
	Players  Players
	Feed     Feed
	History  archive.Repository
	Messages *msgcat.Catalog

	DefaultRating  int
	AllowedOrigins []string
}

type Server struct {
	games    Games
	queue    Queue
	players  Players
	feed     Feed
	history  archive.Repository
	messages *msgcat.Catalog

	defaultRating int
	origins       []string
	validator     *validator.Validate
	log           *zap.Logger
}

func NewServer(d Deps) *Server {
	rating := d.DefaultRating
	if rating <= 0 {
		rating = domain.DefaultRating
	}
	return &Server{
		games:         d.Games,
		queue:         d.Queue,
		players:       d.Players,
		feed:          d.Feed,
		history:       d.History,
		messages:      d.Messages,
		defaultRating: rating,
		origins:       d.AllowedOrigins,
		validator:     validator.New(),
		log:           obslog.With("httpapi"),
	}
}

// Handler returns the routed handler wrapped in recovery, access logging and identity.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.routes(mux)
	return s.recoverPanics(s.accessLog(s.identify(mux)))
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.healthz)

	mux.Handle("POST /games", s.requireUser(s.createGame))
	mux.HandleFunc("GET /games/{id}", s.getGame)
	mux.HandleFunc("GET /games/{id}/moves", s.listMoves)
	mux.HandleFunc("GET /games/{id}/legal-moves", s.legalMoves)
	mux.Handle("POST /games/{id}/moves", s.requireUser(s.submitMove))
	mux.Handle("POST /games/{id}/abort", s.requireUser(s.abortGame))

	mux.Handle("GET /matchmaking/tickets", s.requireUser(s.currentTicket))
	mux.Handle("POST /matchmaking/tickets", s.requireUser(s.joinQueue))
	mux.Handle("DELETE /matchmaking/tickets", s.requireUser(s.leaveQueue))

	mux.HandleFunc("GET /lobby", s.lobby)
	mux.HandleFunc("GET /players/{id}", s.playerProfile)
	mux.HandleFunc("GET /players/{id}/history", s.playerHistory)

	mux.HandleFunc("GET /ws", s.serveWS)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
