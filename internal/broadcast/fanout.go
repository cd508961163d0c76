// Package broadcast publishes arena state changes to Redis pub/sub topics.
//
// Publishing is best effort: failures are logged and never reach the caller,
// so a committed move or pairing is not undone by a missing subscriber path.
package broadcast

import (
	"context"
	"strings"
	"time"

	sonic "github.com/bytedance/sonic"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/pkg/chessdto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Topic is a named group of subscribers.
type Topic string

const (
	TopicLobby       Topic = "lobby"
	TopicMatchmaking Topic = "matchmaking"
)

func GameTopic(id string) Topic { return Topic("game:" + strings.TrimSpace(id)) }

// ParseTopic accepts lobby, matchmaking and game:<id>.
func ParseTopic(raw string) (Topic, bool) {
	t := Topic(strings.TrimSpace(raw))
	switch {
	case t == TopicLobby || t == TopicMatchmaking:
		return t, true
	case strings.HasPrefix(string(t), "game:") && len(t) > len("game:"):
		return t, true
	}
	return "", false
}

// GameID returns the id of a game topic.
func (t Topic) GameID() (string, bool) {
	id, ok := strings.CutPrefix(string(t), "game:")
	return id, ok && id != ""
}

func (t Topic) channel() string { return "arena:topic:" + string(t) }

// Source is the read side the fanout needs to assemble payloads.
type Source interface {
	GetPlayer(ctx context.Context, id string) (*domain.Player, error)
	ListMoves(ctx context.Context, gameID string) ([]domain.Move, error)
	LobbyCounts(ctx context.Context) (live, waiting int64, err error)
	CountTickets(ctx context.Context, now time.Time) (int, error)
	RecentGames(ctx context.Context, limit int) ([]*domain.Game, error)
	Now() time.Time
}

type Fanout struct {
	rdb         *redis.Client
	src         Source
	recentLimit int
	timeout     time.Duration
	log         *zap.Logger
}

type Option func(*Fanout)

func WithRecentLimit(n int) Option {
	return func(f *Fanout) {
		if n > 0 {
			f.recentLimit = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(f *Fanout) {
		if l != nil {
			f.log = l
		}
	}
}

func New(rdb *redis.Client, src Source, opts ...Option) *Fanout {
	f := &Fanout{
		rdb:         rdb,
		src:         src,
		recentLimit: 5,
		timeout:     2 * time.Second,
		log:         obslog.With("broadcast"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fanout) publish(ctx context.Context, topic Topic, event string, payload any) {
	raw, err := sonic.Marshal(payload)
	if err != nil {
		f.log.Error("broadcast_encode_error", zap.String("topic", string(topic)), zap.String("event", event), zap.Error(err))
		return
	}
	// 요청 컨텍스트가 끝나도 이미 커밋된 상태 변화는 알린다.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	defer cancel()
	n, err := f.rdb.Publish(pctx, topic.channel(), raw).Result()
	if err != nil {
		f.log.Warn("broadcast_publish_dropped", zap.String("topic", string(topic)), zap.String("event", event), zap.Error(err))
		return
	}
	f.log.Debug("broadcast_publish", zap.String("topic", string(topic)), zap.String("event", event), zap.Int64("receivers", n))
}

func (f *Fanout) username(ctx context.Context, id string) string {
	p, err := f.src.GetPlayer(ctx, id)
	if err != nil || p == nil || p.Username == "" {
		return id
	}
	return p.Username
}

func (f *Fanout) playerRef(ctx context.Context, id string) chessdto.PlayerRef {
	return chessdto.PlayerRef{ID: id, Username: f.username(ctx, id)}
}

// MoveApplied publishes one move_applied on the game's topic.
func (f *Fanout) MoveApplied(ctx context.Context, g *domain.Game, m *domain.Move) {
	if g == nil || m == nil {
		return
	}
	f.publish(ctx, GameTopic(g.ID), chessdto.EventMoveApplied, chessdto.MoveApplied{
		Type: chessdto.EventMoveApplied,
		Move: MoveView(m, f.username(ctx, m.PlayerID)),
		Game: Summary(g),
	})
}

// GameChanged publishes a full game_state snapshot on the game's topic.
func (f *Fanout) GameChanged(ctx context.Context, g *domain.Game) {
	if g == nil {
		return
	}
	snap, err := f.GameSnapshot(ctx, g)
	if err != nil {
		f.log.Warn("broadcast_snapshot_error", zap.String("game_id", g.ID), zap.Error(err))
		return
	}
	f.publish(ctx, GameTopic(g.ID), chessdto.EventGameState, snap)
}

// GameSnapshot builds the game_state payload for g.
func (f *Fanout) GameSnapshot(ctx context.Context, g *domain.Game) (chessdto.GameState, error) {
	moves, err := f.src.ListMoves(ctx, g.ID)
	if err != nil {
		return chessdto.GameState{}, err
	}
	names := map[string]string{
		g.WhiteID: f.username(ctx, g.WhiteID),
		g.BlackID: f.username(ctx, g.BlackID),
	}
	views := make([]chessdto.MoveView, 0, len(moves))
	for i := range moves {
		views = append(views, MoveView(&moves[i], names[moves[i].PlayerID]))
	}
	white := chessdto.PlayerRef{ID: g.WhiteID, Username: names[g.WhiteID]}
	black := chessdto.PlayerRef{ID: g.BlackID, Username: names[g.BlackID]}
	return chessdto.GameState{
		Type:  chessdto.EventGameState,
		State: chessdto.GameSnapshot{Game: GameView(g, white, black), Moves: views},
	}, nil
}

// LobbyChanged publishes a fresh lobby_state.
func (f *Fanout) LobbyChanged(ctx context.Context) {
	state, err := f.LobbySnapshot(ctx)
	if err != nil {
		f.log.Warn("broadcast_lobby_error", zap.Error(err))
		return
	}
	f.publish(ctx, TopicLobby, chessdto.EventLobbyState, state)
}

// LobbySnapshot counts live and waiting games and queued tickets, plus the newest games.
func (f *Fanout) LobbySnapshot(ctx context.Context) (chessdto.LobbyState, error) {
	live, waiting, err := f.src.LobbyCounts(ctx)
	if err != nil {
		return chessdto.LobbyState{}, err
	}
	queued, err := f.src.CountTickets(ctx, f.src.Now())
	if err != nil {
		return chessdto.LobbyState{}, err
	}
	games, err := f.src.RecentGames(ctx, f.recentLimit)
	if err != nil {
		return chessdto.LobbyState{}, err
	}
	recent := make([]chessdto.RecentGame, 0, len(games))
	for _, g := range games {
		recent = append(recent, chessdto.RecentGame{
			ID:          g.ID,
			WhitePlayer: f.username(ctx, g.WhiteID),
			BlackPlayer: f.username(ctx, g.BlackID),
			Status:      string(g.Status),
			CreatedAt:   g.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return chessdto.LobbyState{
		Type:         chessdto.EventLobbyState,
		ActiveGames:  int(live),
		WaitingGames: int(waiting),
		QueueCount:   queued,
		RecentGames:  recent,
	}, nil
}

// QueueChanged publishes queue_update with the current ticket count.
func (f *Fanout) QueueChanged(ctx context.Context) {
	update, err := f.QueueSnapshot(ctx)
	if err != nil {
		f.log.Warn("broadcast_queue_error", zap.Error(err))
		return
	}
	f.publish(ctx, TopicMatchmaking, chessdto.EventQueueUpdate, update)
}

func (f *Fanout) QueueSnapshot(ctx context.Context) (chessdto.QueueUpdate, error) {
	n, err := f.src.CountTickets(ctx, f.src.Now())
	if err != nil {
		return chessdto.QueueUpdate{}, err
	}
	return chessdto.QueueUpdate{Type: chessdto.EventQueueUpdate, Count: n}, nil
}

// Matched publishes a match-found event naming both players.
func (f *Fanout) Matched(ctx context.Context, g *domain.Game) {
	if g == nil {
		return
	}
	f.publish(ctx, TopicMatchmaking, chessdto.EventMatched, MatchedEvent(g, f.playerRef(ctx, g.WhiteID), f.playerRef(ctx, g.BlackID)))
}

func MatchedEvent(g *domain.Game, white, black chessdto.PlayerRef) chessdto.Matched {
	return chessdto.Matched{Type: chessdto.EventMatched, GameID: g.ID, White: white, Black: black}
}
