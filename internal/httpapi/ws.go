package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	crerr "github.com/cockroachdb/errors"
	"github.com/park285/cheese-arena/internal/broadcast"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/pkg/chessdto"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	maxTopics      = 8
	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 30 * time.Second
)

func parseTopics(raw string) ([]broadcast.Topic, error) {
	var out []broadcast.Topic
	seen := make(map[broadcast.Topic]bool)
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		t, ok := broadcast.ParseTopic(part)
		if !ok {
			return nil, crerr.Wrapf(domain.ErrInvalidInput, "topic %q", part)
		}
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		out = []broadcast.Topic{broadcast.TopicLobby}
	}
	if len(out) > maxTopics {
		return nil, crerr.Wrapf(domain.ErrInvalidInput, "at most %d topics", maxTopics)
	}
	return out, nil
}

// wsSession is one connected viewer. Only the writer goroutine writes to conn.
type wsSession struct {
	srv    *Server
	conn   *websocket.Conn
	user   *domain.Player
	topics []broadcast.Topic
	direct chan any
	log    *zap.Logger
}

// serveWS upgrades to a websocket that streams the requested topics.
// Subscription happens before the initial snapshots so nothing committed in between is lost.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	topics, err := parseTopics(r.URL.Query().Get("topics"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	user, _ := userFromContext(r.Context())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sub, err := s.feed.Subscribe(ctx, topics...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer func() { _ = sub.Close() }()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  s.origins,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		s.log.Debug("ws_accept_failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	sess := &wsSession{
		srv:    s,
		conn:   conn,
		user:   user,
		topics: topics,
		direct: make(chan any, 2*maxTopics),
		log:    s.log.With(zap.Strings("topics", topicNames(topics))),
	}
	sess.sendSnapshots(ctx)

	var wg conc.WaitGroup
	wg.Go(func() {
		defer cancel()
		sess.writeLoop(ctx, sub)
	})
	wg.Go(func() {
		defer cancel()
		sess.readLoop(ctx)
	})
	wg.Wait()
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func topicNames(topics []broadcast.Topic) []string {
	out := make([]string, len(topics))
	for i, t := range topics {
		out[i] = string(t)
	}
	return out
}

func (ws *wsSession) sendSnapshots(ctx context.Context) {
	for _, t := range ws.topics {
		var (
			payload any
			err     error
		)
		switch {
		case t == broadcast.TopicLobby:
			payload, err = ws.srv.feed.LobbySnapshot(ctx)
		case t == broadcast.TopicMatchmaking:
			payload, err = ws.srv.feed.QueueSnapshot(ctx)
		default:
			id, _ := t.GameID()
			var g *domain.Game
			if g, err = ws.srv.games.GameState(ctx, id); err == nil {
				payload, err = ws.srv.feed.GameSnapshot(ctx, g)
			}
		}
		if err != nil {
			ws.sendError(ctx, err)
			continue
		}
		ws.enqueue(ctx, payload)
	}
}

func (ws *wsSession) enqueue(ctx context.Context, payload any) {
	select {
	case ws.direct <- payload:
	case <-ctx.Done():
	}
}

func (ws *wsSession) sendError(ctx context.Context, err error) {
	_, body := ws.srv.domainError(err)
	ws.enqueue(ctx, chessdto.ErrorEvent{Type: chessdto.EventError, Code: body.Code, Message: body.Message})
}

func (ws *wsSession) writeLoop(ctx context.Context, sub *broadcast.Subscription) {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-ws.direct:
			wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(wctx, ws.conn, payload)
			cancel()
			if err != nil {
				ws.log.Debug("ws_write_failed", zap.Error(err))
				return
			}
		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := ws.conn.Write(wctx, websocket.MessageText, msg.Payload)
			cancel()
			if err != nil {
				ws.log.Debug("ws_write_failed", zap.Error(err))
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := ws.conn.Ping(pctx)
			cancel()
			if err != nil {
				ws.log.Debug("ws_ping_failed", zap.Error(err))
				return
			}
		}
	}
}

// readLoop handles client messages. Results of accepted moves arrive through the subscription.
func (ws *wsSession) readLoop(ctx context.Context) {
	for {
		var msg chessdto.ClientMessage
		if err := wsjson.Read(ctx, ws.conn, &msg); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				ws.log.Debug("ws_read_failed", zap.Error(err))
			}
			return
		}
		switch strings.ToLower(strings.TrimSpace(msg.Type)) {
		case "move":
			ws.handleMove(ctx, msg)
		default:
			ws.sendError(ctx, crerr.Wrapf(domain.ErrInvalidInput, "message type %q", msg.Type))
		}
	}
}

func (ws *wsSession) handleMove(ctx context.Context, msg chessdto.ClientMessage) {
	if ws.user == nil {
		ws.sendError(ctx, errUnauthenticated)
		return
	}
	gameID := strings.TrimSpace(msg.GameID)
	if gameID == "" {
		gameID = ws.onlyGame()
	}
	if gameID == "" {
		ws.sendError(ctx, crerr.Wrap(domain.ErrInvalidInput, "game_id required"))
		return
	}
	uci, err := normalizeMove(msg.UCI)
	if err == nil {
		_, err = ws.srv.games.ApplyPlayerMove(ctx, gameID, ws.user.ID, uci)
	}
	if err != nil {
		ws.sendError(ctx, err)
	}
}

// onlyGame returns the game id when exactly one game topic is subscribed.
func (ws *wsSession) onlyGame() string {
	found := ""
	for _, t := range ws.topics {
		if id, ok := t.GameID(); ok {
			if found != "" {
				return ""
			}
			found = id
		}
	}
	return found
}
