package arenaclient

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	sonic "github.com/bytedance/sonic"
	crerr "github.com/cockroachdb/errors"
	"github.com/park285/cheese-arena/pkg/chessdto"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type FeedState string

const (
	FeedDisconnected FeedState = "disconnected"
	FeedConnecting   FeedState = "connecting"
	FeedConnected    FeedState = "connected"
	FeedReconnecting FeedState = "reconnecting"
	FeedFailed       FeedState = "failed"
)

// Event is one server frame. Raw holds the full JSON object.
type Event struct {
	Type string
	Raw  []byte
}

type EventCallback func(ev Event)

type StateCallback func(state FeedState)

// Feed is a reconnecting websocket subscription to arena topics.
type Feed struct {
	wsURL string

	conn  *websocket.Conn
	connM sync.Mutex
	state FeedState

	eventCbs []EventCallback
	stateCbs []StateCallback
	cbM      sync.RWMutex

	maxReconnectAttempts int
	pingInterval         time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc

	headerProvider HeaderProvider
}

// NewFeed targets baseURL's /ws endpoint with the given topics, e.g. "lobby" or "game:<id>".
func NewFeed(baseURL string, topics []string, maxReconnectAttempts int) (*Feed, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/ws")
	if err != nil {
		return nil, crerr.Wrap(err, "parse feed url")
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set("topics", strings.Join(topics, ","))
	u.RawQuery = q.Encode()
	return &Feed{
		wsURL:                u.String(),
		state:                FeedDisconnected,
		maxReconnectAttempts: maxReconnectAttempts,
		pingInterval:         30 * time.Second,
		stopCh:               make(chan struct{}),
	}, nil
}

func (f *Feed) SetHeaderProvider(h HeaderProvider) { f.headerProvider = h }

func (f *Feed) OnEvent(cb EventCallback) {
	f.cbM.Lock()
	defer f.cbM.Unlock()
	f.eventCbs = append(f.eventCbs, cb)
}

func (f *Feed) OnStateChange(cb StateCallback) {
	f.cbM.Lock()
	defer f.cbM.Unlock()
	f.stateCbs = append(f.stateCbs, cb)
}

func (f *Feed) State() FeedState {
	f.connM.Lock()
	defer f.connM.Unlock()
	return f.state
}

func (f *Feed) Connect(ctx context.Context) error {
	if s := f.State(); s == FeedConnected || s == FeedConnecting {
		return nil
	}
	f.rootCtx, f.rootCancel = context.WithCancel(context.Background())
	f.setState(FeedConnecting)

	if err := f.dial(ctx); err != nil {
		f.setState(FeedFailed)
		f.scheduleReconnect()
		return err
	}
	return nil
}

func (f *Feed) dial(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, f.wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      f.buildHeaders(),
	})
	if err != nil {
		return crerr.Wrap(err, "dial feed")
	}
	f.connM.Lock()
	f.conn = conn
	f.connM.Unlock()
	f.setState(FeedConnected)

	f.wg.Add(2)
	go f.listen(conn)
	go f.pingLoop(conn)
	return nil
}

func (f *Feed) listen(conn *websocket.Conn) {
	defer f.wg.Done()
	for {
		_, raw, err := conn.Read(f.rootCtx)
		if err != nil {
			if f.isStopping() {
				return
			}
			f.setState(FeedDisconnected)
			f.dropConn(conn, websocket.StatusGoingAway, "reconnect")
			f.scheduleReconnect()
			return
		}
		var head struct {
			Type string `json:"type"`
		}
		_ = sonic.Unmarshal(raw, &head)
		ev := Event{Type: head.Type, Raw: raw}

		f.cbM.RLock()
		callbacks := append([]EventCallback(nil), f.eventCbs...)
		f.cbM.RUnlock()
		for _, cb := range callbacks {
			cb(ev)
		}
	}
}

func (f *Feed) pingLoop(conn *websocket.Conn) {
	defer f.wg.Done()
	t := time.NewTicker(f.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-f.stopCh:
			return
		case <-f.rootCtx.Done():
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(f.rootCtx, 3*time.Second)
			err := conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				// listen이 재연결을 맡는다.
				f.dropConn(conn, websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

func (f *Feed) scheduleReconnect() {
	if f.maxReconnectAttempts <= 0 || f.isStopping() {
		return
	}
	f.setState(FeedReconnecting)
	go func() {
		for attempt := 1; attempt <= f.maxReconnectAttempts; attempt++ {
			select {
			case <-f.stopCh:
				return
			case <-time.After(backoffDuration(attempt)):
			}
			if err := f.dial(f.rootCtx); err == nil {
				return
			}
		}
		f.setState(FeedFailed)
	}()
}

// SendMove submits a move over the socket. Rejections come back as error events.
func (f *Feed) SendMove(ctx context.Context, gameID, uci string) error {
	f.connM.Lock()
	conn := f.conn
	f.connM.Unlock()
	if conn == nil {
		return crerr.New("feed not connected")
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(wctx, conn, chessdto.ClientMessage{Type: "move", GameID: gameID, UCI: uci})
}

func (f *Feed) Close(ctx context.Context) error {
	f.stopOnce.Do(func() { close(f.stopCh) })
	f.connM.Lock()
	conn := f.conn
	f.connM.Unlock()
	if conn != nil {
		f.dropConn(conn, websocket.StatusNormalClosure, "close")
	}

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		if f.rootCancel != nil {
			f.rootCancel()
		}
		f.setState(FeedDisconnected)
		return nil
	}
}

func (f *Feed) setState(state FeedState) {
	f.connM.Lock()
	f.state = state
	f.connM.Unlock()

	f.cbM.RLock()
	callbacks := append([]StateCallback(nil), f.stateCbs...)
	f.cbM.RUnlock()
	for _, cb := range callbacks {
		cb(state)
	}
}

func (f *Feed) dropConn(conn *websocket.Conn, code websocket.StatusCode, reason string) {
	f.connM.Lock()
	if f.conn == conn {
		f.conn = nil
	}
	f.connM.Unlock()
	_ = conn.Close(code, reason)
}

func (f *Feed) isStopping() bool {
	select {
	case <-f.stopCh:
		return true
	default:
		return false
	}
}

func (f *Feed) buildHeaders() http.Header {
	hdr := http.Header{}
	if f.headerProvider == nil {
		return hdr
	}
	for k, v := range f.headerProvider() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}
