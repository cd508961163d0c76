// Package arenaclient is a Go client for the arena HTTP API and its websocket feed.
package arenaclient

import (
	"context"
	"strconv"
	"strings"
	"time"

	sonic "github.com/bytedance/sonic"
	crerr "github.com/cockroachdb/errors"
	"github.com/park285/cheese-arena/pkg/chessdto"
	"github.com/valyala/fasthttp"
)

// HeaderProvider allows injecting per-request headers
type HeaderProvider func() map[string]string

// Identity returns a HeaderProvider that sends X-User-Id and X-User-Name.
func Identity(userID, username string) HeaderProvider {
	return func() map[string]string {
		return map[string]string{"X-User-Id": userID, "X-User-Name": username}
	}
}

// APIError is a non-2xx answer carrying the server's error body.
type APIError struct {
	Status int
	chessdto.DomainError
}

func (e *APIError) Error() string {
	return "arena api error: status=" + strconv.Itoa(e.Status) + " code=" + e.Code + ": " + e.Message
}

type Client struct {
	baseURL string
	http    *fasthttp.Client
	headers HeaderProvider

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, fasthttp.MethodGet, "/healthz", nil, nil, true)
}

func (c *Client) Lobby(ctx context.Context) (*chessdto.LobbyState, error) {
	var out chessdto.LobbyState
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/lobby", nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Game(ctx context.Context, gameID string) (*chessdto.GameSnapshot, error) {
	var out chessdto.GameSnapshot
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/games/"+gameID, nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateGame(ctx context.Context, req chessdto.CreateGameRequest) (*chessdto.GameView, error) {
	var out chessdto.GameView
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/games", req, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitMove is never retried; a lost response may still have committed the move.
func (c *Client) SubmitMove(ctx context.Context, gameID, uci string) (*chessdto.AppliedMoveResponse, error) {
	var out chessdto.AppliedMoveResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/games/"+gameID+"/moves", chessdto.MoveRequest{UCI: uci}, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) JoinQueue(ctx context.Context, req chessdto.JoinQueueRequest) (*chessdto.TicketView, error) {
	var out chessdto.TicketView
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/matchmaking/tickets", req, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) LeaveQueue(ctx context.Context) (bool, error) {
	var out struct {
		Removed bool `json:"removed"`
	}
	if err := c.doJSON(ctx, fasthttp.MethodDelete, "/matchmaking/tickets", nil, &out, true); err != nil {
		return false, err
	}
	return out.Removed, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any, retry bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	if c.headers != nil {
		for k, v := range c.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}
	if in != nil {
		payload, err := sonic.Marshal(in)
		if err != nil {
			return crerr.Wrap(err, "marshal request")
		}
		req.SetBody(payload)
	}

	attempts := 1
	if retry && c.retryMax > 1 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.http.DoDeadline(req, resp, c.deadline(ctx))
		switch {
		case err != nil:
			lastErr = crerr.Wrap(err, "request failed")
		case resp.StatusCode() >= 200 && resp.StatusCode() < 300:
			if out == nil {
				return nil
			}
			if err := sonic.Unmarshal(resp.Body(), out); err != nil {
				return crerr.Wrap(err, "decode response")
			}
			return nil
		default:
			apiErr := decodeAPIError(resp.StatusCode(), resp.Body())
			if !apiErr.Retryable && !shouldRetryStatus(apiErr.Status) {
				return apiErr
			}
			lastErr = apiErr
		}
		if attempt == attempts {
			break
		}
		if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
			return lastErr
		}
	}
	return lastErr
}

func decodeAPIError(status int, body []byte) *APIError {
	var env struct {
		Error chessdto.DomainError `json:"error"`
	}
	out := &APIError{Status: status}
	if err := sonic.Unmarshal(body, &env); err == nil && env.Error.Code != "" {
		out.DomainError = env.Error
		return out
	}
	out.Code = "http_" + strconv.Itoa(status)
	out.Message = truncate(string(body), 256)
	return out
}

func (c *Client) deadline(ctx context.Context) time.Time {
	own := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(own) {
		return dl
	}
	return own
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
