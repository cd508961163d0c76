package httpapi

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	crerr "github.com/cockroachdb/errors"
	"github.com/park285/cheese-arena/internal/domain"
	"go.uber.org/zap"
)

const (
	headerUserID   = "X-User-Id"
	headerUserName = "X-User-Name"
)

type contextKey string

const userContextKey contextKey = "arena_user"

func withUser(ctx context.Context, p *domain.Player) context.Context {
	return context.WithValue(ctx, userContextKey, p)
}

func userFromContext(ctx context.Context) (*domain.Player, bool) {
	p, ok := ctx.Value(userContextKey).(*domain.Player)
	return p, ok && p != nil
}

// identify registers the caller named by X-User-Id. Requests without the header pass through anonymous.
func (s *Server) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerUserID))
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(id) > 64 {
			s.writeError(w, r, crerr.Wrap(domain.ErrInvalidInput, "user id too long"))
			return
		}
		p, err := s.players.EnsurePlayer(r.Context(), id, r.Header.Get(headerUserName), s.defaultRating)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), p)))
	})
}

type userHandler func(w http.ResponseWriter, r *http.Request, user *domain.Player)

func (s *Server) requireUser(h userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userFromContext(r.Context())
		if !ok {
			s.writeError(w, r, errUnauthenticated)
			return
		}
		h(w, r, user)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, crerr.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				s.log.Error("http_panic", zap.String("path", r.URL.Path), zap.Any("panic", v), zap.Stack("stack"))
				s.writeError(w, r, crerr.Newf("panic: %v", v))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
