package matchmaking

import (
	"context"
	"strings"
	"time"

	crerr "github.com/cockroachdb/errors"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/keylock"
	"github.com/park285/cheese-arena/internal/obslog"
	"go.uber.org/zap"
)

// Policy holds ticket defaults and bounds.
type Policy struct {
	DefaultTTL time.Duration
	MinTTL     time.Duration
	MaxTTL     time.Duration
	RangeSpan  int
}

func DefaultPolicy() Policy {
	return Policy{
		DefaultTTL: 300 * time.Second,
		MinTTL:     60 * time.Second,
		MaxTTL:     900 * time.Second,
		RangeSpan:  400,
	}
}

// JoinRequest leaves unset fields to the policy defaults.
type JoinRequest struct {
	TimeControl *domain.TimeControl
	RatingMin   *int
	RatingMax   *int
	ExpiresIn   *int
}

type TicketStore interface {
	UpsertTicket(ctx context.Context, t *domain.Ticket) (*domain.Ticket, error)
	DeleteTicket(ctx context.Context, userID string) (bool, error)
	GetTicket(ctx context.Context, userID string) (*domain.Ticket, error)
	Now() time.Time
}

type QueueNotifier interface {
	QueueChanged(ctx context.Context)
}

// Service manages the single ticket each user may hold.
type Service struct {
	store  TicketStore
	events QueueNotifier
	policy Policy
	locks  *keylock.Locker
	log    *zap.Logger
}

func NewService(st TicketStore, events QueueNotifier, policy Policy, locks *keylock.Locker) *Service {
	if locks == nil {
		locks = keylock.New()
	}
	return &Service{store: st, events: events, policy: policy, locks: locks, log: obslog.With("matchmaking")}
}

func userKey(id string) string { return "user:" + id }

// BuildTicket applies defaults and validates bounds without touching storage.
func (p Policy) BuildTicket(userID string, req JoinRequest, now time.Time) (*domain.Ticket, error) {
	tc := domain.DefaultTimeControl()
	if req.TimeControl != nil && !req.TimeControl.IsZero() {
		tc = *req.TimeControl
	}
	if tc.Base < 0 || tc.Increment < 0 {
		return nil, crerr.Wrapf(domain.ErrInvalidTicket, "time control %d+%d", tc.Base, tc.Increment)
	}

	ttl := p.DefaultTTL
	if req.ExpiresIn != nil {
		ttl = time.Duration(*req.ExpiresIn) * time.Second
		if ttl < p.MinTTL || ttl > p.MaxTTL {
			return nil, crerr.Wrapf(domain.ErrInvalidTicket, "expires_in must be within %d..%d seconds",
				int(p.MinTTL.Seconds()), int(p.MaxTTL.Seconds()))
		}
	}

	lo := 0
	if req.RatingMin != nil {
		lo = *req.RatingMin
	}
	hi := lo + p.RangeSpan
	if req.RatingMax != nil {
		hi = *req.RatingMax
	}
	if lo < 0 || hi < 0 {
		return nil, crerr.Wrap(domain.ErrInvalidTicket, "rating bounds must not be negative")
	}
	if hi < lo {
		return nil, crerr.Wrap(domain.ErrInvalidTicket, "rating_max must be greater than rating_min")
	}

	return &domain.Ticket{
		UserID:      userID,
		TimeControl: tc,
		RatingMin:   lo,
		RatingMax:   hi,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}, nil
}

// Join creates or replaces userID's ticket.
func (s *Service) Join(ctx context.Context, userID string, req JoinRequest) (*domain.Ticket, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, crerr.Wrap(domain.ErrInvalidTicket, "user id required")
	}
	t, err := s.policy.BuildTicket(userID, req, s.store.Now())
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(userKey(userID))
	saved, err := s.store.UpsertTicket(ctx, t)
	unlock()
	if err != nil {
		return nil, err
	}
	s.log.Info("ticket_joined",
		zap.String("user_id", userID),
		zap.Int("rating_min", saved.RatingMin),
		zap.Int("rating_max", saved.RatingMax),
		zap.Time("expires_at", saved.ExpiresAt),
	)
	s.events.QueueChanged(ctx)
	return saved, nil
}

// Leave drops userID's ticket. Leaving without a ticket is not an error.
func (s *Service) Leave(ctx context.Context, userID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	unlock := s.locks.Lock(userKey(userID))
	removed, err := s.store.DeleteTicket(ctx, userID)
	unlock()
	if err != nil {
		return false, err
	}
	if removed {
		s.log.Info("ticket_left", zap.String("user_id", userID))
		s.events.QueueChanged(ctx)
	}
	return removed, nil
}

// Current returns userID's unexpired ticket.
func (s *Service) Current(ctx context.Context, userID string) (*domain.Ticket, error) {
	t, err := s.store.GetTicket(ctx, strings.TrimSpace(userID))
	if err != nil {
		return nil, err
	}
	if t.Expired(s.store.Now()) {
		return nil, crerr.Wrapf(domain.ErrTicketNotFound, "%s", userID)
	}
	return t, nil
}
