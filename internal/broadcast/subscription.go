package broadcast

import (
	"context"
	"strings"
	"sync"

	crerr "github.com/cockroachdb/errors"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Message is one published payload as received by a subscriber.
type Message struct {
	Topic   Topic
	Payload []byte
}

// Subscription delivers messages for a fixed set of topics until closed.
type Subscription struct {
	ps        *redis.PubSub
	out       chan Message
	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
}

// Subscribe joins topics and waits for Redis to confirm before returning,
// so nothing published after Subscribe returns is missed.
func (f *Fanout) Subscribe(ctx context.Context, topics ...Topic) (*Subscription, error) {
	if len(topics) == 0 {
		return nil, crerr.Wrap(domain.ErrInvalidInput, "no topics")
	}
	channels := make([]string, 0, len(topics))
	for _, t := range topics {
		channels = append(channels, t.channel())
	}
	ps := f.rdb.Subscribe(ctx, channels...)
	for range channels {
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			return nil, domain.Unavailable(err, "subscribe")
		}
	}
	s := &Subscription{
		ps:     ps,
		out:    make(chan Message, 64),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go s.pump()
	return s, nil
}

func (s *Subscription) pump() {
	defer close(s.exited)
	defer close(s.out)
	ch := s.ps.Channel()
	for {
		var msg *redis.Message
		select {
		case <-s.done:
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			msg = m
		}
		topic := Topic(strings.TrimPrefix(msg.Channel, "arena:topic:"))
		select {
		case s.out <- Message{Topic: topic, Payload: []byte(msg.Payload)}:
		case <-s.done:
			// 읽는 쪽이 떠났다.
			return
		}
	}
}

// C is closed once the subscription is closed.
func (s *Subscription) C() <-chan Message { return s.out }

// Close unsubscribes and returns once the delivery goroutine has stopped,
// whether or not anyone is still reading C.
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.ps.Close()
		<-s.exited
	})
	return err
}
