package domain

import (
	"errors"
	"testing"
	"time"

	crerr "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestGameColorOf(t *testing.T) {
	g := &Game{WhiteID: "u1", BlackID: "u2"}

	c, ok := g.ColorOf("u1")
	require.True(t, ok)
	require.Equal(t, White, c)

	c, ok = g.ColorOf(" u2 ")
	require.True(t, ok)
	require.Equal(t, Black, c)

	_, ok = g.ColorOf("u3")
	require.False(t, ok)
	_, ok = g.ColorOf("")
	require.False(t, ok)
}

func TestTicketBounds(t *testing.T) {
	now := time.Now()
	tk := &Ticket{RatingMin: 1250, RatingMax: 1550, ExpiresAt: now.Add(time.Minute)}
	require.True(t, tk.Accepts(1250))
	require.True(t, tk.Accepts(1550))
	require.False(t, tk.Accepts(1551))
	require.False(t, tk.Expired(now))
	require.True(t, tk.Expired(now.Add(time.Minute)))
}

func TestUnavailableIsRetryable(t *testing.T) {
	err := Unavailable(errors.New("dial tcp: refused"), "load game")
	require.True(t, crerr.Is(err, ErrStoreUnavailable))
	require.True(t, Retryable(err))
	require.Contains(t, err.Error(), "dial tcp")
	require.False(t, Retryable(ErrIllegalMove))
	require.Nil(t, Unavailable(nil, "noop"))
}
