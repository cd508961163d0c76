package migrations

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsAreOrdered(t *testing.T) {
	src, err := Source()
	require.NoError(t, err)
	defer src.Close()

	first, err := src.First()
	require.NoError(t, err)
	require.EqualValues(t, 1, first)

	next, err := src.Next(first)
	require.NoError(t, err)
	require.EqualValues(t, 2, next)

	up, ident, err := src.ReadUp(next)
	require.NoError(t, err)
	defer up.Close()
	require.Equal(t, "rating_history", ident)
	raw, err := io.ReadAll(up)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(raw), "arena_rating_history"))

	down, _, err := src.ReadDown(first)
	require.NoError(t, err)
	down.Close()
}
