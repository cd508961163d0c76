package obslog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	require.Equal(t, zapcore.WarnLevel, parseLevel("warning"))
	require.Equal(t, zapcore.InfoLevel, parseLevel("nonsense"))
}

func TestBuildWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "arena.log")
	l, err := Build(Options{Level: "info", Format: "json", ToFile: true, File: path})
	require.NoError(t, err)
	l.Info("hello", zap.String("k", "v"))
	require.NoError(t, l.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"msg":"hello"`)
}

func TestWithAddsComponent(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	Set(zap.New(core))
	t.Cleanup(func() { Set(nil) })

	With("matchmaking").Info("run")
	entries := logs.FilterMessage("run").All()
	require.Len(t, entries, 1)
	require.Equal(t, "matchmaking", entries[0].ContextMap()["component"])
}
