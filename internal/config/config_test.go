package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadRequiresRedis(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, 5*time.Second, cfg.MatchmakingInterval)
	require.Equal(t, 300*time.Second, cfg.TicketTTLDefault)
	require.Equal(t, 400, cfg.TicketRangeSpan)
	require.Equal(t, 1200, cfg.DefaultRating)
	require.True(t, cfg.DBAutoMigrate)
	require.Empty(t, cfg.DatabaseURL)
	require.Zero(t, cfg.GameTTL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("MATCHMAKING_INTERVAL", "2")
	t.Setenv("SETTLEMENT_WORKERS", "8")
	t.Setenv("ALLOWED_ORIGINS", "arena.example.com, *.arena.dev ,")
	t.Setenv("DB_AUTO_MIGRATE", "false")
	t.Setenv("GAME_TTL", "72")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, cfg.MatchmakingInterval)
	require.Equal(t, 8, cfg.SettlementWorkers)
	require.Equal(t, []string{"arena.example.com", "*.arena.dev"}, cfg.AllowedOrigins)
	require.False(t, cfg.DBAutoMigrate)
	require.Equal(t, 72*time.Hour, cfg.GameTTL)
}

func TestLoadRejectsInvertedTicketBounds(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("TICKET_TTL_MIN", "1000")
	_, err := Load()
	require.Error(t, err)
}
