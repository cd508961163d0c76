package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	HTTPAddr       string
	AllowedOrigins []string

	RedisURL      string
	DatabaseURL   string
	DBAutoMigrate bool

	MatchmakingInterval time.Duration
	TicketTTLDefault    time.Duration
	TicketTTLMin        time.Duration
	TicketTTLMax        time.Duration
	TicketRangeSpan     int

	DefaultRating     int
	SettlementWorkers int
	LobbyRecentLimit  int
	GameTTL           time.Duration

	MatchWebhookURL string
	MessagesDir     string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		HTTPAddr:            ":8080",
		DBAutoMigrate:       true,
		MatchmakingInterval: 5 * time.Second,
		TicketTTLDefault:    300 * time.Second,
		TicketTTLMin:        60 * time.Second,
		TicketTTLMax:        900 * time.Second,
		TicketRangeSpan:     400,
		DefaultRating:       1200,
		SettlementWorkers:   4,
		LobbyRecentLimit:    5,
	}

	if v := strings.TrimSpace(os.Getenv("HTTP_ADDR")); v != "" {
		cfg.HTTPAddr = v
	}
	cfg.AllowedOrigins = splitList(os.Getenv("ALLOWED_ORIGINS"))

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if v := strings.TrimSpace(os.Getenv("DB_AUTO_MIGRATE")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.DBAutoMigrate = b
		}
	}

	// seconds
	cfg.MatchmakingInterval = envSeconds("MATCHMAKING_INTERVAL", cfg.MatchmakingInterval)
	cfg.TicketTTLDefault = envSeconds("TICKET_TTL_DEFAULT", cfg.TicketTTLDefault)
	cfg.TicketTTLMin = envSeconds("TICKET_TTL_MIN", cfg.TicketTTLMin)
	cfg.TicketTTLMax = envSeconds("TICKET_TTL_MAX", cfg.TicketTTLMax)
	// 0이면 종료된 게임도 Redis에 남는다.
	if n := envInt("GAME_TTL"); n > 0 {
		cfg.GameTTL = time.Duration(n) * time.Hour
	}

	if n := envInt("TICKET_RANGE_SPAN"); n > 0 {
		cfg.TicketRangeSpan = n
	}
	if n := envInt("DEFAULT_RATING"); n > 0 {
		cfg.DefaultRating = n
	}
	if n := envInt("SETTLEMENT_WORKERS"); n > 0 {
		cfg.SettlementWorkers = n
	}
	if n := envInt("LOBBY_RECENT_LIMIT"); n > 0 {
		cfg.LobbyRecentLimit = n
	}

	cfg.MatchWebhookURL = strings.TrimSpace(os.Getenv("MATCH_WEBHOOK_URL"))
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.TicketTTLMin > cfg.TicketTTLMax {
		return nil, errors.New("TICKET_TTL_MIN must not exceed TICKET_TTL_MAX")
	}
	if cfg.TicketTTLDefault < cfg.TicketTTLMin || cfg.TicketTTLDefault > cfg.TicketTTLMax {
		return nil, errors.New("TICKET_TTL_DEFAULT must lie within TICKET_TTL_MIN..TICKET_TTL_MAX")
	}

	return cfg, nil
}

func envInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

func envSeconds(key string, def time.Duration) time.Duration {
	if n := envInt(key); n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
