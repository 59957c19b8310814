// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Config is the process configuration read from the environment.
type Config struct {
	HTTPAddr      string
	DatabaseURL   string // Empty keeps everything in memory.
	RedisURL      string // Empty disables cross-node coordination.
	JWTSecret     string
	GameTypesFile string
	RulesFile     string
	DeckDir       string
	NodeID        string

	BotUserID   int64
	BotMinDelay time.Duration
	BotMaxDelay time.Duration

	MatchDeadline  time.Duration
	PoolMaxAge     time.Duration
	SweepInterval  time.Duration
	ReplayTrailing time.Duration

	VerifyWins bool
	LogLevel   log.Level
}

// Load reads .env when present, then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("Could not read .env: %v", err)
	}

	cfg := Config{
		HTTPAddr:      envStr("HTTP_ADDR", ":8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		GameTypesFile: envStr("GAME_TYPES_FILE", "game_types.json"),
		RulesFile:     envStr("RULES_FILE", "rules.txt"),
		DeckDir:       envStr("DECK_DIR", "decks"),
		NodeID:        envStr("NODE_ID", uuid.NewString()),
	}
	if cfg.JWTSecret == "" {
		return cfg, fmt.Errorf("JWT_SECRET is required")
	}

	var err error
	if cfg.BotUserID, err = envInt64("BOT_USER_ID", -1); err != nil {
		return cfg, err
	}
	durations := []struct {
		dst *time.Duration
		key string
		def time.Duration
	}{
		{&cfg.BotMinDelay, "BOT_MIN_DELAY", 500 * time.Millisecond},
		{&cfg.BotMaxDelay, "BOT_MAX_DELAY", 2 * time.Second},
		{&cfg.MatchDeadline, "MATCH_DEADLINE", 5 * time.Second},
		{&cfg.PoolMaxAge, "POOL_MAX_AGE", 10 * time.Minute},
		{&cfg.SweepInterval, "POOL_SWEEP_INTERVAL", time.Minute},
		{&cfg.ReplayTrailing, "REPLAY_TRAILING", 5 * time.Second},
	}
	for _, d := range durations {
		if *d.dst, err = envDuration(d.key, d.def); err != nil {
			return cfg, err
		}
	}
	if cfg.BotMaxDelay < cfg.BotMinDelay {
		return cfg, fmt.Errorf("BOT_MAX_DELAY %s is below BOT_MIN_DELAY %s", cfg.BotMaxDelay, cfg.BotMinDelay)
	}
	cfg.VerifyWins, _ = strconv.ParseBool(os.Getenv("VERIFY_WINS"))

	cfg.LogLevel = log.InfoLevel
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		if cfg.LogLevel, err = log.ParseLevel(lvl); err != nil {
			return cfg, fmt.Errorf("LOG_LEVEL: %w", err)
		}
	}
	return cfg, nil
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt64(key string, def int64) (int64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
