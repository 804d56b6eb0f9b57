package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type StoreBackend string

const (
	BackendAPI      StoreBackend = "api"
	BackendRedis    StoreBackend = "redis"
	BackendPostgres StoreBackend = "postgres"
	BackendMemory   StoreBackend = "memory"
)

type AppConfig struct {
	APIBaseURL        string
	SessionCookieName string
	SessionCookie     string

	StoreBackend StoreBackend
	RedisURL     string
	DatabaseURL  string

	ListenAddr   string
	AllowedGames []string

	RequestTimeoutSec int
	WriteTimeoutSec   int
	APIRetryMax       int
	LeaderboardLimit  int

	MessagesDir string
}

func Load() (*AppConfig, error) {
	// .env is optional; real deployments pass the environment directly.
	_ = godotenv.Load()

	cfg := &AppConfig{
		SessionCookieName: "session",
		StoreBackend:      BackendAPI,
		ListenAddr:        ":8090",
		RequestTimeoutSec: 10,
		WriteTimeoutSec:   15,
		APIRetryMax:       3,
		LeaderboardLimit:  20,
	}

	cfg.APIBaseURL = strings.TrimSpace(os.Getenv("SCORE_API_BASE_URL"))
	if v := strings.TrimSpace(os.Getenv("SCORE_SESSION_COOKIE_NAME")); v != "" {
		cfg.SessionCookieName = v
	}
	cfg.SessionCookie = strings.TrimSpace(os.Getenv("SCORE_SESSION_COOKIE"))

	if v := strings.TrimSpace(os.Getenv("STORE_BACKEND")); v != "" {
		cfg.StoreBackend = StoreBackend(strings.ToLower(v))
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	cfg.AllowedGames = splitList(os.Getenv("ALLOWED_GAMES"))

	if v := strings.TrimSpace(os.Getenv("REQUEST_TIMEOUT_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RequestTimeoutSec = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("WRITE_TIMEOUT_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.WriteTimeoutSec = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("SCORE_API_RETRY_MAX")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.APIRetryMax = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("LEADERBOARD_LIMIT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.LeaderboardLimit = n
		}
	}
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) validate() error {
	switch c.StoreBackend {
	case BackendAPI:
		if c.APIBaseURL == "" {
			return errors.New("SCORE_API_BASE_URL is required for STORE_BACKEND=api")
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required for STORE_BACKEND=redis")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for STORE_BACKEND=postgres")
		}
	case BackendMemory:
	default:
		return errors.New("STORE_BACKEND must be one of api, redis, postgres, memory")
	}
	return nil
}

// GameAllowed reports whether gameID may be played; an empty allow-list admits every game.
func (c *AppConfig) GameAllowed(gameID string) bool {
	if len(c.AllowedGames) == 0 {
		return true
	}
	for _, g := range c.AllowedGames {
		if g == gameID {
			return true
		}
	}
	return false
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
