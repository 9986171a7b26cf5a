package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppName string
	Env     string
	Host    string
	Port    int

	// DBDriver selects the durable store: "postgres" or "sqlite".
	DBDriver    string
	DatabaseURL string
	SQLitePath  string

	JWTSecret          string
	AccessTokenMinutes int
	EncryptKey         string

	CORSOrigins []string
	Debug       bool

	// Chat core tuning.
	HistoryMaxLimit  int
	MaxContentRunes  int
	WSMaxConnections int
	SweepInterval    time.Duration
	PingAfter        time.Duration
	DropAfter        time.Duration
}

func Load() (*Config, error) {
	dbHost := getEnv("POSTGRES_HOST", "localhost")
	dbPort := getEnv("POSTGRES_PORT", "5432")
	dbUser := getEnv("POSTGRES_USER", "postgres")
	dbPass := getEnv("POSTGRES_PASSWORD", "postgres")
	dbName := getEnv("POSTGRES_DB", "jobbridge")

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(dbUser, dbPass),
		Host:     fmt.Sprintf("%s:%s", dbHost, dbPort),
		Path:     dbName,
		RawQuery: "sslmode=disable",
	}

	cfg := &Config{
		AppName:     getEnv("APP_NAME", "JobBridge Chat API"),
		Env:         getEnv("APP_ENV", "development"),
		Host:        getEnv("HTTP_HOST", "0.0.0.0"),
		Port:        getEnvAsInt("HTTP_PORT", 8000),
		DBDriver:    getEnv("DB_DRIVER", "postgres"),
		DatabaseURL: u.String(),
		SQLitePath:  getEnv("SQLITE_PATH", "jobbridge.db"),

		JWTSecret:          os.Getenv("JWT_SECRET"),
		AccessTokenMinutes: getEnvAsInt("ACCESS_TOKEN_EXPIRE_MINUTES", 60*24),
		EncryptKey:         os.Getenv("ENCRYPTION_KEY"),

		Debug: getEnvAsBool("DEBUG", true),

		HistoryMaxLimit:  getEnvAsInt("CHAT_HISTORY_MAX_LIMIT", 100),
		MaxContentRunes:  getEnvAsInt("CHAT_MAX_CONTENT_RUNES", 5000),
		WSMaxConnections: getEnvAsInt("WS_MAX_CONNECTIONS", 10000),
		SweepInterval:    getEnvAsSeconds("WS_SWEEP_INTERVAL_SECONDS", 10*time.Second),
		PingAfter:        getEnvAsSeconds("WS_PING_AFTER_SECONDS", 30*time.Second),
		DropAfter:        getEnvAsSeconds("WS_DROP_AFTER_SECONDS", 60*time.Second),
	}

	cors := getEnv("CORS_ORIGINS", "")
	if cors != "" {
		parts := strings.Split(cors, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		cfg.CORSOrigins = parts
	} else {
		cfg.CORSOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}

	switch cfg.DBDriver {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", cfg.DBDriver)
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.EncryptKey == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if cfg.PingAfter >= cfg.DropAfter {
		return nil, fmt.Errorf("WS_PING_AFTER_SECONDS must be below WS_DROP_AFTER_SECONDS")
	}

	return cfg, nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvAsBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvAsSeconds(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return time.Duration(i) * time.Second
		}
	}
	return def
}
