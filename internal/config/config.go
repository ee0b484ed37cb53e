package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port                   string
	Env                    string
	Store                  string // mongo or memory
	MongoURI               string
	MongoDB                string
	JWTSecret              string
	WebhookSecret          string
	DeviceTimeout          time.Duration
	DeviceFailureThreshold int
	SyncConcurrency        int
	DefaultLocale          string
	DeviceTimezone         *time.Location
	LogLevel               slog.Level
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first, and CONFIG_FILE may name a YAML file of the
// same keys. Real environment variables win over both.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	src := source{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		file, err := readFile(path)
		if err != nil {
			return nil, err
		}
		src.file = file
	}
	return src.build()
}

type source struct {
	file map[string]string
}

func (s source) build() (*Config, error) {
	cfg := &Config{
		Port:          s.get("PORT", "3000"),
		Env:           s.get("ENV", "development"),
		Store:         s.get("STORE", "mongo"),
		MongoURI:      s.get("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDB:       s.get("MONGODB_DATABASE", "academy"),
		JWTSecret:     s.get("JWT_SECRET", ""),
		WebhookSecret: s.get("WEBHOOK_SECRET", ""),
		DefaultLocale: s.get("DEFAULT_LOCALE", "en"),
	}

	var err error
	if cfg.DeviceTimeout, err = time.ParseDuration(s.get("DEVICE_TIMEOUT", "10s")); err != nil {
		return nil, fmt.Errorf("DEVICE_TIMEOUT: %w", err)
	}
	if cfg.DeviceFailureThreshold, err = s.getInt("DEVICE_FAILURE_THRESHOLD", 3); err != nil {
		return nil, err
	}
	if cfg.SyncConcurrency, err = s.getInt("SYNC_CONCURRENCY", 4); err != nil {
		return nil, err
	}
	if cfg.DeviceTimezone, err = time.LoadLocation(s.get("DEVICE_TIMEZONE", "UTC")); err != nil {
		return nil, fmt.Errorf("DEVICE_TIMEZONE: %w", err)
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(s.get("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	switch cfg.Store {
	case "mongo", "memory":
	default:
		return nil, fmt.Errorf("STORE: unknown store %q", cfg.Store)
	}
	if cfg.JWTSecret == "" && cfg.Env == "production" {
		return nil, errors.New("JWT_SECRET is required in production")
	}
	return cfg, nil
}

func (s source) get(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	if v := s.file[key]; v != "" {
		return v
	}
	return fallback
}

func (s source) getInt(key string, fallback int) (int, error) {
	v := s.get(key, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s: want a positive integer, got %q", key, v)
	}
	return n, nil
}

func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		out[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return out, nil
}
