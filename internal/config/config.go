package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the full service configuration.
type Config struct {
	Server  ServerConfig
	Gemini  GeminiConfig
	Search  SearchConfig
	Redis   RedisConfig
	Memory  MemoryConfig
	Storage StorageConfig
	Auth    AuthConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
}

type GeminiConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MinInterval time.Duration
}

type SearchConfig struct {
	BaseURL         string
	TopKPerQuery    int
	MaxTotalResults int
	Timeout         time.Duration
}

type RedisConfig struct {
	Addr     string
	DB       int
	Password string
}

type MemoryConfig struct {
	MaxTurns int
	TTL      time.Duration
}

type StorageConfig struct {
	DataDir string
}

type AuthConfig struct {
	JWTSecret string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 8004,
		},
		Gemini: GeminiConfig{
			BaseURL:     "https://generativelanguage.googleapis.com",
			Model:       "gemini-2.5-flash-lite",
			MinInterval: 1200 * time.Millisecond,
		},
		Search: SearchConfig{
			BaseURL:         "http://search-service:8090",
			TopKPerQuery:    5,
			MaxTotalResults: 10,
			Timeout:         30 * time.Second,
		},
		Redis: RedisConfig{
			Addr: "redis:6379",
			DB:   1,
		},
		Memory: MemoryConfig{
			MaxTurns: 10,
			TTL:      7 * 24 * time.Hour,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/legalbot/config.json, then applies LEGALBOT_*
// environment variable overrides. Secrets (Gemini API key, JWT signing
// secret) are required and must come from the file or the environment.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b *fileBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Gemini.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: Gemini API key. " +
			"Set it via environment variable LEGALBOT_GEMINI_API_KEY or the gemini.api_key config key")
	}
	if cfg.Auth.JWTSecret == "" {
		return Config{}, fmt.Errorf("missing required config: JWT secret. " +
			"Set it via environment variable LEGALBOT_JWT_SECRET or the auth.jwt_secret config key")
	}

	return cfg, nil
}

func applyBackend(cfg *Config, b *fileBackend) error {
	if v, ok, err := b.GetInt("server.port"); err != nil {
		return err
	} else if ok {
		cfg.Server.Port = v
	}

	stringKeys := []struct {
		key string
		dst *string
	}{
		{"gemini.api_key", &cfg.Gemini.APIKey},
		{"gemini.base_url", &cfg.Gemini.BaseURL},
		{"gemini.model", &cfg.Gemini.Model},
		{"search.base_url", &cfg.Search.BaseURL},
		{"redis.addr", &cfg.Redis.Addr},
		{"redis.password", &cfg.Redis.Password},
		{"storage.data_dir", &cfg.Storage.DataDir},
		{"auth.jwt_secret", &cfg.Auth.JWTSecret},
		{"log.level", &cfg.Log.Level},
	}
	for _, k := range stringKeys {
		if v, ok, err := b.GetString(k.key); err != nil {
			return err
		} else if ok {
			*k.dst = v
		}
	}

	intKeys := []struct {
		key string
		dst *int
	}{
		{"search.top_k_per_query", &cfg.Search.TopKPerQuery},
		{"search.max_total_results", &cfg.Search.MaxTotalResults},
		{"redis.db", &cfg.Redis.DB},
		{"memory.max_turns", &cfg.Memory.MaxTurns},
	}
	for _, k := range intKeys {
		if v, ok, err := b.GetInt(k.key); err != nil {
			return err
		} else if ok {
			*k.dst = v
		}
	}

	durationKeys := []struct {
		key string
		dst *time.Duration
	}{
		{"gemini.min_interval", &cfg.Gemini.MinInterval},
		{"search.timeout", &cfg.Search.Timeout},
		{"memory.ttl", &cfg.Memory.TTL},
	}
	for _, k := range durationKeys {
		v, ok, err := b.GetString(k.key)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration for %s: %w", k.key, err)
		}
		*k.dst = d
	}

	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LEGALBOT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LEGALBOT_GEMINI_API_KEY"); v != "" {
		cfg.Gemini.APIKey = v
	}
	if v := os.Getenv("LEGALBOT_GEMINI_BASE_URL"); v != "" {
		cfg.Gemini.BaseURL = v
	}
	if v := os.Getenv("LEGALBOT_GEMINI_MODEL"); v != "" {
		cfg.Gemini.Model = v
	}
	if v := os.Getenv("LEGALBOT_SEARCH_URL"); v != "" {
		cfg.Search.BaseURL = v
	}
	if v := os.Getenv("LEGALBOT_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("LEGALBOT_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	}
	if v := os.Getenv("LEGALBOT_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("LEGALBOT_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("LEGALBOT_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("LEGALBOT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LEGALBOT_MEMORY_MAX_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Memory.MaxTurns = n
		}
	}
	if v := os.Getenv("LEGALBOT_MEMORY_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Memory.TTL = d
		}
	}
}
