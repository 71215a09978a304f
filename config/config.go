package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

// RoomTTL bounds how long mirrored room records live in Redis.
const RoomTTL = 24 * time.Hour

// Media engine modes.
const (
	MediaEngineNone   = "none"
	MediaEngineLocal  = "local"
	MediaEngineRemote = "remote"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	LogLevel       string
	Redis          RedisConfig

	RoomCapacity         int
	RequestTimeout       time.Duration
	MaxMessagesPerSecond int

	MediaEngine    string
	MediaEngineURL string
	ICEServers     []webrtc.ICEServer
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

func Load() (*Config, error) {
	// Parse allowed origins (comma-separated)
	originsStr := getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	origins := splitCommaSeparated(originsStr)

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: origins,
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
		},
		MediaEngine:    strings.ToLower(getEnv("MEDIA_ENGINE", MediaEngineLocal)),
		MediaEngineURL: getEnv("MEDIA_ENGINE_URL", ""),
	}

	var err error
	if cfg.Redis.DB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.RoomCapacity, err = getEnvInt("ROOM_CAPACITY", 10); err != nil {
		return nil, err
	}
	if cfg.MaxMessagesPerSecond, err = getEnvInt("MAX_MESSAGES_PER_SECOND", 50); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = getEnvDuration("REQUEST_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	cfg.ICEServers, err = parseICEServers(
		os.Getenv(envICEServersJSON),
		os.Getenv(envStunURLs),
		os.Getenv(envTurnURLs),
		os.Getenv(envTurnUsername),
		os.Getenv(envTurnCredential),
	)
	if err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.RoomCapacity <= 0 {
		return fmt.Errorf("ROOM_CAPACITY must be positive, got %d", c.RoomCapacity)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	if c.MaxMessagesPerSecond <= 0 {
		return fmt.Errorf("MAX_MESSAGES_PER_SECOND must be positive, got %d", c.MaxMessagesPerSecond)
	}
	switch c.MediaEngine {
	case MediaEngineNone, MediaEngineLocal:
	case MediaEngineRemote:
		if c.MediaEngineURL == "" {
			return fmt.Errorf("MEDIA_ENGINE_URL is required when MEDIA_ENGINE=%s", MediaEngineRemote)
		}
	default:
		return fmt.Errorf("MEDIA_ENGINE: unknown mode %q", c.MediaEngine)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
