package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultRateLimitPerMinute = 20
	DefaultHeartbeatInterval  = 20 * time.Second
	DefaultSessionTTL         = 12 * time.Hour
)

type Config struct {
	ServerAddr         string
	DatabaseDSN        string
	SessionSigningKey  []byte
	PortalSigningKey   []byte
	AllowedOrigins     []string
	RedisURL           string
	RateLimitPerMinute int
	HeartbeatInterval  time.Duration
	BanCacheTTL        time.Duration
	SessionTTL         time.Duration
	Migrate            bool
}

// Flags holds the raw values collected from the command line.
type Flags struct {
	Addr               string
	DSN                string
	SessionSigningKey  string
	PortalSigningKey   string
	AllowedOrigins     []string
	RedisURL           string
	RateLimitPerMinute int
	HeartbeatInterval  time.Duration
	BanCacheTTL        time.Duration
	SessionTTL         time.Duration
	Migrate            bool
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("empty key")
	}
	return key, nil
}

func NewConfig(f Flags) (*Config, error) {
	if f.Addr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if f.DSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if f.SessionSigningKey == "" {
		return nil, fmt.Errorf("session signing secret cannot be empty")
	}
	if f.PortalSigningKey == "" {
		return nil, fmt.Errorf("portal signing secret cannot be empty")
	}
	if f.RateLimitPerMinute < 0 {
		return nil, fmt.Errorf("rate limit cannot be negative")
	}
	if f.HeartbeatInterval <= 0 {
		return nil, fmt.Errorf("heartbeat interval must be positive")
	}
	if f.BanCacheTTL < 0 {
		return nil, fmt.Errorf("ban cache ttl cannot be negative")
	}
	if f.SessionTTL <= 0 {
		return nil, fmt.Errorf("session ttl must be positive")
	}
	if f.RedisURL != "" {
		if _, err := url.Parse(f.RedisURL); err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
	}

	sessionKey, err := decodeSigningSecret(f.SessionSigningKey)
	if err != nil {
		return nil, fmt.Errorf("decode session signing secret: %w", err)
	}

	portalKey, err := decodeSigningSecret(f.PortalSigningKey)
	if err != nil {
		return nil, fmt.Errorf("decode portal signing secret: %w", err)
	}

	return &Config{
		ServerAddr:         f.Addr,
		DatabaseDSN:        f.DSN,
		SessionSigningKey:  sessionKey,
		PortalSigningKey:   portalKey,
		AllowedOrigins:     f.AllowedOrigins,
		RedisURL:           f.RedisURL,
		RateLimitPerMinute: f.RateLimitPerMinute,
		HeartbeatInterval:  f.HeartbeatInterval,
		BanCacheTTL:        f.BanCacheTTL,
		SessionTTL:         f.SessionTTL,
		Migrate:            f.Migrate,
	}, nil
}

// LoadEnv reads a .env file into the environment if one exists. Variables
// that are already set are not overridden.
func LoadEnv(filenames ...string) error {
	err := godotenv.Load(filenames...)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func Env(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func EnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(Env(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func EnvDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(Env(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func EnvBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(Env(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

// EnvList splits a comma separated variable, dropping blank entries.
func EnvList(key string) []string {
	var out []string
	for _, s := range strings.Split(Env(key, ""), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
