// Package config loads client and dev backend settings.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App    AppConfig
	Log    LogConfig
	Client ClientConfig
	Deck   DeckConfig
	Chat   ChatConfig
	Store  StoreConfig
	Redis  RedisConfig
	Photos PhotosConfig
	Auth   AuthConfig
	HTTP   HTTPConfig
	Seed   SeedConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
	Output string
}

// ClientConfig holds how the client core reaches the backend
type ClientConfig struct {
	APIURL      string
	WSURL       string
	AccessToken string
	HTTPTimeout time.Duration
}

// DeckConfig tunes the deck manager
type DeckConfig struct {
	HandSize        int
	RefillThreshold int
	LeaveDelay      time.Duration
	DecisionPolicy  string // drop, retry
	DecisionRetries int
}

// ChatConfig tunes the chat transport and conversation view
type ChatConfig struct {
	ReconnectDelay time.Duration
	PageSize       int
	UnreadPoll     time.Duration
}

// StoreConfig selects the dev backend persistence
type StoreConfig struct {
	Driver      string // memory, dynamodb
	TablePrefix string
	AWSRegion   string
	Endpoint    string // DynamoDB endpoint override, e.g. DynamoDB Local
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// PhotosConfig controls how card photo URLs are produced
type PhotosConfig struct {
	S3Bucket       string
	BaseURL        string // Prefix for photo keys when no bucket is configured
	PresignTTL     time.Duration
	PlaceholderURL string
}

// AuthConfig holds dev backend token settings
type AuthConfig struct {
	Secret    string
	Issuer    string
	AccessTTL time.Duration
	DeckTTL   time.Duration
}

// HTTPConfig holds dev backend transport settings
type HTTPConfig struct {
	CORSAllowOrigins []string
	SendRatePerSec   float64
	SendBurst        int
}

// SeedConfig controls fake data for the dev backend
type SeedConfig struct {
	Candidates int
}

// Load reads configuration.
// Priority (highest to lowest):
// 1. Environment variables with TM_ prefix (e.g., TM_CLIENT_API_URL)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper builds a Config from an already populated viper instance
func FromViper(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("TM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Client: ClientConfig{
			APIURL:      v.GetString("client.api_url"),
			WSURL:       v.GetString("client.ws_url"),
			AccessToken: v.GetString("client.access_token"),
			HTTPTimeout: v.GetDuration("client.http_timeout"),
		},
		Deck: DeckConfig{
			HandSize:        v.GetInt("deck.hand_size"),
			RefillThreshold: v.GetInt("deck.refill_threshold"),
			LeaveDelay:      v.GetDuration("deck.leave_delay"),
			DecisionPolicy:  strings.ToLower(v.GetString("deck.decision_policy")),
			DecisionRetries: v.GetInt("deck.decision_retries"),
		},
		Chat: ChatConfig{
			ReconnectDelay: v.GetDuration("chat.reconnect_delay"),
			PageSize:       v.GetInt("chat.page_size"),
			UnreadPoll:     v.GetDuration("chat.unread_poll"),
		},
		Store: StoreConfig{
			Driver:      strings.ToLower(v.GetString("store.driver")),
			TablePrefix: v.GetString("store.table_prefix"),
			AWSRegion:   v.GetString("store.aws_region"),
			Endpoint:    v.GetString("store.endpoint"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Photos: PhotosConfig{
			S3Bucket:       v.GetString("photos.s3_bucket"),
			BaseURL:        v.GetString("photos.base_url"),
			PresignTTL:     v.GetDuration("photos.presign_ttl"),
			PlaceholderURL: v.GetString("photos.placeholder_url"),
		},
		Auth: AuthConfig{
			Secret:    v.GetString("auth.secret"),
			Issuer:    v.GetString("auth.issuer"),
			AccessTTL: v.GetDuration("auth.access_ttl"),
			DeckTTL:   v.GetDuration("auth.deck_ttl"),
		},
		HTTP: HTTPConfig{
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
			SendRatePerSec:   v.GetFloat64("http.send_rate_per_sec"),
			SendBurst:        v.GetInt("http.send_burst"),
		},
		Seed: SeedConfig{
			Candidates: v.GetInt("seed.candidates"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "tennismatch")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("client.api_url", "http://localhost:8080")
	v.SetDefault("client.ws_url", "ws://localhost:8080/ws")
	v.SetDefault("client.http_timeout", 15*time.Second)

	v.SetDefault("deck.hand_size", 20)
	v.SetDefault("deck.refill_threshold", 5)
	v.SetDefault("deck.leave_delay", 300*time.Millisecond)
	v.SetDefault("deck.decision_policy", "drop")
	v.SetDefault("deck.decision_retries", 3)

	v.SetDefault("chat.reconnect_delay", 1500*time.Millisecond)
	v.SetDefault("chat.page_size", 50)
	v.SetDefault("chat.unread_poll", 10*time.Second)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.table_prefix", "")
	v.SetDefault("store.aws_region", "us-east-1")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("photos.presign_ttl", 5*time.Minute)
	v.SetDefault("photos.placeholder_url", "/placeholder-man-image.png")

	v.SetDefault("auth.secret", "dev-secret-change-me")
	v.SetDefault("auth.issuer", "tennismatch")
	v.SetDefault("auth.access_ttl", 24*time.Hour)
	v.SetDefault("auth.deck_ttl", 15*time.Minute)

	v.SetDefault("http.cors_allow_origins", []string{"*"})
	v.SetDefault("http.send_rate_per_sec", 5.0)
	v.SetDefault("http.send_burst", 10)

	v.SetDefault("seed.candidates", 120)
}

func (c *Config) validate() error {
	if c.Deck.HandSize <= 0 {
		return fmt.Errorf("deck.hand_size must be positive, got %d", c.Deck.HandSize)
	}
	if c.Deck.RefillThreshold < 0 {
		return fmt.Errorf("deck.refill_threshold must not be negative, got %d", c.Deck.RefillThreshold)
	}
	switch c.Deck.DecisionPolicy {
	case "drop", "retry":
	default:
		return fmt.Errorf("deck.decision_policy must be drop or retry, got %q", c.Deck.DecisionPolicy)
	}
	if c.Chat.PageSize <= 0 {
		return fmt.Errorf("chat.page_size must be positive, got %d", c.Chat.PageSize)
	}
	switch c.Store.Driver {
	case "memory", "dynamodb":
	default:
		return fmt.Errorf("store.driver must be memory or dynamodb, got %q", c.Store.Driver)
	}
	if c.App.Env == "production" && c.Auth.Secret == "dev-secret-change-me" {
		return errors.New("auth.secret must be set in production")
	}
	return nil
}
