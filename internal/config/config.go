package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Backend       BackendConfig       `yaml:"backend"`
	Session       SessionConfig       `yaml:"session"`
	Redis         RedisConfig         `yaml:"redis"`
	Auth          AuthConfig          `yaml:"auth"`
	Listing       ListingConfig       `yaml:"listing"`
	AWS           AWSConfig           `yaml:"aws"`
	Azure         AzureConfig         `yaml:"azure"`
	Analysis      AnalysisConfig      `yaml:"analysis"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	CORSAllowOrigin string        `yaml:"cors_allow_origin"`
	// MaxUploadBytes bounds one local upload request.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BackendConfig points at the analysis service.
type BackendConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type SessionConfig struct {
	TTL   time.Duration `yaml:"ttl"`
	Store string        `yaml:"store"`
	// SpoolDir holds uploaded files until they are sent for analysis.
	SpoolDir string `yaml:"spool_dir"`
	// EncryptionKey seals stored sessions, which carry cloud credentials.
	EncryptionKey string `yaml:"encryption_key"`
	SweepSchedule string `yaml:"sweep_schedule"`
}

type RedisConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type AuthConfig struct {
	JWTSecret    string        `yaml:"jwt_secret"`
	TokenExpiry  time.Duration `yaml:"token_expiry"`
	SecureCookie bool          `yaml:"secure_cookie"`
	// AdminToken enables the housekeeping job routes when set.
	AdminToken string `yaml:"admin_token"`
}

const (
	ListingBackend = "backend"
	ListingDirect  = "direct"
)

// ListingConfig chooses who lists cloud files: the analysis backend or
// piiflow itself through the provider SDKs.
type ListingConfig struct {
	Mode     string `yaml:"mode"`
	MaxFiles int    `yaml:"max_files"`
}

type AWSConfig struct {
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint"`
	VerifyIdentity bool   `yaml:"verify_identity"`
}

type AzureConfig struct {
	ServiceURL string `yaml:"service_url"`
}

type AnalysisConfig struct {
	Estimate time.Duration `yaml:"estimate"`
	Tick     time.Duration `yaml:"tick"`
	Cap      float64       `yaml:"cap"`
	Timeout  time.Duration `yaml:"timeout"`
}

type NotificationsConfig struct {
	Slack SlackNotifyConfig `yaml:"slack"`
}

type SlackNotifyConfig struct {
	Enabled      bool   `yaml:"enabled"`
	WebhookURL   string `yaml:"webhook_url"`
	Channel      string `yaml:"channel"`
	Username     string `yaml:"username"`
	IconEmoji    string `yaml:"icon_emoji"`
	OnlyFailures bool   `yaml:"only_failures"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Validate rejects settings that have no sensible fallback.
func (c *Config) Validate() error {
	switch c.Session.Store {
	case StoreMemory, StoreRedis:
	default:
		return fmt.Errorf("session.store must be %q or %q, got %q", StoreMemory, StoreRedis, c.Session.Store)
	}
	switch c.Listing.Mode {
	case ListingBackend, ListingDirect:
	default:
		return fmt.Errorf("listing.mode must be %q or %q, got %q", ListingBackend, ListingDirect, c.Listing.Mode)
	}
	if c.Analysis.Cap <= 0 || c.Analysis.Cap >= 100 {
		return fmt.Errorf("analysis.cap must be between 0 and 100, got %v", c.Analysis.Cap)
	}
	return nil
}

func (c *Config) applyDefaults() {

	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = 200 * 1024 * 1024
	}

	if c.Backend.URL == "" {
		c.Backend.URL = "http://localhost:8001"
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = 60 * time.Second
	}

	if c.Session.TTL == 0 {
		c.Session.TTL = 2 * time.Hour
	}
	if c.Session.Store == "" {
		c.Session.Store = StoreMemory
	}
	if c.Session.SpoolDir == "" {
		c.Session.SpoolDir = os.TempDir() + "/piiflow"
	}
	if c.Session.SweepSchedule == "" {
		c.Session.SweepSchedule = "@every 5m"
	}

	if c.Redis.Host == "" {
		c.Redis.Host = "localhost"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "piiflow:session:"
	}

	if c.Auth.TokenExpiry == 0 {
		c.Auth.TokenExpiry = c.Session.TTL
	}

	if c.Listing.Mode == "" {
		c.Listing.Mode = ListingBackend
	}
	if c.Listing.MaxFiles == 0 {
		c.Listing.MaxFiles = 1000
	}

	if c.AWS.Region == "" {
		c.AWS.Region = "us-east-1"
	}

	if c.Analysis.Estimate == 0 {
		c.Analysis.Estimate = 15 * time.Second
	}
	if c.Analysis.Tick == 0 {
		c.Analysis.Tick = 100 * time.Millisecond
	}
	if c.Analysis.Cap == 0 {
		c.Analysis.Cap = 90
	}

	if c.Notifications.Slack.Username == "" {
		c.Notifications.Slack.Username = "piiflow"
	}
	if c.Notifications.Slack.IconEmoji == "" {
		c.Notifications.Slack.IconEmoji = ":lock:"
	}
}
