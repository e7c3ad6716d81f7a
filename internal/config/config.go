package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. SWIFT_SERVER_PORT.
const EnvPrefix = "SWIFT_"

// Config defines server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	DB        DBConfig        `yaml:"db" envPrefix:"DB_"`
	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`
	Auth      AuthConfig      `yaml:"auth" envPrefix:"AUTH_"`
	Session   SessionConfig   `yaml:"session" envPrefix:"SESSION_"`
	Signaling SignalingConfig `yaml:"signaling" envPrefix:"SIGNALING_"`
	WebRTC    WebRTCConfig    `yaml:"webrtc" envPrefix:"WEBRTC_"`
}

type ServerConfig struct {
	Host string `yaml:"host" env:"HOST"`
	Port int    `yaml:"port" env:"PORT"`
}

type DBConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// AuthConfig guards administrative endpoints (mailing list export) with API keys.
type AuthConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
}

type SessionConfig struct {
	DefaultMinParticipants int           `yaml:"default_min_participants" env:"DEFAULT_MIN_PARTICIPANTS"`
	DefaultMaxParticipants int           `yaml:"default_max_participants" env:"DEFAULT_MAX_PARTICIPANTS"`
	DefaultRoundDuration   time.Duration `yaml:"default_round_duration" env:"DEFAULT_ROUND_DURATION"`
	CleanupDelay           time.Duration `yaml:"cleanup_delay" env:"CLEANUP_DELAY"`
	CompletedRetention     time.Duration `yaml:"completed_retention" env:"COMPLETED_RETENTION"`
	SweepInterval          time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
}

type SignalingConfig struct {
	TTL        time.Duration `yaml:"ttl" env:"TTL"`
	FetchLimit int           `yaml:"fetch_limit" env:"FETCH_LIMIT"`
}

type WebRTCConfig struct {
	ICEServers             []string      `yaml:"ice_servers" env:"ICE_SERVERS"`
	ICEDisconnectedTimeout time.Duration `yaml:"ice_disconnected_timeout" env:"ICE_DISCONNECTED_TIMEOUT"`
	ICEFailedTimeout       time.Duration `yaml:"ice_failed_timeout" env:"ICE_FAILED_TIMEOUT"`
	ICEKeepalive           time.Duration `yaml:"ice_keepalive" env:"ICE_KEEPALIVE"`
	RetryBase              time.Duration `yaml:"retry_base" env:"RETRY_BASE"`
	RetryMax               time.Duration `yaml:"retry_max" env:"RETRY_MAX"`
	RetryAttempts          int           `yaml:"retry_attempts" env:"RETRY_ATTEMPTS"`
}

// Default returns the configuration used when no file or environment overrides are present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		DB: DBConfig{
			Path: "swifttohear.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Session: SessionConfig{
			DefaultMinParticipants: 2,
			DefaultMaxParticipants: 6,
			DefaultRoundDuration:   5 * time.Minute,
			CleanupDelay:           5 * time.Second,
			CompletedRetention:     7 * 24 * time.Hour,
			SweepInterval:          time.Hour,
		},
		Signaling: SignalingConfig{
			TTL:        time.Hour,
			FetchLimit: 100,
		},
		WebRTC: WebRTCConfig{
			ICEServers: []string{
				"stun:stun.l.google.com:19302",
				"stun:stun1.l.google.com:19302",
				"stun:stun2.l.google.com:19302",
				"stun:stun3.l.google.com:19302",
				"stun:stun4.l.google.com:19302",
			},
			ICEDisconnectedTimeout: 30 * time.Second,
			ICEFailedTimeout:       2 * time.Minute,
			ICEKeepalive:           2 * time.Second,
			RetryBase:              time.Second,
			RetryMax:               30 * time.Second,
			RetryAttempts:          5,
		},
	}
}

// Load reads configuration from an optional YAML file and environment variables.
func Load() (Config, error) {
	return LoadFile(os.Getenv(EnvPrefix + "CONFIG_PATH"))
}

// LoadFile reads configuration from path (if non-empty) and applies environment overrides.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.DB.Path == "" {
		errs = append(errs, errors.New("db.path is required"))
	}
	s := c.Session
	if s.DefaultMinParticipants < 1 {
		errs = append(errs, errors.New("session.default_min_participants must be at least 1"))
	}
	if s.DefaultMaxParticipants < s.DefaultMinParticipants {
		errs = append(errs, errors.New("session.default_max_participants must not be below default_min_participants"))
	}
	if s.DefaultRoundDuration <= 0 {
		errs = append(errs, errors.New("session.default_round_duration must be positive"))
	}
	if s.CleanupDelay < 0 {
		errs = append(errs, errors.New("session.cleanup_delay must not be negative"))
	}
	if s.SweepInterval <= 0 {
		errs = append(errs, errors.New("session.sweep_interval must be positive"))
	}
	if c.Signaling.TTL <= 0 {
		errs = append(errs, errors.New("signaling.ttl must be positive"))
	}
	if c.Signaling.FetchLimit <= 0 {
		errs = append(errs, errors.New("signaling.fetch_limit must be positive"))
	}
	if c.WebRTC.RetryAttempts < 0 {
		errs = append(errs, errors.New("webrtc.retry_attempts must not be negative"))
	}
	return errors.Join(errs...)
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}
