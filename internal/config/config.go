// Package config loads node configuration from defaults, an optional YAML
// file and the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration struct.
type Config struct {
	HTTP  HTTPConfig  `mapstructure:"http"`
	P2P   P2PConfig   `mapstructure:"p2p"`
	Peers []string    `mapstructure:"peers"`
	Admin AdminConfig `mapstructure:"admin"`
	Log   LogConfig   `mapstructure:"log"`
}

// HTTPConfig holds the administrative HTTP surface settings.
type HTTPConfig struct {
	Port         int      `mapstructure:"port"`
	CORSOrigins  []string `mapstructure:"cors_origins"`
	RateLimitRPS int      `mapstructure:"rate_limit_rps"`
}

// P2PConfig holds the peer transport settings.
type P2PConfig struct {
	Port             int           `mapstructure:"port"`
	SendQueue        int           `mapstructure:"send_queue"`
	MaxMessageBytes  int64         `mapstructure:"max_message_bytes"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
}

// AdminConfig controls authentication of mutating admin routes.
type AdminConfig struct {
	Secret   string        `mapstructure:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads configuration. When cfgFile is empty, naivechain.yaml is looked
// up in ./configs and the working directory; a missing file is not an error.
// Environment variables override file values with "." replaced by "_", so
// HTTP_PORT, P2P_PORT and PEERS work as they always have.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("http.port", 3001)
	v.SetDefault("http.cors_origins", []string{"*"})
	v.SetDefault("http.rate_limit_rps", 20)
	v.SetDefault("p2p.port", 6001)
	v.SetDefault("p2p.send_queue", 64)
	v.SetDefault("p2p.max_message_bytes", 8<<20)
	v.SetDefault("p2p.handshake_timeout", 10*time.Second)
	v.SetDefault("peers", []string{})
	v.SetDefault("admin.secret", "")
	v.SetDefault("admin.token_ttl", 8*time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("naivechain")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Peers = splitList(cfg.Peers)
	cfg.HTTP.CORSOrigins = splitList(cfg.HTTP.CORSOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and peer address syntax.
func (c *Config) Validate() error {
	if err := checkPort("http.port", c.HTTP.Port); err != nil {
		return err
	}
	if err := checkPort("p2p.port", c.P2P.Port); err != nil {
		return err
	}
	if c.P2P.SendQueue <= 0 {
		return fmt.Errorf("p2p.send_queue must be positive, got %d", c.P2P.SendQueue)
	}
	if c.P2P.MaxMessageBytes <= 0 {
		return fmt.Errorf("p2p.max_message_bytes must be positive, got %d", c.P2P.MaxMessageBytes)
	}
	for _, p := range c.Peers {
		if err := ValidatePeerAddress(p); err != nil {
			return err
		}
	}
	return nil
}

// ValidatePeerAddress checks that addr is a ws:// or wss:// URL with a host.
func ValidatePeerAddress(addr string) error {
	u, err := url.Parse(addr)
	if err != nil {
		return fmt.Errorf("invalid peer address %q: %w", addr, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid peer address %q: scheme must be ws or wss", addr)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid peer address %q: missing host", addr)
	}
	return nil
}

func checkPort(key string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be in 1..65535, got %d", key, port)
	}
	return nil
}

// splitList flattens comma-separated entries, as produced by environment
// variables such as PEERS=ws://a:6001,ws://b:6001.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
