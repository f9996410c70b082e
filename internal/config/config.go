// Package config loads the verifier's JSON configuration file.
package config

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"
)

// EnvURL overrides Config.URL when set.
const EnvURL = "DRAND_VERIFY_URL"

type Config struct {
	URL       string `json:"url"`
	ChainHash string `json:"chain_hash,omitempty"` // hex; pins the chain when set

	// Persistence. Empty disables the chain info store and beacon log.
	StateDir string `json:"state_dir,omitempty"`

	// Transport.
	Timeout   Duration `json:"timeout,omitempty"`
	Retries   uint64   `json:"retries"`
	RateLimit float64  `json:"rate_limit,omitempty"` // requests per second

	CacheSize   int `json:"cache_size,omitempty"`
	Parallelism int `json:"parallelism,omitempty"`

	MonitoringAddr string `json:"monitoring_addr,omitempty"` // e.g. 127.0.0.1:4620
	LogLevel       string `json:"log_level,omitempty"`
}

// Duration is a time.Duration written as a Go duration string ("10s").
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func Default() Config {
	return Config{
		URL:         "https://api.drand.sh",
		Timeout:     Duration(10 * time.Second),
		Retries:     3,
		RateLimit:   20,
		CacheSize:   256,
		Parallelism: 8,
		LogLevel:    "info",
	}
}

// Load reads path over the defaults, applies the environment and validates.
func Load(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvURL); v != "" {
		c.URL = v
	}
}

func (c Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("invalid url")
	}
	if _, err := c.ChainHashBytes(); err != nil {
		return err
	}
	if c.Timeout <= 0 {
		return errors.New("invalid timeout")
	}
	if c.RateLimit <= 0 {
		return errors.New("invalid rate_limit")
	}
	if c.CacheSize <= 0 {
		return errors.New("invalid cache_size")
	}
	if c.Parallelism <= 0 {
		return errors.New("invalid parallelism")
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return nil
}

// ChainHashBytes decodes ChainHash. An empty hash returns nil.
func (c Config) ChainHashBytes() ([]byte, error) {
	if c.ChainHash == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(c.ChainHash)
	if err != nil || len(b) != 32 {
		return nil, errors.New("invalid chain_hash")
	}
	return b, nil
}
