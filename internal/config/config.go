package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the default location of the device configuration file.
const ConfigPath = "kolibri.yaml"

// Config is the persisted device state: the committed backend endpoint
// triple, local storage location, and the per-install secret protecting
// key material at rest. BaseURL, BrokerHost and BrokerPort are empty until
// the backend handshake commits them, all at once.
type Config struct {
	BaseURL      string `yaml:"baseURL"`
	BrokerHost   string `yaml:"brokerHost"`
	BrokerPort   int    `yaml:"brokerPort"`
	DatabasePath string `yaml:"databasePath"`
	LogLevel     string `yaml:"logLevel"`
	InstallID    string `yaml:"installID"`
	DeviceSecret string `yaml:"deviceSecret"`

	path string
}

// Load reads config from path (defaults to ConfigPath). A missing file is
// not an error: the device simply has not completed a handshake yet, so an
// initialized Config with fresh install identity is returned.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath
	}
	cfg := &Config{path: path}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Fresh install: no file yet, but env overrides still apply below.
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.initDefaults()
	if v := os.Getenv("KOLIBRI_DATABASE_PATH"); v != "" {
		cfg.DatabasePath = strings.TrimSpace(v)
	}
	if v := os.Getenv("KOLIBRI_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.TrimSpace(v)
	}
	if v := os.Getenv("KOLIBRI_BROKER_PORT"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.BrokerPort = n
		}
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) initDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "kolibri.db"
	}
	if c.InstallID == "" {
		c.InstallID = uuid.NewString()
	}
	if c.DeviceSecret == "" {
		c.DeviceSecret = uuid.NewString()
	}
}

func validate(cfg *Config) error {
	if cfg.BrokerPort < 0 || cfg.BrokerPort > 65535 {
		return fmt.Errorf("config: brokerPort %d out of range", cfg.BrokerPort)
	}
	// The endpoint triple is all-or-nothing: a partially written handshake
	// result must not pass for a committed one.
	committed := cfg.BaseURL != "" || cfg.BrokerHost != "" || cfg.BrokerPort != 0
	if committed && !cfg.EndpointCommitted() {
		return errors.New("config: incomplete backend endpoint, clear it and reconnect")
	}
	return nil
}

// EndpointCommitted reports whether a backend handshake has been committed.
func (c *Config) EndpointCommitted() bool {
	return c.BaseURL != "" && c.BrokerHost != "" && c.BrokerPort != 0
}

// SetEndpoint records a validated endpoint triple in memory. Callers must
// follow up with Save; nothing is persisted here.
func (c *Config) SetEndpoint(baseURL, brokerHost string, brokerPort int) {
	c.BaseURL = baseURL
	c.BrokerHost = brokerHost
	c.BrokerPort = brokerPort
}

// ClearEndpoint drops the committed triple, returning the device to the
// unconfigured state.
func (c *Config) ClearEndpoint() {
	c.BaseURL = ""
	c.BrokerHost = ""
	c.BrokerPort = 0
}

// Save writes the config atomically: full marshal to a temp file in the
// same directory, then rename over the target.
func (c *Config) Save() error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	dir := filepath.Dir(c.path)
	tmp, err := os.CreateTemp(dir, ".kolibri-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close config: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("commit config: %w", err)
	}
	return nil
}
