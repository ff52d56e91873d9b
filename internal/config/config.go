// ABOUTME: Service configuration loaded from YAML with defaults and validation
// ABOUTME: Also holds the editor accounts used for authentication

package config

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/jonny5532/wagtail-liveedit/pkg/permission"
)

// Config is the top-level service configuration.
type Config struct {
	Server    ServerConfig `yaml:"server"`
	Database  string       `yaml:"database"`
	Models    string       `yaml:"models"`
	Log       LogConfig    `yaml:"log"`
	Enabled   []string     `yaml:"enabled_paths"`
	AssetBase string       `yaml:"asset_base"`
	Users     []User       `yaml:"users"`
}

// ServerConfig holds listener ports.
type ServerConfig struct {
	HTTPPort    int `yaml:"http_port"`
	GrpcPort    int `yaml:"grpc_port"`
	MetricsPort int `yaml:"metrics_port"`
}

// LogConfig mirrors logger.Config.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// User is an editor account.
type User struct {
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	Superuser   bool     `yaml:"superuser"`
	Disabled    bool     `yaml:"disabled"`
	Permissions []string `yaml:"permissions"`
}

// Default returns the configuration used for missing keys.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:    8000,
			GrpcPort:    50051,
			MetricsPort: 9090,
		},
		Database:  "liveedit.db",
		Models:    "models.yaml",
		Log:       LogConfig{Level: "info"},
		AssetBase: "/static/liveedit/",
	}
}

// Load reads a configuration file.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a configuration document over the defaults and validates it.
func Parse(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error
	for name, port := range map[string]int{
		"server.http_port":    c.Server.HTTPPort,
		"server.grpc_port":    c.Server.GrpcPort,
		"server.metrics_port": c.Server.MetricsPort,
	} {
		if port < 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s: %d out of range", name, port))
		}
	}
	if c.Database == "" {
		errs = append(errs, errors.New("database: required"))
	}
	if c.Models == "" {
		errs = append(errs, errors.New("models: required"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	for _, p := range c.Enabled {
		if !doublestar.ValidatePattern(p) {
			errs = append(errs, fmt.Errorf("enabled_paths: bad pattern %q", p))
		}
	}
	seen := make(map[string]bool)
	for i, u := range c.Users {
		switch {
		case u.Username == "":
			errs = append(errs, fmt.Errorf("users[%d]: username required", i))
		case seen[u.Username]:
			errs = append(errs, fmt.Errorf("users[%d]: duplicate username %q", i, u.Username))
		case u.Password == "":
			errs = append(errs, fmt.Errorf("users[%d]: password required", i))
		}
		seen[u.Username] = true
	}
	return errors.Join(errs...)
}

// Authenticate checks credentials against the configured accounts.
func (c *Config) Authenticate(username, password string) (*permission.User, bool) {
	for _, u := range c.Users {
		if u.Username != username {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(u.Password), []byte(password)) != 1 {
			return nil, false
		}
		return &permission.User{
			Username:    u.Username,
			Active:      !u.Disabled,
			Superuser:   u.Superuser,
			Permissions: u.Permissions,
		}, true
	}
	return nil, false
}
