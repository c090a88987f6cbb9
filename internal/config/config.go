package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "/etc/editions/config.json"

const (
	DefaultProbeTimeout     = 10 * time.Second
	DefaultProbeConcurrency = 8
	DefaultUserAgent        = "Mozilla/5.0 (Windows NT 6.1; Win64; x64; rv:47.0) Gecko/20100101 Firefox/47.0"
	DefaultCommentLimit     = 300
	DefaultAssetBase        = "/assets"
)

// Config is the on-disk configuration shared by the server and the CLI.
// Both JSON and YAML files are accepted; the format is chosen by extension.
type Config struct {
	Site           string    `json:"site" yaml:"site"`
	RepositoryRoot string    `json:"repository_root" yaml:"repository_root"`
	Database       Database  `json:"database" yaml:"database"`
	LinkCheck      LinkCheck `json:"linkcheck" yaml:"linkcheck"`
	CommentLimit   int       `json:"comment_limit" yaml:"comment_limit"`

	// AssetBase is the URL prefix the server exposes version files under,
	// used for images shown in the rich text editor.
	AssetBase string `json:"asset_base" yaml:"asset_base"`
}

type Database struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

type LinkCheck struct {
	Timeout     string `json:"timeout" yaml:"timeout"`
	Concurrency int    `json:"concurrency" yaml:"concurrency"`
	UserAgent   string `json:"user_agent" yaml:"user_agent"`
}

func DefaultPath() string {
	if path := os.Getenv("EDITIONS_CONFIG_FILE"); path != "" {
		return path
	}
	return defaultConfigPath
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	default:
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyEnv() {
	if dsn := strings.TrimSpace(os.Getenv("EDITIONS_DATABASE_DSN")); dsn != "" {
		c.Database.DSN = dsn
	}
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" && c.RepositoryRoot != "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = filepath.Join(c.RepositoryRoot, "editions.db")
	}
	if c.LinkCheck.Concurrency <= 0 {
		c.LinkCheck.Concurrency = DefaultProbeConcurrency
	}
	if c.LinkCheck.UserAgent == "" {
		c.LinkCheck.UserAgent = DefaultUserAgent
	}
	if c.CommentLimit <= 0 {
		c.CommentLimit = DefaultCommentLimit
	}
	if c.AssetBase == "" {
		c.AssetBase = DefaultAssetBase
	}
}

func (c *Config) Validate() error {
	if c.Site == "" {
		return errors.New("config site is required")
	}
	if u, err := url.Parse(c.Site); err != nil || u.Host == "" {
		return fmt.Errorf("config site must be an absolute URL: %q", c.Site)
	}
	if c.RepositoryRoot == "" {
		return errors.New("config repository_root is required")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config database driver %q is not supported", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("config database dsn is required")
	}
	if _, err := c.ProbeTimeout(); err != nil {
		return err
	}
	return nil
}

func (c *Config) SiteURL() string {
	return strings.TrimRight(c.Site, "/")
}

// SiteHost is the host of the platform itself. Links pointing elsewhere are
// treated as external.
func (c *Config) SiteHost() string {
	u, err := url.Parse(c.Site)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func (c *Config) ProbeTimeout() (time.Duration, error) {
	if strings.TrimSpace(c.LinkCheck.Timeout) == "" {
		return DefaultProbeTimeout, nil
	}
	d, err := time.ParseDuration(c.LinkCheck.Timeout)
	if err != nil {
		return 0, fmt.Errorf("config linkcheck timeout: %w", err)
	}
	if d <= 0 {
		return 0, errors.New("config linkcheck timeout must be positive")
	}
	return d, nil
}
