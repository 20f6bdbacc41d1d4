// Package config loads Clerk's runtime configuration: a YAML file first,
// then CLERK_* environment variables on top.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bitmerchant/clerk/common/environment"
)

// Duration is a time.Duration that unmarshals from YAML strings like "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full runtime configuration.
type Config struct {
	HTTP struct {
		// Addr is the listen address for the JSON API.
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	Database struct {
		// Path is the SQLite file. Empty keeps executions in memory only.
		Path string `yaml:"path"`
	} `yaml:"database"`

	NLP struct {
		// Enabled turns model escalation on. Requires an API key.
		Enabled bool     `yaml:"enabled"`
		APIKey  string   `yaml:"api_key"`
		BaseURL string   `yaml:"base_url"`
		Model   string   `yaml:"model"`
		Timeout Duration `yaml:"timeout"`
	} `yaml:"nlp"`

	Catalog struct {
		// Mode selects the backend: "memory" or "http".
		Mode    string   `yaml:"mode"`
		BaseURL string   `yaml:"base_url"`
		Token   string   `yaml:"token"`
		Timeout Duration `yaml:"timeout"`
	} `yaml:"catalog"`

	Safety struct {
		MaxPriceIncreasePct float64 `yaml:"max_price_increase_pct"`
		MaxPriceDecreasePct float64 `yaml:"max_price_decrease_pct"`
		DailyActionCeiling  int     `yaml:"daily_action_ceiling"`
	} `yaml:"safety"`

	Engine struct {
		ConfirmationTimeout Duration `yaml:"confirmation_timeout"`
		Retention           Duration `yaml:"retention"`
		ConfirmThreshold    int      `yaml:"confirm_threshold"`
		SweepInterval       Duration `yaml:"sweep_interval"`
	} `yaml:"engine"`

	Store struct {
		Domain string `yaml:"domain"`
		Name   string `yaml:"name"`
	} `yaml:"store"`

	// Permissions granted to API callers. The HTTP surface has no user
	// directory of its own, so every request runs with this grant.
	Permissions []string `yaml:"permissions"`
}

// Load reads the YAML file at path (skipped when path is empty or the file
// does not exist), then applies environment overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Fine; env and defaults carry the day.
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

// applyEnv layers CLERK_* environment variables over the file values.
func (c *Config) applyEnv() {
	c.HTTP.Addr = environment.StringOr("CLERK_HTTP_ADDR", c.HTTP.Addr)
	c.Database.Path = environment.StringOr("CLERK_DB_PATH", c.Database.Path)

	c.NLP.Enabled = environment.BoolOr("CLERK_NLP_ENABLED", c.NLP.Enabled)
	c.NLP.APIKey = environment.StringOr("CLERK_OPENAI_API_KEY", c.NLP.APIKey)
	c.NLP.BaseURL = environment.StringOr("CLERK_OPENAI_BASE_URL", c.NLP.BaseURL)
	c.NLP.Model = environment.StringOr("CLERK_OPENAI_MODEL", c.NLP.Model)

	c.Catalog.Mode = environment.StringOr("CLERK_CATALOG_MODE", c.Catalog.Mode)
	c.Catalog.BaseURL = environment.StringOr("CLERK_CATALOG_BASE_URL", c.Catalog.BaseURL)
	c.Catalog.Token = environment.StringOr("CLERK_CATALOG_TOKEN", c.Catalog.Token)

	c.Safety.DailyActionCeiling = environment.IntOr("CLERK_DAILY_ACTION_CEILING", c.Safety.DailyActionCeiling)

	c.Engine.ConfirmationTimeout = Duration(environment.DurationOr(
		"CLERK_CONFIRMATION_TIMEOUT", c.Engine.ConfirmationTimeout.Std()))
	c.Engine.Retention = Duration(environment.DurationOr(
		"CLERK_RETENTION", c.Engine.Retention.Std()))

	c.Store.Domain = environment.StringOr("CLERK_STORE_DOMAIN", c.Store.Domain)
	c.Store.Name = environment.StringOr("CLERK_STORE_NAME", c.Store.Name)

	c.Permissions = environment.StringSliceOr("CLERK_PERMISSIONS", c.Permissions)
}

// applyDefaults fills anything still unset.
func (c *Config) applyDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Catalog.Mode == "" {
		c.Catalog.Mode = "memory"
	}
	if c.Store.Name == "" {
		c.Store.Name = "My Store"
	}
	if len(c.Permissions) == 0 {
		c.Permissions = []string{
			"catalog.read", "catalog.write", "catalog.create",
			"catalog.delete", "catalog.bulk",
		}
	}
}

// Validate rejects configurations that cannot start.
func (c *Config) Validate() error {
	if c.NLP.Enabled && c.NLP.APIKey == "" {
		return fmt.Errorf("config: nlp is enabled but no API key is set (CLERK_OPENAI_API_KEY)")
	}
	if c.Catalog.Mode != "memory" && c.Catalog.Mode != "http" {
		return fmt.Errorf("config: unknown catalog mode %q (want memory or http)", c.Catalog.Mode)
	}
	if c.Catalog.Mode == "http" && c.Catalog.BaseURL == "" {
		return fmt.Errorf("config: catalog mode http needs a base URL")
	}
	return nil
}
