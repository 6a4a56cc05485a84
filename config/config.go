// Package config provides YAML configuration parsing for statehub.
//
// This package enables running statehub as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	title: Places
//	port: 8080
//	log_level: info
//	refresh_interval: 30s
//
//	collections:
//	  - name: places
//	    url: ${BACKEND_URL:-http://localhost:3000}/places
//	    envelope: places
//	    read_only: true
//	  - name: user-places
//	    url: ${BACKEND_URL:-http://localhost:3000}/user-places
//	    envelope: places
//	    body_field: placeId
//	    item_label: Place
//	  - name: users
//	    url: ${BACKEND_URL:-http://localhost:3000}/users
//	    item_label: User
//	    no_refresh: true
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort = 8080

	// minRefreshInterval prevents accidental hammering of the backend.
	minRefreshInterval = time.Second
	maxRefreshInterval = time.Hour
)

// Config is the root configuration structure for statehub.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Title is reported by the mirror server. Defaults to "statehub".
	Title string `yaml:"title"`

	// Port is the HTTP server port. Defaults to 8080.
	Port int `yaml:"port"`

	// LogLevel is one of debug, info, warn, error. Defaults to info. It is
	// the only setting applied again when the file changes while serving.
	LogLevel string `yaml:"log_level"`

	// RefreshInterval reloads every collection periodically. Zero, the
	// default, disables periodic refresh.
	RefreshInterval Duration `yaml:"refresh_interval"`

	// MaxConcurrency bounds how many collections load at once. Defaults to 4.
	MaxConcurrency int `yaml:"max_concurrency"`

	// Collections defines the remote collections to mirror.
	Collections []CollectionConfig `yaml:"collections"`
}

// CollectionConfig defines one remote collection.
type CollectionConfig struct {
	// Name identifies the collection in the API, logs and metrics.
	Name string `yaml:"name"`

	// URL is the collection endpoint.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	URL string `yaml:"url"`

	// Envelope is the JSON key wrapping list responses. Omit it for
	// backends that answer with a bare array.
	Envelope string `yaml:"envelope"`

	// BodyField is the JSON key carrying the item ID in add requests.
	BodyField string `yaml:"body_field"`

	// ItemLabel is the noun used in lookup errors and notifications, e.g. "User".
	ItemLabel string `yaml:"item_label"`

	// ReadOnly collections reject add and remove.
	ReadOnly bool `yaml:"read_only"`

	// Timeout is the request timeout. Defaults to 10s.
	Timeout Duration `yaml:"timeout"`

	// RefreshInterval overrides the global refresh_interval.
	// Must be between 1s and 1h.
	RefreshInterval Duration `yaml:"refresh_interval"`

	// NoRefresh excludes the collection from periodic refresh.
	NoRefresh bool `yaml:"no_refresh"`

	// FailureMessage is the user-facing text of failed loads and mutations.
	FailureMessage string `yaml:"failure_message"`

	// Headers are custom HTTP headers sent with each request.
	// Values support environment variable substitution.
	Headers map[string]string `yaml:"headers"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// ParseLevel converts a log_level value to a [slog.Level]. An empty string
// is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q (expected debug, info, warn, or error)", s)
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded before parsing.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in URL and header values. Port defaults
// to 8080 and LogLevel to info.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.MaxConcurrency < 0 {
		return fmt.Errorf("max_concurrency cannot be negative, got %d", c.MaxConcurrency)
	}
	if err := validateInterval("refresh_interval", c.RefreshInterval); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Collections))
	for i := range c.Collections {
		cc := &c.Collections[i]

		if cc.Name == "" {
			return fmt.Errorf("collections[%d]: name is required", i)
		}
		if seen[cc.Name] {
			return fmt.Errorf("collections[%d] (%s): duplicate name", i, cc.Name)
		}
		seen[cc.Name] = true

		if cc.URL == "" {
			return fmt.Errorf("collections[%d] (%s): url is required", i, cc.Name)
		}
		expanded, err := expandEnvVars(cc.URL)
		if err != nil {
			return fmt.Errorf("collections[%d] (%s): url: %w", i, cc.Name, err)
		}
		cc.URL = expanded

		parsedURL, err := url.Parse(cc.URL)
		if err != nil {
			return fmt.Errorf("collections[%d] (%s): invalid url: %w", i, cc.Name, err)
		}
		if parsedURL.Scheme == "" {
			return fmt.Errorf("collections[%d] (%s): url must have a scheme (http:// or https://)", i, cc.Name)
		}
		if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
			return fmt.Errorf("collections[%d] (%s): url scheme must be http or https, got %q", i, cc.Name, parsedURL.Scheme)
		}

		for k, v := range cc.Headers {
			expanded, err := expandEnvVars(v)
			if err != nil {
				return fmt.Errorf("collections[%d] (%s): headers[%s]: %w", i, cc.Name, k, err)
			}
			cc.Headers[k] = expanded
		}

		if cc.Timeout != 0 && cc.Timeout.Duration() < time.Second {
			return fmt.Errorf("collections[%d] (%s): timeout must be at least 1s if specified, got %s",
				i, cc.Name, cc.Timeout.Duration())
		}

		if err := validateInterval(fmt.Sprintf("collections[%d] (%s): refresh_interval", i, cc.Name), cc.RefreshInterval); err != nil {
			return err
		}
		if cc.NoRefresh && cc.RefreshInterval != 0 {
			return fmt.Errorf("collections[%d] (%s): refresh_interval and no_refresh are mutually exclusive", i, cc.Name)
		}
	}

	if len(c.Collections) == 0 {
		return errors.New("at least one collection must be defined")
	}

	return nil
}

// validateInterval checks an optional refresh interval.
func validateInterval(field string, d Duration) error {
	if d == 0 {
		return nil
	}
	if d.Duration() < minRefreshInterval {
		return fmt.Errorf("%s must be at least %s, got %s", field, minRefreshInterval, d.Duration())
	}
	if d.Duration() > maxRefreshInterval {
		return fmt.Errorf("%s must not exceed %s, got %s", field, maxRefreshInterval, d.Duration())
	}
	return nil
}
