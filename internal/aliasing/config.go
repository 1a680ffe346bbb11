// Package aliasing resolves old ontology base URLs to their current ones.
//
// An ontology type's base URL is part of its identity (vertex.OntologyID),
// but hosting domains move: a type published at "https://old.example.org/Order"
// may be re-published at "https://schemas.example.org/Order" without every
// caller updating their stored references overnight. This package lets an
// operator register old-to-new base URL mappings so ReadRoots/ReadOntologyEdges
// resolve a caller-supplied base URL transparently before querying.
//
// Example configuration (.graphd.yaml):
//
//	base_url_patterns:
//	  - pattern: "https://old.example.org/{name}"
//	    canonical: "https://schemas.example.org/{name}"
//
// This rewrites "https://old.example.org/Order" -> "https://schemas.example.org/Order"
package aliasing

import (
	"errors"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vertexgraph/graphd/internal/config"
)

type (
	// BaseURLPattern defines a pattern-based rewrite rule for ontology base
	// URLs.
	//
	// Patterns are evaluated in order; first match wins.
	// Pattern syntax:
	//   - {variable} captures any characters except "/"
	//   - {variable*} captures any characters including "/" (for paths)
	//   - Literal characters match exactly
	//
	// Examples:
	//
	//	Pattern: "https://old.example.org/{name}"
	//	Canonical: "https://schemas.example.org/{name}"
	//	Input: "https://old.example.org/Order" -> Output: "https://schemas.example.org/Order"
	BaseURLPattern struct {
		Pattern   string `yaml:"pattern"`
		Canonical string `yaml:"canonical"`
	}

	// Config holds base URL alias patterns loaded from .graphd.yaml.
	Config struct {
		//nolint:tagliatelle // snake_case is intentional for YAML config files
		BaseURLPatterns []BaseURLPattern `yaml:"base_url_patterns"`
	}
)

const (
	// DefaultConfigPath is the default location for the alias configuration file.
	DefaultConfigPath = ".graphd.yaml"

	// ConfigPathEnvVar is the environment variable name for a custom config path.
	ConfigPathEnvVar = "GRAPHD_ALIAS_CONFIG_PATH"
)

// LoadConfig loads pattern configuration from a YAML file at the given path.
//
// Behavior:
//   - Returns empty config (not error) if file doesn't exist - patterns are optional
//   - Returns empty config + logs warning if YAML is invalid (graceful degradation)
//   - Returns populated config on success
//
// This graceful degradation ensures the server can start even without alias
// patterns configured, since base URL aliasing is an optional feature.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		BaseURLPatterns: []BaseURLPattern{},
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("Alias config file not found, continuing without patterns",
				slog.String("path", path))

			return cfg, nil
		}

		slog.Warn("Failed to read alias config file, continuing without patterns",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return cfg, nil
	}

	if len(data) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		slog.Warn("Failed to parse alias config file, continuing without patterns",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return &Config{BaseURLPatterns: []BaseURLPattern{}}, nil
	}

	if cfg.BaseURLPatterns == nil {
		cfg.BaseURLPatterns = []BaseURLPattern{}
	}

	return cfg, nil
}

// LoadConfigFromEnv loads config from the path specified in the
// GRAPHD_ALIAS_CONFIG_PATH environment variable, falling back to
// ".graphd.yaml" in the current directory if unset.
func LoadConfigFromEnv() (*Config, error) {
	path := config.GetEnvStr(ConfigPathEnvVar, DefaultConfigPath)

	return LoadConfig(path)
}
