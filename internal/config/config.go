package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrInvalidConfig means a configuration value is out of range.
var ErrInvalidConfig = errors.New("invalid config")

// Output formats of the list command.
const (
	OutputTable = "table"
	OutputJSON  = "json"
)

// Config holds app configuration
type Config struct {
	// Output is the listing format (table, json)
	Output string `mapstructure:"output"`

	// ExtractDir is where the extract command writes entries
	ExtractDir string `mapstructure:"extract_dir"`

	// GamesDir holds extra game definition files (*.toml) loaded after the built-in ones
	GamesDir string `mapstructure:"games_dir"`

	// Game skips game detection and names entries with this game's definition
	Game string `mapstructure:"game"`

	// HashMethod resolves names given on the command line (Classic, CRC32)
	HashMethod string `mapstructure:"hash_method"`

	// LegacyOnly rejects new-format headers
	LegacyOnly bool `mapstructure:"legacy_only"`

	// Deep lists and extracts the contents of nested archives too
	Deep bool `mapstructure:"deep"`

	// Glob filters listed entries by name
	Glob string `mapstructure:"glob"`

	// Include and Exclude select the entries the extract command writes
	Include []string `mapstructure:"include"`
	Exclude []string `mapstructure:"exclude"`

	DryRun       bool   `mapstructure:"dry_run"`
	LogLevel     string `mapstructure:"log_level"`
	LogOutputDir string `mapstructure:"log_output_dir"`
}

// Validate checks values that flags and config files cannot constrain.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Output) {
	case "", OutputTable, OutputJSON:
	default:
		return fmt.Errorf("%w: output must be %q or %q, got %q", ErrInvalidConfig, OutputTable, OutputJSON, c.Output)
	}

	if c.Glob != "" && !doublestar.ValidatePattern(c.Glob) {
		return fmt.Errorf("%w: bad glob %q", ErrInvalidConfig, c.Glob)
	}

	return nil
}

// OutputFormat returns the normalized listing format.
func (c *Config) OutputFormat() string {
	if c.Output == "" {
		return OutputTable
	}
	return strings.ToLower(c.Output)
}
