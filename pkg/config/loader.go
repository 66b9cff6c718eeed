package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/lelandsequel/shipmachine/pkg/budget"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. SHIPMACHINE_MODEL_NAME -> model.name
	EnvPrefix = "SHIPMACHINE_"

	maxConfigFileSize = 1024 * 1024 // 1MB
)

// Load reads configuration from a YAML file, then applies environment
// overrides and defaults, and validates the result.
//
// Precedence (highest to lowest):
//  1. Environment variables (SHIPMACHINE_RUN_DRY_RUN, SHIPMACHINE_MODEL_NAME, ...)
//  2. YAML config file
//  3. Defaults
//
// An empty path skips the file. A path that does not exist is an error.
func Load(path string) (*Config, error) {
	var content []byte
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
		}

		content, err = io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg, err := LoadBytes(content)
	if err != nil {
		return nil, err
	}

	// Relative workspace paths resolve against the config file location
	if path != "" && !filepath.IsAbs(cfg.Run.Workspace) {
		cfg.Run.Workspace = filepath.Join(filepath.Dir(path), cfg.Run.Workspace)
	}
	return cfg, nil
}

// LoadBytes parses YAML content the same way Load does
func LoadBytes(content []byte) (*Config, error) {
	k := koanf.New(".")

	if len(content) > 0 {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// SHIPMACHINE_SECTION_FIELD_NAME -> section.field_name
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	if !k.Exists("run.max_retries") {
		cfg.Run.MaxRetries = Default().Run.MaxRetries
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// applyDefaults fills zero values from Default. Maps and lists are only
// defaulted when absent so a config file can narrow them.
func applyDefaults(cfg *Config) {
	d := Default()

	if cfg.Run.Workspace == "" {
		cfg.Run.Workspace = d.Run.Workspace
	}
	if cfg.Run.ArtifactsDir == "" {
		cfg.Run.ArtifactsDir = d.Run.ArtifactsDir
	}
	if cfg.Run.DefaultRole == "" && cfg.Roles == nil {
		cfg.Run.DefaultRole = d.Run.DefaultRole
	}
	if cfg.Run.Channel == "" {
		cfg.Run.Channel = d.Run.Channel
	}
	if cfg.Run.ApprovalMode == "" {
		cfg.Run.ApprovalMode = d.Run.ApprovalMode
	}
	if cfg.Run.Verbosity == "" {
		cfg.Run.Verbosity = d.Run.Verbosity
	}

	if cfg.Model.Name == "" {
		cfg.Model.Name = d.Model.Name
	}
	if cfg.Model.APIKeyEnv == "" {
		cfg.Model.APIKeyEnv = d.Model.APIKeyEnv
	}
	if cfg.Model.Timeout == 0 {
		cfg.Model.Timeout = d.Model.Timeout
	}

	if cfg.Roles == nil {
		cfg.Roles = d.Roles
	}
	if cfg.Budgets == (budget.Limits{}) {
		cfg.Budgets = d.Budgets
	}
	if cfg.Allowlists.Commands == nil {
		cfg.Allowlists.Commands = d.Allowlists.Commands
	}
	if cfg.Allowlists.Paths == nil {
		cfg.Allowlists.Paths = d.Allowlists.Paths
	}
	if cfg.Allowlists.DeniedPaths == nil {
		cfg.Allowlists.DeniedPaths = d.Allowlists.DeniedPaths
	}
	if cfg.Governance.DataClasses == nil {
		cfg.Governance.DataClasses = d.Governance.DataClasses
	}
	if cfg.Governance.ApprovalRequired == nil {
		cfg.Governance.ApprovalRequired = d.Governance.ApprovalRequired
	}

	if cfg.Audit.Backend == "" {
		cfg.Audit.Backend = d.Audit.Backend
	}
	if cfg.Audit.Path == "" {
		cfg.Audit.Path = d.Audit.Path
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = d.Logging.File
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = d.Logging.MaxSizeMB
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = d.Logging.MaxBackups
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = d.Logging.MaxAgeDays
	}
}
