// Package config defines the shipmachine configuration file and its defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/lelandsequel/shipmachine/pkg/budget"
)

// Approval enforcement modes
const (
	ApprovalModeWarn  = "warn"
	ApprovalModeBlock = "block"
)

// Config is the root of shipmachine.yaml
type Config struct {
	Run        RunConfig             `koanf:"run" yaml:"run"`
	Model      ModelConfig           `koanf:"model" yaml:"model"`
	Roles      map[string]RoleConfig `koanf:"roles" yaml:"roles"`
	Budgets    budget.Limits         `koanf:"budgets" yaml:"budgets"`
	Allowlists AllowlistConfig       `koanf:"allowlists" yaml:"allowlists"`
	Governance GovernanceConfig      `koanf:"governance" yaml:"governance"`

	// RBAC is an optional second authorization index: role -> operation patterns.
	// When present, both the role policy and this index must allow an operation.
	RBAC map[string][]string `koanf:"rbac" yaml:"rbac"`

	Operations OperationsConfig `koanf:"operations" yaml:"operations"`
	Tests      TestsConfig      `koanf:"tests" yaml:"tests"`
	Audit      AuditConfig      `koanf:"audit" yaml:"audit"`
	Logging    LoggingConfig    `koanf:"logging" yaml:"logging"`
}

// RunConfig controls a single orchestrated run
type RunConfig struct {
	Workspace    string `koanf:"workspace" yaml:"workspace"`
	ArtifactsDir string `koanf:"artifacts_dir" yaml:"artifacts_dir"`
	DryRun       bool   `koanf:"dry_run" yaml:"dry_run"`
	DefaultRole  string `koanf:"default_role" yaml:"default_role"`
	Channel      string `koanf:"channel" yaml:"channel"`
	MaxRetries   int    `koanf:"max_retries" yaml:"max_retries"`
	// ApprovalMode is "warn" (record and proceed) or "block" (refuse unapproved calls)
	ApprovalMode string `koanf:"approval_mode" yaml:"approval_mode"`
	// Verbosity controls console output: quiet, normal, verbose, debug
	Verbosity string `koanf:"verbosity" yaml:"verbosity"`
}

// ModelConfig configures the model-invocation collaborator
type ModelConfig struct {
	Name              string        `koanf:"name" yaml:"name"`
	BaseURL           string        `koanf:"base_url" yaml:"base_url"`
	APIKeyEnv         string        `koanf:"api_key_env" yaml:"api_key_env"`
	Timeout           time.Duration `koanf:"timeout" yaml:"timeout"`
	RequestsPerMinute int           `koanf:"requests_per_minute" yaml:"requests_per_minute"`
}

// APIKey reads the model credential from the configured environment variable
func (m ModelConfig) APIKey() string {
	if m.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(m.APIKeyEnv)
}

// RoleConfig lists what a role may do
type RoleConfig struct {
	// Operations are exact ids or "prefix.*" wildcards
	Operations []string `koanf:"operations" yaml:"operations"`
	// Tools are tool categories: filesystem, version_control, process_exec, test_runner, artifact_publish
	Tools []string `koanf:"tools" yaml:"tools"`
}

// AllowlistConfig holds command and path allowlists
type AllowlistConfig struct {
	Commands    []string `koanf:"commands" yaml:"commands"`
	Paths       []string `koanf:"paths" yaml:"paths"`
	DeniedPaths []string `koanf:"denied_paths" yaml:"denied_paths"`
}

// GovernanceConfig holds the data-class, model and approval rules
type GovernanceConfig struct {
	DataClasses      map[string]DataClassConfig `koanf:"data_classes" yaml:"data_classes"`
	ModelAllowlist   map[string][]string        `koanf:"model_allowlist" yaml:"model_allowlist"`
	ApprovalRequired []ApprovalRule             `koanf:"approval_required" yaml:"approval_required"`
	// SecretScanner enables the gitleaks rule set as an additional secrets signal
	SecretScanner bool `koanf:"secret_scanner" yaml:"secret_scanner"`
}

// DataClassConfig is the rule for one data class
type DataClassConfig struct {
	Blocked           bool     `koanf:"blocked" yaml:"blocked"`
	AllowedRoles      []string `koanf:"allowed_roles" yaml:"allowed_roles"`
	RequiresRedaction bool     `koanf:"requires_redaction" yaml:"requires_redaction"`
	// RedactPatterns names the PII patterns to apply; empty means all
	RedactPatterns []string `koanf:"redact_patterns" yaml:"redact_patterns"`
}

// ApprovalRule marks operations that need human sign-off
type ApprovalRule struct {
	Operation string     `koanf:"operation" yaml:"operation"`
	Always    bool       `koanf:"always" yaml:"always"`
	When      *Condition `koanf:"when" yaml:"when"`
	Reason    string     `koanf:"reason" yaml:"reason"`
}

// Condition is a structured predicate over call attributes
type Condition struct {
	Field  string   `koanf:"field" yaml:"field"`
	Op     string   `koanf:"op" yaml:"op"`
	Value  string   `koanf:"value" yaml:"value"`
	Values []string `koanf:"values" yaml:"values"`
}

// OperationsConfig lists extra operation pack files
type OperationsConfig struct {
	Packs []string `koanf:"packs" yaml:"packs"`
}

// TestsConfig lists the test commands run at test checkpoints
type TestsConfig struct {
	Commands []TestCommand `koanf:"commands" yaml:"commands"`
}

// TestCommand is one test gate
type TestCommand struct {
	Name     string        `koanf:"name" yaml:"name"`
	Command  string        `koanf:"command" yaml:"command"`
	Required bool          `koanf:"required" yaml:"required"`
	Timeout  time.Duration `koanf:"timeout" yaml:"timeout"`
}

// AuditConfig selects the audit ledger backend
type AuditConfig struct {
	Backend string `koanf:"backend" yaml:"backend"`
	Path    string `koanf:"path" yaml:"path"`
}

// LoggingConfig configures the structured log
type LoggingConfig struct {
	Level      string `koanf:"level" yaml:"level"`
	File       string `koanf:"file" yaml:"file"`
	Console    bool   `koanf:"console" yaml:"console"`
	MaxSizeMB  int    `koanf:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `koanf:"max_age_days" yaml:"max_age_days"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Run.Workspace == "" {
		return fmt.Errorf("run.workspace is required")
	}

	if len(c.Roles) == 0 {
		return fmt.Errorf("at least one role must be configured")
	}

	if c.Run.DefaultRole != "" {
		if _, ok := c.Roles[c.Run.DefaultRole]; !ok {
			return fmt.Errorf("run.default_role %q is not a configured role", c.Run.DefaultRole)
		}
	}

	if c.Run.MaxRetries < 0 {
		return fmt.Errorf("run.max_retries cannot be negative")
	}

	switch c.Run.ApprovalMode {
	case ApprovalModeWarn, ApprovalModeBlock:
	default:
		return fmt.Errorf("invalid run.approval_mode: %s (must be 'warn' or 'block')", c.Run.ApprovalMode)
	}

	validVerbosity := map[string]bool{"quiet": true, "normal": true, "verbose": true, "debug": true}
	if !validVerbosity[c.Run.Verbosity] {
		return fmt.Errorf("invalid run.verbosity: %s (must be 'quiet', 'normal', 'verbose', or 'debug')", c.Run.Verbosity)
	}

	if err := c.Budgets.Validate(); err != nil {
		return fmt.Errorf("invalid budgets: %w", err)
	}

	if c.Model.Timeout < 0 {
		return fmt.Errorf("model.timeout cannot be negative")
	}

	if c.Model.RequestsPerMinute < 0 {
		return fmt.Errorf("model.requests_per_minute cannot be negative")
	}

	switch c.Audit.Backend {
	case "jsonl", "sqlite", "memory":
	default:
		return fmt.Errorf("invalid audit.backend: %s (must be 'jsonl', 'sqlite', or 'memory')", c.Audit.Backend)
	}

	for i, tc := range c.Tests.Commands {
		if tc.Command == "" {
			return fmt.Errorf("tests.commands[%d]: command is required", i)
		}
	}

	return nil
}

// Default returns a configuration suitable for most repositories
func Default() *Config {
	return &Config{
		Run: RunConfig{
			Workspace:    ".",
			ArtifactsDir: ".shipmachine/artifacts",
			DefaultRole:  "engineer",
			Channel:      "cli",
			MaxRetries:   2,
			ApprovalMode: ApprovalModeWarn,
			Verbosity:    "normal",
		},
		Model: ModelConfig{
			Name:              "gpt-4o-mini",
			APIKeyEnv:         "OPENAI_API_KEY",
			Timeout:           60 * time.Second,
			RequestsPerMinute: 60,
		},
		Roles: map[string]RoleConfig{
			"engineer": {
				Operations: []string{"ship.*"},
				Tools:      []string{"filesystem", "version_control", "process_exec", "test_runner", "artifact_publish"},
			},
			"reviewer": {
				Operations: []string{"ship.scope", "ship.survey", "ship.analysis", "ship.review", "ship.security", "ship.risk"},
				Tools:      []string{"filesystem", "version_control"},
			},
			"readonly": {
				Operations: []string{"ship.scope", "ship.survey", "ship.analysis"},
				Tools:      []string{"filesystem"},
			},
		},
		Budgets: budget.Limits{
			MaxSteps:          50,
			MaxTokens:         200000,
			MaxElapsedMinutes: 30,
			MaxFilesModified:  25,
		},
		Allowlists: AllowlistConfig{
			Commands: []string{"go test", "go build", "go vet", "git status", "git diff", "make test", "npm test", "ls"},
			Paths:    []string{"src/**", "pkg/**", "internal/**", "cmd/**", "docs/**", "test/**", "README.md", "CHANGELOG.md"},
			DeniedPaths: []string{
				".env",
				"**/.env",
				"*.pem",
				"**/*.pem",
				".git/**",
			},
		},
		Governance: GovernanceConfig{
			DataClasses: map[string]DataClassConfig{
				"public":   {AllowedRoles: []string{"*"}},
				"internal": {AllowedRoles: []string{"*"}},
				"pii":      {AllowedRoles: []string{"engineer"}, RequiresRedaction: true},
				"secrets":  {AllowedRoles: []string{"engineer"}, RequiresRedaction: true},
			},
			ApprovalRequired: []ApprovalRule{
				{
					Operation: "ship.pr",
					When:      &Condition{Field: "target_env", Op: "equals", Value: "production"},
					Reason:    "changes targeting production require sign-off",
				},
			},
		},
		Audit: AuditConfig{
			Backend: "jsonl",
			Path:    ".shipmachine/audit.jsonl",
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       ".shipmachine/logs/shipmachine.log",
			MaxSizeMB:  15,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}
