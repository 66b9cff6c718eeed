// Package governance evaluates role permissions, allowlists, data-class rules,
// model allowlists and approval requirements against static configuration.
//
// Every check is side-effect free. The only mutation is Reload, which swaps the
// compiled policy atomically and only when the new configuration compiles.
package governance

import (
	"fmt"
	"sync"

	"github.com/lelandsequel/shipmachine/pkg/budget"
	"github.com/lelandsequel/shipmachine/pkg/config"
	"github.com/lelandsequel/shipmachine/pkg/logging"
)

// Engine is the governance decision point
type Engine struct {
	mu     sync.RWMutex
	policy *policy
	// injected is a detector supplied by the caller; it stays in force
	// across reloads. Otherwise detector follows governance.secret_scanner.
	injected SecretDetector
	detector SecretDetector
	logger   *logging.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithSecretDetector adds a secondary secrets signal to data-class inference
func WithSecretDetector(d SecretDetector) Option {
	return func(e *Engine) { e.injected = d }
}

// WithLogger sets the engine logger
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine compiles cfg into an engine. Any compile error is returned and no
// engine is produced.
func NewEngine(cfg *config.Config, opts ...Option) (*Engine, error) {
	e := &Engine{logger: logging.Nop()}
	for _, opt := range opts {
		opt(e)
	}

	p, err := compile(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load governance configuration: %w", err)
	}

	d, err := e.secretDetector(cfg, nil)
	if err != nil {
		return nil, err
	}

	e.policy = p
	e.detector = d
	e.logger.Infof("governance loaded: %d roles, %d command entries, %d path entries", len(p.roles), len(p.commands), len(p.paths))
	return e, nil
}

// Reload recompiles the engine from cfg, including the secret scanner
// setting. On error the previous policy stays in force.
func (e *Engine) Reload(cfg *config.Config) error {
	p, err := compile(cfg)
	if err != nil {
		return fmt.Errorf("failed to reload governance configuration: %w", err)
	}

	e.mu.RLock()
	current := e.detector
	e.mu.RUnlock()
	d, err := e.secretDetector(cfg, current)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.policy = p
	e.detector = d
	e.mu.Unlock()

	e.logger.Infof("governance reloaded: %d roles, secret scanner %t", len(p.roles), d != nil)
	return nil
}

// secretDetector picks the detector for cfg, reusing current when it is
// already a gitleaks detector
func (e *Engine) secretDetector(cfg *config.Config, current SecretDetector) (SecretDetector, error) {
	if e.injected != nil {
		return e.injected, nil
	}
	if !cfg.Governance.SecretScanner {
		return nil, nil
	}
	if g, ok := current.(*GitleaksDetector); ok {
		return g, nil
	}
	d, err := NewGitleaksDetector()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize secret scanner: %w", err)
	}
	return d, nil
}

// SecretScanning reports whether a secondary secrets detector is active
func (e *Engine) SecretScanning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.detector != nil
}

func (e *Engine) current() *policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy
}

// Limits returns the configured budget ceilings
func (e *Engine) Limits() budget.Limits {
	return e.current().limits
}

// CheckBudget checks usage against the configured ceilings
func (e *Engine) CheckBudget(usage budget.Usage) budget.Result {
	return budget.Check(usage, e.current().limits)
}

// HasRole reports whether a role is configured
func (e *Engine) HasRole(role string) bool {
	_, ok := e.current().roles[role]
	return ok
}

// Roles returns the configured role names
func (e *Engine) Roles() []string {
	p := e.current()
	names := make([]string, 0, len(p.roles))
	for name := range p.roles {
		names = append(names, name)
	}
	return sortedStrings(names)
}
