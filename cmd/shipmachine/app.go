package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/lelandsequel/shipmachine/pkg/audit"
	"github.com/lelandsequel/shipmachine/pkg/bridge"
	"github.com/lelandsequel/shipmachine/pkg/config"
	"github.com/lelandsequel/shipmachine/pkg/governance"
	"github.com/lelandsequel/shipmachine/pkg/llm"
	"github.com/lelandsequel/shipmachine/pkg/logging"
	"github.com/lelandsequel/shipmachine/pkg/metrics"
	"github.com/lelandsequel/shipmachine/pkg/operations"
)

// app holds the collaborators shared by every subcommand
type app struct {
	cfg        *config.Config
	logger     *logging.Logger
	engine     *governance.Engine
	registry   *operations.Registry
	ledger     audit.Ledger
	client     *llm.Client
	registerer *prometheus.Registry
	metrics    *metrics.Recorder
	bridge     *bridge.Bridge
}

// workspacePath resolves p against the workspace unless it is absolute
func workspacePath(cfg *config.Config, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(cfg.Run.Workspace, p)
}

// newApp wires the policy engine, registry, ledger, model client and bridge
func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.NewLogger(logging.Options{
		Level:      cfg.Logging.Level,
		File:       workspacePath(cfg, cfg.Logging.File),
		Console:    cfg.Logging.Console,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if logger == nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	if err != nil {
		logger.Warn("log file unavailable, logging to stderr", zap.Error(err))
	}

	a := &app{cfg: cfg, logger: logger}

	a.engine, err = governance.NewEngine(cfg, governance.WithLogger(logger))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("invalid policy: %w", err)
	}

	a.registry, err = operations.NewRegistry(cfg.Operations.Packs...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load operations: %w", err)
	}

	a.ledger, err = audit.Open(audit.Backend(cfg.Audit.Backend), workspacePath(cfg, cfg.Audit.Path))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open audit ledger: %w", err)
	}
	if fl, ok := a.ledger.(*audit.FileLedger); ok {
		logger.Debug("audit ledger opened", zap.String("path", fl.Path()))
	}

	a.client = llm.NewClient(cfg.Model.APIKey(),
		llm.WithBaseURL(cfg.Model.BaseURL),
		llm.WithTimeout(cfg.Model.Timeout),
		llm.WithRateLimit(cfg.Model.RequestsPerMinute),
		llm.WithLogger(logger.Named("llm")),
	)
	if a.client.MockMode() {
		logger.Info("no model credentials, using mock responses", zap.String("env", cfg.Model.APIKeyEnv))
	}

	a.registerer = prometheus.NewRegistry()
	a.metrics, err = metrics.NewRecorder(a.registerer)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	bridgeOpts := []bridge.Option{
		bridge.WithDefaults(bridge.DefaultsFromConfig(cfg)),
		bridge.WithApprovalMode(cfg.Run.ApprovalMode),
		bridge.WithMetrics(a.metrics),
		bridge.WithLogger(logger),
	}
	if len(cfg.RBAC) > 0 {
		idx, err := governance.NewRoleIndex(cfg.RBAC)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("invalid rbac index: %w", err)
		}
		bridgeOpts = append(bridgeOpts, bridge.WithRoleIndex(idx))
	}
	a.bridge, err = bridge.New(a.engine, a.registry, a.client, a.ledger, bridgeOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// reload re-reads the configuration file and applies its policy, RBAC and
// operation settings to the running bridge
func (a *app) reload() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := a.bridge.Reload(cfg); err != nil {
		return err
	}
	a.logger.Info("configuration reloaded", zap.String("path", configPath))
	return nil
}

// watchReload reloads the configuration on SIGHUP until the returned stop
// function is called
func (a *app) watchReload() (stop func()) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-hup:
				if err := a.reload(); err != nil {
					a.logger.Warn("configuration reload failed, keeping previous policy", zap.Error(err))
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(hup)
		close(done)
	}
}

// Close releases the ledger and flushes the logger
func (a *app) Close() {
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.logger.Warn("failed to close audit ledger", zap.Error(err))
		}
	}
	_ = a.logger.Close()
}
