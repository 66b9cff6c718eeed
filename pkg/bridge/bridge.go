// Package bridge mediates every model-backed operation. A call is checked
// against role policy, budgets, approval rules and data-class rules before the
// operation template is rendered and sent to the model, and every outcome is
// appended to the audit ledger.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lelandsequel/shipmachine/pkg/audit"
	"github.com/lelandsequel/shipmachine/pkg/budget"
	"github.com/lelandsequel/shipmachine/pkg/config"
	"github.com/lelandsequel/shipmachine/pkg/governance"
	"github.com/lelandsequel/shipmachine/pkg/llm"
	"github.com/lelandsequel/shipmachine/pkg/logging"
	"github.com/lelandsequel/shipmachine/pkg/metrics"
	"github.com/lelandsequel/shipmachine/pkg/operations"
)

const instrumentationName = "github.com/lelandsequel/shipmachine/pkg/bridge"

// Defaults fill in CallContext fields the caller leaves empty
type Defaults struct {
	Role    string
	Model   string
	Channel string
}

// DefaultsFromConfig derives call defaults from the run configuration
func DefaultsFromConfig(cfg *config.Config) Defaults {
	return Defaults{
		Role:    cfg.Run.DefaultRole,
		Model:   cfg.Model.Name,
		Channel: cfg.Run.Channel,
	}
}

// Authorizer is an optional second authorization backend consulted after the
// policy engine
type Authorizer interface {
	Authorize(role, operationID string) error
}

// customAuthorizer marks a caller-supplied backend that Reload leaves alone
type customAuthorizer struct {
	Authorizer
}

type roleIndexAuthorizer struct {
	index *governance.RoleIndex
}

func (a roleIndexAuthorizer) Authorize(role, operationID string) error {
	if a.index.Allows(role, operationID) {
		return nil
	}
	return &RbacDeniedError{Role: role, OperationID: operationID}
}

// CallContext carries per-call facts supplied by the orchestrator
type CallContext struct {
	RunID      string
	Role       string
	Model      string
	StepIndex  int
	RetryCount int
	Channel    string
	Usage      budget.Usage
	// Approved records a human approval for operations that require one
	Approved bool
	// Attributes are matched by approval rule predicates
	Attributes        map[string]string
	DataClassOverride governance.DataClass
	ToolCalls         []string
}

// Result is the outcome of a successful mediated call
type Result struct {
	Output         map[string]any
	OperationID    string
	DataClass      governance.DataClass
	Model          string
	Role           string
	Channel        string
	TokensUsed     int
	IsMock         bool
	Warnings       []string
	Approval       governance.ApprovalStatus
	ApprovalReason string
	Duration       time.Duration
}

// Bridge is the single path from callers to the model
type Bridge struct {
	engine   *governance.Engine
	registry *operations.Registry
	invoker  llm.Invoker
	ledger   audit.Ledger

	// mu guards the settings Reload replaces
	mu           sync.RWMutex
	authorizer   Authorizer
	defaults     Defaults
	approvalMode string

	metrics *metrics.Recorder
	tracer  trace.Tracer
	logger  *logging.Logger
	now     func() time.Time
}

// Option configures a Bridge
type Option func(*Bridge)

// WithDefaults sets the role, model and channel used when a call omits them
func WithDefaults(d Defaults) Option {
	return func(b *Bridge) { b.defaults = d }
}

// WithAuthorizer installs a second authorization backend
func WithAuthorizer(a Authorizer) Option {
	return func(b *Bridge) {
		if a != nil {
			b.authorizer = customAuthorizer{a}
		}
	}
}

// WithRoleIndex installs a RoleIndex as the second authorization backend
func WithRoleIndex(idx *governance.RoleIndex) Option {
	return func(b *Bridge) {
		if idx != nil {
			b.authorizer = roleIndexAuthorizer{index: idx}
		}
	}
}

// WithApprovalMode selects warn or block handling of unapproved operations
func WithApprovalMode(mode string) Option {
	return func(b *Bridge) { b.approvalMode = mode }
}

// WithMetrics records call metrics
func WithMetrics(r *metrics.Recorder) Option {
	return func(b *Bridge) { b.metrics = r }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(b *Bridge) { b.logger = l.Named("bridge") }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) { b.now = now }
}

// New creates a bridge over its collaborators
func New(engine *governance.Engine, registry *operations.Registry, invoker llm.Invoker, ledger audit.Ledger, opts ...Option) (*Bridge, error) {
	if engine == nil || registry == nil || invoker == nil || ledger == nil {
		return nil, fmt.Errorf("bridge requires an engine, a registry, an invoker and a ledger")
	}
	b := &Bridge{
		engine:       engine,
		registry:     registry,
		invoker:      invoker,
		ledger:       ledger,
		approvalMode: config.ApprovalModeWarn,
		tracer:       otel.Tracer(instrumentationName),
		logger:       logging.Nop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// NewRunID returns a fresh run identifier
func NewRunID() string {
	return uuid.NewString()
}

// ReloadOperations re-reads the operation packs
func (b *Bridge) ReloadOperations() error {
	return b.registry.Reload()
}

// Reload applies cfg to the policy engine, the RBAC backend, the call
// defaults and the operation packs. An authorizer installed with
// WithAuthorizer is kept; a RoleIndex backend is rebuilt from cfg.RBAC.
// A configuration that fails to compile leaves the policy and the RBAC
// backend untouched.
func (b *Bridge) Reload(cfg *config.Config) error {
	var index *governance.RoleIndex
	if len(cfg.RBAC) > 0 {
		idx, err := governance.NewRoleIndex(cfg.RBAC)
		if err != nil {
			return fmt.Errorf("invalid rbac index: %w", err)
		}
		index = idx
	}
	if err := b.registry.Reload(); err != nil {
		return fmt.Errorf("failed to reload operations: %w", err)
	}
	if err := b.engine.Reload(cfg); err != nil {
		return err
	}

	b.mu.Lock()
	if _, custom := b.authorizer.(customAuthorizer); !custom {
		b.authorizer = nil
		if index != nil {
			b.authorizer = roleIndexAuthorizer{index: index}
		}
	}
	b.defaults = DefaultsFromConfig(cfg)
	b.approvalMode = cfg.Run.ApprovalMode
	b.mu.Unlock()

	b.logger.Info("bridge reloaded",
		zap.Bool("rbac", index != nil),
		zap.Int("operations", b.registry.Len()))
	return nil
}

func (b *Bridge) settings() (Defaults, Authorizer, string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.defaults, b.authorizer, b.approvalMode
}

// Execute runs one mediated operation
func (b *Bridge) Execute(ctx context.Context, operationID string, inputs map[string]any, cc CallContext) (*Result, error) {
	start := b.now()

	defaults, authorizer, approvalMode := b.settings()
	role := firstNonEmpty(cc.Role, defaults.Role)
	model := firstNonEmpty(cc.Model, defaults.Model)
	channel := firstNonEmpty(cc.Channel, defaults.Channel)

	ctx, span := b.tracer.Start(ctx, "bridge.execute", trace.WithAttributes(
		attribute.String("operation", operationID),
		attribute.String("role", role),
		attribute.String("model", model),
		attribute.String("run_id", cc.RunID),
		attribute.Int("step_index", cc.StepIndex),
	))
	defer span.End()

	event := audit.Event{
		RunID:       cc.RunID,
		OperationID: operationID,
		StepIndex:   cc.StepIndex,
		ToolCalls:   cc.ToolCalls,
		Model:       model,
		Role:        role,
		RetryCount:  cc.RetryCount,
		Channel:     channel,
	}

	reject := func(outcome string, err error) (*Result, error) {
		event.Timestamp = b.now()
		event.Success = false
		event.FailureReason = err.Error()
		event.DurationMS = b.now().Sub(start).Milliseconds()
		if auditErr := b.ledger.Append(ctx, event); auditErr != nil {
			b.logger.Error("failed to audit rejected call", zap.String("operation", operationID), zap.Error(auditErr))
		}
		b.metrics.ObserveCall(operationID, outcome, model, b.now().Sub(start), event.TokensUsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		b.logger.Warn("operation rejected",
			zap.String("operation", operationID),
			zap.String("role", role),
			zap.String("outcome", outcome),
			zap.Error(err))
		return nil, err
	}

	if !b.engine.IsOperationAllowed(role, operationID) {
		return reject(metrics.OutcomeDenied, &PolicyDeniedError{
			Role: role, OperationID: operationID, Model: model,
			Reason: "operation not permitted for role",
		})
	}
	if !b.engine.IsModelAllowed(role, model) {
		return reject(metrics.OutcomeDenied, &PolicyDeniedError{
			Role: role, OperationID: operationID, Model: model,
			Reason: fmt.Sprintf("model %s not permitted for role", model),
		})
	}

	if authorizer != nil {
		if err := authorizer.Authorize(role, operationID); err != nil {
			return reject(metrics.OutcomeDenied, err)
		}
	}

	var warnings []string
	budgetResult := b.engine.CheckBudget(cc.Usage)
	if !budgetResult.OK {
		return reject(metrics.OutcomeDenied, budgetResult.Err(cc.Usage, b.engine.Limits()))
	}
	warnings = append(warnings, budgetResult.Warnings...)

	approval, approvalReason := b.engine.EvaluateApproval(operationID, cc.Attributes, cc.Approved)
	if approval == governance.ApprovalRequiredUnapproved {
		if approvalMode == config.ApprovalModeBlock {
			return reject(metrics.OutcomeDenied, &ApprovalRequiredError{OperationID: operationID, Reason: approvalReason})
		}
		warnings = append(warnings, fmt.Sprintf("approval required for %s: %s", operationID, approvalReason))
	}

	serialized, err := json.Marshal(inputs)
	if err != nil {
		return reject(metrics.OutcomeFailed, fmt.Errorf("failed to serialize inputs: %w", err))
	}
	class := b.engine.ClassifyWithOverride(string(serialized), cc.DataClassOverride)
	event.DataClass = string(class)
	span.SetAttributes(attribute.String("data_class", string(class)))

	decision := b.engine.CheckDataClass(role, class)
	if !decision.Allowed {
		return reject(metrics.OutcomeDenied, &DataClassDeniedError{Role: role, DataClass: class, Reason: decision.Reason})
	}

	spec, ok := b.registry.Get(operationID)
	if !ok {
		return reject(metrics.OutcomeFailed, &OperationNotFoundError{ID: operationID, Known: b.registry.IDs()})
	}

	if decision.RequiresRedaction || b.engine.RequiresRedaction(class) {
		inputs = b.redactInputs(inputs, class)
	}

	prompt := operations.Render(spec.Template, inputs)

	resp, err := b.invoker.Call(ctx, prompt, model, spec.Output)
	if err != nil {
		return reject(metrics.OutcomeFailed, &ModelCallFailedError{OperationID: operationID, Model: model, Err: err})
	}
	event.TokensUsed = resp.TokensUsed
	event.IsMock = resp.IsMock

	typeWarnings, err := operations.ValidateOutput(spec.Output, resp.Content)
	if err != nil {
		var missing *operations.MissingFieldsError
		if errors.As(err, &missing) {
			return reject(metrics.OutcomeFailed, &SchemaViolationError{OperationID: operationID, Err: missing})
		}
		return reject(metrics.OutcomeFailed, err)
	}
	warnings = append(warnings, typeWarnings...)

	duration := b.now().Sub(start)
	event.Timestamp = b.now()
	event.Success = true
	event.DurationMS = duration.Milliseconds()
	if err := b.ledger.Append(ctx, event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to audit %s: %w", operationID, err)
	}

	b.metrics.ObserveCall(operationID, metrics.OutcomeSuccess, model, duration, resp.TokensUsed)
	span.SetAttributes(
		attribute.Int("tokens", resp.TokensUsed),
		attribute.Bool("mock", resp.IsMock),
	)
	span.SetStatus(codes.Ok, "")

	b.logger.Debug("operation complete",
		zap.String("operation", operationID),
		zap.String("role", role),
		zap.Int("tokens", resp.TokensUsed),
		zap.Bool("mock", resp.IsMock),
		zap.Duration("duration", duration))

	return &Result{
		Output:         resp.Content,
		OperationID:    operationID,
		DataClass:      class,
		Model:          model,
		Role:           role,
		Channel:        channel,
		TokensUsed:     resp.TokensUsed,
		IsMock:         resp.IsMock,
		Warnings:       warnings,
		Approval:       approval,
		ApprovalReason: approvalReason,
		Duration:       duration,
	}, nil
}

// redactInputs returns a copy of inputs with every string leaf redacted
func (b *Bridge) redactInputs(inputs map[string]any, class governance.DataClass) map[string]any {
	out, _ := b.redactValue(inputs, class).(map[string]any)
	return out
}

func (b *Bridge) redactValue(v any, class governance.DataClass) any {
	switch val := v.(type) {
	case string:
		return b.engine.Redact(val, class)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = b.redactValue(item, class)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = b.redactValue(item, class)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, item := range val {
			out[i] = b.engine.Redact(item, class)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, item := range val {
			out[k] = b.engine.Redact(item, class)
		}
		return out
	default:
		return v
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
