package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lelandsequel/shipmachine/pkg/audit"
	"github.com/lelandsequel/shipmachine/pkg/budget"
	"github.com/lelandsequel/shipmachine/pkg/config"
	"github.com/lelandsequel/shipmachine/pkg/governance"
	"github.com/lelandsequel/shipmachine/pkg/llm"
	"github.com/lelandsequel/shipmachine/pkg/metrics"
	"github.com/lelandsequel/shipmachine/pkg/operations"
)

type stubInvoker struct {
	prompts []string
	models  []string
	content map[string]any
	tokens  int
	err     error
}

func (s *stubInvoker) Call(_ context.Context, prompt, model string, _ operations.Schema) (*llm.Response, error) {
	s.prompts = append(s.prompts, prompt)
	s.models = append(s.models, model)
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{Content: s.content, TokensUsed: s.tokens}, nil
}

type fixture struct {
	bridge  *Bridge
	invoker *stubInvoker
	ledger  *audit.MemoryLedger
}

func newFixture(t *testing.T, cfg *config.Config, opts ...Option) *fixture {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	engine, err := governance.NewEngine(cfg)
	require.NoError(t, err)
	registry, err := operations.NewRegistry()
	require.NoError(t, err)

	inv := &stubInvoker{
		content: map[string]any{
			"summary":             "add retries",
			"acceptance_criteria": []any{"retries are bounded"},
		},
		tokens: 42,
	}
	ledger := audit.NewMemoryLedger()
	opts = append([]Option{WithDefaults(DefaultsFromConfig(cfg))}, opts...)
	b, err := New(engine, registry, inv, ledger, opts...)
	require.NoError(t, err)
	return &fixture{bridge: b, invoker: inv, ledger: ledger}
}

func (f *fixture) events(t *testing.T) []audit.Event {
	t.Helper()
	events, err := f.ledger.Events(context.Background(), "")
	require.NoError(t, err)
	return events
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestExecute_Success(t *testing.T) {
	f := newFixture(t, nil)
	runID := NewRunID()

	res, err := f.bridge.Execute(context.Background(), "ship.scope",
		map[string]any{"task": "add retries to the client", "workspace": "/repo"},
		CallContext{RunID: runID, StepIndex: 3, RetryCount: 1, ToolCalls: []string{"filesystem.read"}})
	require.NoError(t, err)

	assert.Equal(t, "add retries", res.Output["summary"])
	assert.Equal(t, "engineer", res.Role)
	assert.Equal(t, "gpt-4o-mini", res.Model)
	assert.Equal(t, "cli", res.Channel)
	assert.Equal(t, 42, res.TokensUsed)
	assert.Equal(t, governance.DataClassPublic, res.DataClass)
	assert.Equal(t, governance.ApprovalNotRequired, res.Approval)
	assert.Empty(t, res.Warnings)

	require.Len(t, f.invoker.prompts, 1)
	assert.Contains(t, f.invoker.prompts[0], "add retries to the client")
	assert.Contains(t, f.invoker.prompts[0], "/repo")

	events := f.events(t)
	require.Len(t, events, 1)
	ev := events[0]
	assert.True(t, ev.Success)
	assert.Equal(t, runID, ev.RunID)
	assert.Equal(t, "ship.scope", ev.OperationID)
	assert.Equal(t, 3, ev.StepIndex)
	assert.Equal(t, 1, ev.RetryCount)
	assert.Equal(t, 42, ev.TokensUsed)
	assert.Equal(t, "engineer", ev.Role)
	assert.Equal(t, "public", ev.DataClass)
	assert.Equal(t, []string{"filesystem.read"}, ev.ToolCalls)
}

func TestExecute_ReadonlyCannotPatch(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.bridge.Execute(context.Background(), "ship.patch",
		map[string]any{"step": "edit"}, CallContext{RunID: "run-a", Role: "readonly"})

	var denied *PolicyDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "readonly", denied.Role)
	assert.Equal(t, "ship.patch", denied.OperationID)
	assert.True(t, IsDenied(err))
	assert.Empty(t, f.invoker.prompts, "model must not be called")

	events := f.events(t)
	require.Len(t, events, 1)
	assert.False(t, events[0].Success)
	assert.Contains(t, events[0].FailureReason, "policy denied")
}

func TestExecute_ModelAllowlist(t *testing.T) {
	cfg := config.Default()
	cfg.Governance.ModelAllowlist = map[string][]string{"engineer": {"gpt-4o"}}
	f := newFixture(t, cfg)

	_, err := f.bridge.Execute(context.Background(), "ship.scope", nil, CallContext{Model: "claude-3"})
	var denied *PolicyDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "claude-3", denied.Model)

	_, err = f.bridge.Execute(context.Background(), "ship.scope", nil, CallContext{Model: "gpt-4o-mini"})
	assert.NoError(t, err)
}

func TestExecute_RoleIndexDenies(t *testing.T) {
	idx, err := governance.NewRoleIndex(map[string][]string{"engineer": {"ship.scope"}})
	require.NoError(t, err)
	f := newFixture(t, nil, WithRoleIndex(idx))

	_, err = f.bridge.Execute(context.Background(), "ship.scope", nil, CallContext{})
	require.NoError(t, err)

	_, err = f.bridge.Execute(context.Background(), "ship.plan", nil, CallContext{})
	var rbac *RbacDeniedError
	require.ErrorAs(t, err, &rbac)
	assert.Equal(t, "ship.plan", rbac.OperationID)
	assert.Len(t, f.invoker.prompts, 1)
}

func TestExecute_BudgetExceeded(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.bridge.Execute(context.Background(), "ship.scope", nil,
		CallContext{Usage: budget.Usage{Steps: 50}})

	var exceeded *budget.ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, budget.DimensionSteps, exceeded.Dimension)
	assert.True(t, budget.IsBudgetError(err))
	assert.Empty(t, f.invoker.prompts)
}

func TestExecute_BudgetWarningSurfaced(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.bridge.Execute(context.Background(), "ship.scope", nil,
		CallContext{Usage: budget.Usage{Steps: 45}})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Warnings)
}

func TestExecute_SecretsDeniedForReviewer(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.bridge.Execute(context.Background(), "ship.review",
		map[string]any{"diff": "password=abc123"}, CallContext{Role: "reviewer"})

	var denied *DataClassDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, governance.DataClassSecrets, denied.DataClass)
	assert.Empty(t, f.invoker.prompts)

	events := f.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, "secrets", events[0].DataClass)
}

func TestExecute_RedactsNestedInputs(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.bridge.Execute(context.Background(), "ship.scope",
		map[string]any{
			"task": map[string]any{
				"notes": []any{"contact jane@example.com", "api_key = sk-abcdefghijklmnopqrstuvwx"},
			},
		}, CallContext{})
	require.NoError(t, err)

	assert.Equal(t, governance.DataClassSecrets, res.DataClass)
	require.Len(t, f.invoker.prompts, 1)
	assert.NotContains(t, f.invoker.prompts[0], "sk-abcdefghijklmnopqrstuvwx")
	assert.NotContains(t, f.invoker.prompts[0], "jane@example.com")
	assert.Contains(t, f.invoker.prompts[0], governance.SecretsMarker)
}

func TestExecute_DataClassOverride(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.bridge.Execute(context.Background(), "ship.scope",
		map[string]any{"task": "plain text"},
		CallContext{Role: "readonly", DataClassOverride: governance.DataClassPII})

	var denied *DataClassDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, governance.DataClassPII, denied.DataClass)
}

func TestExecute_OperationNotFound(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.bridge.Execute(context.Background(), "ship.teleport", nil, CallContext{})

	var notFound *OperationNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "ship.teleport", notFound.ID)
	assert.Contains(t, notFound.Known, "ship.scope")
	assert.False(t, IsDenied(err))
}

func TestExecute_ModelFailure(t *testing.T) {
	f := newFixture(t, nil)
	cause := errors.New("endpoint rejected request")
	f.invoker.err = cause

	_, err := f.bridge.Execute(context.Background(), "ship.scope", nil, CallContext{})

	var failed *ModelCallFailedError
	require.ErrorAs(t, err, &failed)
	assert.ErrorIs(t, err, cause)

	events := f.events(t)
	require.Len(t, events, 1)
	assert.False(t, events[0].Success)
	assert.Zero(t, events[0].TokensUsed)
}

func TestExecute_SchemaViolation(t *testing.T) {
	f := newFixture(t, nil)
	f.invoker.content = map[string]any{"summary": "only a summary"}

	_, err := f.bridge.Execute(context.Background(), "ship.scope", nil, CallContext{})

	var violation *SchemaViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, []string{"acceptance_criteria"}, violation.Missing())

	var missing *operations.MissingFieldsError
	assert.ErrorAs(t, err, &missing)

	events := f.events(t)
	require.Len(t, events, 1)
	assert.False(t, events[0].Success)
}

func TestExecute_TypeMismatchIsWarning(t *testing.T) {
	f := newFixture(t, nil)
	f.invoker.content = map[string]any{"summary": 5.0, "acceptance_criteria": []any{}}

	res, err := f.bridge.Execute(context.Background(), "ship.scope", nil, CallContext{})
	require.NoError(t, err)
	assert.Contains(t, res.Warnings, "field summary: expected string, got number")
}

func TestExecute_Approval(t *testing.T) {
	prContent := map[string]any{"title": "Add retries", "body": "details"}
	prod := map[string]string{"target_env": "production"}

	tests := []struct {
		name     string
		mode     string
		attrs    map[string]string
		approved bool
		want     governance.ApprovalStatus
		wantErr  bool
	}{
		{name: "not required", mode: config.ApprovalModeWarn, attrs: map[string]string{"target_env": "staging"}, want: governance.ApprovalNotRequired},
		{name: "warn mode proceeds", mode: config.ApprovalModeWarn, attrs: prod, want: governance.ApprovalRequiredUnapproved},
		{name: "approved", mode: config.ApprovalModeBlock, attrs: prod, approved: true, want: governance.ApprovalRequiredApproved},
		{name: "block mode stops", mode: config.ApprovalModeBlock, attrs: prod, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, WithApprovalMode(tt.mode))
			f.invoker.content = prContent

			res, err := f.bridge.Execute(context.Background(), "ship.pr", nil,
				CallContext{Attributes: tt.attrs, Approved: tt.approved})

			if tt.wantErr {
				var approvalErr *ApprovalRequiredError
				require.ErrorAs(t, err, &approvalErr)
				assert.Contains(t, approvalErr.Reason, "production")
				assert.Empty(t, f.invoker.prompts)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Approval)
			if tt.want == governance.ApprovalRequiredUnapproved {
				assert.NotEmpty(t, res.Warnings)
			}
		})
	}
}

func TestExecute_RecordsMetrics(t *testing.T) {
	rec, err := metrics.NewRecorder(prometheus.NewRegistry())
	require.NoError(t, err)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, nil, WithMetrics(rec), WithClock(func() time.Time { return start }))

	res, err := f.bridge.Execute(context.Background(), "ship.scope", nil, CallContext{})
	require.NoError(t, err)
	assert.Zero(t, res.Duration)

	_, err = f.bridge.Execute(context.Background(), "ship.patch", nil, CallContext{Role: "readonly"})
	assert.Error(t, err)
}

func TestReloadOperations(t *testing.T) {
	f := newFixture(t, nil)
	before := f.bridge.registry.IDs()
	require.NoError(t, f.bridge.ReloadOperations())
	assert.Equal(t, before, f.bridge.registry.IDs())
}

type denyAll struct{}

func (denyAll) Authorize(role, operationID string) error {
	return &RbacDeniedError{Role: role, OperationID: operationID}
}

func TestReload_RebuildsRoleIndex(t *testing.T) {
	cfg := config.Default()
	cfg.RBAC = map[string][]string{"engineer": {"ship.survey"}}
	idx, err := governance.NewRoleIndex(cfg.RBAC)
	require.NoError(t, err)
	f := newFixture(t, cfg, WithRoleIndex(idx))

	var rbac *RbacDeniedError
	_, err = f.bridge.Execute(context.Background(), "ship.scope", nil, CallContext{})
	require.ErrorAs(t, err, &rbac)

	cfg.RBAC = map[string][]string{"engineer": {"ship.scope"}}
	require.NoError(t, f.bridge.Reload(cfg))
	_, err = f.bridge.Execute(context.Background(), "ship.scope", nil, CallContext{})
	require.NoError(t, err)

	cfg.RBAC = map[string][]string{"engineer": {"ship.survey"}}
	require.NoError(t, f.bridge.Reload(cfg))
	_, err = f.bridge.Execute(context.Background(), "ship.scope", nil, CallContext{})
	require.ErrorAs(t, err, &rbac)

	cfg.RBAC = nil
	require.NoError(t, f.bridge.Reload(cfg))
	_, err = f.bridge.Execute(context.Background(), "ship.scope", nil, CallContext{})
	require.NoError(t, err)

	broken := config.Default()
	broken.RBAC = map[string][]string{"engineer": {"ship.survey"}}
	broken.Allowlists.DeniedPaths = []string{"[unterminated"}
	assert.Error(t, f.bridge.Reload(broken))
	_, err = f.bridge.Execute(context.Background(), "ship.scope", nil, CallContext{})
	assert.NoError(t, err, "a failed reload keeps the previous backend")
}

func TestReload_PolicyAndCustomAuthorizer(t *testing.T) {
	f := newFixture(t, nil, WithAuthorizer(denyAll{}))

	cfg := config.Default()
	cfg.RBAC = map[string][]string{"engineer": {"ship.*"}}
	require.NoError(t, f.bridge.Reload(cfg))

	var rbac *RbacDeniedError
	_, err := f.bridge.Execute(context.Background(), "ship.scope", nil, CallContext{})
	require.ErrorAs(t, err, &rbac, "a supplied authorizer survives reloads")

	cfg.Roles["engineer"] = config.RoleConfig{Operations: []string{"ship.plan"}}
	require.NoError(t, f.bridge.Reload(cfg))
	var denied *PolicyDeniedError
	_, err = f.bridge.Execute(context.Background(), "ship.scope", nil, CallContext{})
	assert.ErrorAs(t, err, &denied)
}
