package operations

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_DefaultPack(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	want := []string{
		"ship.analysis", "ship.create", "ship.docs", "ship.patch", "ship.plan", "ship.pr",
		"ship.review", "ship.risk", "ship.rollback", "ship.scope", "ship.security", "ship.survey", "ship.tests",
	}
	assert.Equal(t, want, r.IDs())

	spec, ok := r.Get("ship.plan")
	require.True(t, ok)
	assert.Equal(t, []string{"steps"}, spec.Output.Required)
	assert.Equal(t, FieldArray, spec.Output.Fields["steps"])

	// every declared input appears as a placeholder
	for _, id := range r.IDs() {
		s, _ := r.Get(id)
		assert.ElementsMatch(t, s.Inputs, Placeholders(s.Template), id)
	}
}

func writePack(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNewRegistry_ExtraPacks(t *testing.T) {
	dir := t.TempDir()
	path := writePack(t, dir, "extra.yaml", `
operations:
  - id: ship.plan
    version: 2
    template: "better plan for {{scope}}"
    output:
      required: [steps]
  - id: ship.scope
    version: 0
    template: "older scope"
  - id: custom.lint
    version: 1
    template: "lint {{files}}"
`)

	r, err := NewRegistry(path)
	require.NoError(t, err)

	plan, _ := r.Get("ship.plan")
	assert.Equal(t, 2, plan.Version)
	assert.Equal(t, "better plan for {{scope}}", plan.Template)

	scope, _ := r.Get("ship.scope")
	assert.Equal(t, 1, scope.Version, "lower versions never replace")

	_, ok := r.Get("custom.lint")
	assert.True(t, ok)
}

func TestNewRegistry_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewRegistry(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	conflict := writePack(t, dir, "conflict.yaml", "operations:\n  - id: ship.plan\n    version: 1\n    template: x\n")
	_, err = NewRegistry(conflict)
	assert.ErrorContains(t, err, "already defined")

	badType := writePack(t, dir, "bad.yaml", "operations:\n  - id: x\n    template: y\n    output:\n      fields:\n        a: date\n")
	_, err = NewRegistry(badType)
	assert.ErrorContains(t, err, "unknown type")

	noTemplate := writePack(t, dir, "empty.yaml", "operations:\n  - id: x\n")
	_, err = NewRegistry(noTemplate)
	assert.ErrorContains(t, err, "template")

	garbage := writePack(t, dir, "garbage.yaml", "operations: {")
	_, err = NewRegistry(garbage)
	assert.Error(t, err)
}

func TestReload(t *testing.T) {
	dir := t.TempDir()
	path := writePack(t, dir, "extra.yaml", "operations:\n  - id: custom.a\n    version: 1\n    template: a\n")

	r, err := NewRegistry(path)
	require.NoError(t, err)
	before := r.IDs()

	require.NoError(t, r.Reload())
	assert.Equal(t, before, r.IDs())

	writePack(t, dir, "extra.yaml", "operations:\n  - id: custom.b\n    version: 1\n    template: b\n")
	require.NoError(t, r.Reload())
	_, hasA := r.Get("custom.a")
	_, hasB := r.Get("custom.b")
	assert.False(t, hasA, "reload clears removed specs")
	assert.True(t, hasB)

	writePack(t, dir, "extra.yaml", "operations: [")
	require.Error(t, r.Reload())
	_, hasB = r.Get("custom.b")
	assert.True(t, hasB, "failed reload keeps the previous registry")
}

func TestRender(t *testing.T) {
	tmpl := "task={{task}} n={{ count }} ok={{ok}} files={{files}} meta={{meta}} missing={{ghost}} nil={{nothing}}"
	out := Render(tmpl, map[string]any{
		"task":    "fix bug",
		"count":   3,
		"ok":      true,
		"files":   []string{"a.go", "b.go"},
		"meta":    map[string]any{"k": "v"},
		"nothing": nil,
	})
	assert.Equal(t, `task=fix bug n=3 ok=true files=["a.go","b.go"] meta={"k":"v"} missing=[not provided: ghost] nil=[not provided: nothing]`, out)
}

func TestValidateOutput(t *testing.T) {
	schema := Schema{
		Required: []string{"title", "body"},
		Fields:   map[string]FieldType{"title": FieldString, "body": FieldString, "labels": FieldArray, "draft": FieldBoolean},
	}

	warnings, err := ValidateOutput(schema, map[string]any{"title": "t", "body": "b", "labels": []any{"x"}, "draft": false})
	assert.NoError(t, err)
	assert.Empty(t, warnings)

	warnings, err = ValidateOutput(schema, map[string]any{"title": 5, "body": "b", "draft": "yes"})
	assert.NoError(t, err, "type mismatches are soft")
	assert.Equal(t, []string{"field draft: expected boolean, got string", "field title: expected string, got number"}, warnings)

	_, err = ValidateOutput(schema, map[string]any{"labels": []any{}})
	var missing *MissingFieldsError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"title", "body"}, missing.Fields)
	assert.Contains(t, err.Error(), "title, body")
}
