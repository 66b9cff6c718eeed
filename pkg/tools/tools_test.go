package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lelandsequel/shipmachine/pkg/artifact"
	"github.com/lelandsequel/shipmachine/pkg/config"
	"github.com/lelandsequel/shipmachine/pkg/governance"
)

func testEngine(t *testing.T) *governance.Engine {
	t.Helper()
	cfg := config.Default()
	cfg.Roles["nobody"] = config.RoleConfig{}
	cfg.Allowlists.Commands = []string{"echo", "false", "sleep", "rm -rf build"}
	cfg.Allowlists.Paths = append(cfg.Allowlists.Paths, ".shipmachine/**")
	e, err := governance.NewEngine(cfg)
	require.NoError(t, err)
	return e
}

func testGuard(t *testing.T, dir string) *Guard {
	t.Helper()
	g, err := NewGuard(dir)
	require.NoError(t, err)
	return g
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestGuard_ValidatePath(t *testing.T) {
	ws := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(ws, "escape")))
	g := testGuard(t, ws)

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{name: "relative file", path: "pkg/a.go"},
		{name: "workspace root", path: "."},
		{name: "absolute inside", path: filepath.Join(ws, "README.md")},
		{name: "traversal", path: "../etc/passwd", wantErr: true},
		{name: "absolute outside", path: "/etc/passwd", wantErr: true},
		{name: "symlink escape", path: "escape/file.txt", wantErr: true},
		{name: "empty", path: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.ValidatePath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	require.NoError(t, g.AddWhitelist(outside))
	assert.NoError(t, g.ValidatePath(filepath.Join(outside, "bundle")))
}

func TestGuard_ShouldIgnore(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, filepath.Join(ws, ".gitignore"), "*.log\nbuild/\n")
	g := testGuard(t, ws)

	assert.True(t, g.ShouldIgnore("debug.log", false))
	assert.True(t, g.ShouldIgnore("build", true))
	assert.True(t, g.ShouldIgnore(".git", true))
	assert.False(t, g.ShouldIgnore("pkg/a.go", false))
}

func TestUnifiedDiff(t *testing.T) {
	d := UnifiedDiff("a.txt", "one\ntwo\n", "one\nthree\n")
	assert.Contains(t, d, "--- a/a.txt\n+++ b/a.txt\n")
	assert.Contains(t, d, "@@ -1,2 +1,2 @@")
	assert.Contains(t, d, " one\n")
	assert.Contains(t, d, "-two\n")
	assert.Contains(t, d, "+three\n")

	created := UnifiedDiff("new.txt", "", "hello\n")
	assert.Contains(t, created, "--- /dev/null")
	assert.Contains(t, created, "@@ -0,0 +1,1 @@")

	assert.Empty(t, UnifiedDiff("same.txt", "x\n", "x\n"))

	added, removed := LineStats("a\nb\nc\n", "a\nc\nd\ne\n")
	assert.Equal(t, 2, added)
	assert.Equal(t, 1, removed)
}

func TestFilesystem_Write(t *testing.T) {
	ws := t.TempDir()
	fsys := NewFilesystem(testEngine(t), testGuard(t, ws), "engineer")

	change, err := fsys.Write("pkg/a.go", "package a\n")
	require.NoError(t, err)
	assert.True(t, change.Created)
	assert.Equal(t, "pkg/a.go", change.Path)
	assert.Equal(t, 1, change.LinesAdded)

	change, err = fsys.Write("pkg/a.go", "package a\n\nfunc A() {}\n")
	require.NoError(t, err)
	assert.False(t, change.Created)
	assert.Equal(t, 2, change.LinesAdded)
	assert.Contains(t, change.Diff(), "+func A() {}")

	content, err := fsys.Read("pkg/a.go")
	require.NoError(t, err)
	assert.Equal(t, "package a\n\nfunc A() {}\n", content)
}

func TestFilesystem_Denials(t *testing.T) {
	ws := t.TempDir()
	engine := testEngine(t)
	guard := testGuard(t, ws)

	tests := []struct {
		name string
		role string
		path string
		want any
	}{
		{name: "not on allowlist", role: "engineer", path: "main.go", want: &PathNotAllowedError{}},
		{name: "denied glob", role: "engineer", path: "pkg/.env", want: &PathNotAllowedError{}},
		{name: "outside workspace", role: "engineer", path: "../x.go", want: &PathNotAllowedError{}},
		{name: "role without tool", role: "nobody", path: "pkg/a.go", want: &ToolAccessDeniedError{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFilesystem(engine, guard, tt.role).Write(tt.path, "x")
			require.Error(t, err)
			assert.IsType(t, tt.want, err)
			var r Remediator
			require.ErrorAs(t, err, &r)
			assert.NotEmpty(t, r.Remediation())
		})
	}

	_, err := os.Stat(filepath.Join(ws, "main.go"))
	assert.True(t, os.IsNotExist(err))

	_, err = NewFilesystem(engine, guard, "engineer").Write("main.go", "x")
	var pathErr *PathNotAllowedError
	require.ErrorAs(t, err, &pathErr)
	assert.False(t, pathErr.OutsideWorkspace)
	assert.Contains(t, pathErr.Remediation(), "allowlists.paths")

	_, err = NewFilesystem(engine, guard, "engineer").Write("../x.go", "x")
	require.ErrorAs(t, err, &pathErr)
	assert.True(t, pathErr.OutsideWorkspace)
	assert.Contains(t, pathErr.Remediation(), "inside run.workspace")
	assert.NotContains(t, pathErr.Remediation(), "allowlists.paths")
}

func TestSplitCommand(t *testing.T) {
	parts, err := splitCommand(`go test -run 'A B' ./...`)
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "test", "-run", "A B", "./..."}, parts)

	parts, err = splitCommand(`echo $HOME`)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "$HOME"}, parts)

	_, err = splitCommand("   ")
	assert.ErrorContains(t, err, "empty command")

	_, err = splitCommand("ls; rm x")
	assert.ErrorContains(t, err, "shell operators")

	_, err = splitCommand(`echo "unterminated`)
	assert.Error(t, err)
}

func TestFilesystem_Staged(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, filepath.Join(ws, "pkg", "a.go"), "package a\n")
	fsys := NewFilesystem(testEngine(t), testGuard(t, ws), "engineer", WithStaging())

	change, err := fsys.Write("pkg/a.go", "package a\n// staged\n")
	require.NoError(t, err)
	assert.Equal(t, 1, change.LinesAdded)

	_, err = fsys.Write("pkg/b.go", "package a\n")
	require.NoError(t, err)

	onDisk, err := os.ReadFile(filepath.Join(ws, "pkg", "a.go"))
	require.NoError(t, err)
	assert.Equal(t, "package a\n", string(onDisk))

	content, err := fsys.Read("pkg/a.go")
	require.NoError(t, err)
	assert.Equal(t, "package a\n// staged\n", content)

	files, err := fsys.List("pkg")
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg/a.go", "pkg/b.go"}, files)
	_, err = os.Stat(filepath.Join(ws, "pkg", "b.go"))
	assert.True(t, os.IsNotExist(err))
}

func TestFilesystem_ListHonorsIgnore(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, filepath.Join(ws, ".gitignore"), "*.log\n")
	writeFile(t, filepath.Join(ws, "pkg", "a.go"), "package a\n")
	writeFile(t, filepath.Join(ws, "debug.log"), "noise\n")
	writeFile(t, filepath.Join(ws, ".git", "HEAD"), "ref: refs/heads/master\n")

	files, err := NewFilesystem(testEngine(t), testGuard(t, ws), "readonly").List(".")
	require.NoError(t, err)
	assert.Equal(t, []string{".gitignore", "pkg/a.go"}, files)
}

func TestProcessExec(t *testing.T) {
	ws := t.TempDir()
	engine := testEngine(t)
	p := NewProcessExec(engine, testGuard(t, ws), "engineer")
	ctx := context.Background()

	res, err := p.Run(ctx, "echo hello", RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)

	res, err = p.Run(ctx, "false", RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)

	res, err = p.Run(ctx, "echo 'A B'  \"c d\"", RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, "A B c d\n", res.Stdout)

	_, err = p.Run(ctx, "echo hi | tee out.txt", RunOptions{})
	assert.ErrorContains(t, err, "shell operators")
	assert.NoFileExists(t, filepath.Join(ws, "out.txt"))

	_, err = p.Run(ctx, "echo hi", RunOptions{Dir: "../elsewhere"})
	var outside *PathNotAllowedError
	require.ErrorAs(t, err, &outside)
	assert.True(t, outside.OutsideWorkspace)

	_, err = p.Run(ctx, "cat /etc/passwd", RunOptions{})
	var notAllowed *CommandNotAllowlistedError
	assert.ErrorAs(t, err, &notAllowed)

	_, err = p.Run(ctx, "rm -rf build", RunOptions{})
	var dangerous *DangerousCommandUnconfirmedError
	require.ErrorAs(t, err, &dangerous)
	assert.Equal(t, "recursive delete", dangerous.Reason)

	_, err = p.Run(ctx, "rm -rf build", RunOptions{Confirmed: true})
	assert.NoError(t, err)

	_, err = p.Run(ctx, "rm -rf /", RunOptions{Confirmed: true})
	assert.ErrorAs(t, err, &notAllowed, "confirmation never bypasses the allowlist")

	res, err = p.Run(ctx, "sleep 5", RunOptions{Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Equal(t, -1, res.ExitCode)

	_, err = NewProcessExec(engine, testGuard(t, ws), "readonly").Run(ctx, "echo hi", RunOptions{})
	var denied *ToolAccessDeniedError
	assert.ErrorAs(t, err, &denied)
}

func TestTestRunner(t *testing.T) {
	ws := t.TempDir()
	engine := testEngine(t)
	p := NewProcessExec(engine, testGuard(t, ws), "engineer")

	tests := []struct {
		name       string
		commands   []config.TestCommand
		opts       []TestRunnerOption
		wantPassed bool
		wantFailed int
	}{
		{name: "no commands", wantPassed: true},
		{
			name: "optional failure passes",
			commands: []config.TestCommand{
				{Name: "unit", Command: "echo ok", Required: true},
				{Name: "lint", Command: "false"},
			},
			wantPassed: true,
		},
		{
			name:       "required failure",
			commands:   []config.TestCommand{{Name: "unit", Command: "false", Required: true}},
			wantFailed: 1,
		},
		{
			name:       "not allowlisted",
			commands:   []config.TestCommand{{Name: "make", Command: "make test", Required: true}},
			wantFailed: 1,
		},
		{
			name:       "skipped",
			commands:   []config.TestCommand{{Name: "unit", Command: "false", Required: true}},
			opts:       []TestRunnerOption{WithSkipExecution()},
			wantPassed: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := NewTestRunner(engine, "engineer", p, tt.commands, tt.opts...).Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantPassed, out.Passed)
			assert.Len(t, out.FailedGates(), tt.wantFailed)
			assert.Len(t, out.Results, len(tt.commands))
			if tt.wantFailed > 0 {
				assert.Contains(t, out.FeedbackMessage(1, 2), "attempt 1/2")
			}
		})
	}

	_, err := NewTestRunner(engine, "readonly", p, nil).Run(context.Background())
	var denied *ToolAccessDeniedError
	assert.ErrorAs(t, err, &denied)
}

func TestVersionControl(t *testing.T) {
	ws := t.TempDir()
	_, err := git.PlainInit(ws, false)
	require.NoError(t, err)
	writeFile(t, filepath.Join(ws, "README.md"), "hello\n")

	engine := testEngine(t)
	vcs, err := OpenVersionControl(engine, testGuard(t, ws), "engineer")
	require.NoError(t, err)

	hash, err := vcs.Commit("initial", Author{})
	require.NoError(t, err)
	assert.Len(t, hash, 40)

	clean, err := vcs.IsClean()
	require.NoError(t, err)
	assert.True(t, clean)

	require.NoError(t, vcs.CreateBranch("ship/feature"))
	branch, err := vcs.CurrentBranch()
	require.NoError(t, err)
	assert.Equal(t, "ship/feature", branch)

	writeFile(t, filepath.Join(ws, "README.md"), "changed\n")
	writeFile(t, filepath.Join(ws, "docs", "new.md"), "new\n")

	changed, err := vcs.ChangedFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md", "docs/new.md"}, changed)

	diff, err := vcs.Diff(nil)
	require.NoError(t, err)
	assert.Contains(t, diff, "-hello\n")
	assert.Contains(t, diff, "+changed\n")
	assert.Contains(t, diff, "--- /dev/null\n+++ b/docs/new.md")

	require.NoError(t, vcs.Rollback())
	content, err := os.ReadFile(filepath.Join(ws, "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(content))
	clean, err = vcs.IsClean()
	require.NoError(t, err)
	assert.True(t, clean)

	readonly, err := OpenVersionControl(engine, testGuard(t, ws), "readonly")
	require.NoError(t, err)
	_, err = readonly.CurrentBranch()
	var denied *ToolAccessDeniedError
	assert.ErrorAs(t, err, &denied)
}

func TestArtifactPublish(t *testing.T) {
	ws := t.TempDir()
	outside := t.TempDir()
	guard := testGuard(t, ws)
	pub := NewArtifactPublish(testEngine(t), guard, "engineer", artifact.NewWriter())
	bundle := artifact.Bundle{RunID: "r1", Diff: "x"}

	m, err := pub.Publish(".shipmachine/artifacts/r1", bundle)
	require.NoError(t, err)
	assert.Equal(t, "r1", m.RunID)
	assert.FileExists(t, filepath.Join(ws, ".shipmachine", "artifacts", "r1", artifact.ManifestFile))

	_, err = pub.Publish(filepath.Join(outside, "r1"), bundle)
	var pathErr *PathNotAllowedError
	require.ErrorAs(t, err, &pathErr)

	require.NoError(t, guard.AddWhitelist(outside))
	_, err = pub.Publish(filepath.Join(outside, "r1"), bundle)
	assert.NoError(t, err)

	_, err = NewArtifactPublish(testEngine(t), guard, "reviewer", artifact.NewWriter()).Publish(".shipmachine/x", bundle)
	var denied *ToolAccessDeniedError
	assert.ErrorAs(t, err, &denied)
}
