package orchestrator

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Verbosity controls how much the console prints
type Verbosity int

const (
	// VerbosityQuiet shows only errors, warnings and the final summary
	VerbosityQuiet Verbosity = iota
	// VerbosityNormal shows phase and step progress
	VerbosityNormal
	// VerbosityVerbose adds per-call details
	VerbosityVerbose
	// VerbosityDebug shows everything
	VerbosityDebug
)

// ParseVerbosity converts a configured verbosity name
func ParseVerbosity(level string) Verbosity {
	switch level {
	case "quiet":
		return VerbosityQuiet
	case "verbose":
		return VerbosityVerbose
	case "debug":
		return VerbosityDebug
	default:
		return VerbosityNormal
	}
}

const (
	colorReset     = "\033[0m"
	colorCyan      = "\033[36m"
	colorSalmon    = "\033[38;5;217m"
	colorYellow    = "\033[33m"
	colorRed       = "\033[31m"
	colorGray      = "\033[90m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
	colorBoldWhite = "\033[1;37m"
)

// Console reports run progress to a terminal
type Console struct {
	level     Verbosity
	writer    io.Writer
	color     bool
	stepCount int
}

// NewConsole creates a console writing to stdout
func NewConsole(level Verbosity) *Console {
	return &Console{level: level, writer: os.Stdout, color: true}
}

// NewPlainConsole writes uncolored output to w
func NewPlainConsole(level Verbosity, w io.Writer) *Console {
	return &Console{level: level, writer: w}
}

func (c *Console) paint(color, s string) string {
	if !c.color {
		return s
	}
	return color + s + colorReset
}

// Header prints a prominent header
func (c *Console) Header(message string) {
	if c.level >= VerbosityNormal {
		bar := strings.Repeat("=", 70)
		fmt.Fprintf(c.writer, "\n%s\n%s\n%s\n", c.paint(colorBoldWhite, bar), c.paint(colorBoldWhite, "  "+message), c.paint(colorBoldWhite, bar))
	}
}

// Section prints a phase divider
func (c *Console) Section(title string) {
	if c.level >= VerbosityNormal {
		fmt.Fprintln(c.writer)
		fmt.Fprintln(c.writer, c.paint(colorCyan, "▶ "+title))
		fmt.Fprintln(c.writer, c.paint(colorGray, strings.Repeat("─", 50)))
	}
}

// Step prints a numbered plan step
func (c *Console) Step(message string) {
	if c.level >= VerbosityNormal {
		c.stepCount++
		fmt.Fprintf(c.writer, "\n%s\n", c.paint(colorCyan, fmt.Sprintf("[%d] %s", c.stepCount, message)))
	}
}

// Successf prints a success line
func (c *Console) Successf(format string, args ...interface{}) {
	if c.level >= VerbosityNormal {
		fmt.Fprintln(c.writer, c.paint(colorBoldGreen, "✓ "+fmt.Sprintf(format, args...)))
	}
}

// Infof prints an informational line
func (c *Console) Infof(format string, args ...interface{}) {
	if c.level >= VerbosityNormal {
		fmt.Fprintln(c.writer, c.paint(colorSalmon, fmt.Sprintf(format, args...)))
	}
}

// Warningf prints a warning in every mode
func (c *Console) Warningf(format string, args ...interface{}) {
	fmt.Fprintln(c.writer, c.paint(colorYellow, "⚠ Warning: "+fmt.Sprintf(format, args...)))
}

// Errorf prints an error in every mode
func (c *Console) Errorf(format string, args ...interface{}) {
	fmt.Fprintln(c.writer, c.paint(colorBoldRed, "✗ Error: "+fmt.Sprintf(format, args...)))
}

// Verbosef prints detail in verbose mode
func (c *Console) Verbosef(format string, args ...interface{}) {
	if c.level >= VerbosityVerbose {
		fmt.Fprintln(c.writer, c.paint(colorGray, "→ "+fmt.Sprintf(format, args...)))
	}
}

// FileModified reports a file write
func (c *Console) FileModified(path string, added, removed int, staged bool) {
	if c.level < VerbosityNormal {
		return
	}
	label := "Modified"
	if staged {
		label = "Staged"
	}
	fmt.Fprintln(c.writer, c.paint(colorBoldGreen, fmt.Sprintf("  📝 %s: %s (+%d/-%d)", label, path, added, removed)))
}

// TestGate reports one test command result
func (c *Console) TestGate(name string, passed, skipped bool, message string) {
	if c.level < VerbosityNormal {
		return
	}
	switch {
	case skipped:
		fmt.Fprintln(c.writer, c.paint(colorGray, fmt.Sprintf("  - %s: skipped", name)))
	case passed:
		fmt.Fprintln(c.writer, c.paint(colorBoldGreen, fmt.Sprintf("  ✓ %s: passed", name)))
	default:
		fmt.Fprintln(c.writer, c.paint(colorBoldRed, fmt.Sprintf("  ✗ %s: failed", name)))
		if message != "" {
			fmt.Fprintln(c.writer, c.paint(colorGray, "    "+message))
		}
	}
}

// Summary prints the final report
func (c *Console) Summary(r *RunReport) {
	bar := strings.Repeat("=", 70)
	fmt.Fprintln(c.writer)
	fmt.Fprintln(c.writer, c.paint(colorBoldWhite, bar))
	fmt.Fprintln(c.writer, c.paint(colorBoldWhite, "  RUN SUMMARY"))
	fmt.Fprintln(c.writer, c.paint(colorBoldWhite, bar))

	fmt.Fprint(c.writer, "  Status: ")
	switch r.Status {
	case StatusComplete:
		fmt.Fprintln(c.writer, c.paint(colorBoldGreen, "✓ COMPLETE"))
	case StatusDryRun:
		fmt.Fprintln(c.writer, c.paint(colorCyan, "◇ DRY RUN"))
	case StatusAborted:
		fmt.Fprintln(c.writer, c.paint(colorYellow, "⚠ ABORTED"))
	default:
		fmt.Fprintln(c.writer, c.paint(colorBoldRed, "✗ ERROR"))
	}
	fmt.Fprintf(c.writer, "  Run: %s\n", r.RunID)
	fmt.Fprintf(c.writer, "  Task: %s\n", r.Task)
	fmt.Fprintf(c.writer, "  Duration: %s\n", r.Duration.Round(time.Second))
	fmt.Fprintf(c.writer, "  Steps: %d  Tokens: %s  Files: %d\n", r.Usage.Steps, formatNumber(r.Usage.Tokens), r.Usage.FilesModified)

	if len(r.Steps) > 0 && c.level >= VerbosityNormal {
		t := table.NewWriter()
		t.SetOutputMirror(c.writer)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"#", "Step", "Type", "Attempt", "Complete", "Tokens"})
		for _, s := range r.Steps {
			t.AppendRow(table.Row{s.Index, s.Step.ID, s.Step.Type, s.Attempt, s.Complete, s.Outcome.Tokens})
		}
		t.Render()
	}

	if c.level >= VerbosityVerbose {
		for _, m := range r.FilesModified {
			fmt.Fprintf(c.writer, "    • %s (+%d/-%d)\n", m.Path, m.LinesAdded, m.LinesRemoved)
		}
	}
	for _, esc := range r.Escalations {
		fmt.Fprintln(c.writer, c.paint(colorYellow, fmt.Sprintf("  Escalated: %s after %d attempts", esc.StepID, esc.Retries)))
	}
	if r.ArtifactDir != "" {
		fmt.Fprintf(c.writer, "  Artifacts: %s\n", r.ArtifactDir)
	}
	if r.Error != "" {
		fmt.Fprintln(c.writer, c.paint(colorRed, "  Error: "+r.Error))
	}
	fmt.Fprintln(c.writer, c.paint(colorBoldWhite, bar))
}

// formatNumber formats large numbers with thousands separators
func formatNumber(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	return fmt.Sprintf("%d,%03d,%03d", n/1000000, (n/1000)%1000, n%1000)
}
