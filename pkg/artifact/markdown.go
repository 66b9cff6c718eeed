package artifact

import (
	"fmt"
	"strings"
)

// PRMarkdown renders a pull request description from the ship.pr output
func PRMarkdown(out map[string]any, changedFiles []string) string {
	var md strings.Builder
	md.WriteString(fmt.Sprintf("# %s\n\n", stringOr(out["title"], "Automated change")))
	if body := stringOr(out["body"], ""); body != "" {
		md.WriteString(body)
		md.WriteString("\n\n")
	}
	if len(changedFiles) > 0 {
		md.WriteString("## Files Changed\n\n")
		for _, f := range changedFiles {
			md.WriteString(fmt.Sprintf("- `%s`\n", f))
		}
	}
	return md.String()
}

// RiskMarkdown renders the ship.risk output together with the security review
func RiskMarkdown(risk, security map[string]any) string {
	var md strings.Builder
	md.WriteString("# Risk Assessment\n\n")
	md.WriteString(fmt.Sprintf("**Level:** %s\n\n", stringOr(risk["level"], "unknown")))
	writeList(&md, "Factors", risk["factors"])
	writeList(&md, "Mitigations", risk["mitigations"])

	if security != nil {
		md.WriteString("## Security Review\n\n")
		passed, _ := security["passed"].(bool)
		if passed {
			md.WriteString("✅ Passed\n\n")
		} else {
			md.WriteString(fmt.Sprintf("❌ Failed (severity: %s)\n\n", stringOr(security["severity"], "unknown")))
		}
		writeList(&md, "Issues", security["issues"])
	}
	return md.String()
}

// RollbackMarkdown renders the ship.rollback output
func RollbackMarkdown(out map[string]any) string {
	var md strings.Builder
	md.WriteString("# Rollback Plan\n\n")
	if steps, ok := out["steps"].([]any); ok && len(steps) > 0 {
		md.WriteString("## Steps\n\n")
		for i, s := range steps {
			md.WriteString(fmt.Sprintf("%d. %s\n", i+1, stringOr(s, "")))
		}
		md.WriteString("\n")
	}
	if v := stringOr(out["verification"], ""); v != "" {
		md.WriteString("## Verification\n\n")
		md.WriteString(v)
		md.WriteString("\n")
	}
	return md.String()
}

// ChangelogMarkdown renders the changelog entry from the ship.docs output
func ChangelogMarkdown(task string, docs map[string]any) string {
	var md strings.Builder
	md.WriteString("# Changelog\n\n")
	md.WriteString(fmt.Sprintf("## %s\n\n", task))
	md.WriteString(stringOr(docs["changelog"], "No changelog entry produced."))
	md.WriteString("\n")
	return md.String()
}

func writeList(md *strings.Builder, title string, v any) {
	items, ok := v.([]any)
	if !ok || len(items) == 0 {
		return
	}
	md.WriteString(fmt.Sprintf("## %s\n\n", title))
	for _, item := range items {
		md.WriteString(fmt.Sprintf("- %s\n", stringOr(item, "")))
	}
	md.WriteString("\n")
}

func stringOr(v any, fallback string) string {
	switch val := v.(type) {
	case string:
		if val == "" {
			return fallback
		}
		return val
	case nil:
		return fallback
	default:
		return fmt.Sprint(val)
	}
}
