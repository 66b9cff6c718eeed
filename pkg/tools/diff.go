package tools

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// lineDiffs diffs two texts line by line
func lineDiffs(before, after string) []diffmatchpatch.Diff {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(a, b, false)
	return dmp.DiffCharsToLines(diffs, lines)
}

// splitLines splits text into lines without their terminators
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\n")
	}
	return lines
}

// LineStats counts added and removed lines between two texts
func LineStats(before, after string) (added, removed int) {
	for _, d := range lineDiffs(before, after) {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += len(splitLines(d.Text))
		case diffmatchpatch.DiffDelete:
			removed += len(splitLines(d.Text))
		}
	}
	return added, removed
}

// UnifiedDiff renders a single-hunk unified diff for one file. An empty
// before marks a created file and an empty after a deleted one. Identical
// texts produce an empty string.
func UnifiedDiff(path, before, after string) string {
	if before == after {
		return ""
	}

	oldName, newName := "a/"+path, "b/"+path
	if before == "" {
		oldName = "/dev/null"
	}
	if after == "" {
		newName = "/dev/null"
	}

	var body strings.Builder
	for _, d := range lineDiffs(before, after) {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		}
		for _, line := range splitLines(d.Text) {
			body.WriteString(prefix)
			body.WriteString(line)
			body.WriteString("\n")
		}
	}

	oldCount, newCount := len(splitLines(before)), len(splitLines(after))
	var out strings.Builder
	fmt.Fprintf(&out, "--- %s\n+++ %s\n", oldName, newName)
	fmt.Fprintf(&out, "@@ -%s +%s @@\n", hunkRange(oldCount), hunkRange(newCount))
	out.WriteString(body.String())
	return out.String()
}

func hunkRange(count int) string {
	if count == 0 {
		return "0,0"
	}
	return fmt.Sprintf("1,%d", count)
}
