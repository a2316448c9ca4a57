package cli

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// UnifiedDiff returns a unified diff of before and after, or "" when they
// are equal.
func UnifiedDiff(before, after, fromName, toName string) (string, error) {
	if before == after {
		return "", nil
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: fromName,
		ToFile:   toName,
		Context:  2,
	})
}

// ColorizeDiff styles added and removed lines.
func ColorizeDiff(diff string) string {
	lines := strings.Split(diff, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			lines[i] = BoldStyle.Render(line)
		case strings.HasPrefix(line, "+"):
			lines[i] = SuccessStyle.Render(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = ErrorStyle.Render(line)
		case strings.HasPrefix(line, "@@"):
			lines[i] = SubtleStyle.Render(line)
		}
	}
	return strings.Join(lines, "\n")
}
