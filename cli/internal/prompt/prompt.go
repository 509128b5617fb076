// Package prompt builds the instruction prompt sent to an AI assistant when
// the user asks for a generated fix. The prompt carries the finding
// metadata, the reviewer's full block, and a numbered excerpt of the target
// file so the assistant can produce a unified diff that applies cleanly.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"triage/cli/internal/findings"
)

// DefaultContextLines is the number of lines shown around the finding's
// span when the caller passes no explicit width.
const DefaultContextLines = 8

// excerptFallbackLines is how much of the file is shown when the finding
// carries no usable line span.
const excerptFallbackLines = 40

// Excerpt returns a line-numbered excerpt of path covering start..end plus
// contextLines lines on each side (DefaultContextLines when contextLines is
// not positive). When start and end are both zero the first
// excerptFallbackLines lines are returned. The second return is false when
// the file cannot be read.
func Excerpt(path string, start, end, contextLines int) (string, bool) {
	if contextLines <= 0 {
		contextLines = DefaultContextLines
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return "", true
	}

	total := len(lines)
	var from, to int
	if start == 0 && end == 0 {
		from, to = 1, min(total, excerptFallbackLines)
	} else {
		if start == 0 {
			start = end
		}
		if end == 0 {
			end = start
		}
		from = max(1, start-contextLines)
		to = min(total, end+contextLines)
	}

	var b strings.Builder
	for i := from; i <= to; i++ {
		fmt.Fprintf(&b, "%5d: %s", i, lines[i-1])
		if i < to {
			b.WriteString("\n")
		}
	}
	return b.String(), true
}

// BuildFix assembles the fix prompt for one finding. fileDiff, when
// non-empty, is the uncommitted diff of the target file and is appended so
// the assistant accounts for changes the reviewer has not seen. contextLines
// sets the excerpt width around the finding's span (DefaultContextLines
// when not positive).
func BuildFix(repoRoot string, f findings.Finding, fileDiff string, contextLines int) string {
	var excerpt string
	excerptOK := false
	if f.File != "" {
		start, end, _ := f.Span()
		excerpt, excerptOK = Excerpt(filepath.Join(repoRoot, f.File), start, end, contextLines)
	}

	suggestion := f.Suggestion
	if suggestion == "" {
		suggestion = "(The reviewer did not provide an explicit suggestion.)"
	}

	parts := []string{
		"You are an AI code assistant helping to address a code review finding.\n" +
			"Generate a unified diff patch that resolves the reviewer concern.\n" +
			"The patch must apply with `git apply` without additional context.\n" +
			"Do not include commentary outside of a single ```diff fenced block.",
		"Repository root: " + repoRoot + "\n" +
			"Target file: " + orDefault(f.File, "unknown") + "\n" +
			"Title: " + orDefault(f.Title, "n/a"),
	}

	var detailLines []string
	if f.Details != "" {
		detailLines = append(detailLines, "Details: "+f.Details)
	}
	if f.Reasoning != "" {
		detailLines = append(detailLines, "Reasoning: "+f.Reasoning)
	}
	if len(detailLines) > 0 {
		parts = append(parts, strings.Join(detailLines, "\n"))
	}

	parts = append(parts,
		"Suggestion from reviewer:\n"+suggestion,
		"Full review block:",
		f.RawBlock,
	)

	if excerptOK {
		parts = append(parts, "Current file excerpt (with line numbers):\n```text\n"+excerpt+"\n```")
	} else {
		parts = append(parts, "The file contents could not be read automatically. Base your patch on the review context.")
	}

	if fileDiff != "" {
		parts = append(parts, "Uncommitted changes already present in the target file:\n```diff\n"+fileDiff+"\n```")
	}

	parts = append(parts, "Respond with ONLY one markdown block containing the diff for the required changes.")
	return strings.Join(parts, "\n\n")
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
