// Package patch extracts fenced diff blocks from free-form text (assistant
// replies, reviewer suggestions) and repairs them into unified diffs that a
// strict `git apply` accepts. Reviewers and assistants frequently emit hunk
// bodies without full headers; the normalizer reconstructs minimal consistent
// headers from a known target path without ever guessing hunk content.
package patch

import (
	"regexp"
	"strings"
)

// fenceRegex matches the first fenced code block tagged diff, patch,
// suggestion, or untagged, and captures its interior.
var fenceRegex = regexp.MustCompile("(?s)```(?:diff|patch|suggestion)?\n(.*?)```")

// Extract returns the interior of the first diff-bearing fenced block in
// text, with exactly one trailing newline. ok is false when text contains no
// fenced block.
func Extract(text string) (diff string, ok bool) {
	m := fenceRegex.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	diff = strings.TrimSpace(m[1])
	if diff == "" {
		return "", false
	}
	return diff + "\n", true
}

// SanitizePath normalizes a file path hint for diff headers: trimmed,
// backslashes to forward slashes, leading "./" segments removed.
func SanitizePath(path string) string {
	cleaned := strings.ReplaceAll(strings.TrimSpace(path), `\`, "/")
	for strings.HasPrefix(cleaned, "./") {
		cleaned = cleaned[2:]
	}
	return cleaned
}

// Normalize repairs diffText so `git apply` accepts it, given the known
// target file path. ok is false when the diff is empty, has no hunk header,
// has inconsistent file headers (only one of ---/+++), or needs headers
// synthesized but no target path is known.
//
// Repairs applied, in order: line endings uniformized to LF and surrounding
// blank lines trimmed; the `diff --git` line rewritten (or inserted) with the
// target path; `--- `/`+++ ` headers rewritten to the target path unless they
// point at /dev/null (pure add or delete); when both headers are missing they
// are synthesized immediately before the first hunk header. The result always
// ends with exactly one newline.
func Normalize(diffText, targetPath string) (string, bool) {
	normalized := strings.ReplaceAll(diffText, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	normalized = strings.Trim(normalized, "\n")
	if strings.TrimSpace(normalized) == "" {
		return "", false
	}

	lines := strings.Split(normalized, "\n")
	if !hasHunkHeader(lines) {
		return "", false
	}

	pathHint := SanitizePath(targetPath)
	prepared := make([]string, len(lines))
	copy(prepared, lines)

	diffLine := ""
	if pathHint != "" {
		diffLine = "diff --git a/" + pathHint + " b/" + pathHint
	}
	diffPresent := false
	for i, line := range prepared {
		if strings.HasPrefix(line, "diff --git ") {
			diffPresent = true
			if pathHint != "" {
				prepared[i] = diffLine
			}
			break
		}
	}
	if !diffPresent && pathHint != "" {
		prepared = append([]string{diffLine}, prepared...)
	}

	hasOld, hasNew := false, false
	for i, line := range prepared {
		switch {
		case strings.HasPrefix(line, "--- "):
			hasOld = true
			if pathHint != "" && !strings.Contains(line, "/dev/null") {
				prepared[i] = "--- a/" + pathHint
			}
		case strings.HasPrefix(line, "+++ "):
			hasNew = true
			if pathHint != "" && !strings.Contains(line, "/dev/null") {
				prepared[i] = "+++ b/" + pathHint
			}
		}
	}

	if hasOld != hasNew {
		return "", false // one header without its pair is malformed
	}

	if !hasOld && !hasNew {
		if pathHint == "" {
			return "", false
		}
		hunkAt := -1
		for i, line := range prepared {
			if strings.HasPrefix(line, "@@") {
				hunkAt = i
				break
			}
		}
		if hunkAt < 0 {
			return "", false
		}
		header := []string{"--- a/" + pathHint, "+++ b/" + pathHint}
		prepared = append(prepared[:hunkAt], append(header, prepared[hunkAt:]...)...)
	}

	return strings.TrimRight(strings.Join(prepared, "\n"), "\n") + "\n", true
}

func hasHunkHeader(lines []string) bool {
	for _, line := range lines {
		if strings.HasPrefix(line, "@@") {
			return true
		}
	}
	return false
}
