// Package report recovers structured findings from the free-form markdown
// review report. Parsing is tolerant by contract: malformed sections are
// skipped, never fatal, and a BAD block whose fields cannot be parsed still
// yields a finding.
package report

import (
	"regexp"
	"strings"

	"triage/cli/internal/findings"
)

// SectionMarker introduces the findings section of the report. Text before it
// (summary, preamble) is ignored; absence of the marker yields no findings.
const SectionMarker = "## Change-by-Change Review"

// blockMarker introduces one assessment block inside the findings section.
const blockMarker = "### Assessment of the change:"

// fieldAliases maps canonicalized field labels to Finding attributes. Labels
// not present here are dropped along with their continuation lines.
var fieldAliases = map[string]string{
	"title":      "title",
	"file":       "file",
	"function":   "function",
	"lines":      "lines",
	"line":       "lines",
	"details":    "details",
	"suggestion": "suggestion",
	"reasoning":  "reasoning",
}

// parenHintRegex strips parenthetical label hints such as "(if 'bad')".
var parenHintRegex = regexp.MustCompile(`\(.*?\)`)

// Parse extracts the BAD findings from reportText in document order. It never
// returns an error: a missing section, unknown grades, and malformed blocks
// all simply contribute nothing.
func Parse(reportText string) []findings.Finding {
	section, ok := findingsSection(reportText)
	if !ok {
		return nil
	}
	var out []findings.Finding
	for _, block := range splitBlocks(section) {
		grade := blockGrade(block)
		if !strings.EqualFold(grade, "bad") {
			continue
		}
		raw := strings.TrimSpace(block)
		fields := parseFields(blockBody(block))
		out = append(out, findings.Finding{
			Identifier: findings.Identify(raw),
			Title:      fields["title"],
			File:       fields["file"],
			Lines:      fields["lines"],
			Function:   fields["function"],
			Details:    fields["details"],
			Suggestion: fields["suggestion"],
			Reasoning:  fields["reasoning"],
			RawBlock:   raw,
		})
	}
	return out
}

// findingsSection returns the slice of reportText between SectionMarker and
// the next top-level "## " heading (or end of document). Line endings are
// normalized to LF first so block offsets are stable across platforms.
func findingsSection(reportText string) (string, bool) {
	text := strings.ReplaceAll(reportText, "\r\n", "\n")
	idx := strings.Index(text, SectionMarker)
	if idx < 0 {
		return "", false
	}
	rest := text[idx+len(SectionMarker):]
	if end := strings.Index(rest, "\n## "); end >= 0 {
		rest = rest[:end]
	}
	return rest, true
}

// splitBlocks splits the findings section into assessment blocks. Each block
// starts at a blockMarker line and runs to the next blockMarker line or the
// end of the section. Text before the first marker is discarded.
func splitBlocks(section string) []string {
	lines := strings.Split(section, "\n")
	var blocks []string
	var current []string
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), blockMarker) {
			if current != nil {
				blocks = append(blocks, strings.Join(current, "\n"))
			}
			current = []string{line}
			continue
		}
		if current != nil {
			current = append(current, line)
		}
	}
	if current != nil {
		blocks = append(blocks, strings.Join(current, "\n"))
	}
	return blocks
}

// blockGrade returns the grade token from the block's header line: the
// leading letter run after the marker, so "BAD (confirmed)" and "bad." both
// normalize to the same token.
func blockGrade(block string) string {
	header := block
	if i := strings.IndexByte(header, '\n'); i >= 0 {
		header = header[:i]
	}
	header = strings.TrimSpace(header)
	rest := strings.TrimSpace(strings.TrimPrefix(header, blockMarker))
	end := 0
	for end < len(rest) {
		c := rest[end]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
			break
		}
		end++
	}
	return rest[:end]
}

// blockBody returns the block text after its header line.
func blockBody(block string) string {
	if i := strings.IndexByte(block, '\n'); i >= 0 {
		return block[i+1:]
	}
	return ""
}

// fieldState tracks the line accumulator: either no field is open, or lines
// accumulate under the named field.
type fieldState struct {
	open bool
	name string
}

// parseFields runs the line-oriented accumulator over an assessment body and
// returns the flat field map. Classification per line: blank (preserved as a
// paragraph break inside an open field), rule or sub-header (closes the open
// field), field start (opens a field when the label is known, otherwise
// closes the current one), continuation (appended to the open field).
func parseFields(body string) map[string]string {
	acc := make(map[string][]string)
	var state fieldState

	for _, rawLine := range strings.Split(body, "\n") {
		stripped := strings.TrimSpace(rawLine)

		if stripped == "" {
			if state.open {
				acc[state.name] = append(acc[state.name], "")
			}
			continue
		}
		if strings.HasPrefix(stripped, "---") || strings.HasPrefix(stripped, "### ") {
			state = fieldState{}
			continue
		}
		if label, remainder, ok := parseFieldStart(stripped); ok {
			name, known := canonicalLabel(label)
			if !known {
				// Unknown labels drop their lines; close the open field so
				// their continuations are not attributed elsewhere.
				state = fieldState{}
				continue
			}
			state = fieldState{open: true, name: name}
			if _, exists := acc[name]; !exists {
				acc[name] = nil
			}
			if remainder != "" {
				acc[name] = append(acc[name], cleanValue(remainder))
			}
			continue
		}
		if state.open {
			acc[state.name] = append(acc[state.name], cleanValue(rawLine))
		}
	}

	out := make(map[string]string, len(acc))
	for name, lines := range acc {
		out[name] = strings.Trim(strings.Join(lines, "\n"), "\n")
	}
	return out
}

// parseFieldStart recognizes "**Label**: value" and "**Label:** value" lines.
// remainder is the value portion with leading ": " separators removed.
func parseFieldStart(stripped string) (label, remainder string, ok bool) {
	if !strings.HasPrefix(stripped, "**") {
		return "", "", false
	}
	closing := strings.Index(stripped[2:], "**")
	if closing < 0 {
		return "", "", false
	}
	label = strings.TrimSpace(stripped[2 : 2+closing])
	remainder = strings.TrimLeft(stripped[2+closing+2:], ": ")
	return label, remainder, true
}

// canonicalLabel lowercases a field label, strips parenthetical hints and the
// trailing colon, and maps it through the alias table.
func canonicalLabel(label string) (string, bool) {
	s := strings.ToLower(label)
	s = parenHintRegex.ReplaceAllString(s, "")
	s = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(s), ":"))
	name, ok := fieldAliases[s]
	return name, ok
}

// cleanValue trims trailing whitespace and a trailing backslash
// line-continuation marker while preserving leading indentation.
func cleanValue(line string) string {
	cleaned := strings.TrimRight(line, " \t")
	if strings.HasSuffix(cleaned, `\`) {
		cleaned = strings.TrimRight(cleaned[:len(cleaned)-1], " \t")
	}
	return cleaned
}
