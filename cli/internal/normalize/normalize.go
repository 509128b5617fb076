// Package normalize rewrites a review report so every suggestion is either
// a ready-to-apply unified diff or an explicit non-applicable marker. Each
// finding's suggestion is extracted, adjusted for git apply, verified, and
// substituted back into its block in the report text.
package normalize

import (
	"regexp"
	"strings"

	"triage/cli/internal/findings"
	"triage/cli/internal/patch"
)

// NoPatchMarker replaces a suggestion that could not be turned into an
// applicable diff. The leading space keeps it on the label's line.
const NoPatchMarker = " (no auto-applicable patch)"

// suggestionLabel matches the suggestion field label inside a raw block;
// the content runs from its end to the next field or divider.
var (
	suggestionLabel = regexp.MustCompile(`\*\*Suggestion[^*]*\*\*:`)
	contentEnd      = regexp.MustCompile(`\n\*\*Reasoning|\n---`)
)

// Checker verifies a prepared patch against the working tree, reporting
// whether it applies and any rejection message. Typically git.ApplyCheck.
type Checker func(patch string) (ok bool, message string)

// Summary reports the outcome of one Rewrite pass.
type Summary struct {
	Normalized int      // Suggestions replaced with a verified fenced diff.
	Skipped    int      // Suggestions marked non-applicable.
	Failures   []string // One message per skipped suggestion.
}

// ReplaceSuggestion returns rawBlock with its suggestion content swapped
// for replacement. The block is returned unchanged when it has no
// suggestion label.
func ReplaceSuggestion(rawBlock, replacement string) string {
	loc := suggestionLabel.FindStringIndex(rawBlock)
	if loc == nil {
		return rawBlock
	}
	start := loc[1]
	end := len(rawBlock)
	if m := contentEnd.FindStringIndex(rawBlock[start:]); m != nil {
		end = start + m[0]
	}
	return rawBlock[:start] + replacement + rawBlock[end:]
}

// fencedDiff formats a prepared patch as the fenced suggestion content.
func fencedDiff(prepared string) string {
	return "\n```diff\n" + strings.TrimRight(prepared, "\n") + "\n```"
}

func label(f findings.Finding) string {
	if f.Title != "" {
		return f.Title
	}
	if f.File != "" {
		return f.File
	}
	return f.Identifier
}

// Rewrite normalizes every finding's suggestion inside reportText. For each
// finding: a suggestion already marked non-applicable is left alone; one
// with no extractable diff, an unnormalizable diff, or a diff the checker
// rejects is replaced with NoPatchMarker; otherwise the suggestion becomes
// a fenced diff that is known to apply. A nil checker accepts every patch.
// Returns the updated text and a summary.
func Rewrite(reportText string, list []findings.Finding, check Checker) (string, Summary) {
	var sum Summary
	updated := reportText

	for _, f := range list {
		suggestion := strings.TrimSpace(f.Suggestion)
		if suggestion == strings.TrimSpace(NoPatchMarker) {
			continue
		}

		raw, ok := patch.Extract(suggestion)
		if !ok {
			sum.Skipped++
			sum.Failures = append(sum.Failures, "No diff block detected for '"+label(f)+"'.")
			updated = substitute(updated, f.RawBlock, NoPatchMarker)
			continue
		}

		prepared, ok := patch.Normalize(raw, f.File)
		if !ok {
			sum.Skipped++
			sum.Failures = append(sum.Failures, "Unable to normalize patch for '"+label(f)+"'.")
			updated = substitute(updated, f.RawBlock, NoPatchMarker)
			continue
		}

		if check != nil {
			if applies, message := check(prepared); !applies {
				detail := message
				if detail == "" {
					detail = "git apply --check rejected the patch"
				}
				sum.Skipped++
				sum.Failures = append(sum.Failures, "Patch rejected for '"+label(f)+"': "+detail)
				updated = substitute(updated, f.RawBlock, NoPatchMarker)
				continue
			}
		}

		sum.Normalized++
		updated = substitute(updated, f.RawBlock, fencedDiff(prepared))
	}
	return updated, sum
}

// substitute rewrites the first occurrence of rawBlock in text with its
// suggestion content replaced.
func substitute(text, rawBlock, replacement string) string {
	newBlock := ReplaceSuggestion(rawBlock, replacement)
	if newBlock == rawBlock {
		return text
	}
	return strings.Replace(text, rawBlock, newBlock, 1)
}
