// Package findings defines the schema for reviewer-flagged findings: the
// Finding record, its content-hash identifier, and line-span parsing. It is
// the single source of truth for what the triage loop operates on.
package findings

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
)

// IDLen is the number of hex characters kept from the block digest when
// computing a finding identifier.
const IDLen = 16

// Finding is one BAD assessment parsed from the review report. All fields
// except Identifier and RawBlock may be empty: a block that matched the BAD
// grade is kept even when none of its fields parsed.
type Finding struct {
	// Identifier is derived from RawBlock (see Identify). Two findings with
	// byte-identical blocks share one identifier and are treated as the same
	// finding.
	Identifier string `json:"identifier"`
	Title      string `json:"title"`
	File       string `json:"file"`
	Lines      string `json:"lines"`
	Function   string `json:"function,omitempty"`
	Details    string `json:"details,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
	Reasoning  string `json:"reasoning,omitempty"`
	// RawBlock is the exact source substring the finding was parsed from,
	// header line through block end, trimmed. Needed for re-location in the
	// report and as the hash input.
	RawBlock string `json:"raw_block"`
}

// Identify returns the identifier for a raw block: the first IDLen hex
// characters of the SHA-256 digest of the trimmed block text. A pure function
// of the text, so re-parsing the same report yields the same identifiers
// regardless of block order.
func Identify(rawBlock string) string {
	h := sha256.Sum256([]byte(strings.TrimSpace(rawBlock)))
	return hex.EncodeToString(h[:])[:IDLen]
}

// ShortIDDisplayLen is the number of identifier characters shown in human
// output (list, status).
const ShortIDDisplayLen = 7

// ShortID returns an abbreviated identifier for display. Identifiers shorter
// than ShortIDDisplayLen are returned unchanged.
func ShortID(id string) string {
	if len(id) <= ShortIDDisplayLen {
		return id
	}
	return id[:ShortIDDisplayLen]
}

// lineSpanRegex matches "10" or "10-12" (with optional spaces around the dash)
// at the start of a Lines field value.
var lineSpanRegex = regexp.MustCompile(`^(\d+)(?:\s*-\s*(\d+))?`)

// ParseLineSpan parses a Lines field value into a numeric start and end
// (1-based, inclusive). A single number yields start == end. ok is false when
// the value is empty or does not begin with a number.
func ParseLineSpan(lines string) (start, end int, ok bool) {
	s := strings.TrimSpace(lines)
	if s == "" {
		return 0, 0, false
	}
	m := lineSpanRegex.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, false
	}
	start, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, false
	}
	end = start
	if m[2] != "" {
		end, err = strconv.Atoi(m[2])
		if err != nil {
			return 0, 0, false
		}
	}
	return start, end, true
}

// Span returns the parsed line span of the finding. ok is false when the
// Lines field is absent or unparsable.
func (f Finding) Span() (start, end int, ok bool) {
	return ParseLineSpan(f.Lines)
}
