// Package triage provides the durable disposition store: per-finding status
// keyed by content-hash identifier, bound to a fingerprint of the source
// report, and persisted atomically so progress survives restarts. When the
// report's fingerprint changes, stale state is discarded rather than merged.
package triage

import (
	"encoding/json"
	"os"
	"path/filepath"

	"triage/cli/internal/erruser"
	"triage/cli/internal/findings"
)

const storeFilename = "triage.json"

// Status is a finding's disposition. It advances monotonically in normal
// flow; re-running with a changed report resets it.
type Status string

const (
	StatusPending      Status = "pending"
	StatusAcknowledged Status = "acknowledged"
	StatusFixed        Status = "fixed"
)

// Resolved reports whether the status needs no further attention.
func (s Status) Resolved() bool {
	return s == StatusAcknowledged || s == StatusFixed
}

// PatchSource records where a cached patch came from. The set is closed:
// SourceNone (zero value), SourceAI, SourceSuggestion.
type PatchSource string

const (
	SourceNone       PatchSource = ""
	SourceAI         PatchSource = "ai"
	SourceSuggestion PatchSource = "suggestion"
)

// Label returns the human-facing name of the source for patch previews.
func (p PatchSource) Label() string {
	switch p {
	case SourceAI:
		return "AI-generated diff"
	case SourceSuggestion:
		return "review suggestion"
	default:
		return "stored diff"
	}
}

// Entry is the per-finding disposition record.
type Entry struct {
	Status          Status      `json:"status"`
	LastAIOutput    string      `json:"last_ai_output,omitempty"`
	LastPatch       string      `json:"last_patch,omitempty"`
	LastPatchSource PatchSource `json:"last_patch_source,omitempty"`
}

// Store is the process-spanning persisted triage state for one report.
type Store struct {
	ReportFingerprint string           `json:"report_fingerprint"`
	Entries           map[string]Entry `json:"entries"`
	Cursor            int              `json:"cursor"`
}

// Load reads the store from stateDir/triage.json. A missing file yields a
// zero Store and nil error; invalid JSON is an error so corruption is visible
// (callers may then proceed with a fresh store, but not silently).
func Load(stateDir string) (Store, error) {
	path := filepath.Join(stateDir, storeFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Store{}, nil
		}
		return Store{}, erruser.New("Could not read the triage state file.", err)
	}
	var s Store
	if err := json.Unmarshal(data, &s); err != nil {
		return Store{}, erruser.New("Triage state file is invalid or corrupted.", err)
	}
	return s, nil
}

// Save writes the store to stateDir/triage.json, creating stateDir if
// needed. The write is atomic (temp file in the same directory, then rename)
// so a reader never observes a half-written file.
func Save(stateDir string, s *Store) error {
	if s == nil {
		return erruser.New("Cannot save nil triage state.", nil)
	}
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return erruser.New("Could not create the triage state directory.", err)
	}
	path := filepath.Join(stateDir, storeFilename)
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return erruser.New("Could not save triage state.", err)
	}
	f, err := os.CreateTemp(filepath.Dir(path), "triage.*.tmp")
	if err != nil {
		return erruser.New("Could not save triage state.", err)
	}
	tmpPath := f.Name()
	defer func() { _ = os.Remove(tmpPath) }()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return erruser.New("Could not save triage state.", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return erruser.New("Could not save triage state.", err)
	}
	if err := f.Close(); err != nil {
		return erruser.New("Could not save triage state.", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return erruser.New("Could not save triage state.", err)
	}
	return nil
}

// Reconcile aligns prior state with a freshly parsed report. A fingerprint
// mismatch discards all prior entries and resets the cursor (line numbers
// and content may have shifted meaning). Entries are then filtered to
// identifiers present in list, and findings without a record get a fresh
// pending entry. Reconcile is idempotent: applying it twice with the same
// inputs changes nothing.
func Reconcile(prior Store, fingerprint string, list []findings.Finding) Store {
	s := prior
	if s.ReportFingerprint != fingerprint {
		s = Store{ReportFingerprint: fingerprint}
	}
	entries := make(map[string]Entry, len(list))
	for _, f := range list {
		if e, ok := s.Entries[f.Identifier]; ok {
			entries[f.Identifier] = e
		} else {
			entries[f.Identifier] = Entry{Status: StatusPending}
		}
	}
	s.Entries = entries
	if s.Cursor < 0 {
		s.Cursor = 0
	}
	if s.Cursor > len(list) {
		s.Cursor = len(list)
	}
	return s
}

// FirstPending returns the index of the first finding whose status is not
// resolved, or len(list) when every finding is acknowledged or fixed.
func FirstPending(list []findings.Finding, s Store) int {
	for i, f := range list {
		if !s.Entries[f.Identifier].Status.Resolved() {
			return i
		}
	}
	return len(list)
}
