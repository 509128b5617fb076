// Package history appends triage actions to .triage/history.jsonl. Each
// line is a single JSON object (Record) noting which finding was
// acknowledged or fixed, under which report fingerprint, and where the
// applied patch came from. The status command reads the log back to show
// recent dispositions.
package history

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"triage/cli/internal/erruser"
)

// Action constants for Record.Action.
const (
	ActionAcknowledged = "acknowledged"
	ActionFixed        = "fixed"
)

// Record is one line in .triage/history.jsonl.
type Record struct {
	Time              string `json:"time"` // RFC 3339.
	ReportFingerprint string `json:"report_fingerprint"`
	FindingID         string `json:"finding_id"`
	Action            string `json:"action"`
	PatchSource       string `json:"patch_source,omitempty"` // Set for fixed records.
}

// NewRecord builds a record stamped with the current time in UTC.
func NewRecord(fingerprint, findingID, action, patchSource string) Record {
	return Record{
		Time:              time.Now().UTC().Format(time.RFC3339),
		ReportFingerprint: fingerprint,
		FindingID:         findingID,
		Action:            action,
		PatchSource:       patchSource,
	}
}

const (
	historyFilename    = "history.jsonl"
	historyGzPrefix    = "history.jsonl."
	historyGzSuffix    = ".gz"
	DefaultMaxRecords  = 500
	maxRotatedArchives = 5
)

// Append writes one record as a single JSON line to stateDir/history.jsonl.
// Creates stateDir and the file if missing. If maxRecords > 0 and the file
// has more than maxRecords lines after appending, older lines are moved to
// a gzipped archive (history.jsonl.N.gz) and the active file keeps only the
// last maxRecords lines (atomic write via temp + rename).
func Append(stateDir string, record Record, maxRecords int) error {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return erruser.New("Could not create state directory for history.", err)
	}
	path := filepath.Join(stateDir, historyFilename)
	line, err := json.Marshal(record)
	if err != nil {
		return erruser.New("Could not record triage history.", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return erruser.New("Could not record triage history.", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return erruser.New("Could not record triage history.", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return erruser.New("Could not record triage history.", err)
	}
	if err := f.Close(); err != nil {
		return erruser.New("Could not record triage history.", err)
	}

	if maxRecords > 0 {
		if err := rotateIfNeeded(path, maxRecords); err != nil {
			return err
		}
	}
	return nil
}

// ReadRecords reads all history records from stateDir: rotated archives
// (history.jsonl.N.gz) in ascending order by N, then the active
// history.jsonl. Returns concatenated records (oldest first). Missing or
// empty files are skipped.
func ReadRecords(stateDir string) ([]Record, error) {
	entries, err := os.ReadDir(stateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, erruser.New("Could not read history directory.", err)
	}
	var out []Record
	for _, a := range sortedArchives(entries) {
		recs, err := readRecordsFromGzip(filepath.Join(stateDir, a))
		if err != nil {
			return nil, erruser.New("Could not read rotated history archive.", err)
		}
		out = append(out, recs...)
	}
	plainRecs, err := readRecordsFromFile(filepath.Join(stateDir, historyFilename))
	if err != nil && !os.IsNotExist(err) {
		return nil, erruser.New("Could not read history file.", err)
	}
	return append(out, plainRecs...), nil
}

// sortedArchives returns the names of history.jsonl.N.gz entries in
// ascending order by N. Malformed names are ignored.
func sortedArchives(entries []os.DirEntry) []string {
	type numbered struct {
		n    int
		name string
	}
	var archives []numbered
	for _, e := range entries {
		n, ok := archiveNumber(e)
		if !ok {
			continue
		}
		archives = append(archives, numbered{n: n, name: e.Name()})
	}
	sort.Slice(archives, func(i, j int) bool { return archives[i].n < archives[j].n })
	names := make([]string, len(archives))
	for i, a := range archives {
		names[i] = a.name
	}
	return names
}

func archiveNumber(e os.DirEntry) (int, bool) {
	name := e.Name()
	if e.IsDir() || !strings.HasPrefix(name, historyGzPrefix) || !strings.HasSuffix(name, historyGzSuffix) {
		return 0, false
	}
	mid := name[len(historyGzPrefix) : len(name)-len(historyGzSuffix)]
	n, err := strconv.Atoi(mid)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func readRecordsFromGzip(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer func() { _ = gr.Close() }()
	lines, err := readLinesFromReader(gr)
	if err != nil {
		return nil, err
	}
	return parseRecordLines(lines)
}

func readRecordsFromFile(path string) ([]Record, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	return parseRecordLines(lines)
}

func parseRecordLines(lines []string) ([]Record, error) {
	var out []Record
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("invalid history line: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// rotateIfNeeded reads path, and if it has more than maxRecords lines,
// writes the dropped lines to a gzipped archive (history.jsonl.N.gz), then
// rewrites the active file with only the last maxRecords lines (atomic:
// temp + rename). Keeps at most maxRotatedArchives .gz files.
func rotateIfNeeded(path string, maxRecords int) error {
	lines, err := readLines(path)
	if err != nil {
		return erruser.New("Could not read history for rotation.", err)
	}
	if len(lines) <= maxRecords {
		return nil
	}
	dropped := lines[:len(lines)-maxRecords]
	keep := lines[len(lines)-maxRecords:]
	dir := filepath.Dir(path)

	nextNum, err := nextRotatedArchiveNumber(dir)
	if err != nil {
		return erruser.New("Could not rotate history file.", err)
	}
	archivePath := filepath.Join(dir, historyGzPrefix+strconv.Itoa(nextNum)+historyGzSuffix)
	if err := writeGzippedLines(archivePath, dropped); err != nil {
		return erruser.New("Could not write rotated history archive.", err)
	}
	if err := pruneRotatedArchives(dir); err != nil {
		return erruser.New("Could not prune rotated history archives.", err)
	}

	f, err := os.CreateTemp(dir, "history.*.tmp")
	if err != nil {
		return erruser.New("Could not rotate history file.", err)
	}
	tmpPath := f.Name()
	defer func() { _ = os.Remove(tmpPath) }()
	for _, l := range keep {
		if _, err := f.WriteString(l); err != nil {
			_ = f.Close()
			return erruser.New("Could not rotate history file.", err)
		}
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return erruser.New("Could not rotate history file.", err)
	}
	if err := f.Close(); err != nil {
		return erruser.New("Could not rotate history file.", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return erruser.New("Could not rotate history file.", err)
	}
	return nil
}

// nextRotatedArchiveNumber returns the next sequence number for history.jsonl.N.gz (1-based).
func nextRotatedArchiveNumber(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	max := 0
	for _, e := range entries {
		n, ok := archiveNumber(e)
		if !ok {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max + 1, nil
}

func writeGzippedLines(path string, lines []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	gw := gzip.NewWriter(f)
	for _, l := range lines {
		if _, err := gw.Write([]byte(l)); err != nil {
			_ = gw.Close()
			return err
		}
	}
	if err := gw.Close(); err != nil {
		return err
	}
	return f.Sync()
}

// pruneRotatedArchives removes the oldest history.jsonl.N.gz files when the
// count exceeds maxRotatedArchives.
func pruneRotatedArchives(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	names := sortedArchives(entries)
	for i := 0; i < len(names)-maxRotatedArchives; i++ {
		if err := os.Remove(filepath.Join(dir, names[i])); err != nil {
			return err
		}
	}
	return nil
}

// maxLineSize caps a single history line. bufio.Scanner defaults to 64KB.
const maxLineSize = 1 * 1024 * 1024

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readLinesFromReader(f)
}

func readLinesFromReader(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	sc.Buffer(buf, maxLineSize)
	for sc.Scan() {
		lines = append(lines, sc.Text()+"\n")
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
