// Report discovery and change detection.

package report

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"triage/cli/internal/erruser"
)

// Filename is the canonical report file name produced by the review hook.
const Filename = "auto_code_review.md"

// Fingerprint returns the SHA-256 hex digest of the report path and its full
// text. A changed fingerprint between runs means line numbers and content may
// have shifted meaning, so stale triage state must be discarded.
func Fingerprint(path, text string) string {
	h := sha256.Sum256([]byte(path + text))
	return hex.EncodeToString(h[:])
}

// Find returns the newest report file under repoRoot. The repo-root copy wins
// when present; otherwise the tree is walked, skipping hidden directories,
// and the most recently modified candidate is returned. An empty path with
// nil error means no report exists.
func Find(repoRoot string) (string, error) {
	direct := filepath.Join(repoRoot, Filename)
	if _, err := os.Stat(direct); err == nil {
		return direct, nil
	}

	var newest string
	var newestMod int64
	err := filepath.WalkDir(repoRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree; keep looking elsewhere
		}
		name := d.Name()
		if d.IsDir() {
			if path != repoRoot && strings.HasPrefix(name, ".") {
				return fs.SkipDir
			}
			return nil
		}
		if name != Filename {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if mod := info.ModTime().UnixNano(); newest == "" || mod > newestMod {
			newest = path
			newestMod = mod
		}
		return nil
	})
	if err != nil {
		return "", erruser.New("Could not search for the review report.", err)
	}
	return newest, nil
}

// Read loads the report at path and returns its text.
func Read(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", erruser.New("Could not read the review report.", err)
	}
	return string(data), nil
}
