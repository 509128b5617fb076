// Package term shows long text (an AI response, usually) in a freshly
// opened terminal window so it does not scroll the review loop away. The
// text goes to a temp file read by a self-deleting viewer script; when no
// terminal can be opened the caller falls back to printing inline.
package term

import (
	"errors"
	"os"
	"strings"
)

var errNoTerminal = errors.New("no supported terminal emulator found")

// Show displays text in a new terminal window. Returns false when the text
// is empty or no window could be opened; the caller should then print the
// text inline.
func Show(text string) bool {
	cleaned := strings.TrimSpace(text)
	if cleaned == "" {
		return false
	}

	out, err := os.CreateTemp("", "triage-output-*.txt")
	if err != nil {
		return false
	}
	outputPath := out.Name()
	if _, err := out.WriteString(cleaned); err != nil {
		_ = out.Close()
		_ = os.Remove(outputPath)
		return false
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(outputPath)
		return false
	}

	scriptPath, err := writeViewerScript(outputPath)
	if err != nil {
		_ = os.Remove(outputPath)
		return false
	}
	if err := launchViewer(scriptPath); err != nil {
		_ = os.Remove(outputPath)
		_ = os.Remove(scriptPath)
		return false
	}
	// The script removes both files once the window closes.
	return true
}
