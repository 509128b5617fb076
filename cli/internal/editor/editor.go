// Package editor opens a finding's file in the user's editor, jumping to
// the finding's line when the editor supports it.
package editor

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"triage/cli/internal/erruser"
	"triage/cli/internal/findings"
)

// Command builds the argv for opening path with the given editor command
// line. line is the 1-based line to jump to; zero means no jump. The editor
// string may carry extra arguments ("code --wait"); the jump syntax is
// chosen from the basename of the first word.
func Command(editor, path string, line int) []string {
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return nil
	}
	program := strings.ToLower(filepath.Base(parts[0]))
	if line <= 0 {
		return append(parts, path)
	}
	switch program {
	case "vim", "nvim", "vi", "hx", "nano":
		return append(parts, "+"+strconv.Itoa(line), path)
	case "code", "code-insiders":
		return append(parts, "--goto", path+":"+strconv.Itoa(line))
	case "subl", "sublime_text":
		return append(parts, path+":"+strconv.Itoa(line))
	default:
		return append(parts, path)
	}
}

// Open launches the editor on the finding's file, attached to the current
// terminal, with repoRoot as the working directory. editor is the command
// line to use (typically $EDITOR or the config override).
func Open(ctx context.Context, repoRoot, editor string, f findings.Finding) error {
	if strings.TrimSpace(editor) == "" {
		return erruser.New("No editor is configured. Set $EDITOR or the editor option in the config file.", nil)
	}
	if f.File == "" {
		return erruser.New("The review did not specify a file path for this finding.", nil)
	}
	path := filepath.Join(repoRoot, f.File)
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return erruser.New("File '"+f.File+"' was not found in the repository.", err)
	}

	start, end, _ := f.Span()
	line := start
	if line == 0 {
		line = end
	}

	argv := Command(editor, path, line)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = repoRoot
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	// The editor's own exit status is ignored; only launch failures surface.
	var exitErr *exec.ExitError
	if err := cmd.Run(); err != nil && !errors.As(err, &exitErr) {
		return erruser.New("Failed to launch editor '"+argv[0]+"'.", err)
	}
	return nil
}
