// Package git shells out to the git CLI for repository discovery, context
// diffs, and patch application. Dry-run validation and real application go
// through the same `git apply` input path so a patch that passes the check is
// guaranteed to apply absent concurrent tree mutation.
package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"triage/cli/internal/erruser"
)

// RepoRoot returns the absolute path of the git repository root containing
// dir. Runs "git rev-parse --show-toplevel" with Dir=dir.
func RepoRoot(dir string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = dir
	cmd.Env = minimalEnv()
	out, err := cmd.Output()
	if err != nil {
		return "", erruser.New("This directory is not inside a Git repository.", err)
	}
	root := strings.TrimSpace(string(out))
	return filepath.Abs(root)
}

// FileDiff returns the uncommitted diff for path relative to repoRoot
// ("git diff HEAD -- <path>"), trimmed. Empty output means no local changes.
// Errors are returned so callers can degrade to a diff-less prompt.
func FileDiff(ctx context.Context, repoRoot, path string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "diff", "HEAD", "--", path)
	cmd.Dir = repoRoot
	cmd.Env = minimalEnv()
	out, err := cmd.Output()
	if err != nil {
		return "", erruser.New("Could not collect the file's diff.", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// ApplyCheck dry-runs diffText against the working tree with
// "git apply --check -". The tree is never mutated. Inability to invoke git
// is reported as a rejection with a descriptive message, never an error.
func ApplyCheck(ctx context.Context, repoRoot, diffText string) (ok bool, message string) {
	return runApply(ctx, repoRoot, diffText, true)
}

// Apply applies diffText to the working tree with "git apply -", using the
// identical input semantics as ApplyCheck.
func Apply(ctx context.Context, repoRoot, diffText string) (ok bool, message string) {
	return runApply(ctx, repoRoot, diffText, false)
}

func runApply(ctx context.Context, repoRoot, diffText string, check bool) (bool, string) {
	args := []string{"apply"}
	if check {
		args = append(args, "--check")
	}
	args = append(args, "-")
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = repoRoot
	cmd.Env = minimalEnv()
	cmd.Stdin = strings.NewReader(diffText)
	out, err := cmd.CombinedOutput()
	message := strings.TrimSpace(string(out))
	if err != nil {
		if message == "" {
			message = "git apply failed: " + err.Error()
		}
		return false, message
	}
	return true, message
}

// minimalEnv keeps git non-interactive and independent of the caller's
// environment beyond PATH.
func minimalEnv() []string {
	return []string{
		"PATH=" + os.Getenv("PATH"),
		"GIT_TERMINAL_PROMPT=0",
	}
}
