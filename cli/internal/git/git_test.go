package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// initRepo creates a git repository in a temp dir with one committed file
// (lib/foo.go) and returns its path. Skips the test when git is unavailable.
func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(minimalEnv(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=t@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=t@example.com",
			"HOME="+dir,
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	run("init", "-q")
	if err := os.MkdirAll(filepath.Join(dir, "lib"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "lib", "foo.go"), []byte("line one\nline two\n"), 0644); err != nil {
		t.Fatal(err)
	}
	run("add", ".")
	run("commit", "-q", "-m", "init")
	return dir
}

func TestRepoRoot(t *testing.T) {
	t.Parallel()
	repo := initRepo(t)
	got, err := RepoRoot(repo)
	if err != nil {
		t.Fatalf("RepoRoot: %v", err)
	}
	resolved, err := filepath.EvalSymlinks(repo)
	if err != nil {
		t.Fatal(err)
	}
	gotResolved, err := filepath.EvalSymlinks(got)
	if err != nil {
		t.Fatal(err)
	}
	if gotResolved != resolved {
		t.Errorf("RepoRoot = %q, want %q", gotResolved, resolved)
	}
}

func TestRepoRoot_notARepo(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	if _, err := RepoRoot(t.TempDir()); err == nil {
		t.Error("RepoRoot(non-repo): expected error")
	}
}

const fooPatch = "diff --git a/lib/foo.go b/lib/foo.go\n--- a/lib/foo.go\n+++ b/lib/foo.go\n@@ -1,2 +1,2 @@\n-line one\n+line 1\n line two\n"

func TestApplyCheck_acceptsThenApplySucceeds(t *testing.T) {
	t.Parallel()
	repo := initRepo(t)
	ctx := context.Background()

	ok, msg := ApplyCheck(ctx, repo, fooPatch)
	if !ok {
		t.Fatalf("ApplyCheck rejected a valid patch: %s", msg)
	}

	ok, msg = Apply(ctx, repo, fooPatch)
	if !ok {
		t.Fatalf("Apply failed after ApplyCheck accepted: %s", msg)
	}
	data, err := os.ReadFile(filepath.Join(repo, "lib", "foo.go"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "line 1\n") {
		t.Errorf("patch not applied, file = %q", data)
	}
}

func TestApplyCheck_rejectsStalePatch(t *testing.T) {
	t.Parallel()
	repo := initRepo(t)
	stale := "--- a/lib/foo.go\n+++ b/lib/foo.go\n@@ -1,1 +1,1 @@\n-does not exist\n+replacement\n"
	ok, msg := ApplyCheck(context.Background(), repo, stale)
	if ok {
		t.Fatal("ApplyCheck accepted a patch that cannot apply")
	}
	if msg == "" {
		t.Error("rejection must carry the tool's message")
	}
}

func TestApplyCheck_doesNotMutateTree(t *testing.T) {
	t.Parallel()
	repo := initRepo(t)
	before, err := os.ReadFile(filepath.Join(repo, "lib", "foo.go"))
	if err != nil {
		t.Fatal(err)
	}
	if ok, msg := ApplyCheck(context.Background(), repo, fooPatch); !ok {
		t.Fatalf("ApplyCheck: %s", msg)
	}
	after, err := os.ReadFile(filepath.Join(repo, "lib", "foo.go"))
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Error("ApplyCheck mutated the working tree")
	}
}

func TestFileDiff(t *testing.T) {
	t.Parallel()
	repo := initRepo(t)
	ctx := context.Background()

	diff, err := FileDiff(ctx, repo, "lib/foo.go")
	if err != nil {
		t.Fatalf("FileDiff: %v", err)
	}
	if diff != "" {
		t.Errorf("FileDiff(clean) = %q, want empty", diff)
	}

	if err := os.WriteFile(filepath.Join(repo, "lib", "foo.go"), []byte("changed\n"), 0644); err != nil {
		t.Fatal(err)
	}
	diff, err = FileDiff(ctx, repo, "lib/foo.go")
	if err != nil {
		t.Fatalf("FileDiff: %v", err)
	}
	if !strings.Contains(diff, "+changed") {
		t.Errorf("FileDiff missing change: %q", diff)
	}
}
