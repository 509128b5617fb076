package workflow

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"triage/cli/internal/findings"
	"triage/cli/internal/triage"
)

type fakeEditor struct {
	opened []string
	err    error
}

func (e *fakeEditor) Open(_ context.Context, f findings.Finding) error {
	e.opened = append(e.opened, f.File)
	return e.err
}

type fakeAssistant struct {
	output  string
	log     string
	err     error
	calls   int
	prompts []string
}

func (a *fakeAssistant) Invoke(_ context.Context, promptText string) (string, string, error) {
	a.calls++
	a.prompts = append(a.prompts, promptText)
	return a.output, a.log, a.err
}

type fakeApplier struct {
	checkOK  bool
	checkMsg string
	applyOK  bool
	applyMsg string
	applied  []string
}

func (p *fakeApplier) Check(_ context.Context, diff string) (bool, string) {
	return p.checkOK, p.checkMsg
}

func (p *fakeApplier) Apply(_ context.Context, diff string) (bool, string) {
	p.applied = append(p.applied, diff)
	return p.applyOK, p.applyMsg
}

type inlineViewer struct{}

func (inlineViewer) Show(string) bool { return false }

func twoFindings() []findings.Finding {
	a := findings.Finding{
		Title: "Null check missing",
		File:  "lib/foo.go",
		Lines: "10-12",
	}
	a.RawBlock = "### Assessment of the change: BAD\n**Title**: Null check missing"
	a.Identifier = findings.Identify(a.RawBlock)
	b := findings.Finding{Title: "Second issue", File: "lib/bar.go"}
	b.RawBlock = "### Assessment of the change: BAD\n**Title**: Second issue"
	b.Identifier = findings.Identify(b.RawBlock)
	return []findings.Finding{a, b}
}

func runWorkflow(t *testing.T, input string, opts Options) (string, triage.Store) {
	t.Helper()
	if opts.StateDir == "" {
		opts.StateDir = t.TempDir()
	}
	if opts.In == nil {
		opts.In = strings.NewReader(input)
	}
	var out bytes.Buffer
	opts.Out = &out
	if opts.Store.Entries == nil {
		opts.Store = triage.Reconcile(triage.Store{}, "fp", opts.Findings)
	}
	if err := Run(context.Background(), opts); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, err := triage.Load(opts.StateDir)
	if err != nil {
		t.Fatalf("Load after Run: %v", err)
	}
	return out.String(), got
}

func TestRun_nextAcknowledgesAndAdvances(t *testing.T) {
	t.Parallel()
	list := twoFindings()
	out, store := runWorkflow(t, "n\nq\n", Options{Findings: list})
	if got := store.Entries[list[0].Identifier].Status; got != triage.StatusAcknowledged {
		t.Errorf("first finding status = %q, want acknowledged", got)
	}
	if store.Cursor != 1 {
		t.Errorf("Cursor = %d, want 1", store.Cursor)
	}
	if !strings.Contains(out, "[1/2] Null check missing") || !strings.Contains(out, "[2/2] Second issue") {
		t.Errorf("output missing finding headers:\n%s", out)
	}
}

func TestRun_emptyInputMeansNext(t *testing.T) {
	t.Parallel()
	list := twoFindings()
	_, store := runWorkflow(t, "\nq\n", Options{Findings: list})
	if got := store.Entries[list[0].Identifier].Status; got != triage.StatusAcknowledged {
		t.Errorf("status = %q, want acknowledged", got)
	}
}

func TestRun_prevClampsAtZero(t *testing.T) {
	t.Parallel()
	list := twoFindings()
	out, store := runWorkflow(t, "p\np\nq\n", Options{Findings: list})
	if store.Cursor != 0 {
		t.Errorf("Cursor = %d, want 0", store.Cursor)
	}
	if strings.Count(out, "[1/2]") < 3 {
		t.Errorf("prev should redisplay the first finding:\n%s", out)
	}
}

func TestRun_allAcknowledgedFinishes(t *testing.T) {
	t.Parallel()
	list := twoFindings()
	out, store := runWorkflow(t, "n\nn\n", Options{Findings: list})
	if !strings.Contains(out, "All findings processed.") {
		t.Errorf("missing completion message:\n%s", out)
	}
	if store.Cursor != 2 {
		t.Errorf("Cursor = %d, want 2", store.Cursor)
	}
	for _, f := range list {
		if got := store.Entries[f.Identifier].Status; got != triage.StatusAcknowledged {
			t.Errorf("%s status = %q", f.Title, got)
		}
	}
}

func TestRun_resumesFromPersistedCursor(t *testing.T) {
	t.Parallel()
	list := twoFindings()
	store := triage.Reconcile(triage.Store{}, "fp", list)
	store.Cursor = 1
	out, _ := runWorkflow(t, "q\n", Options{Findings: list, Store: store})
	if !strings.Contains(out, "[2/2] Second issue") {
		t.Errorf("should resume at second finding:\n%s", out)
	}
	if strings.Contains(out, "[1/2]") {
		t.Errorf("should not show first finding:\n%s", out)
	}
}

func TestRun_fastForwardsPastResolvedCursor(t *testing.T) {
	t.Parallel()
	list := twoFindings()
	store := triage.Reconcile(triage.Store{}, "fp", list)
	store.Entries[list[0].Identifier] = triage.Entry{Status: triage.StatusFixed}
	store.Cursor = 0
	out, _ := runWorkflow(t, "q\n", Options{Findings: list, Store: store})
	if !strings.Contains(out, "[2/2] Second issue") {
		t.Errorf("should fast-forward to first pending:\n%s", out)
	}
}

func TestRun_openDelegatesToEditor(t *testing.T) {
	t.Parallel()
	list := twoFindings()
	ed := &fakeEditor{}
	_, store := runWorkflow(t, "o\nq\n", Options{Findings: list, Editor: ed})
	if len(ed.opened) != 1 || ed.opened[0] != "lib/foo.go" {
		t.Errorf("opened = %v", ed.opened)
	}
	// open leaves status untouched.
	if got := store.Entries[list[0].Identifier].Status; got != triage.StatusPending {
		t.Errorf("status = %q, want pending", got)
	}
}

func TestRun_unknownCommandReported(t *testing.T) {
	t.Parallel()
	list := twoFindings()
	out, _ := runWorkflow(t, "zz\nq\n", Options{Findings: list})
	if !strings.Contains(out, "Unrecognised command: zz") {
		t.Errorf("missing unknown-command message:\n%s", out)
	}
}

func TestRun_fixCachesNormalizedPatch(t *testing.T) {
	t.Parallel()
	list := twoFindings()
	ai := &fakeAssistant{
		output: "Here you go:\n```diff\n@@ -10,1 +10,1 @@\n-old\n+new\n```\n",
		log:    "full response",
	}
	out, store := runWorkflow(t, "f\nq\n", Options{Findings: list, Assistant: ai, Viewer: inlineViewer{}})
	entry := store.Entries[list[0].Identifier]
	if entry.LastAIOutput == "" {
		t.Error("LastAIOutput not cached")
	}
	if entry.LastPatchSource != triage.SourceAI {
		t.Errorf("LastPatchSource = %q, want ai", entry.LastPatchSource)
	}
	if !strings.Contains(entry.LastPatch, "--- a/lib/foo.go") || !strings.Contains(entry.LastPatch, "+++ b/lib/foo.go") {
		t.Errorf("cached patch not normalized:\n%s", entry.LastPatch)
	}
	if !strings.Contains(out, "Stored diff for later application") {
		t.Errorf("missing stored-diff message:\n%s", out)
	}
	if !strings.Contains(out, "AI response:") {
		t.Errorf("inline log fallback missing:\n%s", out)
	}
}

func TestRun_fixUsesConfiguredContextLines(t *testing.T) {
	t.Parallel()
	repoRoot := t.TempDir()
	var b strings.Builder
	for i := 1; i <= 40; i++ {
		b.WriteString("line " + strconv.Itoa(i) + "\n")
	}
	if err := os.MkdirAll(filepath.Join(repoRoot, "lib"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(repoRoot, "lib", "foo.go"), []byte(b.String()), 0644); err != nil {
		t.Fatal(err)
	}

	list := twoFindings() // first finding targets lib/foo.go lines 10-12
	ai := &fakeAssistant{output: "no patch", log: "x"}
	runWorkflow(t, "f\nq\n", Options{
		RepoRoot:     repoRoot,
		Findings:     list,
		Assistant:    ai,
		Viewer:       inlineViewer{},
		ContextLines: 2,
	})
	if len(ai.prompts) != 1 {
		t.Fatalf("assistant called %d times, want 1", len(ai.prompts))
	}
	p := ai.prompts[0]
	if !strings.Contains(p, "    8: line 8") || !strings.Contains(p, "   14: line 14") {
		t.Error("prompt excerpt should span 8..14 with a 2-line context width")
	}
	if strings.Contains(p, "    2: line 2") || strings.Contains(p, "   20: line 20") {
		t.Error("prompt excerpt should not fall back to the default context width")
	}
}

func TestRun_fixWithoutDiffClearsCache(t *testing.T) {
	t.Parallel()
	list := twoFindings()
	ai := &fakeAssistant{output: "I cannot produce a patch here.", log: "x"}
	store := triage.Reconcile(triage.Store{}, "fp", list)
	store.Entries[list[0].Identifier] = triage.Entry{
		Status:          triage.StatusPending,
		LastPatch:       "@@ stale @@",
		LastPatchSource: triage.SourceAI,
	}
	out, after := runWorkflow(t, "f\nq\n", Options{Findings: list, Store: store, Assistant: ai, Viewer: inlineViewer{}})
	entry := after.Entries[list[0].Identifier]
	if entry.LastPatch != "" || entry.LastPatchSource != "" {
		t.Errorf("stale cache kept: %+v", entry)
	}
	if !strings.Contains(out, "No usable diff block detected") {
		t.Errorf("missing no-diff message:\n%s", out)
	}
}

func TestRun_applySuggestionPath(t *testing.T) {
	t.Parallel()
	list := twoFindings()
	list[0].Suggestion = "```diff\n@@ -1,1 +1,1 @@\n-a\n+b\n```"
	applier := &fakeApplier{checkOK: true, applyOK: true}
	out, store := runWorkflow(t, "a\ny\nq\n", Options{Findings: list, Applier: applier})
	entry := store.Entries[list[0].Identifier]
	if entry.Status != triage.StatusFixed {
		t.Errorf("status = %q, want fixed", entry.Status)
	}
	if entry.LastPatchSource != triage.SourceSuggestion {
		t.Errorf("LastPatchSource = %q, want suggestion", entry.LastPatchSource)
	}
	if len(applier.applied) != 1 {
		t.Fatalf("applied %d patches, want 1", len(applier.applied))
	}
	applied := applier.applied[0]
	if !strings.Contains(applied, "--- a/lib/foo.go") || !strings.Contains(applied, "+++ b/lib/foo.go") {
		t.Errorf("applied patch missing synthesized headers:\n%s", applied)
	}
	if !strings.Contains(out, "Patch preview (review suggestion):") {
		t.Errorf("missing preview label:\n%s", out)
	}
	if !strings.Contains(out, "Patch applied successfully.") {
		t.Errorf("missing success message:\n%s", out)
	}
	if store.Cursor != 1 {
		t.Errorf("Cursor = %d, want 1", store.Cursor)
	}
}

func TestRun_applyDeclinedConfirmation(t *testing.T) {
	t.Parallel()
	list := twoFindings()
	list[0].Suggestion = "```diff\n@@ -1,1 +1,1 @@\n-a\n+b\n```"
	applier := &fakeApplier{checkOK: true, applyOK: true}
	out, store := runWorkflow(t, "a\nn\nq\n", Options{Findings: list, Applier: applier})
	if len(applier.applied) != 0 {
		t.Errorf("patch applied despite declined confirmation")
	}
	if !strings.Contains(out, "Patch application cancelled.") {
		t.Errorf("missing cancellation message:\n%s", out)
	}
	if got := store.Entries[list[0].Identifier].Status; got != triage.StatusPending {
		t.Errorf("status = %q, want pending", got)
	}
	if store.Cursor != 0 {
		t.Errorf("Cursor = %d, want 0", store.Cursor)
	}
}

func TestRun_applyPrefersCachedPatch(t *testing.T) {
	t.Parallel()
	list := twoFindings()
	list[0].Suggestion = "```diff\n@@ -1,1 +1,1 @@\n-sugg\n+estion\n```"
	store := triage.Reconcile(triage.Store{}, "fp", list)
	store.Entries[list[0].Identifier] = triage.Entry{
		Status:          triage.StatusPending,
		LastPatch:       "@@ -5,1 +5,1 @@\n-cached\n+patch\n",
		LastPatchSource: triage.SourceAI,
	}
	applier := &fakeApplier{checkOK: true, applyOK: true}
	out, after := runWorkflow(t, "a\ny\nq\n", Options{Findings: list, Store: store, Applier: applier})
	if len(applier.applied) != 1 {
		t.Fatalf("applied %d patches", len(applier.applied))
	}
	if !strings.Contains(applier.applied[0], "-cached") {
		t.Errorf("suggestion used instead of cached patch:\n%s", applier.applied[0])
	}
	if !strings.Contains(out, "Patch preview (AI-generated diff):") {
		t.Errorf("missing AI preview label:\n%s", out)
	}
	if got := after.Entries[list[0].Identifier].Status; got != triage.StatusFixed {
		t.Errorf("status = %q, want fixed", got)
	}
}

func TestRun_applyValidatorRejectionDropsCache(t *testing.T) {
	t.Parallel()
	list := twoFindings()
	store := triage.Reconcile(triage.Store{}, "fp", list)
	store.Entries[list[0].Identifier] = triage.Entry{
		Status:          triage.StatusPending,
		LastPatch:       "@@ -5,1 +5,1 @@\n-cached\n+patch\n",
		LastPatchSource: triage.SourceAI,
	}
	applier := &fakeApplier{checkOK: false, checkMsg: "error: patch does not apply"}
	out, after := runWorkflow(t, "a\ny\nq\n", Options{Findings: list, Store: store, Applier: applier})
	entry := after.Entries[list[0].Identifier]
	if entry.Status != triage.StatusPending {
		t.Errorf("status = %q, want pending", entry.Status)
	}
	if entry.LastPatch != "" {
		t.Errorf("rejected patch kept in cache: %q", entry.LastPatch)
	}
	if !strings.Contains(out, "error: patch does not apply") {
		t.Errorf("rejection message not surfaced:\n%s", out)
	}
	if len(applier.applied) != 0 {
		t.Errorf("Apply called after failed Check")
	}
}

func TestRun_applyNoDiffDeclineAI(t *testing.T) {
	t.Parallel()
	list := twoFindings()
	ai := &fakeAssistant{output: "x", log: "x"}
	out, _ := runWorkflow(t, "a\nn\nq\n", Options{Findings: list, Assistant: ai, Viewer: inlineViewer{}})
	if ai.calls != 0 {
		t.Errorf("assistant invoked despite declined offer")
	}
	if !strings.Contains(out, "Generate an AI fix now?") {
		t.Errorf("missing AI offer:\n%s", out)
	}
	if !strings.Contains(out, "No patch available to apply.") {
		t.Errorf("missing no-patch message:\n%s", out)
	}
}

func TestRun_applyOnDemandAI(t *testing.T) {
	t.Parallel()
	list := twoFindings()
	ai := &fakeAssistant{
		output: "```diff\n@@ -1,1 +1,1 @@\n-a\n+b\n```",
		log:    "response",
	}
	applier := &fakeApplier{checkOK: true, applyOK: true}
	out, store := runWorkflow(t, "a\ny\ny\nq\n", Options{
		Findings:  list,
		Assistant: ai,
		Applier:   applier,
		Viewer:    inlineViewer{},
	})
	if ai.calls != 1 {
		t.Errorf("assistant calls = %d, want 1", ai.calls)
	}
	entry := store.Entries[list[0].Identifier]
	if entry.Status != triage.StatusFixed || entry.LastPatchSource != triage.SourceAI {
		t.Errorf("entry = %+v", entry)
	}
	if !strings.Contains(out, "Stored AI-generated diff for review.") {
		t.Errorf("missing stored message:\n%s", out)
	}
}

func TestRun_quitPersistsCursor(t *testing.T) {
	t.Parallel()
	list := twoFindings()
	_, store := runWorkflow(t, "n\nq\n", Options{Findings: list})
	if store.Cursor != 1 {
		t.Errorf("Cursor = %d, want 1", store.Cursor)
	}
	if got := store.Entries[list[1].Identifier].Status; got != triage.StatusPending {
		t.Errorf("second finding status = %q, want pending", got)
	}
}

func TestRun_eofActsLikeQuit(t *testing.T) {
	t.Parallel()
	list := twoFindings()
	_, store := runWorkflow(t, "n\n", Options{Findings: list})
	if store.Cursor != 1 {
		t.Errorf("Cursor = %d, want 1", store.Cursor)
	}
}

// cancellingReader serves its lines one Read at a time and cancels the
// context when the last line is handed out.
type cancellingReader struct {
	lines  []string
	next   int
	cancel context.CancelFunc
}

func (r *cancellingReader) Read(p []byte) (int, error) {
	if r.next >= len(r.lines) {
		return 0, io.EOF
	}
	s := r.lines[r.next]
	r.next++
	if r.next == len(r.lines) {
		r.cancel()
	}
	return copy(p, s), nil
}

func TestRun_contextCancelStopsAfterLastSave(t *testing.T) {
	t.Parallel()
	list := twoFindings()
	stateDir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// "n" acknowledges the first finding; "?" is cancelled mid-loop and
	// changes no state, so the loop must exit with the first command's save.
	in := &cancellingReader{lines: []string{"n\n", "?\n"}, cancel: cancel}
	var out bytes.Buffer
	opts := Options{
		Findings: list,
		Store:    triage.Reconcile(triage.Store{}, "fp", list),
		StateDir: stateDir,
		In:       in,
		Out:      &out,
	}
	if err := Run(ctx, opts); err != nil {
		t.Fatalf("Run: %v", err)
	}

	store, err := triage.Load(stateDir)
	if err != nil {
		t.Fatalf("Load after Run: %v", err)
	}
	if store.Cursor != 1 {
		t.Errorf("Cursor = %d, want 1", store.Cursor)
	}
	if got := store.Entries[list[0].Identifier].Status; got != triage.StatusAcknowledged {
		t.Errorf("first finding status = %q, want acknowledged", got)
	}
	if got := store.Entries[list[1].Identifier].Status; got != triage.StatusPending {
		t.Errorf("second finding status = %q, want pending", got)
	}
}
