package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"triage/cli/internal/assistant"
	"triage/cli/internal/config"
	"triage/cli/internal/editor"
	"triage/cli/internal/erruser"
	"triage/cli/internal/findings"
	"triage/cli/internal/git"
	"triage/cli/internal/history"
	"triage/cli/internal/normalize"
	"triage/cli/internal/report"
	"triage/cli/internal/term"
	"triage/cli/internal/trace"
	"triage/cli/internal/triage"
	"triage/cli/internal/version"
	"triage/cli/internal/watch"
	"triage/cli/internal/workflow"
)

// errExit is an error that carries an exit code for the CLI. Use errors.As to detect it.
type errExit int

func (e errExit) Error() string {
	return "exit " + strconv.Itoa(int(e))
}

func main() {
	os.Exit(Run())
}

// Run is the entry point for the CLI. It is exported for testing.
func Run() int {
	return runCLI(os.Args[1:])
}

func runCLI(args []string) int {
	rootCmd := &cobra.Command{
		Use:     "triage",
		Short:   "Review AI code-review findings and apply their patches",
		Version: version.String(),
	}
	rootCmd.AddCommand(newReviewCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newNormalizeCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newDoctorCmd())
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		var exitErr errExit
		if errors.As(err, &exitErr) {
			return int(exitErr)
		}
		fmt.Fprintln(os.Stderr, err)
		if u := errors.Unwrap(err); u != nil {
			fmt.Fprintf(os.Stderr, "Details: %v\n", u)
		}
		return 1
	}
	return 0
}

// addReportFlags registers the flags shared by every command that reads the
// report (review, list, status, normalize, watch).
func addReportFlags(cmd *cobra.Command) {
	cmd.Flags().String("report", "", "Path to the review report (default: discover auto_code_review.md)")
	cmd.Flags().String("state-dir", "", "Directory for triage state (default: <repo>/.triage)")
}

// overridesFromFlags returns Overrides for the flags the command defines and
// the user actually set.
func overridesFromFlags(cmd *cobra.Command) *config.Overrides {
	o := &config.Overrides{}
	set := false
	if f := cmd.Flags().Lookup("report"); f != nil && f.Changed {
		v, _ := cmd.Flags().GetString("report")
		o.ReportPath = &v
		set = true
	}
	if f := cmd.Flags().Lookup("state-dir"); f != nil && f.Changed {
		v, _ := cmd.Flags().GetString("state-dir")
		o.StateDir = &v
		set = true
	}
	if f := cmd.Flags().Lookup("editor"); f != nil && f.Changed {
		v, _ := cmd.Flags().GetString("editor")
		o.Editor = &v
		set = true
	}
	if f := cmd.Flags().Lookup("addr"); f != nil && f.Changed {
		v, _ := cmd.Flags().GetString("addr")
		o.WatchAddr = &v
		set = true
	}
	if !set {
		return nil
	}
	return o
}

// env holds the resolved working state every report command starts from.
type env struct {
	repoRoot string
	cfg      *config.Config
	stateDir string
}

func loadEnv(cmd *cobra.Command) (*env, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, erruser.New("Could not determine current directory.", err)
	}
	repoRoot, err := git.RepoRoot(cwd)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(cmd.Context(), config.LoadOptions{
		RepoRoot:  repoRoot,
		Overrides: overridesFromFlags(cmd),
	})
	if err != nil {
		return nil, err
	}
	return &env{
		repoRoot: repoRoot,
		cfg:      cfg,
		stateDir: cfg.EffectiveStateDir(repoRoot),
	}, nil
}

// reportPath resolves the report location: explicit config/flag path first,
// discovery under the repo root otherwise. Relative paths are anchored at
// the repo root.
func (e *env) reportPath() (string, error) {
	if e.cfg.ReportPath != "" {
		p := e.cfg.ReportPath
		if !filepath.IsAbs(p) {
			p = filepath.Join(e.repoRoot, p)
		}
		return p, nil
	}
	p, err := report.Find(e.repoRoot)
	if err != nil {
		return "", err
	}
	if p == "" {
		return "", erruser.New("No review report found. Expected "+report.Filename+" under the repository root.", nil)
	}
	return p, nil
}

// loadReport reads and parses the report, returning its text, fingerprint,
// and findings in document order.
func (e *env) loadReport() (text, fingerprint string, list []findings.Finding, err error) {
	path, err := e.reportPath()
	if err != nil {
		return "", "", nil, err
	}
	text, err = report.Read(path)
	if err != nil {
		return "", "", nil, err
	}
	return text, report.Fingerprint(path, text), report.Parse(text), nil
}

// loadStore reads the triage store, falling back to an empty store with a
// warning when the file is unreadable.
func (e *env) loadStore() triage.Store {
	st, err := triage.Load(e.stateDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Warning: could not read the triage state; starting fresh.")
		if u := errors.Unwrap(err); u != nil {
			fmt.Fprintf(os.Stderr, "Details: %v\n", u)
		}
		return triage.Store{}
	}
	return st
}

// Adapters binding the concrete subprocess helpers to the review loop.

type editorAdapter struct {
	repoRoot string
	editor   string
}

func (e editorAdapter) Open(ctx context.Context, f findings.Finding) error {
	return editor.Open(ctx, e.repoRoot, e.editor, f)
}

type assistantAdapter struct {
	runner   *assistant.Runner
	repoRoot string
}

func (a assistantAdapter) Invoke(ctx context.Context, promptText string) (string, string, error) {
	res, err := a.runner.Invoke(ctx, a.repoRoot, promptText)
	return res.Output, res.Log, err
}

type applierAdapter struct {
	repoRoot string
}

func (a applierAdapter) Check(ctx context.Context, diff string) (bool, string) {
	return git.ApplyCheck(ctx, a.repoRoot, diff)
}

func (a applierAdapter) Apply(ctx context.Context, diff string) (bool, string) {
	return git.Apply(ctx, a.repoRoot, diff)
}

type terminalViewer struct{}

func (terminalViewer) Show(text string) bool {
	return term.Show(text)
}

func newReviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Walk through open findings interactively",
		RunE:  runReview,
	}
	addReportFlags(cmd)
	cmd.Flags().String("editor", "", "Editor command for the open action (default: config, then $EDITOR)")
	cmd.Flags().Bool("trace", false, "Print internal steps to stderr (reconcile, prompts, patch handling)")
	return cmd
}

func runReview(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	_, fingerprint, list, err := e.loadReport()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(os.Stdout, "No findings requiring attention.")
		return nil
	}

	st := triage.Reconcile(e.loadStore(), fingerprint, list)

	doTrace, _ := cmd.Flags().GetBool("trace")
	var tr *trace.Tracer
	if doTrace {
		tr = trace.New(os.Stderr)
	}

	opts := workflow.Options{
		RepoRoot: e.repoRoot,
		StateDir: e.stateDir,
		Findings: list,
		Store:    st,
		Editor:   editorAdapter{repoRoot: e.repoRoot, editor: e.cfg.EffectiveEditor(os.Environ())},
		Assistant: assistantAdapter{
			repoRoot: e.repoRoot,
			runner: &assistant.Runner{
				GeminiExecutable:   e.cfg.GeminiExecutable,
				GeminiModel:        e.cfg.GeminiModel,
				GeminiApprovalMode: e.cfg.GeminiApprovalMode,
				CursorExecutable:   e.cfg.CursorExecutable,
				Stderr:             os.Stderr,
			},
		},
		Applier: applierAdapter{repoRoot: e.repoRoot},
		Viewer:  terminalViewer{},
		FileDiff: func(ctx context.Context, path string) (string, error) {
			return git.FileDiff(ctx, e.repoRoot, path)
		},
		In:                os.Stdin,
		Out:               os.Stdout,
		HistoryMaxRecords: e.cfg.HistoryMaxRecords,
		ContextLines:      e.cfg.ContextLines,
		Tracer:            tr,
	}
	return workflow.Run(cmd.Context(), opts)
}

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List findings with their triage status",
		RunE:  runList,
	}
	addReportFlags(cmd)
	return cmd
}

func runList(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	_, fingerprint, list, err := e.loadReport()
	if err != nil {
		return err
	}
	st := triage.Reconcile(e.loadStore(), fingerprint, list)
	for _, f := range list {
		status := triage.StatusPending
		if entry, ok := st.Entries[f.Identifier]; ok {
			status = entry.Status
		}
		loc := f.File
		if f.Lines != "" {
			loc += ":" + f.Lines
		}
		if loc == "" {
			loc = "(no location)"
		}
		fmt.Fprintf(os.Stdout, "%s  %-12s  %s  %s\n", findings.ShortID(f.Identifier), status, loc, f.Title)
	}
	return nil
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarize triage progress for the current report",
		RunE:  runStatus,
	}
	addReportFlags(cmd)
	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	path, err := e.reportPath()
	if err != nil {
		return err
	}
	text, err := report.Read(path)
	if err != nil {
		return err
	}
	fingerprint := report.Fingerprint(path, text)
	list := report.Parse(text)
	st := triage.Reconcile(e.loadStore(), fingerprint, list)

	var pending, acknowledged, fixed int
	for _, f := range list {
		switch st.Entries[f.Identifier].Status {
		case triage.StatusAcknowledged:
			acknowledged++
		case triage.StatusFixed:
			fixed++
		default:
			pending++
		}
	}
	fmt.Fprintf(os.Stdout, "report: %s\n", path)
	fmt.Fprintf(os.Stdout, "fingerprint: %s\n", findings.ShortID(fingerprint))
	fmt.Fprintf(os.Stdout, "findings: %d\n", len(list))
	fmt.Fprintf(os.Stdout, "pending: %d\n", pending)
	fmt.Fprintf(os.Stdout, "acknowledged: %d\n", acknowledged)
	fmt.Fprintf(os.Stdout, "fixed: %d\n", fixed)
	if err := writeRecentHistory(os.Stdout, e.stateDir, recentHistoryLimit); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	return nil
}

// recentHistoryLimit caps the disposition lines shown by status.
const recentHistoryLimit = 5

// writeRecentHistory prints the newest disposition records from the history
// log, oldest first: "---" then one line per record. Missing or empty
// history prints nothing.
func writeRecentHistory(w io.Writer, stateDir string, limit int) error {
	records, err := history.ReadRecords(stateDir)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	if _, err := fmt.Fprintln(w, "---"); err != nil {
		return erruser.New("Could not write history summary.", err)
	}
	for _, rec := range records {
		line := fmt.Sprintf("%s  %-12s  %s", rec.Time, rec.Action, findings.ShortID(rec.FindingID))
		if rec.PatchSource != "" {
			line += "  (" + rec.PatchSource + ")"
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return erruser.New("Could not write history summary.", err)
		}
	}
	return nil
}

func newNormalizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "Rewrite report suggestions as verified, applyable diffs",
		Long: `Rewrite the report in place: each finding's suggestion becomes a fenced
diff that passes 'git apply --check', or is marked '(no auto-applicable
patch)' when no usable diff can be produced.`,
		RunE: runNormalize,
	}
	addReportFlags(cmd)
	return cmd
}

func runNormalize(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	path, err := e.reportPath()
	if err != nil {
		return err
	}
	text, err := report.Read(path)
	if err != nil {
		return err
	}
	list := report.Parse(text)
	if len(list) == 0 {
		fmt.Fprintln(os.Stderr, "No findings requiring attention; nothing to normalize.")
		return nil
	}

	rewritten, summary := normalize.Rewrite(text, list, func(patch string) (bool, string) {
		return git.ApplyCheck(cmd.Context(), e.repoRoot, patch)
	})
	if rewritten != text {
		if err := os.WriteFile(path, []byte(rewritten), 0o644); err != nil {
			return erruser.New("Could not write the updated report.", err)
		}
	}

	fmt.Fprintf(os.Stderr, "Normalized %d suggestion(s); %d marked as not auto-applicable.\n",
		summary.Normalized, summary.Skipped)
	for _, msg := range summary.Failures {
		fmt.Fprintf(os.Stderr, "  - %s\n", msg)
	}
	return nil
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Serve the report to live viewers over HTTP",
		Long: `Watch the report file and serve it over HTTP: GET /api/report returns the
current content, GET /events streams change notifications as server-sent
events. Runs until interrupted.`,
		RunE: runWatch,
	}
	addReportFlags(cmd)
	cmd.Flags().String("addr", "", "Listen address (default: config watch_addr)")
	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	path, err := e.reportPath()
	if err != nil {
		// Watching a report that does not exist yet is fine; fall back to
		// the default location so the viewer picks it up on creation.
		path = filepath.Join(e.repoRoot, report.Filename)
	}

	watcher, err := watch.NewWatcher(path, watch.DefaultDebounce)
	if err != nil {
		return erruser.New("Could not watch the report file.", err)
	}
	watcher.Start()
	defer watcher.Stop()

	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "triage-watch",
		Output: os.Stderr,
		Level:  hclog.Info,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := watch.NewServer(watcher, logger)
	if err := srv.ListenAndServe(ctx, e.cfg.WatchAddr); err != nil {
		return erruser.New("The viewer server failed.", err)
	}
	return nil
}

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Verify environment (git, report, AI CLIs, editor)",
		RunE:  runDoctor,
	}
	return cmd
}

func runDoctor(cmd *cobra.Command, args []string) error {
	failed := false

	if _, err := exec.LookPath("git"); err != nil {
		fmt.Fprintln(os.Stderr, "git not found on PATH.")
		return errExit(2)
	}
	fmt.Fprintln(os.Stdout, "git OK")

	cwd, err := os.Getwd()
	if err != nil {
		return erruser.New("Could not determine current directory.", err)
	}
	repoRoot, err := git.RepoRoot(cwd)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Not inside a Git repository.")
		return errExit(1)
	}
	fmt.Fprintf(os.Stdout, "repository: %s\n", repoRoot)

	cfg, err := config.Load(cmd.Context(), config.LoadOptions{RepoRoot: repoRoot})
	if err != nil {
		return err
	}

	e := &env{repoRoot: repoRoot, cfg: cfg, stateDir: cfg.EffectiveStateDir(repoRoot)}
	if path, err := e.reportPath(); err == nil {
		fmt.Fprintf(os.Stdout, "report: %s\n", path)
	} else {
		fmt.Fprintln(os.Stdout, "report: not found (run your review tool first)")
	}

	runner := &assistant.Runner{
		GeminiExecutable:   cfg.GeminiExecutable,
		GeminiModel:        cfg.GeminiModel,
		GeminiApprovalMode: cfg.GeminiApprovalMode,
		CursorExecutable:   cfg.CursorExecutable,
	}
	if tool, _, err := runner.Resolve(); err == nil {
		fmt.Fprintf(os.Stdout, "assistant: %s\n", tool)
	} else {
		fmt.Fprintln(os.Stdout, "assistant: none (install gemini or cursor-agent for the fix command)")
		failed = true
	}

	if ed := cfg.EffectiveEditor(os.Environ()); ed != "" {
		fmt.Fprintf(os.Stdout, "editor: %s\n", ed)
	} else {
		fmt.Fprintln(os.Stdout, "editor: not configured (set $EDITOR for the open command)")
	}

	if failed {
		return errExit(1)
	}
	return nil
}
