// Package workflow drives the interactive triage loop: it walks the
// findings in order, reads single-letter commands, delegates to the editor,
// assistant, and patch collaborators, and persists the triage store after
// every command so an interrupted session resumes where it left off.
package workflow

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"triage/cli/internal/erruser"
	"triage/cli/internal/findings"
	"triage/cli/internal/history"
	"triage/cli/internal/patch"
	"triage/cli/internal/prompt"
	"triage/cli/internal/trace"
	"triage/cli/internal/triage"
)

// Editor opens a finding's file at its line span.
type Editor interface {
	Open(ctx context.Context, f findings.Finding) error
}

// Assistant requests an AI-generated fix. output is the parseable response
// body; log is everything worth showing the user. On error log may still be
// non-empty.
type Assistant interface {
	Invoke(ctx context.Context, promptText string) (output, log string, err error)
}

// Applier validates and applies unified diffs against the working tree.
// Check must not mutate the tree.
type Applier interface {
	Check(ctx context.Context, diff string) (ok bool, message string)
	Apply(ctx context.Context, diff string) (ok bool, message string)
}

// Viewer displays long text out-of-band (a separate terminal window,
// usually). Returns false when the text must be shown inline instead.
type Viewer interface {
	Show(text string) bool
}

// Options configures Run. Editor, Assistant, Applier, and Viewer may be nil;
// the corresponding commands then report the capability as unavailable.
type Options struct {
	RepoRoot string
	StateDir string

	Findings []findings.Finding
	Store    triage.Store

	Editor    Editor
	Assistant Assistant
	Applier   Applier
	Viewer    Viewer

	// FileDiff returns the uncommitted diff of a repo-relative path for fix
	// prompts. Optional.
	FileDiff func(ctx context.Context, path string) (string, error)

	In  io.Reader
	Out io.Writer

	// HistoryMaxRecords caps history.jsonl; 0 disables rotation.
	HistoryMaxRecords int

	// ContextLines sets the excerpt width around a finding's span in fix
	// prompts; 0 means prompt.DefaultContextLines.
	ContextLines int

	Tracer *trace.Tracer
}

const commandPrompt = "Command [n=next, o=open, f=fix, a=apply, p=prev, q=quit, ?=help]: "

const helpText = `Commands:
  n / next    Mark as acknowledged and move to the next finding.
  o / open    Open the file in your editor at the referenced location.
  f / fix     Ask gemini or cursor-agent for a patch.
  a / apply   Apply the stored patch or the review suggestion diff.
  p / prev    Revisit the previous finding.
  q / quit    Exit the reviewer.
`

type runner struct {
	opts  Options
	store triage.Store
	in    *bufio.Scanner
	out   io.Writer
	tr    *trace.Tracer
}

// Run executes the triage loop until the user quits or every finding is
// resolved. The store in opts is the reconciled starting state; Run saves
// it after every command and once more on exit. A store save failure aborts
// the loop with the error.
func Run(ctx context.Context, opts Options) error {
	r := &runner{
		opts:  opts,
		store: opts.Store,
		in:    bufio.NewScanner(opts.In),
		out:   opts.Out,
		tr:    opts.Tracer,
	}
	if r.tr == nil {
		r.tr = trace.New(nil)
	}
	if r.store.Entries == nil {
		r.store.Entries = make(map[string]triage.Entry)
	}

	total := len(opts.Findings)
	index := r.store.Cursor
	if index > total {
		index = total
	}
	if index >= total || r.resolved(index) {
		index = triage.FirstPending(opts.Findings, r.store)
	}
	r.tr.Section("Triage")
	r.tr.Printf("findings=%d start=%d\n", total, index)

	for index >= 0 && index < total {
		if ctx.Err() != nil {
			break
		}
		f := opts.Findings[index]
		entry := r.store.Entries[f.Identifier]
		r.display(index, total, f, entry)

		command, ok := r.read(commandPrompt)
		if !ok {
			break
		}
		if command == "" {
			command = "n"
		}

		switch command {
		case "?", "help":
			fmt.Fprint(r.out, helpText)
		case "q", "quit":
			index = r.saveCursorAndReturn(index)
			return r.save()
		case "p", "prev":
			if index > 0 {
				index--
			}
			r.store.Cursor = index
			if err := r.save(); err != nil {
				return err
			}
		case "o", "open":
			r.openEditor(ctx, f)
		case "f", "fix":
			r.fix(ctx, f)
			if err := r.save(); err != nil {
				return err
			}
		case "a", "apply":
			advanced, err := r.apply(ctx, f)
			if err != nil {
				return err
			}
			if advanced {
				index++
			}
			r.store.Cursor = index
			if err := r.save(); err != nil {
				return err
			}
		case "n", "next":
			entry.Status = triage.StatusAcknowledged
			r.store.Entries[f.Identifier] = entry
			index++
			r.store.Cursor = index
			if err := r.save(); err != nil {
				return err
			}
			r.record(history.ActionAcknowledged, f.Identifier, "")
		default:
			fmt.Fprintf(r.out, "Unrecognised command: %s\n", command)
		}
	}

	index = r.saveCursorAndReturn(index)
	if err := r.save(); err != nil {
		return err
	}
	if index >= total {
		fmt.Fprintln(r.out, "All findings processed.")
	}
	return nil
}

func (r *runner) saveCursorAndReturn(index int) int {
	total := len(r.opts.Findings)
	if index < 0 {
		index = 0
	}
	if index > total {
		index = total
	}
	r.store.Cursor = index
	return index
}

func (r *runner) resolved(index int) bool {
	f := r.opts.Findings[index]
	return r.store.Entries[f.Identifier].Status.Resolved()
}

func (r *runner) save() error {
	return triage.Save(r.opts.StateDir, &r.store)
}

// record appends a history line; history failures are reported but do not
// interrupt triage.
func (r *runner) record(action, findingID, patchSource string) {
	rec := history.NewRecord(r.store.ReportFingerprint, findingID, action, patchSource)
	if err := history.Append(r.opts.StateDir, rec, r.opts.HistoryMaxRecords); err != nil {
		fmt.Fprintf(r.out, "Warning: %v\n", err)
	}
}

// read prints promptText and reads one trimmed, lowercased line. ok is
// false on EOF.
func (r *runner) read(promptText string) (line string, ok bool) {
	fmt.Fprint(r.out, promptText)
	if !r.in.Scan() {
		fmt.Fprintln(r.out)
		return "", false
	}
	return strings.ToLower(strings.TrimSpace(r.in.Text())), true
}

func (r *runner) display(index, total int, f findings.Finding, entry triage.Entry) {
	title := f.Title
	if title == "" {
		title = "(untitled finding)"
	}
	header := fmt.Sprintf("[%d/%d] %s", index+1, total, title)
	rule := strings.Repeat("=", len(header))
	fmt.Fprintln(r.out, rule)
	fmt.Fprintln(r.out, header)
	fmt.Fprintln(r.out, rule)
	fmt.Fprintf(r.out, "File: %s\n", orNA(f.File))
	fmt.Fprintf(r.out, "Lines: %s\n", orNA(f.Lines))
	if f.Function != "" {
		fmt.Fprintf(r.out, "Function: %s\n", f.Function)
	}
	status := entry.Status
	if status == "" {
		status = triage.StatusPending
	}
	fmt.Fprintf(r.out, "Status: %s\n", status)
	if f.Details != "" {
		fmt.Fprintln(r.out, "Details:")
		fmt.Fprintln(r.out, indent(f.Details))
	}
	fmt.Fprintln(r.out, "Suggestion:")
	if f.Suggestion != "" {
		fmt.Fprintln(r.out, indent(f.Suggestion))
	} else {
		fmt.Fprintln(r.out, "  (No suggestion provided.)")
	}
	fmt.Fprintln(r.out)
}

func orNA(s string) string {
	if s == "" {
		return "n/a"
	}
	return s
}

func indent(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = "  " + l
		}
	}
	return strings.Join(lines, "\n")
}

func (r *runner) openEditor(ctx context.Context, f findings.Finding) {
	if r.opts.Editor == nil {
		fmt.Fprintln(r.out, "No editor is available.")
		return
	}
	if err := r.opts.Editor.Open(ctx, f); err != nil {
		fmt.Fprintln(r.out, errLine(err))
	}
}

// requestFix invokes the assistant for f and returns its raw output. The
// response log is shown via the viewer when possible, inline otherwise.
func (r *runner) requestFix(ctx context.Context, f findings.Finding) (string, bool) {
	if r.opts.Assistant == nil {
		fmt.Fprintln(r.out, "No AI assistant is available.")
		return "", false
	}
	var fileDiff string
	if r.opts.FileDiff != nil && f.File != "" {
		if d, err := r.opts.FileDiff(ctx, f.File); err == nil {
			fileDiff = d
		}
	}
	promptText := prompt.BuildFix(r.opts.RepoRoot, f, fileDiff, r.opts.ContextLines)
	r.tr.Printf("fix prompt: %d bytes\n", len(promptText))

	output, log, err := r.opts.Assistant.Invoke(ctx, promptText)
	if err != nil {
		fmt.Fprintln(r.out, errLine(err))
		if log != "" {
			r.showLog(log)
		}
		return "", false
	}
	r.showLog(log)
	return output, true
}

func (r *runner) showLog(log string) {
	if log == "" {
		return
	}
	if r.opts.Viewer != nil && r.opts.Viewer.Show(log) {
		fmt.Fprintln(r.out, "Opened AI response in a separate terminal window.")
		return
	}
	fmt.Fprintln(r.out, "AI response:")
	fmt.Fprintln(r.out, strings.TrimSpace(log))
}

// fix asks the assistant for a patch, caches the raw output, and caches a
// normalized diff when one can be extracted.
func (r *runner) fix(ctx context.Context, f findings.Finding) {
	output, ok := r.requestFix(ctx, f)
	if !ok {
		return
	}
	entry := r.store.Entries[f.Identifier]
	entry.LastAIOutput = output
	if prepared, ok := extractNormalized(output, f.File); ok {
		entry.LastPatch = prepared
		entry.LastPatchSource = triage.SourceAI
		fmt.Fprintln(r.out, "Stored diff for later application (use 'a' to apply).")
	} else {
		entry.LastPatch = ""
		entry.LastPatchSource = ""
		fmt.Fprintln(r.out, "No usable diff block detected in AI output.")
	}
	r.store.Entries[f.Identifier] = entry
}

// extractNormalized pulls the first fenced diff out of text and normalizes
// it for the target path.
func extractNormalized(text, targetPath string) (string, bool) {
	raw, ok := patch.Extract(text)
	if !ok {
		return "", false
	}
	return patch.Normalize(raw, targetPath)
}

// apply resolves a diff for f (cached patch, then suggestion, then
// on-demand AI fix), previews it, and applies it after confirmation.
// Returns true when the patch was applied and the cursor should advance.
func (r *runner) apply(ctx context.Context, f findings.Finding) (bool, error) {
	entry := r.store.Entries[f.Identifier]

	diff := ""
	source := entry.LastPatchSource
	if entry.LastPatch != "" {
		if prepared, ok := patch.Normalize(entry.LastPatch, f.File); ok {
			diff = prepared
		} else {
			fmt.Fprintln(r.out, "Stored patch could not be prepared for application and will be discarded.")
			entry.LastPatch = ""
			entry.LastPatchSource = ""
			source = ""
			r.store.Entries[f.Identifier] = entry
			if err := r.save(); err != nil {
				return false, err
			}
		}
	}

	if diff == "" && f.Suggestion != "" {
		if prepared, ok := extractNormalized(f.Suggestion, f.File); ok {
			diff = prepared
			source = triage.SourceSuggestion
			entry.LastPatch = prepared
			entry.LastPatchSource = source
			r.store.Entries[f.Identifier] = entry
			if err := r.save(); err != nil {
				return false, err
			}
		} else {
			fmt.Fprintln(r.out, "The review suggestion did not include a diff that can be applied automatically.")
		}
	}

	if diff == "" {
		answer, ok := r.read("No usable diff is available. Generate an AI fix now? [y/N]: ")
		if !ok || (answer != "y" && answer != "yes") {
			fmt.Fprintln(r.out, "No patch available to apply.")
			return false, nil
		}
		output, requested := r.requestFix(ctx, f)
		if !requested {
			return false, nil
		}
		entry.LastAIOutput = output
		prepared, ok := extractNormalized(output, f.File)
		if !ok {
			fmt.Fprintln(r.out, "The AI fix did not return a usable diff block.")
			entry.LastPatch = ""
			entry.LastPatchSource = ""
			r.store.Entries[f.Identifier] = entry
			return false, r.save()
		}
		diff = prepared
		source = triage.SourceAI
		entry.LastPatch = prepared
		entry.LastPatchSource = source
		r.store.Entries[f.Identifier] = entry
		if err := r.save(); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, "Stored AI-generated diff for review.")
	}

	fmt.Fprintf(r.out, "Patch preview (%s):\n\n", source.Label())
	fmt.Fprintln(r.out, diff)
	confirm, ok := r.read("Apply this patch? [y/N]: ")
	if !ok || confirm != "y" {
		fmt.Fprintln(r.out, "Patch application cancelled.")
		return false, nil
	}

	if r.opts.Applier == nil {
		fmt.Fprintln(r.out, "No patch tool is available.")
		return false, nil
	}
	if ok, message := r.opts.Applier.Check(ctx, diff); !ok {
		if message == "" {
			message = "the patch does not apply to the current working tree"
		}
		fmt.Fprintf(r.out, "Patch rejected: %s\n", message)
		// Drop the rejected patch from the cache.
		entry.LastPatch = ""
		entry.LastPatchSource = ""
		r.store.Entries[f.Identifier] = entry
		return false, r.save()
	}
	applied, message := r.opts.Applier.Apply(ctx, diff)
	if !applied {
		if message == "" {
			message = "git apply failed"
		}
		fmt.Fprintf(r.out, "Patch application failed: %s\n", message)
		return false, nil
	}
	if message != "" {
		fmt.Fprintln(r.out, message)
	}
	fmt.Fprintln(r.out, "Patch applied successfully.")

	entry.Status = triage.StatusFixed
	entry.LastPatchSource = source
	r.store.Entries[f.Identifier] = entry
	r.record(history.ActionFixed, f.Identifier, string(source))
	return true, nil
}

func errLine(err error) string {
	if msg, ok := erruser.Message(err); ok {
		return msg
	}
	return err.Error()
}
