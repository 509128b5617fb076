// Package assistant invokes an AI CLI (gemini or cursor-agent) to request a
// fix for a finding. The prompt is written to the tool's stdin and the
// response is captured; the caller extracts a diff block from the output.
package assistant

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"triage/cli/internal/erruser"
)

// ErrUnavailable is returned by Resolve when no supported AI CLI is on PATH.
var ErrUnavailable = errors.New("no supported AI CLI (gemini or cursor-agent) found on PATH")

// Runner locates and invokes the AI CLI. Zero-value fields fall back to the
// conventional executable names and flags.
type Runner struct {
	GeminiExecutable   string // Default "gemini".
	GeminiModel        string // Default "gemini-2.5-pro".
	GeminiApprovalMode string // Default "auto_edit".
	CursorExecutable   string // Default "cursor-agent".

	// Stderr receives the tool's stderr as it is captured. Defaults to
	// os.Stderr when nil.
	Stderr io.Writer

	// lookPath is swapped in tests.
	lookPath func(string) (string, error)
}

// Result holds one assistant invocation's output.
type Result struct {
	Tool   string // "gemini" or "cursor-agent".
	Output string // Trimmed stdout; the part worth parsing for a diff.
	Log    string // stdout plus stderr, for display.
}

func (r *Runner) geminiArgs() (string, []string) {
	exe := r.GeminiExecutable
	if exe == "" {
		exe = "gemini"
	}
	mode := r.GeminiApprovalMode
	if mode == "" {
		mode = "auto_edit"
	}
	model := r.GeminiModel
	if model == "" {
		model = "gemini-2.5-pro"
	}
	return exe, []string{"--approval-mode", mode, "-m", model}
}

func (r *Runner) cursorArgs() (string, []string) {
	exe := r.CursorExecutable
	if exe == "" {
		exe = "cursor-agent"
	}
	return exe, []string{"-f", "--output-format", "text"}
}

// Resolve picks the first available AI CLI, preferring gemini over
// cursor-agent, and returns its name plus the full argv. Returns
// ErrUnavailable when neither is on PATH.
func (r *Runner) Resolve() (tool string, argv []string, err error) {
	look := r.lookPath
	if look == nil {
		look = exec.LookPath
	}
	gemExe, gemArgs := r.geminiArgs()
	if resolved, err := look(gemExe); err == nil {
		return "gemini", platformCommand(resolved, gemArgs), nil
	}
	curExe, curArgs := r.cursorArgs()
	if resolved, err := look(curExe); err == nil {
		return "cursor-agent", platformCommand(resolved, curArgs), nil
	}
	return "", nil, ErrUnavailable
}

// platformCommand wraps .cmd/.bat executables with the command interpreter
// on Windows; elsewhere it returns the resolved path with its args.
func platformCommand(resolved string, args []string) []string {
	if runtime.GOOS == "windows" {
		switch strings.ToLower(filepath.Ext(resolved)) {
		case ".cmd", ".bat":
			comspec := os.Getenv("COMSPEC")
			if comspec == "" {
				comspec = "cmd.exe"
			}
			return append([]string{comspec, "/c", resolved}, args...)
		}
	}
	return append([]string{resolved}, args...)
}

// Invoke runs the resolved AI CLI with prompt on stdin and repoRoot as the
// working directory. A non-zero exit is tolerated as long as the tool
// produced output; an empty stdout is an error either way. On error the
// returned Result still carries any captured Log so the caller can show it.
func (r *Runner) Invoke(ctx context.Context, repoRoot, prompt string) (Result, error) {
	tool, argv, err := r.Resolve()
	if err != nil {
		return Result{}, err
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = repoRoot
	cmd.Stdin = strings.NewReader(prompt)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	errOut := r.Stderr
	if errOut == nil {
		errOut = os.Stderr
	}
	if stderr.Len() > 0 {
		_, _ = errOut.Write(stderr.Bytes())
	}

	log := stdout.String()
	if stderr.Len() > 0 {
		if log != "" {
			log += "\n"
		}
		log += stderr.String()
	}
	res := Result{Tool: tool, Output: strings.TrimSpace(stdout.String()), Log: log}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return res, erruser.New("Failed to execute "+argv[0]+".", runErr)
		}
		if log == "" {
			return res, erruser.New(tool+" exited with an error and produced no output.", runErr)
		}
	}
	if res.Output == "" {
		return res, erruser.New("The AI command returned no output.", nil)
	}
	return res, nil
}
