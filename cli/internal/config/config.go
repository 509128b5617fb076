// Package config provides triage configuration with a defined load order:
// CLI flags > environment variables > repo config > global config > defaults.
//
// Paths:
//   - Repo: .triage/config.toml (relative to repo root)
//   - Global: XDG config dir, e.g. ~/.config/triage/config.toml (see os.UserConfigDir)
//
// Environment variables (override config files when set):
//   - TRIAGE_REPORT_PATH (explicit path to the review report file),
//   - TRIAGE_STATE_DIR (directory for triage state; default .triage in repo),
//   - TRIAGE_EDITOR (editor command; falls back to $EDITOR),
//   - TRIAGE_GEMINI_EXECUTABLE, TRIAGE_GEMINI_MODEL, TRIAGE_GEMINI_APPROVAL_MODE,
//   - TRIAGE_CURSOR_EXECUTABLE (AI CLI selection and flags),
//   - TRIAGE_CONTEXT_LINES (lines of context around a finding in fix prompts),
//   - TRIAGE_HISTORY_MAX_RECORDS (history.jsonl rotation threshold; 0 disables),
//   - TRIAGE_WATCH_ADDR (listen address for triage watch, e.g. 127.0.0.1:8844).
package config

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"triage/cli/internal/erruser"
)

// Config holds all triage configuration. Empty strings for ReportPath,
// StateDir and Editor mean "use default behavior" (report discovery, .triage
// in repo, $EDITOR).
type Config struct {
	// ReportPath points at the review report file. Empty means discover
	// auto_code_review.md under the repo root.
	ReportPath string `toml:"report_path"`
	StateDir   string `toml:"state_dir"`
	// Editor is the command used by the open action. Empty falls back to $EDITOR.
	Editor string `toml:"editor"`

	GeminiExecutable   string `toml:"gemini_executable"`
	GeminiModel        string `toml:"gemini_model"`
	GeminiApprovalMode string `toml:"gemini_approval_mode"`
	CursorExecutable   string `toml:"cursor_executable"`

	// ContextLines is the number of file lines shown around a finding's span
	// in fix prompts.
	ContextLines int `toml:"context_lines"`
	// HistoryMaxRecords caps history.jsonl before rotation. 0 disables rotation.
	HistoryMaxRecords int `toml:"history_max_records"`
	// WatchAddr is the listen address for triage watch.
	WatchAddr string `toml:"watch_addr"`
}

// Overrides represents optional CLI flag overrides. Non-nil pointer means
// "override with this value".
type Overrides struct {
	ReportPath         *string
	StateDir           *string
	Editor             *string
	GeminiExecutable   *string
	GeminiModel        *string
	GeminiApprovalMode *string
	CursorExecutable   *string
	ContextLines       *int
	HistoryMaxRecords  *int
	WatchAddr          *string
}

// LoadOptions configures Load. All fields are optional.
type LoadOptions struct {
	// RepoRoot is the repository root; if set, repo config is RepoRoot/.triage/config.toml.
	RepoRoot string
	// GlobalConfigPath is the global config file path; if empty, XDG path is used.
	GlobalConfigPath string
	// Env is the environment key=value slice; if nil, os.Environ() is used.
	Env []string
	// Overrides are applied last (highest precedence).
	Overrides *Overrides
}

const (
	_defaultGeminiExecutable   = "gemini"
	_defaultGeminiModel        = "gemini-2.5-pro"
	_defaultGeminiApprovalMode = "auto_edit"
	_defaultCursorExecutable   = "cursor-agent"
	_defaultContextLines       = 8
	_defaultHistoryMaxRecords  = 500
	_defaultWatchAddr          = "127.0.0.1:8844"
)

// errIntOverflow is returned when an int64 value does not fit in int.
var errIntOverflow = errors.New("value out of range for int")

func int64ToInt(n int64) (int, error) {
	if n < int64(math.MinInt) || n > int64(math.MaxInt) {
		return 0, errIntOverflow
	}
	return int(n), nil
}

// DefaultConfig returns the default configuration (no I/O).
func DefaultConfig() Config {
	return Config{
		GeminiExecutable:   _defaultGeminiExecutable,
		GeminiModel:        _defaultGeminiModel,
		GeminiApprovalMode: _defaultGeminiApprovalMode,
		CursorExecutable:   _defaultCursorExecutable,
		ContextLines:       _defaultContextLines,
		HistoryMaxRecords:  _defaultHistoryMaxRecords,
		WatchAddr:          _defaultWatchAddr,
	}
}

// EffectiveStateDir returns the directory used for the triage store and
// history. If StateDir is set, it is returned as-is; otherwise
// repoRoot/.triage is returned.
func (c Config) EffectiveStateDir(repoRoot string) string {
	if c.StateDir != "" {
		return c.StateDir
	}
	return filepath.Join(repoRoot, ".triage")
}

// EffectiveEditor returns the editor command: the config value when set,
// otherwise $EDITOR from env.
func (c Config) EffectiveEditor(env []string) string {
	if c.Editor != "" {
		return c.Editor
	}
	for _, e := range env {
		if strings.HasPrefix(e, "EDITOR=") {
			return strings.TrimSpace(e[len("EDITOR="):])
		}
	}
	return ""
}

// Load loads configuration with precedence: defaults < global file < repo file < env < overrides.
// Missing config files are ignored. Invalid TOML or invalid env values return an error.
func Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	if opts.Env == nil {
		opts.Env = os.Environ()
	}
	cfg := DefaultConfig()

	globalPath := opts.GlobalConfigPath
	if globalPath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, erruser.New("Could not determine config directory.", err)
		}
		globalPath = filepath.Join(dir, "triage", "config.toml")
	}
	if err := mergeFile(&cfg, globalPath); err != nil {
		return nil, err
	}

	if opts.RepoRoot != "" {
		repoPath := filepath.Join(opts.RepoRoot, ".triage", "config.toml")
		if err := mergeFile(&cfg, repoPath); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(&cfg, opts.Env); err != nil {
		return nil, err
	}

	applyOverrides(&cfg, opts.Overrides)
	return &cfg, nil
}

// mergeFile reads path and merges into cfg. Only overwrites fields that are
// present and non-zero in the file. Missing file is skipped (no error).
func mergeFile(cfg *Config, path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return erruser.New("Invalid configuration file.", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return erruser.New("Could not read configuration file.", err)
	}
	var file struct {
		ReportPath         *string `toml:"report_path"`
		StateDir           *string `toml:"state_dir"`
		Editor             *string `toml:"editor"`
		GeminiExecutable   *string `toml:"gemini_executable"`
		GeminiModel        *string `toml:"gemini_model"`
		GeminiApprovalMode *string `toml:"gemini_approval_mode"`
		CursorExecutable   *string `toml:"cursor_executable"`
		ContextLines       *int64  `toml:"context_lines"`
		HistoryMaxRecords  *int64  `toml:"history_max_records"`
		WatchAddr          *string `toml:"watch_addr"`
	}
	if _, err := toml.Decode(string(data), &file); err != nil {
		return erruser.New("Invalid configuration in .triage/config.toml.", err)
	}
	if file.ReportPath != nil {
		cfg.ReportPath = *file.ReportPath
	}
	if file.StateDir != nil {
		cfg.StateDir = *file.StateDir
	}
	if file.Editor != nil {
		cfg.Editor = *file.Editor
	}
	if file.GeminiExecutable != nil && *file.GeminiExecutable != "" {
		cfg.GeminiExecutable = *file.GeminiExecutable
	}
	if file.GeminiModel != nil && *file.GeminiModel != "" {
		cfg.GeminiModel = *file.GeminiModel
	}
	if file.GeminiApprovalMode != nil && *file.GeminiApprovalMode != "" {
		cfg.GeminiApprovalMode = *file.GeminiApprovalMode
	}
	if file.CursorExecutable != nil && *file.CursorExecutable != "" {
		cfg.CursorExecutable = *file.CursorExecutable
	}
	if file.ContextLines != nil && *file.ContextLines >= 0 {
		v, err := int64ToInt(*file.ContextLines)
		if err != nil {
			return erruser.New("Configuration context_lines value out of range.", err)
		}
		cfg.ContextLines = v
	}
	if file.HistoryMaxRecords != nil && *file.HistoryMaxRecords >= 0 {
		v, err := int64ToInt(*file.HistoryMaxRecords)
		if err != nil {
			return erruser.New("Configuration history_max_records value out of range.", err)
		}
		cfg.HistoryMaxRecords = v
	}
	if file.WatchAddr != nil && *file.WatchAddr != "" {
		cfg.WatchAddr = *file.WatchAddr
	}
	return nil
}

// env key names for config
const (
	envReportPath         = "TRIAGE_REPORT_PATH"
	envStateDir           = "TRIAGE_STATE_DIR"
	envEditor             = "TRIAGE_EDITOR"
	envGeminiExecutable   = "TRIAGE_GEMINI_EXECUTABLE"
	envGeminiModel        = "TRIAGE_GEMINI_MODEL"
	envGeminiApprovalMode = "TRIAGE_GEMINI_APPROVAL_MODE"
	envCursorExecutable   = "TRIAGE_CURSOR_EXECUTABLE"
	envContextLines       = "TRIAGE_CONTEXT_LINES"
	envHistoryMaxRecords  = "TRIAGE_HISTORY_MAX_RECORDS"
	envWatchAddr          = "TRIAGE_WATCH_ADDR"
)

func applyEnv(cfg *Config, env []string) error {
	vals := make(map[string]string)
	for _, e := range env {
		idx := strings.Index(e, "=")
		if idx <= 0 {
			continue
		}
		vals[strings.TrimSpace(e[:idx])] = strings.TrimSpace(e[idx+1:])
	}
	if v, ok := vals[envReportPath]; ok {
		cfg.ReportPath = v
	}
	if v, ok := vals[envStateDir]; ok {
		cfg.StateDir = v
	}
	if v, ok := vals[envEditor]; ok {
		cfg.Editor = v
	}
	if v, ok := vals[envGeminiExecutable]; ok && v != "" {
		cfg.GeminiExecutable = v
	}
	if v, ok := vals[envGeminiModel]; ok && v != "" {
		cfg.GeminiModel = v
	}
	if v, ok := vals[envGeminiApprovalMode]; ok && v != "" {
		cfg.GeminiApprovalMode = v
	}
	if v, ok := vals[envCursorExecutable]; ok && v != "" {
		cfg.CursorExecutable = v
	}
	if v, ok := vals[envContextLines]; ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return erruser.New("TRIAGE_CONTEXT_LINES must be a valid number.", err)
		}
		if n < 0 {
			return erruser.New("TRIAGE_CONTEXT_LINES must be non-negative.", nil)
		}
		cfg.ContextLines, err = int64ToInt(n)
		if err != nil {
			return erruser.New("TRIAGE_CONTEXT_LINES value out of range.", err)
		}
	}
	if v, ok := vals[envHistoryMaxRecords]; ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return erruser.New("TRIAGE_HISTORY_MAX_RECORDS must be a valid number.", err)
		}
		if n < 0 {
			return erruser.New("TRIAGE_HISTORY_MAX_RECORDS must be non-negative.", nil)
		}
		cfg.HistoryMaxRecords, err = int64ToInt(n)
		if err != nil {
			return erruser.New("TRIAGE_HISTORY_MAX_RECORDS value out of range.", err)
		}
	}
	if v, ok := vals[envWatchAddr]; ok && v != "" {
		cfg.WatchAddr = v
	}
	return nil
}

func applyOverrides(cfg *Config, o *Overrides) {
	if o == nil {
		return
	}
	if o.ReportPath != nil {
		cfg.ReportPath = *o.ReportPath
	}
	if o.StateDir != nil {
		cfg.StateDir = *o.StateDir
	}
	if o.Editor != nil {
		cfg.Editor = *o.Editor
	}
	if o.GeminiExecutable != nil && *o.GeminiExecutable != "" {
		cfg.GeminiExecutable = *o.GeminiExecutable
	}
	if o.GeminiModel != nil && *o.GeminiModel != "" {
		cfg.GeminiModel = *o.GeminiModel
	}
	if o.GeminiApprovalMode != nil && *o.GeminiApprovalMode != "" {
		cfg.GeminiApprovalMode = *o.GeminiApprovalMode
	}
	if o.CursorExecutable != nil && *o.CursorExecutable != "" {
		cfg.CursorExecutable = *o.CursorExecutable
	}
	if o.ContextLines != nil && *o.ContextLines >= 0 {
		cfg.ContextLines = *o.ContextLines
	}
	if o.HistoryMaxRecords != nil && *o.HistoryMaxRecords >= 0 {
		cfg.HistoryMaxRecords = *o.HistoryMaxRecords
	}
	if o.WatchAddr != nil && *o.WatchAddr != "" {
		cfg.WatchAddr = *o.WatchAddr
	}
}
