//go:build unix

package term

import (
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// writeViewerScript writes a self-deleting shell script next to outputPath
// that cats the output, waits for Enter, then removes both files.
func writeViewerScript(outputPath string) (string, error) {
	scriptPath := strings.TrimSuffix(outputPath, ".txt") + ".sh"
	quoted := shQuote(outputPath)
	script := "#!/usr/bin/env bash\n" +
		"set -e\n" +
		"if [ -f " + quoted + " ]; then\n" +
		"    cat " + quoted + "\n" +
		"else\n" +
		"    echo \"AI output file not found.\"\n" +
		"fi\n" +
		"echo\n" +
		"read -r -p \"Press Enter to close this window...\" _\n" +
		"rm -f " + quoted + "\n" +
		"rm -f -- \"$0\"\n"
	if err := os.WriteFile(scriptPath, []byte(script), 0700); err != nil {
		return "", err
	}
	return scriptPath, nil
}

// terminalCandidates are tried in order on non-darwin systems. Each entry
// runs the viewer script via "bash <script>" after its option.
var terminalCandidates = []struct {
	binary string
	option string
}{
	{"x-terminal-emulator", "-e"},
	{"gnome-terminal", "--"},
	{"konsole", "-e"},
	{"xfce4-terminal", "-e"},
	{"mate-terminal", "-e"},
	{"alacritty", "-e"},
	{"kitty", "-e"},
	{"terminator", "-e"},
	{"tilix", "-e"},
	{"xterm", "-e"},
}

func launchViewer(scriptPath string) error {
	if runtime.GOOS == "darwin" {
		osa := "tell application \"Terminal\"\n" +
			"activate\n" +
			"do script \"bash " + shQuote(scriptPath) + "\"\n" +
			"end tell"
		cmd := exec.Command("osascript", "-e", osa)
		if err := cmd.Start(); err == nil {
			go func() { _ = cmd.Wait() }()
			return nil
		}
	}
	for _, c := range terminalCandidates {
		terminal, err := exec.LookPath(c.binary)
		if err != nil {
			continue
		}
		cmd := exec.Command(terminal, c.option, "bash", scriptPath)
		if err := cmd.Start(); err != nil {
			continue
		}
		go func() { _ = cmd.Wait() }()
		return nil
	}
	return errNoTerminal
}

// shQuote wraps s in single quotes for safe interpolation into a shell
// script, escaping embedded single quotes.
func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}
