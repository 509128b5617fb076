//go:build windows

package term

import (
	"os"
	"os/exec"
	"strings"
)

// writeViewerScript writes a self-deleting PowerShell script next to
// outputPath that prints the output, waits for Enter, then removes both
// files.
func writeViewerScript(outputPath string) (string, error) {
	scriptPath := strings.TrimSuffix(outputPath, ".txt") + ".ps1"
	quoted := psQuote(outputPath)
	script := "$ErrorActionPreference = 'SilentlyContinue'\n" +
		"[Console]::OutputEncoding = [System.Text.Encoding]::UTF8\n" +
		"$outputPath = " + quoted + "\n" +
		"if (Test-Path -LiteralPath $outputPath) {\n" +
		"    Get-Content -Raw -Encoding UTF8 -LiteralPath $outputPath\n" +
		"} else {\n" +
		"    Write-Host 'AI output file not found.'\n" +
		"}\n" +
		"Write-Host ''\n" +
		"Write-Host 'Press Enter to close this window...'\n" +
		"[void][System.Console]::ReadLine()\n" +
		"Remove-Item -ErrorAction SilentlyContinue -LiteralPath $outputPath\n" +
		"Remove-Item -ErrorAction SilentlyContinue -LiteralPath $MyInvocation.MyCommand.Path\n"
	if err := os.WriteFile(scriptPath, []byte(script), 0600); err != nil {
		return "", err
	}
	return scriptPath, nil
}

func launchViewer(scriptPath string) error {
	powershell := ""
	for _, name := range []string{"powershell.exe", "pwsh", "powershell"} {
		if resolved, err := exec.LookPath(name); err == nil {
			powershell = resolved
			break
		}
	}
	if powershell == "" {
		return errNoTerminal
	}
	cmd := exec.Command(powershell, "-ExecutionPolicy", "Bypass", "-File", scriptPath)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

// psQuote wraps s in single quotes for PowerShell, doubling embedded single
// quotes.
func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
