//go:build unix

package term

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestShow_emptyText(t *testing.T) {
	t.Parallel()
	if Show("") {
		t.Error("Show(\"\") = true, want false")
	}
	if Show("   \n\t") {
		t.Error("Show(whitespace) = true, want false")
	}
}

func TestWriteViewerScript(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	outputPath := filepath.Join(dir, "out.txt")
	if err := os.WriteFile(outputPath, []byte("hello"), 0600); err != nil {
		t.Fatal(err)
	}
	scriptPath, err := writeViewerScript(outputPath)
	if err != nil {
		t.Fatalf("writeViewerScript: %v", err)
	}
	if !strings.HasSuffix(scriptPath, ".sh") {
		t.Errorf("scriptPath = %q, want .sh suffix", scriptPath)
	}
	info, err := os.Stat(scriptPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0100 == 0 {
		t.Errorf("script not executable: %v", info.Mode())
	}
	data, err := os.ReadFile(scriptPath)
	if err != nil {
		t.Fatal(err)
	}
	script := string(data)
	for _, want := range []string{"#!/usr/bin/env bash", "cat " + shQuote(outputPath), "rm -f " + shQuote(outputPath), `rm -f -- "$0"`} {
		if !strings.Contains(script, want) {
			t.Errorf("script missing %q:\n%s", want, script)
		}
	}
}

func TestShQuote(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"/tmp/plain.txt", "'/tmp/plain.txt'"},
		{"/tmp/with space.txt", "'/tmp/with space.txt'"},
		{"/tmp/o'brien.txt", `'/tmp/o'\''brien.txt'`},
	}
	for _, tc := range tests {
		if got := shQuote(tc.in); got != tc.want {
			t.Errorf("shQuote(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
