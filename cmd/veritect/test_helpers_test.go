package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestConfig(t *testing.T, base string) string {
	t.Helper()

	dataDir := filepath.Join(base, "data")
	outputDir := filepath.Join(base, "output")
	logDir := filepath.Join(base, "logs")
	content := fmt.Sprintf(
		"[paths]\ndata_dir = %q\noutput_dir = %q\nlog_dir = %q\n\n[training]\nepochs = 2\nbatch_size = 2\nframe_count = 4\nfeature_dim = 8\nhidden_dim = 16\n\n[dataset]\ntrain_videos = 4\nval_videos = 4\nframe_height = 4\nframe_width = 4\n",
		dataDir, outputDir, logDir,
	)
	path := filepath.Join(base, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	if configPath != "" {
		args = append([]string{"--config", configPath}, args...)
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
