package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigCommandPrintsMaterializedFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SUPERVISOR_CONFIG", filepath.Join(dir, "missing.yaml"))
	t.Setenv("ENV_FILE", filepath.Join(dir, "missing.env"))
	t.Setenv("INSTALL_DIR", filepath.Join(dir, "install"))
	t.Setenv("CONFIG_DIR", filepath.Join(dir, "config"))
	t.Setenv("SERVER_NAME", "Cmd Test")
	t.Setenv("RESTART_SCHEDULE", "")

	export := filepath.Join(dir, "export", "settings.yaml")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs([]string{"config", "--export", export})
	t.Cleanup(func() { exportSettingsPath = "" })

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("config command failed: %v", err)
	}

	if !strings.Contains(out.String(), `"name": "Cmd Test"`) {
		t.Fatalf("expected override in output, got %s", out.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "install", "enshrouded_server.json")); err != nil {
		t.Fatalf("expected install dir copy: %v", err)
	}
	data, err := os.ReadFile(export)
	if err != nil {
		t.Fatalf("expected exported settings: %v", err)
	}
	if !strings.Contains(string(data), "install_dir: "+filepath.Join(dir, "install")) {
		t.Fatalf("unexpected exported settings: %s", data)
	}
}

func TestExecutableState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.exe")

	if state := executableState(path); state["present"] != false {
		t.Fatalf("expected missing executable, got %v", state)
	}
	if err := os.WriteFile(path, []byte("MZ"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	state := executableState(path)
	if state["present"] != true || state["size"] != int64(2) {
		t.Fatalf("unexpected state: %v", state)
	}
}
