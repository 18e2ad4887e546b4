package app

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nuetzliches/sbinspect/internal/config"
)

func noEnv(string) (string, bool) { return "", false }

func TestScenariosValidate_BuiltinsJSON(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := scenariosValidate(nil, &stdout, &stderr, noEnv)
	if code != 0 {
		t.Fatalf("exit code=%d stderr=%q", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), `"ok": true`) {
		t.Fatalf("expected ok json, got %q", stdout.String())
	}
}

func TestScenariosValidate_FileText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenarios.yaml")
	writeScenarios(t, path, stagingScenarios)

	var stdout, stderr bytes.Buffer
	code := scenariosValidate([]string{"--file", path, "--format", "text"}, &stdout, &stderr, noEnv)
	if code != 0 {
		t.Fatalf("exit code=%d stderr=%q", code, stderr.String())
	}
	if got := strings.TrimSpace(stdout.String()); got != "scenarios ok" {
		t.Fatalf("stdout=%q", got)
	}
}

func TestScenariosValidate_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenarios.yaml")
	writeScenarios(t, path, "scenarios:\n  - name: Broken\n    connection_string: \"{$MISSING_SB}\"\n")

	var stdout, stderr bytes.Buffer
	code := scenariosValidate([]string{"--file", path}, &stdout, &stderr, noEnv)
	if code != 1 {
		t.Fatalf("exit code=%d, want 1", code)
	}
	if stdout.Len() != 0 {
		t.Fatalf("expected empty stdout, got %q", stdout.String())
	}
	if !strings.Contains(stderr.String(), `"ok": false`) {
		t.Fatalf("expected failed json on stderr, got %q", stderr.String())
	}
}

func TestScenariosValidate_EnvOverride(t *testing.T) {
	lookup := func(name string) (string, bool) {
		if name == config.EnvCustomConnectionString {
			return "garbage", true
		}
		return "", false
	}
	var stdout, stderr bytes.Buffer
	if code := scenariosValidate([]string{"--format", "text"}, &stdout, &stderr, lookup); code != 1 {
		t.Fatalf("exit code=%d, want 1", code)
	}
	if !strings.Contains(stderr.String(), config.EnvCustomConnectionString) {
		t.Fatalf("expected env var named in error, got %q", stderr.String())
	}
}

func TestScenariosValidate_MissingFileAndBadFormat(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := scenariosValidate([]string{"--file", filepath.Join(t.TempDir(), "nope.yaml")}, &stdout, &stderr, noEnv); code != 1 {
		t.Fatalf("missing file: exit code=%d, want 1", code)
	}
	if code := scenariosValidate([]string{"--format", "yaml"}, &stdout, &stderr, noEnv); code != 2 {
		t.Fatalf("bad format: exit code=%d, want 2", code)
	}
}
