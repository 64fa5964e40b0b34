package cli

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestDemoCmd_RunsToExhaustion(t *testing.T) {
	cmd := NewDemoCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--count", "2", "--delay", "10ms"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("demo: %v", err)
	}

	text := out.String()
	if got := strings.Count(text, "hello, visitor"); got != 2 {
		t.Errorf("demo greeted %d visitors, want 2:\n%s", got, text)
	}
	if !strings.Contains(text, "hello, the scheduler") {
		t.Errorf("demo missing the scheduled greeting:\n%s", text)
	}
	if !strings.Contains(text, "exhausted") {
		t.Errorf("demo did not report exhaustion:\n%s", text)
	}
}

func TestKVCmd_SetAndGet(t *testing.T) {
	db := filepath.Join(t.TempDir(), "kv.db")

	set := NewKVCmd()
	var out bytes.Buffer
	set.SetOut(&out)
	set.SetErr(&out)
	set.SetArgs([]string{"set", "/app/name", "demo", "--db", db})
	if err := set.Execute(); err != nil {
		t.Fatalf("kv set: %v", err)
	}

	get := NewKVCmd()
	out.Reset()
	get.SetOut(&out)
	get.SetErr(&out)
	get.SetArgs([]string{"get", "/app", "--db", db})
	if err := get.Execute(); err != nil {
		t.Fatalf("kv get: %v", err)
	}
	if !strings.Contains(out.String(), "/app/name\tdemo") {
		t.Errorf("kv get output %q, want the stored entry", out.String())
	}
}

func TestExitError(t *testing.T) {
	err := exitError(exitConfig, "bad %s", "config")
	if err.Code != exitConfig {
		t.Errorf("Code = %d, want %d", err.Code, exitConfig)
	}
	if err.Error() != "bad config" {
		t.Errorf("Error() = %q, want %q", err.Error(), "bad config")
	}
}
