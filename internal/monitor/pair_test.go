package monitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/robertcprice/agent-monitor/internal/model"
)

func TestContainsToolNameExactMatchOnly(t *testing.T) {
	cases := []struct {
		name    string
		cmdline string
		want    bool
	}{
		{"exact match", "/usr/bin/aider --model gpt", true},
		{"hyphenated sub-tool excluded", "/usr/bin/aider-lint --check", false},
		{"unrelated binary", "/usr/bin/vim file.go", false},
		{"match among multiple fields", "env FOO=bar aider --yes", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := containsToolName(tc.cmdline, "aider")
			if got != tc.want {
				t.Fatalf("containsToolName(%q, aider) = %v, want %v", tc.cmdline, got, tc.want)
			}
		})
	}
}

func TestScanRootRespectsMtimeCutoff(t *testing.T) {
	root := t.TempDir()

	freshProject := filepath.Join(root, "fresh")
	staleProject := filepath.Join(root, "stale")
	if err := os.MkdirAll(freshProject, 0o755); err != nil {
		t.Fatalf("failed to create fresh project dir: %v", err)
	}
	if err := os.MkdirAll(staleProject, 0o755); err != nil {
		t.Fatalf("failed to create stale project dir: %v", err)
	}

	freshHistory := filepath.Join(freshProject, aiderHistoryFile)
	staleHistory := filepath.Join(staleProject, aiderHistoryFile)
	if err := os.WriteFile(freshHistory, []byte("chat"), 0o644); err != nil {
		t.Fatalf("failed to write fresh history: %v", err)
	}
	if err := os.WriteFile(staleHistory, []byte("chat"), 0o644); err != nil {
		t.Fatalf("failed to write stale history: %v", err)
	}

	oldTime := time.Now().Add(-30 * 24 * time.Hour)
	if err := os.Chtimes(staleHistory, oldTime, oldTime); err != nil {
		t.Fatalf("failed to set stale mtime: %v", err)
	}

	p := &PairAdapter{toolName: "aider", roots: []string{root}}
	byProject := make(map[string]*model.Session)
	p.scanRoot(root, time.Now().Add(-pairMaxAge), byProject)

	if _, ok := byProject[freshProject]; !ok {
		t.Fatal("expected fresh project to be discovered")
	}
	if _, ok := byProject[staleProject]; ok {
		t.Fatal("expected stale project to be excluded by mtime cutoff")
	}
}

func TestCmdlineFlagExtractsModelFlag(t *testing.T) {
	cases := []struct {
		name    string
		cmdline string
		want    string
	}{
		{"space separated", "/usr/bin/aider --model gpt-4", "gpt-4"},
		{"equals separated", "/usr/bin/aider --model=gpt-4", "gpt-4"},
		{"flag absent", "/usr/bin/aider --yes", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := cmdlineFlag(tc.cmdline, "--model")
			if got != tc.want {
				t.Fatalf("cmdlineFlag(%q, --model) = %q, want %q", tc.cmdline, got, tc.want)
			}
		})
	}
}
