package privacy

import (
	"testing"

	"github.com/robertcprice/agent-monitor/internal/model"
)

func TestIsAllowedEmptyFilterAllowsEverything(t *testing.T) {
	f := &Filter{}
	if !f.IsAllowed("/home/user/project") {
		t.Fatal("zero-value filter must allow everything")
	}
}

func TestIsAllowedBlockList(t *testing.T) {
	f := &Filter{BlockedPaths: []string{"/home/user/secret*"}}
	if f.IsAllowed("/home/user/secret-project") {
		t.Fatal("expected block by pattern match on parent")
	}
	if !f.IsAllowed("/home/user/public") {
		t.Fatal("expected non-matching path to remain allowed")
	}
}

func TestIsAllowedAllowListThenBlockList(t *testing.T) {
	f := &Filter{
		AllowedPaths: []string{"/home/user/*"},
		BlockedPaths: []string{"/home/user/secret"},
	}
	if !f.IsAllowed("/home/user/work") {
		t.Fatal("expected allow-list match to pass")
	}
	if f.IsAllowed("/home/user/secret") {
		t.Fatal("expected block-list to override allow-list")
	}
	if f.IsAllowed("/etc/other") {
		t.Fatal("expected non-matching allow-list path to be rejected")
	}
}

func TestApplyMasksWithoutMutatingOriginal(t *testing.T) {
	f := &Filter{MaskWorkingDirs: true, MaskSessionIDs: true, MaskPIDs: true}
	s := &model.Session{ID: "abc123", ProjectPath: "/home/user/secret-project", PID: 42}
	masked := f.Apply(s)

	if masked.ProjectPath != "secret-project" {
		t.Fatalf("expected masked project path base name, got %q", masked.ProjectPath)
	}
	if masked.ID == "abc123" {
		t.Fatal("expected session id to be masked")
	}
	if masked.PID != 0 {
		t.Fatal("expected pid to be masked to zero")
	}
	if s.ProjectPath != "/home/user/secret-project" || s.PID != 42 {
		t.Fatal("Apply must not mutate the original session")
	}
}

func TestIsNoop(t *testing.T) {
	if !(&Filter{}).IsNoop() {
		t.Fatal("zero-value filter should be a no-op")
	}
	if (&Filter{MaskPIDs: true}).IsNoop() {
		t.Fatal("filter with masking enabled should not be a no-op")
	}
}
