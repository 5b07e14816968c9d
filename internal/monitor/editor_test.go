package monitor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestDecodeFolderURL(t *testing.T) {
	cases := []struct {
		name   string
		folder string
		want   string
		ok     bool
	}{
		{"plain path", "file:///home/user/my%20project", "/home/user/my project", true},
		{"no encoding", "file:///home/user/project", "/home/user/project", true},
		{"wrong scheme", "vscode-remote://ssh/home/user", "", false},
		{"not a url", "::::", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := decodeFolderURL(tc.folder)
			if ok != tc.ok {
				t.Fatalf("expected ok=%v, got %v", tc.ok, ok)
			}
			if ok && got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestEditorAppSupportDirMatchesCurrentOS(t *testing.T) {
	dir := editorAppSupportDir("TestEditor")
	if dir == "" {
		t.Fatal("expected a non-empty app support dir")
	}
	if filepath.Base(filepath.Dir(dir)) == "" {
		t.Fatal("expected app support dir to be nested under a parent directory")
	}

	home, _ := os.UserHomeDir()
	var want string
	switch runtime.GOOS {
	case "darwin":
		want = filepath.Join(home, "Library", "Application Support", "TestEditor")
	case "linux":
		want = filepath.Join(home, ".config", "TestEditor")
	case "windows":
		want = filepath.Join(home, "AppData", "Roaming", "TestEditor")
	default:
		want = filepath.Join(home, "."+strings.ToLower("TestEditor"))
	}
	if dir != want {
		t.Fatalf("expected app support dir %q on %s, got %q", want, runtime.GOOS, dir)
	}
}

func TestEditorAdapterDiscoverSessionsFromWorkspaceStorage(t *testing.T) {
	appSupport := t.TempDir()
	wsDir := filepath.Join(appSupport, "User", "workspaceStorage", "abc123")
	if err := os.MkdirAll(wsDir, 0o755); err != nil {
		t.Fatalf("failed to create workspace dir: %v", err)
	}

	projectDir := t.TempDir()
	ws := workspaceJSON{Folder: "file://" + projectDir}
	data, err := json.Marshal(ws)
	if err != nil {
		t.Fatalf("failed to marshal workspace.json: %v", err)
	}
	if err := os.WriteFile(filepath.Join(wsDir, "workspace.json"), data, 0o644); err != nil {
		t.Fatalf("failed to write workspace.json: %v", err)
	}

	adapter := &EditorAdapter{appSupportDir: appSupport, binaryName: "NoSuchEditorBinary"}
	sessions, err := adapter.DiscoverSessions()
	if err != nil {
		t.Fatalf("DiscoverSessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 discovered session, got %d", len(sessions))
	}
	if sessions[0].ProjectPath != projectDir {
		t.Fatalf("expected project path %q, got %q", projectDir, sessions[0].ProjectPath)
	}
}
