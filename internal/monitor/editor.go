package monitor

import (
	"encoding/json"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/robertcprice/agent-monitor/internal/model"
)

// EditorAdapter implements Adapter for a VSCode-derivative editor, per
// §4.3.2. It has no structured event log to tail: capabilities advertise
// real_time_events=false, token_tracking=false, cost_tracking=false.
type EditorAdapter struct {
	appSupportDir string
	binaryName    string
}

// NewEditorAdapter returns an EditorAdapter rooted at the platform's
// application-support directory for the given editor binary name (e.g.
// "Cursor").
func NewEditorAdapter(binaryName string) *EditorAdapter {
	return &EditorAdapter{
		appSupportDir: editorAppSupportDir(binaryName),
		binaryName:    binaryName,
	}
}

// editorAppSupportDir resolves the platform-dependent application-support
// directory mapping of §6: macOS under "Library/Application Support",
// Linux under ".config", Windows under "AppData/Roaming", otherwise a
// dotted fallback directory.
func editorAppSupportDir(binaryName string) string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", binaryName)
	case "linux":
		return filepath.Join(home, ".config", binaryName)
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", binaryName)
	default:
		return filepath.Join(home, "."+strings.ToLower(binaryName))
	}
}

func (e *EditorAdapter) Name() string              { return "editor" }
func (e *EditorAdapter) AgentKind() model.AgentKind { return model.EditorStyle }
func (e *EditorAdapter) Health() HealthStatus       { return StatusHealthy }

func (e *EditorAdapter) Capabilities() Capabilities {
	return Capabilities{HistoricalData: true, RealTimeEvents: false, TokenTracking: false, CostTracking: false}
}

// Start performs a one-shot presence check of the application state
// database; the editor adapter has nothing to watch (no file tailing, per
// §4.3.2), so there is no background loop to spawn.
func (e *EditorAdapter) Start() error {
	dbPath := filepath.Join(e.appSupportDir, "state.vscdb")
	if _, err := os.Stat(dbPath); err != nil {
		log.Printf("[editor] state database not found at %s (continuing without it)", dbPath)
	}
	return nil
}

func (e *EditorAdapter) Stop() {}

type workspaceJSON struct {
	Folder string `json:"folder"`
}

// DiscoverSessions decodes each workspaceStorage/*/workspace.json "folder"
// URL into a path and synthesizes a Session, then enumerates matching live
// processes whose cwd falls outside the app-support tree, deduplicated by
// project_path, per §4.3.2.
func (e *EditorAdapter) DiscoverSessions() ([]*model.Session, error) {
	byProject := make(map[string]*model.Session)

	workspaceRoot := filepath.Join(e.appSupportDir, "User", "workspaceStorage")
	entries, err := os.ReadDir(workspaceRoot)
	if err == nil {
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			wsPath := filepath.Join(workspaceRoot, entry.Name(), "workspace.json")
			data, err := os.ReadFile(wsPath)
			if err != nil {
				continue
			}
			var ws workspaceJSON
			if json.Unmarshal(data, &ws) != nil || ws.Folder == "" {
				continue
			}
			path, ok := decodeFolderURL(ws.Folder)
			if !ok {
				continue
			}
			if _, exists := byProject[path]; exists {
				continue
			}
			now := time.Now().UTC()
			byProject[path] = &model.Session{
				ID:             "editor:" + path,
				AgentKind:      model.EditorStyle,
				ExternalID:     entry.Name(),
				ProjectPath:    path,
				Status:         model.StatusUnknown,
				StartedAt:      now,
				LastActivityAt: now,
				Metadata:       map[string]any{"source": "workspace_storage"},
			}
		}
	}

	procs, err := listProcesses()
	if err != nil {
		log.Printf("[editor] process enumeration failed: %v", err)
	} else {
		for _, p := range procs {
			if !matchesExecutable(p, e.binaryName) {
				continue
			}
			if p.Cwd == "" || strings.HasPrefix(p.Cwd, e.appSupportDir) {
				continue
			}
			if _, exists := byProject[p.Cwd]; exists {
				continue
			}
			now := time.Now().UTC()
			byProject[p.Cwd] = &model.Session{
				ID:             "editor:" + p.Cwd,
				AgentKind:      model.EditorStyle,
				ExternalID:     p.Name,
				ProjectPath:    p.Cwd,
				Status:         model.StatusActive,
				StartedAt:      now,
				LastActivityAt: now,
				PID:            int(p.PID),
				Metadata:       map[string]any{"source": "process"},
			}
		}
	}

	out := make([]*model.Session, 0, len(byProject))
	for _, s := range byProject {
		out = append(out, s)
	}
	return out, nil
}

// decodeFolderURL decodes a percent-encoded file:// URL's path component.
func decodeFolderURL(folder string) (string, bool) {
	u, err := url.Parse(folder)
	if err != nil || u.Scheme != "file" {
		return "", false
	}
	path, err := url.PathUnescape(u.Path)
	if err != nil {
		return "", false
	}
	return path, true
}
