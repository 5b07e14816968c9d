package monitor

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robertcprice/agent-monitor/internal/model"
)

// aiderHistoryFile is the per-project chat history file PairAdapter scans
// for, per §4.3.3.
const aiderHistoryFile = ".aider.chat.history.md"

// pairMaxAge is the file-modification recency window used to filter
// candidate project roots, per §4.3.3.
const pairMaxAge = 7 * 24 * time.Hour

// PairAdapter implements Adapter for a terminal-based pair-programmer
// (e.g. aider-style), per §4.3.3.
type PairAdapter struct {
	toolName string
	roots    []string
}

// NewPairAdapter returns a PairAdapter scanning the fixed set of common
// development roots for toolName's chat history files.
func NewPairAdapter(toolName string) *PairAdapter {
	home, _ := os.UserHomeDir()
	return &PairAdapter{
		toolName: toolName,
		roots: []string{
			filepath.Join(home, "projects"),
			filepath.Join(home, "dev"),
			filepath.Join(home, "code"),
			filepath.Join(home, "workspace"),
			home,
		},
	}
}

func (p *PairAdapter) Name() string              { return "pair" }
func (p *PairAdapter) AgentKind() model.AgentKind { return model.PairStyle }
func (p *PairAdapter) Health() HealthStatus       { return StatusHealthy }

func (p *PairAdapter) Capabilities() Capabilities {
	return Capabilities{HistoricalData: true, RealTimeEvents: false, TokenTracking: true, CostTracking: true}
}

func (p *PairAdapter) Start() error { return nil }
func (p *PairAdapter) Stop()        {}

// DiscoverSessions scans the fixed development roots for per-project chat
// history files modified within the last 7 days, and enumerates live
// processes whose command line contains the tool name but not a
// hyphenated sub-tool prefix (e.g. "aider-lint"), deduplicated by
// project_path, per §4.3.3.
func (p *PairAdapter) DiscoverSessions() ([]*model.Session, error) {
	byProject := make(map[string]*model.Session)
	cutoff := time.Now().Add(-pairMaxAge)

	seen := make(map[string]bool)
	for _, root := range p.roots {
		if seen[root] {
			continue
		}
		seen[root] = true
		p.scanRoot(root, cutoff, byProject)
	}

	procs, err := listProcesses()
	if err != nil {
		log.Printf("[pair] process enumeration failed: %v", err)
	} else {
		for _, proc := range procs {
			if !containsToolName(proc.Cmdline, p.toolName) {
				continue
			}
			if proc.Cwd == "" {
				continue
			}
			if _, exists := byProject[proc.Cwd]; exists {
				continue
			}
			now := time.Now().UTC()
			sess := &model.Session{
				ID:             "pair:" + proc.Cwd,
				AgentKind:      model.PairStyle,
				ExternalID:     fmt.Sprintf("pid-%d", proc.PID),
				ProjectPath:    proc.Cwd,
				Status:         model.StatusActive,
				StartedAt:      now,
				LastActivityAt: now,
				PID:            int(proc.PID),
				Metadata:       map[string]any{"source": "process"},
			}
			if m := cmdlineFlag(proc.Cmdline, "--model"); m != "" {
				sess.ModelID = m
			}
			byProject[proc.Cwd] = sess
		}
	}

	out := make([]*model.Session, 0, len(byProject))
	for _, s := range byProject {
		out = append(out, s)
	}
	return out, nil
}

// containsToolName reports whether cmdline contains toolName as a whole
// word, but not as a hyphenated sub-tool prefix like "toolName-lint".
func containsToolName(cmdline, toolName string) bool {
	for _, field := range strings.Fields(cmdline) {
		base := filepath.Base(field)
		if base == toolName {
			return true
		}
	}
	return false
}

func (p *PairAdapter) scanRoot(root string, cutoff time.Time, byProject map[string]*model.Session) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		projectPath := filepath.Join(root, entry.Name())
		historyPath := filepath.Join(projectPath, aiderHistoryFile)

		info, err := os.Stat(historyPath)
		if err != nil || info.ModTime().Before(cutoff) {
			continue
		}
		if _, exists := byProject[projectPath]; exists {
			continue
		}

		now := time.Now().UTC()
		byProject[projectPath] = &model.Session{
			ID:             "pair:" + projectPath,
			AgentKind:      model.PairStyle,
			ExternalID:     historyPath,
			ProjectPath:    projectPath,
			Status:         model.StatusCompleted,
			StartedAt:      info.ModTime(),
			LastActivityAt: info.ModTime(),
			Metadata:       map[string]any{"source": "chat_history"},
		}
	}
}
