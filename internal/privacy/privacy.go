// Package privacy applies masking and path-based filtering to Sessions
// before they leave the core over IPC, HTTP, SSE or the Bridge.
package privacy

import (
	"crypto/sha256"
	"fmt"
	"path/filepath"

	"github.com/robertcprice/agent-monitor/internal/model"
)

// Filter applies masking and allow/block path filtering. The zero value is
// a no-op filter.
type Filter struct {
	MaskWorkingDirs bool
	MaskSessionIDs  bool
	MaskPIDs        bool
	AllowedPaths    []string
	BlockedPaths    []string
}

// IsAllowed reports whether a Session with the given project path should be
// exposed to clients. An empty path is always allowed (not yet resolved).
func (f *Filter) IsAllowed(projectPath string) bool {
	if projectPath == "" {
		return true
	}

	if len(f.AllowedPaths) > 0 {
		allowed := false
		for _, pattern := range f.AllowedPaths {
			if matchPathOrParent(pattern, projectPath) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	for _, pattern := range f.BlockedPaths {
		if matchPathOrParent(pattern, projectPath) {
			return false
		}
	}

	return true
}

// matchPathOrParent checks if pattern matches path or any of its parent
// directories, so a pattern like "/home/user/*" matches a nested project
// directory whose parent matches the glob.
func matchPathOrParent(pattern, path string) bool {
	for p := path; p != "." && p != "" && p != filepath.Dir(p); p = filepath.Dir(p) {
		if matched, _ := filepath.Match(pattern, p); matched {
			return true
		}
	}
	return false
}

// Apply returns a masked copy of s. The original is never modified.
func (f *Filter) Apply(s *model.Session) *model.Session {
	masked := s.Clone()

	if f.MaskWorkingDirs && masked.ProjectPath != "" {
		masked.ProjectPath = filepath.Base(masked.ProjectPath)
	}
	if f.MaskSessionIDs && masked.ID != "" {
		masked.ID = shortHash(masked.ID)
	}
	if f.MaskPIDs {
		masked.PID = 0
	}

	return masked
}

// FilterSlice returns a new slice of the allowed sessions with masking
// applied. The original slice is not modified.
func (f *Filter) FilterSlice(sessions []*model.Session) []*model.Session {
	out := make([]*model.Session, 0, len(sessions))
	for _, s := range sessions {
		if !f.IsAllowed(s.ProjectPath) {
			continue
		}
		out = append(out, f.Apply(s))
	}
	return out
}

// ApplyEvent returns a masked copy of ev. Events carry no project path of
// their own, so allow/block path filtering does not apply here; only the
// working-directory mask does.
func (f *Filter) ApplyEvent(ev *model.Event) *model.Event {
	if !f.MaskWorkingDirs || ev.WorkingDirectory == "" {
		return ev
	}
	masked := *ev
	masked.WorkingDirectory = filepath.Base(masked.WorkingDirectory)
	return &masked
}

// FilterEvents returns a new slice of events with masking applied. The
// original slice is not modified.
func (f *Filter) FilterEvents(events []*model.Event) []*model.Event {
	if f.IsNoop() {
		return events
	}
	out := make([]*model.Event, len(events))
	for i, ev := range events {
		out[i] = f.ApplyEvent(ev)
	}
	return out
}

// IsNoop reports whether the filter does nothing.
func (f *Filter) IsNoop() bool {
	return !f.MaskWorkingDirs && !f.MaskSessionIDs && !f.MaskPIDs &&
		len(f.AllowedPaths) == 0 && len(f.BlockedPaths) == 0
}

func shortHash(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h[:6])
}
