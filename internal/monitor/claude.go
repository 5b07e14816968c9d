package monitor

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robertcprice/agent-monitor/internal/bus"
	"github.com/robertcprice/agent-monitor/internal/model"
	"github.com/robertcprice/agent-monitor/internal/storageerr"
	"github.com/robertcprice/agent-monitor/internal/store"
)

// claudeSession is the in-memory, per-project tracking record the
// ClaudeAdapter accumulates from history.jsonl and per-project log tails.
// Sessions are keyed by project string, not by sessionId (§9's deliberate
// single-session-per-project collapse).
type claudeSession struct {
	sess *model.Session
}

// ClaudeAdapter implements Adapter for a Claude-style CLI: history.jsonl,
// per-project session files, and live process inventory (§4.3.1).
type ClaudeAdapter struct {
	homeDir     string
	projectsDir string
	store       *store.Store
	bus         *bus.Bus
	health      *sourceHealth

	mu       sync.RWMutex // guards sessions and offsets; writer-preferring per §5
	sessions map[string]*claudeSession
	offsets  map[string]int64

	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
}

// NewClaudeAdapter returns a ClaudeAdapter rooted at homeDir (the tool's
// home directory, containing history.jsonl and a projects/ subtree).
func NewClaudeAdapter(homeDir string, st *store.Store, b *bus.Bus, healthThreshold int) *ClaudeAdapter {
	return &ClaudeAdapter{
		homeDir:     homeDir,
		projectsDir: filepath.Join(homeDir, "projects"),
		store:       st,
		bus:         b,
		health:      newSourceHealth(healthThreshold),
		sessions:    make(map[string]*claudeSession),
		offsets:     make(map[string]int64),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

func (c *ClaudeAdapter) Name() string              { return "claude" }
func (c *ClaudeAdapter) AgentKind() model.AgentKind { return model.ClaudeStyle }
func (c *ClaudeAdapter) Health() HealthStatus       { return c.health.status() }

func (c *ClaudeAdapter) Capabilities() Capabilities {
	return Capabilities{HistoricalData: true, RealTimeEvents: true, TokenTracking: true, CostTracking: true}
}

func (c *ClaudeAdapter) historyPath() string {
	return filepath.Join(c.homeDir, "history.jsonl")
}

// Start runs discovery once, registers the recursive filesystem watcher,
// seeds the per-file offset map to current file lengths, and spawns the
// periodic process scanner, per §4.3.1's numbered startup sequence.
func (c *ClaudeAdapter) Start() error {
	sessions, err := c.DiscoverSessions()
	if err != nil {
		c.health.recordDiscoverFailure(err)
		log.Printf("[claude] discover failed: %v", err)
	} else {
		c.health.recordDiscoverSuccess()
		for _, s := range sessions {
			if err := c.store.UpsertSession(s); err != nil {
				log.Printf("[claude] upsert failed for %s: %v", s.ProjectPath, err)
			}
		}
	}

	c.seedOffset(c.historyPath())
	c.seedOffsetsUnderProjects()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[claude] %v", storageerr.Wrap(storageerr.FilesystemWatch, err))
	} else {
		c.watcher = w
		if err := w.Add(c.homeDir); err != nil {
			log.Printf("[claude] %v", storageerr.Wrap(storageerr.FilesystemWatch, err))
		}
		c.addProjectWatches()
	}

	c.mu.Lock()
	c.running = true
	c.mu.Unlock()

	if c.watcher != nil {
		go c.watchLoop()
	}
	go c.processScanLoop()

	return nil
}

func (c *ClaudeAdapter) addProjectWatches() {
	filepath.Walk(c.projectsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || !info.IsDir() {
			return nil
		}
		if addErr := c.watcher.Add(path); addErr != nil {
			log.Printf("[claude] %v", storageerr.Wrap(storageerr.FilesystemWatch, addErr))
		}
		return nil
	})
}

func (c *ClaudeAdapter) seedOffset(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.offsets[path] = info.Size()
	c.mu.Unlock()
}

func (c *ClaudeAdapter) seedOffsetsUnderProjects() {
	filepath.Walk(c.projectsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() || !strings.HasSuffix(path, ".jsonl") {
			return nil
		}
		c.seedOffset(path)
		return nil
	})
}

// Stop signals the watch and scan loops to exit and waits for the watch
// loop to finish, per §5's one-shot stop-channel contract.
func (c *ClaudeAdapter) Stop() {
	c.mu.Lock()
	running := c.running
	c.running = false
	c.mu.Unlock()
	if !running {
		return
	}

	close(c.stopCh)
	if c.watcher != nil {
		<-c.doneCh
		c.watcher.Close()
	}
}

func (c *ClaudeAdapter) watchLoop() {
	defer close(c.doneCh)
	for {
		select {
		case <-c.stopCh:
			return
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if ev.Name == c.historyPath() || (strings.HasSuffix(ev.Name, ".jsonl") && strings.HasPrefix(ev.Name, c.projectsDir)) {
				c.handleFileEvent(ev.Name)
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[claude] watcher error: %v", err)
		}
	}
}

func (c *ClaudeAdapter) processScanLoop() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.scanProcesses()
		}
	}
}

func (c *ClaudeAdapter) scanProcesses() {
	procs, err := listProcesses()
	if err != nil {
		log.Printf("[claude] process scan failed: %v", err)
		return
	}
	for _, p := range procs {
		if !matchesExecutable(p, "claude") || p.Cwd == "" {
			continue
		}
		c.mu.RLock()
		_, known := c.sessions[p.Cwd]
		c.mu.RUnlock()
		if known {
			continue
		}
		sess := c.newSessionLocked(p.Cwd, fmt.Sprintf("pid-%d", p.PID), "process_scan")
		sess.Status = model.StatusActive
		sess.PID = int(p.PID)
		if err := c.store.UpsertSession(sess); err != nil {
			log.Printf("[claude] upsert failed for process session %s: %v", p.Cwd, err)
		}
	}
}

// tailWindow is the bounded number of trailing lines re-parsed on each
// filesystem change (§4.3.1, the glossary's "tail window").
const tailWindow = 50

// handleFileEvent reads the tail of the changed file and processes at most
// the last tailWindow lines; a complete re-scan is intentionally avoided.
func (c *ClaudeAdapter) handleFileEvent(path string) {
	lines, err := readTailLines(path, tailWindow)
	if err != nil {
		c.health.recordParseFailure(path, err)
		log.Printf("[claude] %v", storageerr.Wrap(storageerr.FilesystemWatch, err))
		return
	}
	c.health.recordParseSuccess(path)

	for _, line := range lines {
		c.processEntry(line, "file_watch")
	}
}

// readTailLines returns at most the last n non-empty lines of path.
func readTailLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		buf = append(buf, line)
		if len(buf) > n {
			buf = buf[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return buf, nil
}

// claudeEntry mirrors the subset of a history.jsonl / session-file line this
// adapter understands. Fields are intentionally permissive; malformed or
// partially-populated lines are skipped rather than treated as fatal.
type claudeEntry struct {
	Type      string          `json:"type"`
	Cwd       string          `json:"cwd"`
	Project   string          `json:"project"`
	SessionID string          `json:"sessionId"`
	Timestamp string          `json:"timestamp"`
	Display   string          `json:"display"`
	Message   *claudeMessage  `json:"message"`
}

type claudeMessage struct {
	Role    string          `json:"role"`
	Model   string          `json:"model"`
	Content json.RawMessage `json:"content"`
	Usage   *claudeUsage    `json:"usage"`
}

type claudeUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

type claudeContentBlock struct {
	Type     string          `json:"type"`
	Text     string          `json:"text"`
	Thinking string          `json:"thinking"`
	Name     string          `json:"name"`
	Input    json.RawMessage `json:"input"`
	Content  string          `json:"content"`
}

// processEntry applies the per-entry processing rules of §4.3.1 to one raw
// JSON line, upserting the Session and emitting + storing + publishing the
// derived Event. Malformed lines are skipped silently.
func (c *ClaudeAdapter) processEntry(line, source string) {
	var entry claudeEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		c.health.recordParseFailure(source, storageerr.Wrap(storageerr.SourceFormat, err))
		return
	}

	project := entry.Cwd
	if project == "" {
		project = entry.Project
	}
	if project == "" {
		return
	}
	if entry.Type == "file-history-snapshot" {
		return
	}

	c.mu.Lock()
	cs, ok := c.sessions[project]
	var sess *model.Session
	if !ok {
		sess = c.newSessionLocked(project, entry.SessionID, source)
	} else {
		sess = cs.sess
	}

	sess.MessageCount++
	sess.Status = model.StatusActive

	ts := parseTimestamp(entry.Timestamp)
	sess.LastActivityAt = ts

	var tokensIn, tokensOut int64
	if entry.Message != nil {
		if entry.Message.Usage != nil {
			tokensIn = entry.Message.Usage.InputTokens
			tokensOut = entry.Message.Usage.OutputTokens
			sess.TokensInput += tokensIn
			sess.TokensOutput += tokensOut
		}
		if entry.Message.Model != "" && sess.ModelID == "" {
			sess.ModelID = entry.Message.Model
		}
	}
	sess.RecomputeCost()

	var (
		content  string
		toolName string
	)
	if entry.Message != nil {
		content, toolName = renderMessageContent(entry.Message)
		if toolName != "" && entry.Type == "assistant" {
			sess.ToolCallCount++
		}
	}
	if content == "" {
		content = entry.Display
	}

	if err := c.store.UpsertSession(sess); err != nil {
		log.Printf("[claude] upsert failed for %s: %v", project, err)
	}
	c.mu.Unlock()

	kind := model.EventCustom
	if entry.Message != nil {
		switch entry.Message.Role {
		case "user":
			kind = model.EventPromptReceived
		case "assistant":
			kind = model.EventResponseGenerated
		}
	}

	ev := &model.Event{
		SessionID:        sess.ID,
		EventKind:        kind,
		Timestamp:        ts,
		AgentKind:        model.ClaudeStyle,
		Content:          content,
		WorkingDirectory: project,
		ToolName:         toolName,
		TokensInput:      tokensIn,
		TokensOutput:     tokensOut,
	}
	ev.ID = model.StableID(ev.SessionID, ev.Timestamp, ev.EventKind, ev.Content)

	if err := c.store.InsertEvent(ev); err != nil {
		log.Printf("[claude] insert event failed: %v", err)
		return
	}
	c.bus.Publish(*ev)
}

// newSessionLocked creates and registers a new claudeSession for project.
// Caller must hold c.mu.
func (c *ClaudeAdapter) newSessionLocked(project, externalID, source string) *model.Session {
	now := time.Now().UTC()
	sess := &model.Session{
		ID:             fmt.Sprintf("claude:%s", project),
		AgentKind:      model.ClaudeStyle,
		ExternalID:     externalID,
		ProjectPath:    project,
		Status:         model.StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
		Metadata:       map[string]any{"source": source},
	}
	c.sessions[project] = &claudeSession{sess: sess}
	return sess
}

// renderMessageContent assembles event content from a message's content
// blocks, per §4.3.1's role-independent rendering algorithm, and returns
// the tool name used in a tool_use block (if any). It runs regardless of
// entry role: tool_result blocks arrive on "user"-typed entries in real
// session files, not just "assistant"-typed ones.
func renderMessageContent(msg *claudeMessage) (content string, toolName string) {
	var blocks []claudeContentBlock
	if err := json.Unmarshal(msg.Content, &blocks); err != nil {
		return renderContent(msg.Content), ""
	}

	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, b.Text)
		case "thinking":
			parts = append(parts, "[THINKING]\n"+b.Thinking)
		case "tool_use":
			toolName = b.Name
			parts = append(parts, fmt.Sprintf("[TOOL: %s]\n%s", b.Name, prettyJSON(b.Input)))
		case "tool_result":
			parts = append(parts, "[RESULT]\n"+b.Content)
		}
	}
	return strings.Join(parts, "\n"), toolName
}

// renderContent renders message.content when it is a plain JSON string.
func renderContent(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func prettyJSON(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Now().UTC()
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Now().UTC()
	}
	return t.UTC()
}

// DiscoverSessions reads up to the last 1000 lines of history.jsonl,
// groups entries by project, and produces one Session per project plus one
// synthesized Session per matching live process, deduplicated by
// project_path, per §4.3.1's historical backfill algorithm.
func (c *ClaudeAdapter) DiscoverSessions() ([]*model.Session, error) {
	byProject := make(map[string]*model.Session)

	lines, err := readTailLines(c.historyPath(), 1000)
	if err == nil {
		for _, line := range lines {
			var entry claudeEntry
			if json.Unmarshal([]byte(line), &entry) != nil {
				continue
			}
			project := entry.Cwd
			if project == "" {
				project = entry.Project
			}
			if project == "" || entry.Type == "file-history-snapshot" {
				continue
			}

			sess, ok := byProject[project]
			if !ok {
				now := time.Now().UTC()
				sess = &model.Session{
					ID:             fmt.Sprintf("claude:%s", project),
					AgentKind:      model.ClaudeStyle,
					ExternalID:     entry.SessionID,
					ProjectPath:    project,
					StartedAt:      now,
					LastActivityAt: now,
					Metadata:       map[string]any{"source": "history"},
				}
				byProject[project] = sess
			}

			sess.MessageCount++
			ts := parseTimestamp(entry.Timestamp)
			if ts.After(sess.LastActivityAt) || sess.MessageCount == 1 {
				sess.LastActivityAt = ts
			}
			if entry.Message != nil && entry.Message.Usage != nil {
				sess.TokensInput += entry.Message.Usage.InputTokens
				sess.TokensOutput += entry.Message.Usage.OutputTokens
			}
			sess.RecomputeCost()
		}
	}

	for _, sess := range byProject {
		if time.Since(sess.LastActivityAt) <= 30*time.Minute {
			sess.Status = model.StatusActive
		} else {
			sess.Status = model.StatusCompleted
		}
	}

	procs, err := listProcesses()
	if err != nil {
		log.Printf("[claude] process enumeration failed during discovery: %v", err)
	} else {
		for _, p := range procs {
			if !matchesExecutable(p, "claude") || p.Cwd == "" {
				continue
			}
			if _, exists := byProject[p.Cwd]; exists {
				continue
			}
			now := time.Now().UTC()
			byProject[p.Cwd] = &model.Session{
				ID:             fmt.Sprintf("claude:%s", p.Cwd),
				AgentKind:      model.ClaudeStyle,
				ExternalID:     fmt.Sprintf("pid-%d", p.PID),
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
