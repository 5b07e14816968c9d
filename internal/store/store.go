// Package store persists Sessions and Events in a single local SQLite
// database file with upsert and dedup semantics, per §4.1.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robertcprice/agent-monitor/internal/model"
	"github.com/robertcprice/agent-monitor/internal/storageerr"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id                TEXT PRIMARY KEY,
	agent_kind        TEXT NOT NULL,
	external_id       TEXT NOT NULL,
	project_path      TEXT NOT NULL,
	status            TEXT NOT NULL,
	started_at        INTEGER NOT NULL,
	last_activity_at  INTEGER NOT NULL,
	ended_at          INTEGER,
	message_count     INTEGER NOT NULL DEFAULT 0,
	tool_call_count   INTEGER NOT NULL DEFAULT 0,
	file_operations   INTEGER NOT NULL DEFAULT 0,
	tokens_input      INTEGER NOT NULL DEFAULT 0,
	tokens_output     INTEGER NOT NULL DEFAULT 0,
	estimated_cost    REAL NOT NULL DEFAULT 0,
	model_id          TEXT NOT NULL DEFAULT '',
	pid               INTEGER NOT NULL DEFAULT 0,
	current_task      TEXT NOT NULL DEFAULT '',
	progress          REAL NOT NULL DEFAULT 0,
	metadata          TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_sessions_agent_kind ON sessions(agent_kind);

CREATE TABLE IF NOT EXISTS events (
	id                TEXT PRIMARY KEY,
	session_id        TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	event_kind        TEXT NOT NULL,
	timestamp         INTEGER NOT NULL,
	agent_kind        TEXT NOT NULL,
	content           TEXT NOT NULL DEFAULT '',
	working_directory TEXT NOT NULL DEFAULT '',
	tool_name         TEXT NOT NULL DEFAULT '',
	file_path         TEXT NOT NULL DEFAULT '',
	tokens_input      INTEGER NOT NULL DEFAULT 0,
	tokens_output     INTEGER NOT NULL DEFAULT 0,
	error_message     TEXT NOT NULL DEFAULT '',
	raw_payload       TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_events_session_id ON events(session_id);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
`

// Store is a SQLite-backed Session/Event store, safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures the schema exists. A modest connection pool is sufficient for a
// single-host daemon.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, storageerr.Wrap(storageerr.Storage, err)
	}
	db.SetMaxOpenConns(8)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, storageerr.Wrap(storageerr.Storage, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, storageerr.Wrap(storageerr.Storage, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, storageerr.Wrap(storageerr.Storage, err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertSession inserts s by primary key, or updates the mutable subset
// (status, last_activity_at, ended_at, counters, accumulators,
// current_task, progress, metadata) when it already exists. Immutable
// fields (id, agent_kind, external_id, project_path, started_at) are never
// overwritten by the update branch.
func (s *Store) UpsertSession(sess *model.Session) error {
	meta, err := json.Marshal(sess.Metadata)
	if err != nil {
		return storageerr.Wrap(storageerr.Storage, err)
	}

	var endedAt any
	if sess.EndedAt != nil {
		endedAt = sess.EndedAt.UnixMilli()
	}

	_, err = s.db.Exec(`
		INSERT INTO sessions (
			id, agent_kind, external_id, project_path, status,
			started_at, last_activity_at, ended_at,
			message_count, tool_call_count, file_operations,
			tokens_input, tokens_output, estimated_cost,
			model_id, pid, current_task, progress, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			last_activity_at = excluded.last_activity_at,
			ended_at = excluded.ended_at,
			message_count = excluded.message_count,
			tool_call_count = excluded.tool_call_count,
			file_operations = excluded.file_operations,
			tokens_input = excluded.tokens_input,
			tokens_output = excluded.tokens_output,
			estimated_cost = excluded.estimated_cost,
			model_id = CASE WHEN excluded.model_id = '' THEN sessions.model_id ELSE excluded.model_id END,
			pid = excluded.pid,
			current_task = excluded.current_task,
			progress = excluded.progress,
			metadata = excluded.metadata
	`,
		sess.ID, string(sess.AgentKind), sess.ExternalID, sess.ProjectPath, string(sess.Status),
		sess.StartedAt.UnixMilli(), sess.LastActivityAt.UnixMilli(), endedAt,
		sess.MessageCount, sess.ToolCallCount, sess.FileOperations,
		sess.TokensInput, sess.TokensOutput, sess.EstimatedCost,
		sess.ModelID, sess.PID, sess.CurrentTask, sess.Progress, string(meta),
	)
	if err != nil {
		return storageerr.Wrap(storageerr.Storage, err)
	}
	return nil
}

// InsertEvent inserts e if its id is new; it silently no-ops on a duplicate
// id. This is the dedup contract that makes re-reading log tails safe.
func (s *Store) InsertEvent(e *model.Event) error {
	raw, err := json.Marshal(e.RawPayload)
	if err != nil {
		return storageerr.Wrap(storageerr.Storage, err)
	}

	_, err = s.db.Exec(`
		INSERT OR IGNORE INTO events (
			id, session_id, event_kind, timestamp, agent_kind,
			content, working_directory, tool_name, file_path,
			tokens_input, tokens_output, error_message, raw_payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.SessionID, string(e.EventKind), e.Timestamp.UnixMilli(), string(e.AgentKind),
		e.Content, e.WorkingDirectory, e.ToolName, e.FilePath,
		e.TokensInput, e.TokensOutput, e.ErrorMessage, string(raw),
	)
	if err != nil {
		return storageerr.Wrap(storageerr.Storage, err)
	}
	return nil
}

const sessionColumns = `id, agent_kind, external_id, project_path, status,
	started_at, last_activity_at, ended_at,
	message_count, tool_call_count, file_operations,
	tokens_input, tokens_output, estimated_cost,
	model_id, pid, current_task, progress, metadata`

func scanSession(row interface{ Scan(...any) error }) (*model.Session, error) {
	var (
		sess        model.Session
		agentKind   string
		status      string
		startedAt   int64
		lastActive  int64
		endedAt     sql.NullInt64
		meta        string
	)
	if err := row.Scan(
		&sess.ID, &agentKind, &sess.ExternalID, &sess.ProjectPath, &status,
		&startedAt, &lastActive, &endedAt,
		&sess.MessageCount, &sess.ToolCallCount, &sess.FileOperations,
		&sess.TokensInput, &sess.TokensOutput, &sess.EstimatedCost,
		&sess.ModelID, &sess.PID, &sess.CurrentTask, &sess.Progress, &meta,
	); err != nil {
		return nil, err
	}
	sess.AgentKind = model.AgentKind(agentKind)
	sess.Status = model.Status(status)
	sess.StartedAt = time.UnixMilli(startedAt).UTC()
	sess.LastActivityAt = time.UnixMilli(lastActive).UTC()
	if endedAt.Valid {
		t := time.UnixMilli(endedAt.Int64).UTC()
		sess.EndedAt = &t
	}
	if meta != "" {
		_ = json.Unmarshal([]byte(meta), &sess.Metadata)
	}
	return &sess, nil
}

// GetSession returns the session with the given id, or nil if not found.
func (s *Store) GetSession(id string) (*model.Session, error) {
	row := s.db.QueryRow(fmt.Sprintf("SELECT %s FROM sessions WHERE id = ?", sessionColumns), id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageerr.Wrap(storageerr.Storage, err)
	}
	return sess, nil
}

func (s *Store) querySessions(query string, args ...any) ([]*model.Session, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, storageerr.Wrap(storageerr.Storage, err)
	}
	defer rows.Close()

	var out []*model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, storageerr.Wrap(storageerr.Storage, err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, storageerr.Wrap(storageerr.Storage, err)
	}
	return out, nil
}

// GetActiveSessions returns up to limit active sessions, newest-first by
// last_activity_at.
func (s *Store) GetActiveSessions(limit int) ([]*model.Session, error) {
	return s.querySessions(
		fmt.Sprintf("SELECT %s FROM sessions WHERE status = ? ORDER BY last_activity_at DESC LIMIT ?", sessionColumns),
		string(model.StatusActive), limit,
	)
}

// GetRecentSessions returns sessions whose last activity falls within the
// last `hours` hours, newest-first.
func (s *Store) GetRecentSessions(hours int, limit int) ([]*model.Session, error) {
	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour).UnixMilli()
	return s.querySessions(
		fmt.Sprintf("SELECT %s FROM sessions WHERE last_activity_at >= ? ORDER BY last_activity_at DESC LIMIT ?", sessionColumns),
		cutoff, limit,
	)
}

// GetSummaryMetrics aggregates Store state over the last `hours` hours.
func (s *Store) GetSummaryMetrics(hours int) (*model.SummaryMetrics, error) {
	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour).UnixMilli()

	var m model.SummaryMetrics
	row := s.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(message_count), 0),
			COALESCE(SUM(tool_call_count), 0),
			COALESCE(SUM(estimated_cost), 0)
		FROM sessions WHERE last_activity_at >= ?
	`, string(model.StatusActive), cutoff)
	if err := row.Scan(&m.TotalSessions, &m.ActiveSessions, &m.TotalMessages, &m.TotalTools, &m.TotalCost); err != nil {
		return nil, storageerr.Wrap(storageerr.Storage, err)
	}
	return &m, nil
}

const eventColumns = `id, session_id, event_kind, timestamp, agent_kind,
	content, working_directory, tool_name, file_path,
	tokens_input, tokens_output, error_message, raw_payload`

func scanEvent(row interface{ Scan(...any) error }) (*model.Event, error) {
	var (
		e         model.Event
		eventKind string
		agentKind string
		ts        int64
		raw       string
	)
	if err := row.Scan(
		&e.ID, &e.SessionID, &eventKind, &ts, &agentKind,
		&e.Content, &e.WorkingDirectory, &e.ToolName, &e.FilePath,
		&e.TokensInput, &e.TokensOutput, &e.ErrorMessage, &raw,
	); err != nil {
		return nil, err
	}
	e.EventKind = model.EventKind(eventKind)
	e.AgentKind = model.AgentKind(agentKind)
	e.Timestamp = time.UnixMilli(ts).UTC()
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &e.RawPayload)
	}
	return &e, nil
}

// GetRecentEvents returns up to limit events, globally newest-first.
func (s *Store) GetRecentEvents(limit int) ([]*model.Event, error) {
	rows, err := s.db.Query(fmt.Sprintf("SELECT %s FROM events ORDER BY timestamp DESC LIMIT ?", eventColumns), limit)
	if err != nil {
		return nil, storageerr.Wrap(storageerr.Storage, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// GetSessionEvents returns up to limit events for a single session,
// newest-first.
func (s *Store) GetSessionEvents(sessionID string, limit int) ([]*model.Event, error) {
	rows, err := s.db.Query(
		fmt.Sprintf("SELECT %s FROM events WHERE session_id = ? ORDER BY timestamp DESC LIMIT ?", eventColumns),
		sessionID, limit,
	)
	if err != nil {
		return nil, storageerr.Wrap(storageerr.Storage, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*model.Event, error) {
	var out []*model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, storageerr.Wrap(storageerr.Storage, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageerr.Wrap(storageerr.Storage, err)
	}
	return out, nil
}

// GetEvent returns a single event by id, or nil if not found.
func (s *Store) GetEvent(id string) (*model.Event, error) {
	row := s.db.QueryRow(fmt.Sprintf("SELECT %s FROM events WHERE id = ?", eventColumns), id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageerr.Wrap(storageerr.Storage, err)
	}
	return e, nil
}

// ListSessions returns up to limit sessions, newest-first, for the legacy
// /api/sessions listing.
func (s *Store) ListSessions(limit int) ([]*model.Session, error) {
	return s.querySessions(
		fmt.Sprintf("SELECT %s FROM sessions ORDER BY last_activity_at DESC LIMIT ?", sessionColumns),
		limit,
	)
}

// SessionFilter narrows CountSessions/ListSessionsPage at the SQL layer;
// zero values are ignored.
type SessionFilter struct {
	AgentKind  model.AgentKind
	Status     model.Status
	Project    string
	ActiveOnly bool
}

func (f SessionFilter) where() (string, []any) {
	clause := "WHERE 1=1"
	var args []any
	if f.AgentKind != "" {
		clause += " AND agent_kind = ?"
		args = append(args, string(f.AgentKind))
	}
	if f.Status != "" {
		clause += " AND status = ?"
		args = append(args, string(f.Status))
	}
	if f.Project != "" {
		clause += " AND project_path = ?"
		args = append(args, f.Project)
	}
	if f.ActiveOnly {
		clause += " AND status = ?"
		args = append(args, string(model.StatusActive))
	}
	return clause, args
}

// CountSessions returns the total number of sessions matching filter,
// ignoring limit/offset, for the pagination envelope's `total` field.
func (s *Store) CountSessions(filter SessionFilter) (int64, error) {
	clause, args := filter.where()
	var total int64
	row := s.db.QueryRow("SELECT COUNT(*) FROM sessions "+clause, args...)
	if err := row.Scan(&total); err != nil {
		return 0, storageerr.Wrap(storageerr.Storage, err)
	}
	return total, nil
}

// ListSessionsPage returns one page of sessions matching filter, newest
// last-activity-first.
func (s *Store) ListSessionsPage(filter SessionFilter, limit, offset int) ([]*model.Session, error) {
	clause, args := filter.where()
	query := fmt.Sprintf("SELECT %s FROM sessions %s ORDER BY last_activity_at DESC LIMIT ? OFFSET ?", sessionColumns, clause)
	args = append(args, limit, offset)
	return s.querySessions(query, args...)
}

// CountEvents returns the total number of events matching filter, ignoring
// limit/offset, for the pagination envelope's `total` field.
func (s *Store) CountEvents(filter EventFilter) (int64, error) {
	query := "SELECT COUNT(*) FROM events WHERE 1=1"
	var args []any
	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.EventKind != "" {
		query += " AND event_kind = ?"
		args = append(args, string(filter.EventKind))
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since.UnixMilli())
	}
	if !filter.Until.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.Until.UnixMilli())
	}
	var total int64
	row := s.db.QueryRow(query, args...)
	if err := row.Scan(&total); err != nil {
		return 0, storageerr.Wrap(storageerr.Storage, err)
	}
	return total, nil
}

// ListEventsPage returns one page of events matching filter, newest-first.
func (s *Store) ListEventsPage(filter EventFilter, limit, offset int) ([]*model.Event, error) {
	query := fmt.Sprintf("SELECT %s FROM events WHERE 1=1", eventColumns)
	var args []any

	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.EventKind != "" {
		query += " AND event_kind = ?"
		args = append(args, string(filter.EventKind))
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since.UnixMilli())
	}
	if !filter.Until.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.Until.UnixMilli())
	}
	query += " ORDER BY timestamp DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, storageerr.Wrap(storageerr.Storage, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// EventFilter narrows ListEvents at the SQL layer; zero values are ignored.
type EventFilter struct {
	SessionID string
	EventKind model.EventKind
	Since     time.Time
	Until     time.Time
}

// ListEvents returns up to limit events matching filter, newest-first, for
// the HTTP export endpoint.
func (s *Store) ListEvents(filter EventFilter, limit int) ([]*model.Event, error) {
	query := fmt.Sprintf("SELECT %s FROM events WHERE 1=1", eventColumns)
	var args []any

	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.EventKind != "" {
		query += " AND event_kind = ?"
		args = append(args, string(filter.EventKind))
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since.UnixMilli())
	}
	if !filter.Until.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.Until.UnixMilli())
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, storageerr.Wrap(storageerr.Storage, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// DeleteSessionsByKind deletes every session of the given agent kind
// (cascading to its events) and returns the number removed.
func (s *Store) DeleteSessionsByKind(k model.AgentKind) (int64, error) {
	// The foreign_keys pragma set in Open applies to one pooled connection
	// only, so events are removed explicitly rather than by the cascade.
	if _, err := s.db.Exec("DELETE FROM events WHERE session_id IN (SELECT id FROM sessions WHERE agent_kind = ?)", string(k)); err != nil {
		return 0, storageerr.Wrap(storageerr.Storage, err)
	}
	res, err := s.db.Exec("DELETE FROM sessions WHERE agent_kind = ?", string(k))
	if err != nil {
		return 0, storageerr.Wrap(storageerr.Storage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageerr.Wrap(storageerr.Storage, err)
	}
	return n, nil
}

// ClearAll deletes every session and event (administrative clear).
func (s *Store) ClearAll() error {
	if _, err := s.db.Exec("DELETE FROM events"); err != nil {
		return storageerr.Wrap(storageerr.Storage, err)
	}
	if _, err := s.db.Exec("DELETE FROM sessions"); err != nil {
		return storageerr.Wrap(storageerr.Storage, err)
	}
	return nil
}
