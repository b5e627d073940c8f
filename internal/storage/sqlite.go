// SPDX-License-Identifier: AGPL-3.0-only
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/scheduletask/mcp-server/internal/logging"
	"github.com/scheduletask/mcp-server/internal/model"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS tasks (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	trigger_type   TEXT NOT NULL,
	trigger_config TEXT NOT NULL,
	mcp_server     TEXT,
	mcp_tool       TEXT,
	mcp_arguments  TEXT,
	agent_prompt   TEXT,
	enabled        INTEGER NOT NULL DEFAULT 0,
	status         TEXT NOT NULL,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL,
	last_run       TEXT,
	last_status    TEXT,
	last_message   TEXT,
	next_run       TEXT
);
CREATE TABLE IF NOT EXISTS task_history (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id  TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	run_at   TEXT NOT NULL,
	status   TEXT NOT NULL,
	message  TEXT
);
CREATE INDEX IF NOT EXISTS idx_task_history_task_id ON task_history(task_id);
`

const timeLayout = time.RFC3339Nano

// SQLiteStore is the Component C durable store, opened in WAL mode.
type SQLiteStore struct {
	db     *sql.DB
	log    *logging.Logger
	locks  cmap.ConcurrentMap[string, *sync.Mutex]
	locksM sync.Mutex // guards creation of a new per-id lock in locks
}

// Open creates (or opens) the SQLite-backed store at path, applies pragmas,
// runs schema migration rule 1, and attempts the rule-2 legacy import if the
// tasks table is empty. legacyPath is the file consulted for rule 2.
func Open(path, legacyPath string, log *logging.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = logging.GetDefaultLogger()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create db directory")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "set pragma %q", pragma)
		}
	}

	st := &SQLiteStore{db: db, log: log, locks: cmap.New[*sync.Mutex]()}

	if err := migrateLegacyColumns(context.Background(), db, log); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrate legacy schema")
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create schema")
	}

	if err := importLegacyFileIfEmpty(context.Background(), st, legacyPath, log); err != nil {
		// MigrationError: logged, never fatal.
		log.Warnf("legacy file import skipped: %v", err)
	}

	return st, nil
}

// Close releases the underlying connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) lockFor(id string) *sync.Mutex {
	if mu, ok := s.locks.Get(id); ok {
		return mu
	}
	s.locksM.Lock()
	defer s.locksM.Unlock()
	if mu, ok := s.locks.Get(id); ok {
		return mu
	}
	mu := &sync.Mutex{}
	s.locks.Set(id, mu)
	return mu
}

// Upsert implements Store.Upsert.
func (s *SQLiteStore) Upsert(ctx context.Context, task *model.Task, history []model.HistoryEntry) error {
	mu := s.lockFor(task.ID)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin upsert tx")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (id, name, trigger_type, trigger_config, mcp_server, mcp_tool, mcp_arguments,
			agent_prompt, enabled, status, created_at, updated_at, last_run, last_status, last_message, next_run)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, trigger_type=excluded.trigger_type, trigger_config=excluded.trigger_config,
			mcp_server=excluded.mcp_server, mcp_tool=excluded.mcp_tool, mcp_arguments=excluded.mcp_arguments,
			agent_prompt=excluded.agent_prompt, enabled=excluded.enabled, status=excluded.status,
			updated_at=excluded.updated_at, last_run=excluded.last_run, last_status=excluded.last_status,
			last_message=excluded.last_message, next_run=excluded.next_run`,
		task.ID, task.Name, string(task.TriggerType), string(task.TriggerConfig),
		nullableStr(task.MCPServer), nullableStr(task.MCPTool), nullableStr(task.MCPArguments),
		nullableStr(task.AgentPrompt), boolToInt(task.Enabled), string(task.Status),
		task.CreatedAt.UTC().Format(timeLayout), task.UpdatedAt.UTC().Format(timeLayout),
		nullableTime(task.LastRun), nullableRunStatus(task.LastStatus), nullableStr(task.LastMessage),
		nullableTime(task.NextRun),
	); err != nil {
		return errors.Wrap(err, "upsert task row")
	}

	if history != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_history WHERE task_id = ?`, task.ID); err != nil {
			return errors.Wrap(err, "clear history for upsert")
		}
		// history is newest first; insert oldest first so row ids follow
		// fire order and loadHistory's ORDER BY id DESC reads newest first.
		for i := len(history) - 1; i >= 0; i-- {
			h := history[i]
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO task_history (task_id, run_at, status, message) VALUES (?,?,?,?)`,
				task.ID, h.RunAt.UTC().Format(timeLayout), string(h.Status), nullableStr(h.Message),
			); err != nil {
				return errors.Wrap(err, "insert history row")
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit upsert tx")
	}
	return nil
}

// Get implements Store.Get.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx, taskSelectColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "get task")
	}
	history, err := s.loadHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	task.History = history
	return task, nil
}

// List implements Store.List.
func (s *SQLiteStore) List(ctx context.Context) ([]*model.Task, error) {
	rows, err := s.db.QueryContext(ctx, taskSelectColumns+` FROM tasks ORDER BY created_at ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "list tasks")
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan task")
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate tasks")
	}
	for _, task := range tasks {
		history, err := s.loadHistory(ctx, task.ID)
		if err != nil {
			return nil, err
		}
		task.History = history
	}
	return tasks, nil
}

// Delete implements Store.Delete.
func (s *SQLiteStore) Delete(ctx context.Context, id string) (bool, error) {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return false, errors.Wrap(err, "delete task")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	deleted := n > 0
	if deleted {
		s.locks.Remove(id)
	}
	return deleted, nil
}

// UpdateStatus implements Store.UpdateStatus.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, fields StatusFields) error {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	sets := []string{"updated_at = ?"}
	args := []interface{}{time.Now().UTC().Format(timeLayout)}

	if fields.LastRun != nil {
		sets = append(sets, "last_run = ?")
		args = append(args, nullableTime(*fields.LastRun))
	}
	if fields.LastStatus != nil {
		sets = append(sets, "last_status = ?")
		args = append(args, nullableRunStatus(*fields.LastStatus))
	}
	if fields.LastMessage != nil {
		sets = append(sets, "last_message = ?")
		args = append(args, nullableStr(*fields.LastMessage))
	}
	if fields.NextRun != nil {
		sets = append(sets, "next_run = ?")
		args = append(args, nullableTime(*fields.NextRun))
	}

	query := fmt.Sprintf(`UPDATE tasks SET %s WHERE id = ?`, joinComma(sets))
	args = append(args, id)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, "update status")
	}
	return nil
}

// ClearHistory implements Store.ClearHistory.
func (s *SQLiteStore) ClearHistory(ctx context.Context, id string) error {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin clear-history tx")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_history WHERE task_id = ?`, id); err != nil {
		return errors.Wrap(err, "delete history rows")
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET last_run = NULL, last_status = NULL, last_message = NULL, updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(timeLayout), id,
	); err != nil {
		return errors.Wrap(err, "clear last-run fields")
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit clear-history tx")
	}
	return nil
}

func (s *SQLiteStore) loadHistory(ctx context.Context, taskID string) ([]model.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_at, status, message FROM task_history WHERE task_id = ? ORDER BY id DESC LIMIT ?`,
		taskID, model.MaxHistoryLen,
	)
	if err != nil {
		return nil, errors.Wrap(err, "load history")
	}
	defer rows.Close()

	var entries []model.HistoryEntry
	for rows.Next() {
		var runAtStr, status string
		var message sql.NullString
		if err := rows.Scan(&runAtStr, &status, &message); err != nil {
			return nil, errors.Wrap(err, "scan history row")
		}
		runAt, err := time.Parse(timeLayout, runAtStr)
		if err != nil {
			return nil, errors.Wrap(err, "parse history run_at")
		}
		entry := model.HistoryEntry{RunAt: runAt, Status: model.RunStatus(status)}
		if message.Valid {
			entry.Message = &message.String
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

const taskSelectColumns = `SELECT id, name, trigger_type, trigger_config, mcp_server, mcp_tool, mcp_arguments,
	agent_prompt, enabled, status, created_at, updated_at, last_run, last_status, last_message, next_run`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row scanner) (*model.Task, error) {
	var (
		id, name, triggerType, status, createdAt, updatedAt string
		triggerConfig                                       string
		mcpServer, mcpTool, mcpArguments, agentPrompt       sql.NullString
		enabledInt                                          int
		lastRun, nextRun                                    sql.NullString
		lastStatus, lastMessage                             sql.NullString
	)
	if err := row.Scan(&id, &name, &triggerType, &triggerConfig, &mcpServer, &mcpTool, &mcpArguments,
		&agentPrompt, &enabledInt, &status, &createdAt, &updatedAt, &lastRun, &lastStatus, &lastMessage, &nextRun,
	); err != nil {
		return nil, err
	}

	task := &model.Task{
		ID:            id,
		Name:          name,
		TriggerType:   model.TriggerType(triggerType),
		TriggerConfig: json.RawMessage(triggerConfig),
		Enabled:       enabledInt != 0,
		Status:        model.Status(status),
	}
	var err error
	if task.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, errors.Wrap(err, "parse created_at")
	}
	if task.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, errors.Wrap(err, "parse updated_at")
	}
	task.MCPServer = strPtr(mcpServer)
	task.MCPTool = strPtr(mcpTool)
	task.MCPArguments = strPtr(mcpArguments)
	task.AgentPrompt = strPtr(agentPrompt)
	task.LastMessage = strPtr(lastMessage)
	if lastStatus.Valid {
		rs := model.RunStatus(lastStatus.String)
		task.LastStatus = &rs
	}
	if lastRun.Valid {
		t, err := time.Parse(timeLayout, lastRun.String)
		if err != nil {
			return nil, errors.Wrap(err, "parse last_run")
		}
		task.LastRun = &t
	}
	if nextRun.Valid {
		t, err := time.Parse(timeLayout, nextRun.String)
		if err != nil {
			return nil, errors.Wrap(err, "parse next_run")
		}
		task.NextRun = &t
	}
	return task, nil
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullableStr(p *string) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func nullableTime(p *time.Time) interface{} {
	if p == nil {
		return nil
	}
	return p.UTC().Format(timeLayout)
}

func nullableRunStatus(p *model.RunStatus) interface{} {
	if p == nil {
		return nil
	}
	return string(*p)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
