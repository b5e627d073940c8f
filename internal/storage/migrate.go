// SPDX-License-Identifier: AGPL-3.0-only
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/scheduletask/mcp-server/internal/logging"
)

// migrateLegacyColumns implements §4.C rule 1: an older pre-trigger-model
// layout stored a flat schedule/instruction/task_type shape with no
// trigger_type or trigger_config columns. When that shape is detected, the
// table is rebuilt into the current schema in place: name is carried
// forward, the old schedule string becomes a cron trigger_config, and
// instruction maps onto agent_prompt. task_type is not read and is dropped
// with the old table.
func migrateLegacyColumns(ctx context.Context, db *sql.DB, log *logging.Logger) error {
	hasTasks, err := tableExists(ctx, db, "tasks")
	if err != nil {
		return err
	}
	if !hasTasks {
		return nil
	}

	cols, err := columnSet(ctx, db, "tasks")
	if err != nil {
		return err
	}
	if cols["trigger_type"] || !cols["name"] {
		// Already current, or not a recognizable legacy shape.
		return nil
	}

	log.Infof("migrating legacy tasks schema (pre-trigger-model layout) in place")

	rows, err := db.QueryContext(ctx, legacySelectQuery(cols))
	if err != nil {
		return errors.Wrap(err, "select legacy rows")
	}
	type legacyRow struct {
		id, name                                        string
		schedule, instruction, status, createdAt, updatedAt sql.NullString
		enabled                                         sql.NullInt64
	}
	var legacyRows []legacyRow
	for rows.Next() {
		var r legacyRow
		if err := rows.Scan(&r.id, &r.name, &r.schedule, &r.instruction, &r.enabled, &r.status, &r.createdAt, &r.updatedAt); err != nil {
			rows.Close()
			return errors.Wrap(err, "scan legacy row")
		}
		legacyRows = append(legacyRows, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin migration tx")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `ALTER TABLE tasks RENAME TO tasks_legacy`); err != nil {
		return errors.Wrap(err, "rename legacy table")
	}
	if _, err := tx.ExecContext(ctx, schemaDDL); err != nil {
		return errors.Wrap(err, "create current schema")
	}

	now := time.Now().UTC().Format(timeLayout)
	for _, r := range legacyRows {
		expression := "* * * * *"
		if r.schedule.Valid && r.schedule.String != "" {
			expression = r.schedule.String
		}
		cfg, err := json.Marshal(map[string]string{"expression": expression})
		if err != nil {
			return errors.Wrap(err, "marshal migrated trigger_config")
		}
		var agentPrompt interface{}
		if r.instruction.Valid && r.instruction.String != "" {
			agentPrompt = r.instruction.String
		}
		createdAt, updatedAt := r.createdAt.String, r.updatedAt.String
		if !r.createdAt.Valid || createdAt == "" {
			createdAt = now
		}
		if !r.updatedAt.Valid || updatedAt == "" {
			updatedAt = now
		}
		status := r.status.String
		if !r.status.Valid || status == "" {
			status = "scheduled"
		}
		enabled := 0
		if r.enabled.Valid && r.enabled.Int64 != 0 {
			enabled = 1
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (id, name, trigger_type, trigger_config, mcp_server, mcp_tool, mcp_arguments,
				agent_prompt, enabled, status, created_at, updated_at, last_run, last_status, last_message, next_run)
			VALUES (?,?,?,?,NULL,NULL,NULL,?,?,?,?,?,NULL,NULL,NULL,NULL)`,
			r.id, r.name, "cron", string(cfg), agentPrompt, enabled, status, createdAt, updatedAt,
		); err != nil {
			return errors.Wrapf(err, "insert migrated task %s", r.id)
		}
	}

	if _, err := tx.ExecContext(ctx, `DROP TABLE tasks_legacy`); err != nil {
		return errors.Wrap(err, "drop legacy table")
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit migration tx")
	}
	log.Infof("migrated %d legacy task row(s)", len(legacyRows))
	return nil
}

func tableExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n)
	if err != nil {
		return false, errors.Wrap(err, "check table existence")
	}
	return n > 0, nil
}

func columnSet(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, errors.Wrap(err, "read table_info")
	}
	defer rows.Close()

	set := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		set[name] = true
	}
	return set, rows.Err()
}

// legacySelectQuery builds a SELECT over the legacy columns we know how to
// interpret, substituting NULL for any that the detected table lacks.
func legacySelectQuery(cols map[string]bool) string {
	col := func(name string) string {
		if cols[name] {
			return name
		}
		return "NULL"
	}
	return `SELECT id, name, ` + col("schedule") + `, ` + col("instruction") + `, ` + col("enabled") +
		`, ` + col("status") + `, ` + col("created_at") + `, ` + col("updated_at") + ` FROM tasks`
}
