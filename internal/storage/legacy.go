// SPDX-License-Identifier: AGPL-3.0-only
package storage

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"github.com/scheduletask/mcp-server/internal/logging"
	"github.com/scheduletask/mcp-server/internal/model"
)

// importLegacyFileIfEmpty implements §4.C rule 2: on startup, if the tasks
// table is empty and a legacy free-form JSON file exists at path, each
// element is parsed leniently with gjson and upserted as a task. On success
// the file is renamed to path+".bak" so the import never repeats.
func importLegacyFileIfEmpty(ctx context.Context, s *SQLiteStore, path string, log *logging.Logger) error {
	if path == "" {
		return nil
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM tasks`).Scan(&n); err != nil {
		return errors.Wrap(err, "count tasks before legacy import")
	}
	if n > 0 {
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "read legacy file")
	}

	result := gjson.ParseBytes(raw)
	entries := result.Array()
	if !result.IsArray() || len(entries) == 0 {
		log.Warnf("legacy file %s is not a non-empty JSON array, skipping import", path)
		return nil
	}

	now := time.Now().UTC()
	imported := 0
	for _, entry := range entries {
		task, history, err := legacyEntryToTask(entry, now)
		if err != nil {
			log.Warnf("skipping unparseable legacy entry: %v", err)
			continue
		}
		if err := s.Upsert(ctx, task, history); err != nil {
			return errors.Wrapf(err, "import legacy task %s", task.ID)
		}
		imported++
	}

	if err := os.Rename(path, path+".bak"); err != nil {
		return errors.Wrap(err, "rename legacy file after import")
	}
	log.Infof("imported %d legacy task(s) from %s, moved to %s.bak", imported, path, path)
	return nil
}

func legacyEntryToTask(entry gjson.Result, now time.Time) (*model.Task, []model.HistoryEntry, error) {
	id := entry.Get("id").String()
	if id == "" {
		return nil, nil, fmt.Errorf("legacy entry missing id")
	}
	name := entry.Get("name").String()
	if name == "" {
		name = id
	}

	triggerType := model.TriggerType(entry.Get("trigger_type").String())
	var triggerConfig string
	if raw := entry.Get("trigger_config"); raw.Exists() {
		triggerType = model.TriggerCron
		if tt := entry.Get("trigger_type").String(); tt != "" {
			triggerType = model.TriggerType(tt)
		}
		triggerConfig = raw.Raw
	} else if schedule := entry.Get("schedule").String(); schedule != "" {
		triggerType = model.TriggerCron
		triggerConfig = fmt.Sprintf(`{"expression":%q}`, schedule)
	} else {
		return nil, nil, fmt.Errorf("legacy entry %s has no trigger_config or schedule", id)
	}

	task := &model.Task{
		ID:            id,
		Name:          name,
		TriggerType:   triggerType,
		TriggerConfig: []byte(triggerConfig),
		Enabled:       !entry.Get("enabled").Exists() || entry.Get("enabled").Bool(),
		Status:        legacyStatus(entry),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if entry.Get("enabled").Exists() && !entry.Get("enabled").Bool() {
		task.Status = model.StatusPaused
	}

	if instruction := entry.Get("instruction").String(); instruction != "" {
		task.AgentPrompt = &instruction
	}
	if prompt := entry.Get("agent_prompt").String(); prompt != "" {
		task.AgentPrompt = &prompt
	}
	if server := entry.Get("mcp_server").String(); server != "" {
		task.MCPServer = &server
	}
	if tool := entry.Get("mcp_tool").String(); tool != "" {
		task.MCPTool = &tool
	}
	if args := entry.Get("mcp_arguments"); args.Exists() {
		raw := args.Raw
		task.MCPArguments = &raw
	}

	var history []model.HistoryEntry
	for _, h := range entry.Get("history").Array() {
		runAt, err := time.Parse(time.RFC3339, h.Get("run_at").String())
		if err != nil {
			continue
		}
		status := model.RunStatus(h.Get("status").String())
		entry := model.HistoryEntry{RunAt: runAt, Status: status}
		if msg := h.Get("message").String(); msg != "" {
			entry.Message = &msg
		}
		history = append(history, entry)
	}

	return task, history, nil
}

// legacyStatus reads a present "status" field per §4.C rule 2, defaulting to
// scheduled when absent or unrecognized. Initialize() re-normalizes every
// imported task on startup regardless, so this only matters for the brief
// window between import and the first normalize pass.
func legacyStatus(entry gjson.Result) model.Status {
	switch model.Status(entry.Get("status").String()) {
	case model.StatusScheduled, model.StatusRunning, model.StatusPaused, model.StatusCompleted, model.StatusError:
		return model.Status(entry.Get("status").String())
	default:
		return model.StatusScheduled
	}
}
