// SPDX-License-Identifier: AGPL-3.0-only
package model

import (
	"encoding/json"
	"time"
)

// TriggerType identifies which of the three trigger families a task uses.
type TriggerType string

const (
	TriggerInterval TriggerType = "interval"
	TriggerCron     TriggerType = "cron"
	TriggerDate     TriggerType = "date"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// RunStatus is the outcome of a single fire, or the in-flight marker.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
	RunRunning RunStatus = "running"
)

// HistoryEntry is one fire's recorded outcome, newest-first in a Task's History.
type HistoryEntry struct {
	RunAt   time.Time `json:"run_at"`
	Status  RunStatus `json:"status"`
	Message *string   `json:"message,omitempty"`
}

// MaxHistoryLen bounds the number of history entries retained per task.
const MaxHistoryLen = 10

// Task is a durable scheduled job.
type Task struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	TriggerType   TriggerType     `json:"trigger_type"`
	TriggerConfig json.RawMessage `json:"trigger_config"`

	AgentPrompt  *string `json:"agent_prompt,omitempty"`
	MCPServer    *string `json:"mcp_server,omitempty"`
	MCPTool      *string `json:"mcp_tool,omitempty"`
	MCPArguments *string `json:"mcp_arguments,omitempty"`

	Enabled bool   `json:"enabled"`
	Status  Status `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	LastRun     *time.Time `json:"last_run,omitempty"`
	LastStatus  *RunStatus `json:"last_status,omitempty"`
	LastMessage *string    `json:"last_message,omitempty"`
	NextRun     *time.Time `json:"next_run,omitempty"`

	History []HistoryEntry `json:"history"`
}

// HasLegacyTarget reports whether the deprecated direct-tool-call fields are set.
func (t *Task) HasLegacyTarget() bool {
	return t.MCPServer != nil || t.MCPTool != nil || t.MCPArguments != nil
}

// HasAgentPrompt reports whether a reverse sampling RPC should be issued on fire.
func (t *Task) HasAgentPrompt() bool {
	return t.AgentPrompt != nil && *t.AgentPrompt != ""
}

// PushHistory prepends a new entry and truncates to MaxHistoryLen, newest first.
func (t *Task) PushHistory(entry HistoryEntry) {
	t.History = append([]HistoryEntry{entry}, t.History...)
	if len(t.History) > MaxHistoryLen {
		t.History = t.History[:MaxHistoryLen]
	}
}

// Clone returns a deep-enough copy safe to hand to a goroutine that must not
// observe later mutations of t.
func (t *Task) Clone() *Task {
	cp := *t
	cp.TriggerConfig = append(json.RawMessage{}, t.TriggerConfig...)
	cp.History = append([]HistoryEntry{}, t.History...)
	if t.AgentPrompt != nil {
		v := *t.AgentPrompt
		cp.AgentPrompt = &v
	}
	if t.MCPServer != nil {
		v := *t.MCPServer
		cp.MCPServer = &v
	}
	if t.MCPTool != nil {
		v := *t.MCPTool
		cp.MCPTool = &v
	}
	if t.MCPArguments != nil {
		v := *t.MCPArguments
		cp.MCPArguments = &v
	}
	if t.LastRun != nil {
		v := *t.LastRun
		cp.LastRun = &v
	}
	if t.LastStatus != nil {
		v := *t.LastStatus
		cp.LastStatus = &v
	}
	if t.LastMessage != nil {
		v := *t.LastMessage
		cp.LastMessage = &v
	}
	if t.NextRun != nil {
		v := *t.NextRun
		cp.NextRun = &v
	}
	return &cp
}
