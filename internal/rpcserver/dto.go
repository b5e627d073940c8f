// SPDX-License-Identifier: AGPL-3.0-only
package rpcserver

import "encoding/json"

// TaskIDParams is the shared {task_id} argument shape.
type TaskIDParams struct {
	TaskID string `json:"task_id" description:"the id of the task"`
}

// CreateTaskParams is create_task's argument shape.
type CreateTaskParams struct {
	Name          string          `json:"name" description:"task name"`
	TriggerType   string          `json:"trigger_type" description:"interval, cron, or date"`
	TriggerConfig json.RawMessage `json:"trigger_config" description:"trigger-specific configuration object"`
	AgentPrompt   string          `json:"agent_prompt,omitempty" description:"prompt sent to the peer via sampling on each fire"`
	MCPServer     string          `json:"mcp_server,omitempty" description:"deprecated: direct MCP server target"`
	MCPTool       string          `json:"mcp_tool,omitempty" description:"deprecated: direct MCP tool target"`
	MCPArguments  string          `json:"mcp_arguments,omitempty" description:"deprecated: JSON-encoded tool arguments"`
}

// UpdateTaskParams is update_task's argument shape. Every field besides
// TaskID is a pointer so an absent key leaves that field untouched.
type UpdateTaskParams struct {
	TaskID        string           `json:"task_id"`
	Name          *string          `json:"name,omitempty"`
	TriggerType   *string          `json:"trigger_type,omitempty"`
	TriggerConfig *json.RawMessage `json:"trigger_config,omitempty"`
	AgentPrompt   *string          `json:"agent_prompt,omitempty"`
	MCPServer     *string          `json:"mcp_server,omitempty"`
	MCPTool       *string          `json:"mcp_tool,omitempty"`
	MCPArguments  *string          `json:"mcp_arguments,omitempty"`
}

// ListTasksParams is list_tasks's argument shape.
type ListTasksParams struct {
	Status string `json:"status,omitempty" description:"filter by status"`
}

// GetCurrentTimeParams is get_current_time's argument shape.
type GetCurrentTimeParams struct {
	Format string `json:"format,omitempty" description:"iso or readable"`
}
