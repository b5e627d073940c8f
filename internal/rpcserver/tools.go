// SPDX-License-Identifier: AGPL-3.0-only
package rpcserver

import (
	"context"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"
)

// toolDefinition is one entry in the tool catalogue advertised to the peer.
type toolDefinition struct {
	Name        string
	Description string
	Handler     func(context.Context, *protocol.CallToolRequest) (*protocol.CallToolResult, error)
	Parameters  interface{}
}

// registerTools advertises the full tool catalogue from the task scheduling
// surface plus the clock helper, mirroring the teacher's declarative
// registration pattern.
func (s *Server) registerTools() {
	tools := []toolDefinition{
		{
			Name:        "create_task",
			Description: "Creates a new scheduled task with an interval, cron, or date trigger",
			Handler:     s.handleCreateTask,
			Parameters:  CreateTaskParams{},
		},
		{
			Name:        "list_tasks",
			Description: "Lists all scheduled tasks, optionally filtered by status",
			Handler:     s.handleListTasks,
			Parameters:  ListTasksParams{},
		},
		{
			Name:        "get_task",
			Description: "Fetches one scheduled task by id",
			Handler:     s.handleGetTask,
			Parameters:  TaskIDParams{},
		},
		{
			Name:        "update_task",
			Description: "Updates fields of an existing scheduled task",
			Handler:     s.handleUpdateTask,
			Parameters:  UpdateTaskParams{},
		},
		{
			Name:        "delete_task",
			Description: "Deletes a scheduled task",
			Handler:     s.handleDeleteTask,
			Parameters:  TaskIDParams{},
		},
		{
			Name:        "pause_task",
			Description: "Pauses a scheduled task, disarming its timer",
			Handler:     s.handlePauseTask,
			Parameters:  TaskIDParams{},
		},
		{
			Name:        "resume_task",
			Description: "Resumes a paused task, re-arming its timer",
			Handler:     s.handleResumeTask,
			Parameters:  TaskIDParams{},
		},
		{
			Name:        "execute_task",
			Description: "Fires a task immediately, waiting for any in-progress fire to finish first",
			Handler:     s.handleExecuteTask,
			Parameters:  TaskIDParams{},
		},
		{
			Name:        "clear_task_history",
			Description: "Clears a task's run history and last-run bookkeeping",
			Handler:     s.handleClearTaskHistory,
			Parameters:  TaskIDParams{},
		},
		{
			Name:        "get_current_time",
			Description: "Returns the current time in the scheduler's configured timezone",
			Handler:     s.handleGetCurrentTime,
			Parameters:  GetCurrentTimeParams{},
		},
	}

	for _, def := range tools {
		s.registerTool(def)
	}
}

func (s *Server) registerTool(def toolDefinition) {
	tool, err := protocol.NewTool(def.Name, def.Description, def.Parameters)
	if err != nil {
		panic(err)
	}
	s.server.RegisterTool(tool, def.Handler)
}
