// SPDX-License-Identifier: AGPL-3.0-only
package rpcserver

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"

	"github.com/scheduletask/mcp-server/internal/apperrors"
	"github.com/scheduletask/mcp-server/internal/model"
	"github.com/scheduletask/mcp-server/internal/scheduler"
	"github.com/scheduletask/mcp-server/internal/timeutil"
)

func extractParams(request *protocol.CallToolRequest, v interface{}) error {
	dec := json.NewDecoder(strings.NewReader(string(request.RawArguments)))
	if err := dec.Decode(v); err != nil {
		return apperrors.InvalidInput("invalid parameters: " + err.Error())
	}
	return nil
}

func (s *Server) handleCreateTask(ctx context.Context, request *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params CreateTaskParams
	if err := extractParams(request, &params); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.Name) == "" {
		return nil, apperrors.InvalidInput("name is required")
	}

	created, err := s.sched.Create(ctx, scheduler.CreateParams{
		Name:          params.Name,
		TriggerType:   model.TriggerType(params.TriggerType),
		TriggerConfig: params.TriggerConfig,
		AgentPrompt:   optionalString(params.AgentPrompt),
		MCPServer:     optionalString(params.MCPServer),
		MCPTool:       optionalString(params.MCPTool),
		MCPArguments:  optionalString(params.MCPArguments),
	})
	if err != nil {
		return nil, err
	}
	return jsonResult(s.sched.Describe(created))
}

func (s *Server) handleListTasks(ctx context.Context, request *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params ListTasksParams
	if err := extractParams(request, &params); err != nil {
		return nil, err
	}
	tasks, err := s.sched.List(ctx)
	if err != nil {
		return nil, err
	}
	described := make([]*scheduler.Described, 0, len(tasks))
	for _, t := range tasks {
		if params.Status != "" && string(t.Status) != params.Status {
			continue
		}
		described = append(described, s.sched.Describe(t))
	}
	return jsonResult(map[string]interface{}{
		"count": len(described),
		"tasks": described,
	})
}

func (s *Server) handleGetTask(ctx context.Context, request *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params TaskIDParams
	if err := extractParams(request, &params); err != nil {
		return nil, err
	}
	task, err := s.sched.Get(ctx, params.TaskID)
	if err != nil {
		return nil, err
	}
	return jsonResult(s.sched.Describe(task))
}

func (s *Server) handleUpdateTask(ctx context.Context, request *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params UpdateTaskParams
	if err := extractParams(request, &params); err != nil {
		return nil, err
	}
	patch := scheduler.UpdatePatch{Name: params.Name}
	if params.TriggerType != nil {
		tt := model.TriggerType(*params.TriggerType)
		patch.TriggerType = &tt
	}
	patch.TriggerConfig = params.TriggerConfig
	if params.AgentPrompt != nil {
		patch.AgentPrompt = ptrToPtr(params.AgentPrompt)
	}
	if params.MCPServer != nil {
		patch.MCPServer = ptrToPtr(params.MCPServer)
	}
	if params.MCPTool != nil {
		patch.MCPTool = ptrToPtr(params.MCPTool)
	}
	if params.MCPArguments != nil {
		patch.MCPArguments = ptrToPtr(params.MCPArguments)
	}

	updated, err := s.sched.Update(ctx, params.TaskID, patch)
	if err != nil {
		return nil, err
	}
	return jsonResult(s.sched.Describe(updated))
}

func (s *Server) handleDeleteTask(ctx context.Context, request *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params TaskIDParams
	if err := extractParams(request, &params); err != nil {
		return nil, err
	}
	if _, err := s.sched.Delete(ctx, params.TaskID); err != nil {
		return nil, err
	}
	return jsonResult(map[string]interface{}{"success": true, "message": "task deleted"})
}

func (s *Server) handlePauseTask(ctx context.Context, request *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params TaskIDParams
	if err := extractParams(request, &params); err != nil {
		return nil, err
	}
	task, err := s.sched.Pause(ctx, params.TaskID)
	if err != nil {
		return nil, err
	}
	return jsonResult(s.sched.Describe(task))
}

func (s *Server) handleResumeTask(ctx context.Context, request *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params TaskIDParams
	if err := extractParams(request, &params); err != nil {
		return nil, err
	}
	task, err := s.sched.Resume(ctx, params.TaskID)
	if err != nil {
		return nil, err
	}
	return jsonResult(s.sched.Describe(task))
}

func (s *Server) handleExecuteTask(ctx context.Context, request *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params TaskIDParams
	if err := extractParams(request, &params); err != nil {
		return nil, err
	}
	task, err := s.sched.Execute(ctx, params.TaskID)
	if err != nil {
		return nil, err
	}
	message := "task executed"
	if task.LastMessage != nil {
		message = *task.LastMessage
	}
	return jsonResult(map[string]interface{}{"success": task.LastStatus == nil || *task.LastStatus != model.RunError, "message": message})
}

func (s *Server) handleClearTaskHistory(ctx context.Context, request *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params TaskIDParams
	if err := extractParams(request, &params); err != nil {
		return nil, err
	}
	if err := s.sched.ClearHistory(ctx, params.TaskID); err != nil {
		return nil, err
	}
	return jsonResult(map[string]interface{}{"success": true, "message": "history cleared"})
}

func (s *Server) handleGetCurrentTime(ctx context.Context, request *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params GetCurrentTimeParams
	if err := extractParams(request, &params); err != nil {
		return nil, err
	}
	now := time.Now().In(s.zone())
	var formatted string
	switch params.Format {
	case "readable":
		formatted = now.Format(timeutil.LocalLayout)
	default:
		formatted = now.Format(time.RFC3339)
	}
	return jsonResult(map[string]interface{}{"now": formatted})
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// ptrToPtr lifts a *string into a **string with a non-nil inner pointer,
// i.e. "set this field to v" rather than "leave it untouched".
func ptrToPtr(v *string) **string {
	return &v
}

func jsonResult(v interface{}) (*protocol.CallToolResult, error) {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return &protocol.CallToolResult{
		Content: []protocol.Content{
			&protocol.TextContent{Type: "text", Text: string(body)},
		},
	}, nil
}
