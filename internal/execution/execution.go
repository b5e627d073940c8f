// SPDX-License-Identifier: AGPL-3.0-only

// Package execution implements Component E: the fire lifecycle driver. A
// fire stamps a running marker, optionally issues a reverse sampling RPC,
// interprets the outcome, and persists the result and recomputed next_run
// through the store — all within the caller's per-task lock.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scheduletask/mcp-server/internal/apperrors"
	"github.com/scheduletask/mcp-server/internal/model"
	"github.com/scheduletask/mcp-server/internal/storage"
	"github.com/scheduletask/mcp-server/internal/timeutil"
	"github.com/scheduletask/mcp-server/internal/trigger"
)

// Sampler issues a sampling/createMessage reverse RPC and returns the
// extracted text, or an error if the peer failed or timed out.
type Sampler interface {
	CreateMessage(ctx context.Context, prompt string, timeout time.Duration) (string, error)
}

// Fire runs one execution of task: it persists a running marker, invokes
// the configured action, and persists the outcome and recomputed next_run.
// task must already be loaded (with its current history) by the caller.
func Fire(ctx context.Context, store storage.Store, task *model.Task, sampler Sampler, timeout time.Duration, zone *time.Location, clock timeutil.Clock) error {
	now := clock.Now().UTC()
	task.Status = model.StatusRunning
	task.LastRun = &now
	running := model.RunRunning
	task.LastStatus = &running
	task.LastMessage = nil
	task.UpdatedAt = now
	if err := store.Upsert(ctx, task, nil); err != nil {
		return apperrors.Store(err)
	}

	message, fireErr := runAction(ctx, task, sampler, timeout)
	end := clock.Now().UTC()

	var entry model.HistoryEntry
	if fireErr != nil {
		errStatus := model.RunError
		task.LastStatus = &errStatus
		errText := fireErr.Error()
		task.LastMessage = &errText
		entry = model.HistoryEntry{RunAt: end, Status: model.RunError, Message: &errText}
		task.Status = model.StatusError
		if task.TriggerType == model.TriggerDate {
			task.NextRun = nil
		} else {
			task.NextRun = recomputeNextRun(task, end, zone)
		}
	} else {
		successStatus := model.RunSuccess
		task.LastStatus = &successStatus
		task.LastMessage = &message
		entry = model.HistoryEntry{RunAt: end, Status: model.RunSuccess, Message: &message}
		if task.TriggerType == model.TriggerDate {
			task.Status = model.StatusCompleted
			task.Enabled = false
			task.NextRun = nil
		} else {
			task.Status = model.StatusScheduled
			task.NextRun = recomputeNextRun(task, end, zone)
		}
	}

	task.PushHistory(entry)
	task.UpdatedAt = end
	if err := store.Upsert(ctx, task, task.History); err != nil {
		return apperrors.Store(err)
	}
	return fireErr
}

func recomputeNextRun(task *model.Task, reference time.Time, zone *time.Location) *time.Time {
	next, err := trigger.NextFire(task.TriggerType, task.TriggerConfig, reference, zone, nil)
	if err != nil {
		return nil
	}
	return next
}

func runAction(ctx context.Context, task *model.Task, sampler Sampler, timeout time.Duration) (string, error) {
	switch {
	case task.HasAgentPrompt():
		return sampleViaPeer(ctx, sampler, *task.AgentPrompt, timeout)
	case task.HasLegacyTarget():
		return fmt.Sprintf("Legacy MCP target configured: %s/%s (not invoked)",
			derefOr(task.MCPServer, "?"), derefOr(task.MCPTool, "?")), nil
	default:
		return fmt.Sprintf("Task executed: %s (no action configured)", task.Name), nil
	}
}

func sampleViaPeer(ctx context.Context, sampler Sampler, prompt string, timeout time.Duration) (string, error) {
	if sampler == nil {
		return "", apperrors.Execution("no reverse-RPC peer available for sampling", nil)
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	text, err := sampler.CreateMessage(cctx, prompt, timeout)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			seconds := int(timeout.Round(time.Second) / time.Second)
			return "", apperrors.Timeout(seconds)
		}
		return "", apperrors.Execution("sampling request failed", err)
	}
	return fmt.Sprintf("Sampling response: %s", text), nil
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
