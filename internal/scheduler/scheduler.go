// SPDX-License-Identifier: AGPL-3.0-only

// Package scheduler implements Component D: the scheduler core. It owns two
// disjoint timer registries keyed by task id (cron-driven jobs via
// robfig/cron, interval/date jobs via time.Timer) and exposes the lifecycle
// verbs that both the RPC surface and Initialize use to mutate tasks.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/robfig/cron/v3"

	"github.com/scheduletask/mcp-server/internal/apperrors"
	"github.com/scheduletask/mcp-server/internal/config"
	"github.com/scheduletask/mcp-server/internal/execution"
	"github.com/scheduletask/mcp-server/internal/logging"
	"github.com/scheduletask/mcp-server/internal/model"
	"github.com/scheduletask/mcp-server/internal/storage"
	"github.com/scheduletask/mcp-server/internal/timeutil"
	"github.com/scheduletask/mcp-server/internal/trigger"
)

// CreateParams is the input shape for Create.
type CreateParams struct {
	Name          string
	TriggerType   model.TriggerType
	TriggerConfig json.RawMessage
	AgentPrompt   *string
	MCPServer     *string
	MCPTool       *string
	MCPArguments  *string
}

// UpdatePatch is the input shape for Update. A nil field is left untouched;
// the double-pointer fields distinguish "leave untouched" (nil) from
// "clear to null" (pointer to a nil inner pointer).
type UpdatePatch struct {
	Name          *string
	TriggerType   *model.TriggerType
	TriggerConfig *json.RawMessage
	AgentPrompt   **string
	MCPServer     **string
	MCPTool       **string
	MCPArguments  **string
}

// Scheduler is the Component D lifecycle surface.
type Scheduler struct {
	store   storage.Store
	cfg     *config.SchedulerConfig
	zone    *time.Location
	log     *logging.Logger
	sampler execution.Sampler
	clock   timeutil.Clock

	cronEngine  *cron.Cron
	cronEntries cmap.ConcurrentMap[string, cron.EntryID]
	timers      cmap.ConcurrentMap[string, *time.Timer]
	fireLocks   cmap.ConcurrentMap[string, *sync.Mutex]

	mu sync.Mutex // guards SetSampler/SetClock only; task data lives in the store
}

// New constructs a Scheduler bound to store. Call Initialize before serving.
func New(store storage.Store, cfg *config.SchedulerConfig, log *logging.Logger) *Scheduler {
	if log == nil {
		log = logging.GetDefaultLogger()
	}
	return &Scheduler{
		store:       store,
		cfg:         cfg,
		zone:        timeutil.ResolveZone(cfg.Timezone),
		log:         log,
		clock:       timeutil.RealClock{},
		cronEngine:  cron.New(cron.WithLocation(timeutil.ResolveZone(cfg.Timezone))),
		cronEntries: cmap.New[cron.EntryID](),
		timers:      cmap.New[*time.Timer](),
		fireLocks:   cmap.New[*sync.Mutex](),
	}
}

// SetSampler installs the reverse-RPC peer used by fires with an agent_prompt.
// Mirrors the teacher's SetTaskExecutor, wired after the RPC surface exists.
func (s *Scheduler) SetSampler(sampler execution.Sampler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sampler = sampler
}

// SetClock overrides the scheduler's notion of "now", for deterministic
// restart/re-arm timing tests. Call before Initialize.
func (s *Scheduler) SetClock(clock timeutil.Clock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

func (s *Scheduler) lockFor(id string) *sync.Mutex {
	if mu, ok := s.fireLocks.Get(id); ok {
		return mu
	}
	mu := &sync.Mutex{}
	s.fireLocks.SetIfAbsent(id, mu)
	actual, _ := s.fireLocks.Get(id)
	return actual
}

// Initialize hydrates every task from the store, normalizes and persists
// it, and arms a timer where the normalized state calls for one.
func (s *Scheduler) Initialize(ctx context.Context) error {
	s.cronEngine.Start()

	tasks, err := s.store.List(ctx)
	if err != nil {
		return apperrors.Store(err)
	}
	now := s.clock.Now().UTC()
	for _, task := range tasks {
		s.normalize(task, now)
		if err := s.store.Upsert(ctx, task, task.History); err != nil {
			return apperrors.Store(err)
		}
		if task.Enabled && task.Status != model.StatusCompleted {
			s.arm(task)
		}
	}
	return nil
}

// Create assigns a fresh id, validates and materializes the trigger
// config, persists the task, and arms it if enabled.
func (s *Scheduler) Create(ctx context.Context, params CreateParams) (*model.Task, error) {
	if params.Name == "" {
		return nil, apperrors.InvalidInput("name is required")
	}
	now := s.clock.Now().UTC()
	materialized, err := trigger.ValidateAndMaterialize(params.TriggerType, params.TriggerConfig, now)
	if err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}

	task := &model.Task{
		ID:            generateID(),
		Name:          params.Name,
		TriggerType:   params.TriggerType,
		TriggerConfig: materialized,
		AgentPrompt:   params.AgentPrompt,
		MCPServer:     params.MCPServer,
		MCPTool:       params.MCPTool,
		MCPArguments:  params.MCPArguments,
		Enabled:       true,
		Status:        model.StatusScheduled,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.normalize(task, now)
	if err := s.store.Upsert(ctx, task, nil); err != nil {
		return nil, apperrors.Store(err)
	}
	if task.Enabled && task.Status != model.StatusCompleted {
		s.arm(task)
	}
	return task, nil
}

// Update merges patch into the stored task, recomputes status/next_run, and
// re-arms its timer.
func (s *Scheduler) Update(ctx context.Context, id string, patch UpdatePatch) (*model.Task, error) {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	task, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, apperrors.Store(err)
	}
	if task == nil {
		return nil, apperrors.NotFound("task", id)
	}

	if patch.Name != nil {
		task.Name = *patch.Name
	}
	if patch.TriggerType != nil {
		if patch.TriggerConfig == nil {
			return nil, apperrors.InvalidInput("changing trigger_type requires trigger_config")
		}
		task.TriggerType = *patch.TriggerType
	}
	if patch.TriggerConfig != nil {
		materialized, err := trigger.ValidateAndMaterialize(task.TriggerType, *patch.TriggerConfig, s.clock.Now().UTC())
		if err != nil {
			return nil, apperrors.InvalidInput(err.Error())
		}
		task.TriggerConfig = materialized
	}
	if patch.AgentPrompt != nil {
		task.AgentPrompt = *patch.AgentPrompt
	}
	if patch.MCPServer != nil {
		task.MCPServer = *patch.MCPServer
	}
	if patch.MCPTool != nil {
		task.MCPTool = *patch.MCPTool
	}
	if patch.MCPArguments != nil {
		task.MCPArguments = *patch.MCPArguments
	}

	task.UpdatedAt = s.clock.Now().UTC()
	s.normalize(task, task.UpdatedAt)

	s.unarm(id)
	if err := s.store.Upsert(ctx, task, nil); err != nil {
		return nil, apperrors.Store(err)
	}
	if task.Enabled && task.Status != model.StatusCompleted {
		s.arm(task)
	}
	return task, nil
}

// Pause sets enabled=false, renormalizes, and unarms the task's timer.
func (s *Scheduler) Pause(ctx context.Context, id string) (*model.Task, error) {
	return s.setEnabled(ctx, id, false)
}

// Resume sets enabled=true, renormalizes, and re-arms the task's timer.
func (s *Scheduler) Resume(ctx context.Context, id string) (*model.Task, error) {
	return s.setEnabled(ctx, id, true)
}

func (s *Scheduler) setEnabled(ctx context.Context, id string, enabled bool) (*model.Task, error) {
	mu := s.lockFor(id)
	mu.Lock()
	task, err := s.store.Get(ctx, id)
	if err != nil {
		mu.Unlock()
		return nil, apperrors.Store(err)
	}
	if task == nil {
		mu.Unlock()
		return nil, apperrors.NotFound("task", id)
	}
	task.Enabled = enabled
	task.UpdatedAt = s.clock.Now().UTC()
	s.normalize(task, task.UpdatedAt)
	s.unarm(id)
	err = s.store.Upsert(ctx, task, nil)
	if err == nil && task.Enabled && task.Status != model.StatusCompleted {
		s.arm(task)
	}
	mu.Unlock()
	if err != nil {
		return nil, apperrors.Store(err)
	}
	return task, nil
}

// Delete unarms the task's timer and cascades the store delete.
func (s *Scheduler) Delete(ctx context.Context, id string) (bool, error) {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	s.unarm(id)
	deleted, err := s.store.Delete(ctx, id)
	if err != nil {
		return false, apperrors.Store(err)
	}
	if !deleted {
		return false, apperrors.NotFound("task", id)
	}
	s.fireLocks.Remove(id)
	return true, nil
}

// Execute runs a fire synchronously now, regardless of schedule. It
// blocks on the per-task lock so it can never overlap a scheduled fire.
func (s *Scheduler) Execute(ctx context.Context, id string) (*model.Task, error) {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()
	return s.fireLocked(ctx, id)
}

// ClearHistory delegates to the store.
func (s *Scheduler) ClearHistory(ctx context.Context, id string) error {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	existing, err := s.store.Get(ctx, id)
	if err != nil {
		return apperrors.Store(err)
	}
	if existing == nil {
		return apperrors.NotFound("task", id)
	}
	if err := s.store.ClearHistory(ctx, id); err != nil {
		return apperrors.Store(err)
	}
	return nil
}

// Get returns the normalized, currently stored task.
func (s *Scheduler) Get(ctx context.Context, id string) (*model.Task, error) {
	task, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, apperrors.Store(err)
	}
	if task == nil {
		return nil, apperrors.NotFound("task", id)
	}
	s.normalize(task, s.clock.Now().UTC())
	return task, nil
}

// List returns every normalized task.
func (s *Scheduler) List(ctx context.Context) ([]*model.Task, error) {
	tasks, err := s.store.List(ctx)
	if err != nil {
		return nil, apperrors.Store(err)
	}
	now := s.clock.Now().UTC()
	for _, task := range tasks {
		s.normalize(task, now)
	}
	return tasks, nil
}

// Shutdown unarms every timer. In-flight fires are not cancelled.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	for _, id := range s.cronEntries.Keys() {
		s.unarm(id)
	}
	for _, id := range s.timers.Keys() {
		s.unarm(id)
	}
	s.cronEngine.Stop()
	return nil
}

// fireLocked runs one fire for id. Caller must hold the per-task lock. The
// fire's own failure (a sampling timeout, a peer error) is captured in the
// returned task's last_status/last_message and never propagated as a
// tool-call error; only a failure to read or persist the task itself is.
func (s *Scheduler) fireLocked(ctx context.Context, id string) (*model.Task, error) {
	task, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, apperrors.Store(err)
	}
	if task == nil {
		return nil, apperrors.NotFound("task", id)
	}
	if err := execution.Fire(ctx, s.store, task, s.sampler, s.cfg.SamplingTimeout, s.zone, s.clock); err != nil {
		if appErr, ok := apperrors.As(err); ok && (appErr.Kind() == apperrors.KindExecution || appErr.Kind() == apperrors.KindTimeout) {
			return task, nil
		}
		return task, err
	}
	return task, nil
}

// onScheduledTick is the callback armed for cron entries and interval/date
// timers. It drops the tick rather than blocking if a fire is already in
// progress for this task, per the coalescing policy.
func (s *Scheduler) onScheduledTick(id string) {
	mu := s.lockFor(id)
	if !mu.TryLock() {
		s.log.Warnf("dropping scheduled tick for task %s: a fire is already in progress", id)
		return
	}
	defer mu.Unlock()
	if _, err := s.fireLocked(context.Background(), id); err != nil {
		s.log.Warnf("fire failed for task %s: %v", id, err)
	}
}

func generateID() string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	suffix := make([]byte, 7)
	for i := range suffix {
		suffix[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return fmt.Sprintf("task-%d-%s", time.Now().UnixMilli(), suffix)
}
