// SPDX-License-Identifier: AGPL-3.0-only

// Package storage implements Component C: the durable SQLite-backed store
// for tasks and their bounded history, with forward migration from a prior
// on-disk layout (§4.C rule 1) and a one-shot legacy free-form file import
// (§4.C rule 2).
package storage

import (
	"context"
	"time"

	"github.com/scheduletask/mcp-server/internal/model"
)

// StatusFields is the partial-update payload for UpdateStatus. A nil field
// is left untouched; updated_at is always touched regardless. Each field is
// a pointer-to-pointer so "set to null" (nil inner pointer) is distinguishable
// from "leave untouched" (nil outer pointer).
type StatusFields struct {
	LastRun     **time.Time
	LastStatus  **model.RunStatus
	LastMessage **string
	NextRun     **time.Time
}

// Store abstracts task persistence. The sole implementation is the SQLite
// store in sqlite.go; the interface exists so the scheduler and execution
// driver can be tested against an in-memory fake.
type Store interface {
	// Upsert atomically writes the task row and, when history is non-nil,
	// replaces all history rows for task.ID with it. history is newest
	// first; rows are inserted oldest first, so insertion order matches
	// fire order.
	Upsert(ctx context.Context, task *model.Task, history []model.HistoryEntry) error
	// Get returns a hydrated task (with history attached, newest first).
	Get(ctx context.Context, id string) (*model.Task, error)
	// List returns all hydrated tasks ordered by created_at ascending.
	List(ctx context.Context) ([]*model.Task, error)
	// Delete removes the task row and cascades its history. Reports
	// whether a row existed.
	Delete(ctx context.Context, id string) (bool, error)
	// UpdateStatus applies a partial update to the named fields.
	UpdateStatus(ctx context.Context, id string, fields StatusFields) error
	// ClearHistory removes history rows and clears last_status/last_message,
	// leaving last_run null.
	ClearHistory(ctx context.Context, id string) error
	// Close releases the underlying connection.
	Close() error
}
