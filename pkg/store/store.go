// Package store persists asynchronous execution records.
//
// Records carry the serialized execution result as an opaque JSON payload so
// the store never depends on pipeline types.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when no record exists for an ID.
var ErrNotFound = errors.New("store: record not found")

// Status is the lifecycle state of a queued execution.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Record is one queued execution and, once finished, its result.
type Record struct {
	ID          string          `json:"id"`
	Status      Status          `json:"status"`
	Input       string          `json:"input"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at"`
	CompletedAt time.Time       `json:"completed_at,omitempty"`
}

// ResultStore persists execution records. Put upserts by ID.
// Implementations must be safe for concurrent use.
type ResultStore interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (*Record, error)

	// List returns the most recently submitted records, newest first.
	List(ctx context.Context, limit int) ([]Record, error)

	// DeleteOlderThan removes completed records submitted before the cutoff
	// and returns how many were removed. Pending and running records stay.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	Close() error
}
