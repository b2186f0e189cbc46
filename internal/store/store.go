package store

import (
	"context"
	"errors"
	"time"

	"cvrp/internal/model"
)

// Store is the persistence interface used by the API server.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run model.Run) error
	UpdateRun(ctx context.Context, run model.Run) error
	GetRun(ctx context.Context, id string) (model.Run, error)
	// ListRuns pages through runs in creation order. An empty owner lists
	// every run.
	ListRuns(ctx context.Context, owner, cursor string, limit int) ([]model.Run, string, error)

	// Callback deliveries
	EnqueueCallback(ctx context.Context, runID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueCallbacks(ctx context.Context, limit int) ([]CallbackDelivery, error)
	MarkCallback(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailCallback(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListCallbacks(ctx context.Context, runID string) ([]CallbackDelivery, error)
}

var ErrNotFound = errors.New("not found")

// NewRunID returns a time-ordered run id, so ids sort in creation order.
func NewRunID() string {
	return mustV7().String()
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
