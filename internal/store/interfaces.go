// Package store persists run records and their status history in
// Postgres. The full record travels as one JSONB document; hot columns
// (status, fingerprint, session) are lifted out for queries.
package store

import (
	"context"
	"errors"

	"consilium.app/panel/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrStaleTransition is returned when a status transition finds the run
// in a different state than expected, usually because another worker got
// there first.
var ErrStaleTransition = errors.New("stale status transition")

// RunStore defines the contract for run record data access
type RunStore interface {
	Create(ctx context.Context, rec *model.RunRecord) error
	Get(ctx context.Context, id int64) (*model.RunRecord, error)
	ListRecent(ctx context.Context, limit int32) ([]model.RunRecord, error)

	// Transition moves a run from one status to another and appends a
	// run_events row in the same transaction. Returns ErrStaleTransition
	// when the run is not currently in the expected status.
	Transition(ctx context.Context, id int64, from, to model.RunStatus, detail string) error

	// SaveResult writes the fully populated record of a finished run.
	SaveResult(ctx context.Context, rec *model.RunRecord) error
}
