package schemas

import (
	"context"

	"github.com/google/uuid"
)

// -- Store Interfaces --

// Store defines the contract for persisting analysis reports.
type Store interface {
	// PersistReport saves a run and all of its threats atomically.
	PersistReport(ctx context.Context, report *ResultEnvelope) error
	// GetThreatsByRunID retrieves the threats recorded for a run.
	GetThreatsByRunID(ctx context.Context, runID uuid.UUID) ([]Threat, error)
}
