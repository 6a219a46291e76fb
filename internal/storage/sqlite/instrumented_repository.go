package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/model_provisioner/internal/storage"
	"github.com/italolelis/model_provisioner/internal/telemetry"
)

// InstrumentedOutcomeRepository wraps OutcomeRepository with telemetry.
type InstrumentedOutcomeRepository struct {
	repo      *OutcomeRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedOutcomeRepository creates a new instrumented outcome repository.
func NewInstrumentedOutcomeRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedOutcomeRepository {
	return &InstrumentedOutcomeRepository{
		repo:      NewOutcomeRepository(dbConn),
		telemetry: tel,
	}
}

// RecordOutcome appends a ledger row with telemetry.
func (r *InstrumentedOutcomeRepository) RecordOutcome(ctx context.Context, record *storage.OutcomeRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_outcome", func(ctx context.Context) error {
		return r.repo.RecordOutcome(ctx, record)
	})
}

// GetOutcomesByRun retrieves the rows of one run with telemetry.
func (r *InstrumentedOutcomeRepository) GetOutcomesByRun(ctx context.Context, runID string) ([]storage.OutcomeRecord, error) {
	var result []storage.OutcomeRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_outcomes_by_run", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetOutcomesByRun(ctx, runID)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetRecentOutcomes retrieves the latest rows with telemetry.
func (r *InstrumentedOutcomeRepository) GetRecentOutcomes(ctx context.Context, limit int) ([]storage.OutcomeRecord, error) {
	var result []storage.OutcomeRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_recent_outcomes", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetRecentOutcomes(ctx, limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
