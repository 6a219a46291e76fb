package storage

import (
	"context"
	"time"
)

// OutcomeRecord is one row of the acquisition ledger.
type OutcomeRecord struct {
	ID          int64
	RunID       string
	InstanceID  string
	Kind        string
	SourceURL   string
	Destination string
	FinalPath   string
	Status      string
	Attempts    int
	Bytes       int64
	Duration    time.Duration
	LastError   string
	CreatedAt   time.Time
}

// OutcomeReadRepository lists ledger history.
type OutcomeReadRepository interface {
	GetOutcomesByRun(ctx context.Context, runID string) ([]OutcomeRecord, error)
	GetRecentOutcomes(ctx context.Context, limit int) ([]OutcomeRecord, error)
}

// OutcomeWriteRepository appends outcomes to the ledger.
type OutcomeWriteRepository interface {
	RecordOutcome(ctx context.Context, record *OutcomeRecord) error
}
