package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/model_provisioner/internal/storage"
)

const selectOutcomes = `SELECT
		id,
		run_id,
		instance_id,
		kind,
		source_url,
		destination,
		final_path,
		status,
		attempts,
		bytes,
		duration_ms,
		last_error,
		created_at
	FROM acquisitions`

type OutcomeRepository struct {
	db *sql.DB
}

func NewOutcomeRepository(dbConn *sql.DB) *OutcomeRepository {
	return &OutcomeRepository{db: dbConn}
}

// RecordOutcome appends a ledger row and sets record.ID.
func (r *OutcomeRepository) RecordOutcome(ctx context.Context, record *storage.OutcomeRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO acquisitions (
			run_id, instance_id, kind, source_url, destination, final_path,
			status, attempts, bytes, duration_ms, last_error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.RunID,
		record.InstanceID,
		record.Kind,
		record.SourceURL,
		record.Destination,
		record.FinalPath,
		record.Status,
		record.Attempts,
		record.Bytes,
		record.Duration.Milliseconds(),
		record.LastError,
		record.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return err
	}

	record.ID, err = res.LastInsertId()

	return err
}

// GetOutcomesByRun returns the rows of one run in insertion order.
func (r *OutcomeRepository) GetOutcomesByRun(ctx context.Context, runID string) ([]storage.OutcomeRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectOutcomes+` WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOutcomes(rows)
}

// GetRecentOutcomes returns up to limit rows, newest first.
func (r *OutcomeRepository) GetRecentOutcomes(ctx context.Context, limit int) ([]storage.OutcomeRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectOutcomes+` ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOutcomes(rows)
}

func scanOutcomes(rows *sql.Rows) ([]storage.OutcomeRecord, error) {
	var records []storage.OutcomeRecord

	for rows.Next() {
		var (
			record                           storage.OutcomeRecord
			instanceID, finalPath, lastError sql.NullString
			durationMS                       int64
			createdAt                        string
		)

		if err := rows.Scan(
			&record.ID,
			&record.RunID,
			&instanceID,
			&record.Kind,
			&record.SourceURL,
			&record.Destination,
			&finalPath,
			&record.Status,
			&record.Attempts,
			&record.Bytes,
			&durationMS,
			&lastError,
			&createdAt,
		); err != nil {
			return nil, err
		}

		record.InstanceID = instanceID.String
		record.FinalPath = finalPath.String
		record.LastError = lastError.String
		record.Duration = time.Duration(durationMS) * time.Millisecond

		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			record.CreatedAt = t
		}

		records = append(records, record)
	}

	return records, rows.Err()
}
