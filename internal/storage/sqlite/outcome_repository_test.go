package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/model_provisioner/internal/storage"
	"github.com/italolelis/model_provisioner/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *InstrumentedOutcomeRepository {
	t.Helper()

	db, err := InitDB(filepath.Join(t.TempDir(), "state", "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tel, err := telemetry.New(context.Background(), telemetry.Config{Enabled: false})
	require.NoError(t, err)

	return NewInstrumentedOutcomeRepository(db, tel)
}

func TestOutcomeRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestDB(t)

	ok := &storage.OutcomeRecord{
		RunID:       "run-1",
		InstanceID:  "host-1-abcd",
		Kind:        "hub",
		SourceURL:   "https://huggingface.co/o/r/resolve/main/a.bin",
		Destination: "/models/a.bin",
		FinalPath:   "/models/a.bin",
		Status:      "success",
		Attempts:    2,
		Bytes:       1024,
		Duration:    1500 * time.Millisecond,
	}
	failed := &storage.OutcomeRecord{
		RunID:       "run-1",
		Kind:        "generic",
		SourceURL:   "https://example.com/b.bin",
		Destination: "/models/",
		Status:      "error",
		Attempts:    5,
		LastError:   "HTTP 404",
	}
	other := &storage.OutcomeRecord{RunID: "run-2", Kind: "generic", SourceURL: "x", Destination: "y", Status: "skipped"}

	for _, rec := range []*storage.OutcomeRecord{ok, failed, other} {
		require.NoError(t, repo.RecordOutcome(ctx, rec))
		assert.NotZero(t, rec.ID)
	}

	got, err := repo.GetOutcomesByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, ok.SourceURL, got[0].SourceURL)
	assert.Equal(t, "host-1-abcd", got[0].InstanceID)
	assert.Equal(t, 2, got[0].Attempts)
	assert.Equal(t, int64(1024), got[0].Bytes)
	assert.Equal(t, 1500*time.Millisecond, got[0].Duration)
	assert.False(t, got[0].CreatedAt.IsZero())

	assert.Equal(t, "error", got[1].Status)
	assert.Equal(t, "HTTP 404", got[1].LastError)
	assert.Empty(t, got[1].InstanceID)
}

func TestOutcomeRepository_RecentNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := newTestDB(t)

	for _, src := range []string{"a", "b", "c"} {
		require.NoError(t, repo.RecordOutcome(ctx, &storage.OutcomeRecord{
			RunID: "run", Kind: "generic", SourceURL: src, Destination: "/d", Status: "success",
		}))
	}

	got, err := repo.GetRecentOutcomes(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].SourceURL)
	assert.Equal(t, "b", got[1].SourceURL)
}

func TestInitDB_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	db, err := InitDB(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = InitDB(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}
