package sqlite_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/fieldops/report-engine/fieldreport"
	"github.com/fieldops/report-engine/store/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleReport(id string, status fieldreport.Status, ts int64) fieldreport.Report {
	return fieldreport.Report{
		ID:        id,
		Key:       "key-" + id,
		Status:    status,
		Timestamp: ts,
		Year:      2026,
		Payload: fieldreport.Payload{
			ClientName:    "Acme",
			Date:          "2026-03-10",
			Type:          fieldreport.InterventionEmergency,
			SelectedUnits: []int{3, 1},
			SelectedTasks: []string{"check"},
			Materials: []fieldreport.Material{
				{ID: "m1", Name: "Filter", Qty: 2, Cost: decimal.RequireFromString("12.50")},
			},
			AssistantTechnicians: []string{},
		},
	}
}

// =============================================================================
// REPORT COLLECTION
// =============================================================================

func TestStore_Reports_RoundTripKeepsOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	in := []fieldreport.Report{
		sampleReport("C-0003", fieldreport.StatusDraft, 300),
		sampleReport("C-0001", fieldreport.StatusSynced, 100),
		sampleReport("C-0002", fieldreport.StatusDraft, 200),
	}
	in[1].Key = ""
	require.NoError(t, store.SaveReports(ctx, in))

	out, err := store.LoadReports(ctx)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "C-0003", out[0].ID)
	assert.Equal(t, "C-0001", out[1].ID)
	assert.Equal(t, "C-0002", out[2].ID)

	assert.Empty(t, out[1].Key)
	assert.Equal(t, fieldreport.StatusSynced, out[1].Status)
	assert.Equal(t, "key-C-0003", out[0].Key)
	assert.Equal(t, []int{3, 1}, out[0].SelectedUnits)
	assert.True(t, decimal.RequireFromString("25").Equal(out[0].MaterialsTotal()))
	assert.NotNil(t, out[0].AssistantTechnicians)
}

func TestStore_Reports_EmptyCollection(t *testing.T) {
	store := newTestStore(t)

	out, err := store.LoadReports(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestStore_Reports_UniqueSyncedPerYear(t *testing.T) {
	// GIVEN: Two synced reports with the same (year, id)
	// WHEN: Saving the collection
	// THEN: The write is rejected with DuplicateIDError

	store := newTestStore(t)
	ctx := context.Background()

	dup := []fieldreport.Report{
		sampleReport("C-0001", fieldreport.StatusSynced, 1),
		sampleReport("C-0001", fieldreport.StatusSynced, 2),
	}
	err := store.SaveReports(ctx, dup)
	var dupErr *fieldreport.DuplicateIDError
	require.ErrorAs(t, err, &dupErr)
	assert.Equal(t, "C-0001", dupErr.ID)

	// Different years, or a draft sharing the ID, are fine.
	ok := []fieldreport.Report{
		sampleReport("C-0001", fieldreport.StatusSynced, 1),
		sampleReport("C-0001", fieldreport.StatusSynced, 2),
		sampleReport("C-0001", fieldreport.StatusDraft, 3),
	}
	ok[0].Year = 2025
	require.NoError(t, store.SaveReports(ctx, ok))
}

// =============================================================================
// NAMED RECORDS
// =============================================================================

func TestStore_Records_AbsentThenPresent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, ok, err := store.LoadCounterNumber(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = store.LoadProfile(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SaveCounterNumber(ctx, 7))
	require.NoError(t, store.SaveCounterNumber(ctx, 8))
	require.NoError(t, store.SaveCounterYear(ctx, 2026))
	require.NoError(t, store.SaveProfile(ctx, fieldreport.Profile{Name: "Ada", Prefix: "A"}))

	n, ok, err := store.LoadCounterNumber(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 8, n)

	y, _, err := store.LoadCounterYear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2026, y)

	p, ok, err := store.LoadProfile(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "A", p.Prefix)
}

func TestStore_Clear_KeepsSyncLog(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveReports(ctx, []fieldreport.Report{sampleReport("C-0001", fieldreport.StatusDraft, 1)}))
	require.NoError(t, store.SaveCounterNumber(ctx, 3))
	require.NoError(t, store.SaveProfile(ctx, fieldreport.Profile{Prefix: "A"}))
	require.NoError(t, store.AppendSyncRun(ctx, fieldreport.SyncRun{
		ID: "run-1", Trigger: "manual", Status: fieldreport.SyncOK, StartedAt: time.Now(),
	}))

	require.NoError(t, store.Clear(ctx))

	reports, err := store.LoadReports(ctx)
	require.NoError(t, err)
	assert.Empty(t, reports)
	_, ok, err := store.LoadCounterNumber(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = store.LoadProfile(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	runs, err := store.ListSyncRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestStore_WithTx_RollbackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveCounterNumber(ctx, 1))

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(s fieldreport.Store) error {
		require.NoError(t, s.SaveCounterNumber(ctx, 2))
		require.NoError(t, s.SaveReports(ctx, []fieldreport.Report{sampleReport("C-0002", fieldreport.StatusSynced, 1)}))

		// Reads inside the transaction see its writes.
		n, _, err := s.LoadCounterNumber(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	n, _, err := store.LoadCounterNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	reports, err := store.LoadReports(ctx)
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestStore_WithTx_Commit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(s fieldreport.Store) error {
		if err := s.SaveCounterYear(ctx, 2026); err != nil {
			return err
		}
		return s.SaveCounterNumber(ctx, 5)
	})
	require.NoError(t, err)

	n, ok, err := store.LoadCounterNumber(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5, n)
}

func TestStore_DrivesLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	lc := fieldreport.NewLifecycle(store)

	d, err := lc.StartDraft(ctx)
	require.NoError(t, err)
	d, err = lc.SaveDraft(ctx, d)
	require.NoError(t, err)
	id, err := lc.FinalizeReport(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, "C-0001", id)

	n, _, err := store.LoadCounterNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// =============================================================================
// SYNC LOG
// =============================================================================

func TestStore_SyncRuns_MostRecentFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.AppendSyncRun(ctx, fieldreport.SyncRun{
		ID: "r1", Trigger: "scheduled", Status: fieldreport.SyncOK,
		StartedAt: base, CompletedAt: base.Add(time.Second),
		Raised: true, Number: 8, Imported: 2,
	}))
	require.NoError(t, store.AppendSyncRun(ctx, fieldreport.SyncRun{
		ID: "r2", Trigger: "manual", Status: fieldreport.SyncFailed,
		StartedAt: base.Add(500 * time.Millisecond), Error: "remote backend unavailable",
	}))
	require.NoError(t, store.AppendSyncRun(ctx, fieldreport.SyncRun{
		ID: "r3", Trigger: "scheduled", Status: fieldreport.SyncOK,
		StartedAt: base.Add(time.Minute),
	}))

	runs, err := store.ListSyncRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "r3", runs[0].ID)
	assert.Equal(t, "r2", runs[1].ID)
	assert.Equal(t, "r1", runs[2].ID)

	assert.Equal(t, fieldreport.SyncFailed, runs[1].Status)
	assert.Equal(t, "remote backend unavailable", runs[1].Error)
	assert.True(t, runs[1].CompletedAt.IsZero())

	assert.True(t, runs[2].Raised)
	assert.Equal(t, 8, runs[2].Number)
	assert.Equal(t, 2, runs[2].Imported)
	assert.True(t, base.Equal(runs[2].StartedAt))

	limited, err := store.ListSyncRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "r3", limited[0].ID)
}

func TestStore_SyncRuns_CorruptTimestamp_ReturnsError(t *testing.T) {
	// GIVEN: A sync run row whose started_at is not in the stored layout
	// WHEN: Listing sync runs
	// THEN: The parse failure is reported instead of a zero time

	path := filepath.Join(t.TempDir(), "reports.db")
	store, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	_, err = raw.Exec(`INSERT INTO sync_runs (id, trigger_source, status, started_at)
		VALUES ('bad', 'manual', 'ok', 'yesterday')`)
	require.NoError(t, err)

	_, err = store.ListSyncRuns(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "started_at")
}
