package fieldreport_test

import (
	"context"
	"testing"
	"time"

	"github.com/fieldops/report-engine/fieldreport"
	"github.com/fieldops/report-engine/fieldreport/store"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// testClock starts at a fixed instant and advances one second per reading,
// so successive timestamps are strictly increasing.
type testClock struct {
	now time.Time
}

func newTestClock(year int) *testClock {
	return &testClock{now: time.Date(year, time.March, 10, 8, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestLifecycle(t *testing.T, clock fieldreport.Clock) (*fieldreport.Lifecycle, *store.TxMemory) {
	t.Helper()
	mem := store.NewTxMemory()
	logger, _ := test.NewNullLogger()
	lc := fieldreport.NewLifecycle(mem,
		fieldreport.WithClock(clock),
		fieldreport.WithLogger(logger),
	)
	return lc, mem
}

func newTestLifecycleWithHook(t *testing.T, clock fieldreport.Clock) (*fieldreport.Lifecycle, *store.TxMemory, *test.Hook) {
	t.Helper()
	mem := store.NewTxMemory()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	lc := fieldreport.NewLifecycle(mem,
		fieldreport.WithClock(clock),
		fieldreport.WithLogger(logger),
	)
	return lc, mem, hook
}

func draftIDs(t *testing.T, s fieldreport.Store) []string {
	t.Helper()
	reports, err := s.LoadReports(context.Background())
	require.NoError(t, err)
	var ids []string
	for _, r := range reports {
		if r.IsDraft() {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

func syncedIDs(t *testing.T, s fieldreport.Store) []string {
	t.Helper()
	reports, err := s.LoadReports(context.Background())
	require.NoError(t, err)
	var ids []string
	for _, r := range reports {
		if r.IsSynced() {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

func counterOf(t *testing.T, s fieldreport.Store) int {
	t.Helper()
	n, _, err := s.LoadCounterNumber(context.Background())
	require.NoError(t, err)
	return n
}

func draft(id string, ts int64) fieldreport.Report {
	return fieldreport.Report{ID: id, Status: fieldreport.StatusDraft, Timestamp: ts}
}

func synced(id string, year int) fieldreport.Report {
	return fieldreport.Report{ID: id, Status: fieldreport.StatusSynced, Year: year}
}
