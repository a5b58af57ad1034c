// Package store provides in-memory fieldreport.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/fieldops/report-engine/fieldreport"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	state
	runs []fieldreport.SyncRun
}

// state is the four-record local state. Nil pointers mean "absent".
type state struct {
	reports []fieldreport.Report
	profile *fieldreport.Profile
	number  *int
	year    *int
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) LoadReports(_ context.Context) ([]fieldreport.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadReportsLocked(), nil
}

func (m *Memory) SaveReports(_ context.Context, reports []fieldreport.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveReportsLocked(reports)
	return nil
}

func (m *Memory) LoadProfile(_ context.Context) (fieldreport.Profile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.profile == nil {
		return fieldreport.Profile{}, false, nil
	}
	return *m.profile, true, nil
}

func (m *Memory) SaveProfile(_ context.Context, p fieldreport.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profile = &p
	return nil
}

func (m *Memory) LoadCounterNumber(_ context.Context) (int, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return deref(m.number)
}

func (m *Memory) SaveCounterNumber(_ context.Context, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.number = &n
	return nil
}

func (m *Memory) LoadCounterYear(_ context.Context) (int, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return deref(m.year)
}

func (m *Memory) SaveCounterYear(_ context.Context, year int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.year = &year
	return nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state{}
	return nil
}

// Copies in both directions so callers never alias stored slices.
func (m *Memory) loadReportsLocked() []fieldreport.Report {
	out := make([]fieldreport.Report, len(m.reports))
	for i, r := range m.reports {
		out[i] = r.Clone()
	}
	return out
}

func (m *Memory) saveReportsLocked(reports []fieldreport.Report) {
	stored := make([]fieldreport.Report, len(reports))
	for i, r := range reports {
		stored[i] = r.Clone()
	}
	m.reports = stored
}

func deref(p *int) (int, bool, error) {
	if p == nil {
		return 0, false, nil
	}
	return *p, true, nil
}

// =============================================================================
// SYNC LOG
// =============================================================================

func (m *Memory) AppendSyncRun(_ context.Context, run fieldreport.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *Memory) ListSyncRuns(_ context.Context, limit int) ([]fieldreport.SyncRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := append([]fieldreport.SyncRun(nil), m.runs...)
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(fieldreport.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.state = snapshot
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() state {
	s := state{reports: tm.loadReportsLocked()}
	if tm.profile != nil {
		p := *tm.profile
		s.profile = &p
	}
	if tm.number != nil {
		n := *tm.number
		s.number = &n
	}
	if tm.year != nil {
		y := *tm.year
		s.year = &y
	}
	return s
}

// txMemoryView accesses the parent's state without locking; WithTx holds the lock.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) LoadReports(_ context.Context) ([]fieldreport.Report, error) {
	return tv.parent.loadReportsLocked(), nil
}

func (tv *txMemoryView) SaveReports(_ context.Context, reports []fieldreport.Report) error {
	tv.parent.saveReportsLocked(reports)
	return nil
}

func (tv *txMemoryView) LoadProfile(_ context.Context) (fieldreport.Profile, bool, error) {
	if tv.parent.profile == nil {
		return fieldreport.Profile{}, false, nil
	}
	return *tv.parent.profile, true, nil
}

func (tv *txMemoryView) SaveProfile(_ context.Context, p fieldreport.Profile) error {
	tv.parent.profile = &p
	return nil
}

func (tv *txMemoryView) LoadCounterNumber(_ context.Context) (int, bool, error) {
	return deref(tv.parent.number)
}

func (tv *txMemoryView) SaveCounterNumber(_ context.Context, n int) error {
	tv.parent.number = &n
	return nil
}

func (tv *txMemoryView) LoadCounterYear(_ context.Context) (int, bool, error) {
	return deref(tv.parent.year)
}

func (tv *txMemoryView) SaveCounterYear(_ context.Context, year int) error {
	tv.parent.year = &year
	return nil
}

func (tv *txMemoryView) Clear(_ context.Context) error {
	tv.parent.state = state{}
	return nil
}
