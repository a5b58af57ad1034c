/*
store.go - Persistence interface for the local report state

PURPOSE:
  Defines the interface between the lifecycle logic and local storage.
  Local state is four independent records:

    reports         the report collection (drafts and synced)
    profile         the technician profile
    counter-number  last assigned number for the counter year
    counter-year    the year the counter belongs to

  Absence of a record is reported with ok=false and treated as first run
  by the components that own it.

OWNERSHIP:
  Only Repository writes the report collection and only IdentifierAuthority
  writes the counter records. The profile is written by the Lifecycle.

KEY INTERFACES:
  Store:   The four-record store
  TxStore: Store with atomic multi-record transactions
  SyncLog: Append-only record of remote sync attempts

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Durable SQLite store
  - fieldreport/store/memory.go: In-memory store for tests and dev

SEE ALSO:
  - repository.go, authority.go: The only writers
  - lifecycle.go: Runs every operation inside WithTx
*/
package fieldreport

import (
	"context"
	"time"
)

// =============================================================================
// STORE - The four-record local state
// =============================================================================

// Store persists the local report state. Writes are observable to
// subsequent reads as soon as the call returns.
type Store interface {
	// LoadReports returns the report collection in insertion order.
	// An absent collection is returned as an empty slice.
	LoadReports(ctx context.Context) ([]Report, error)

	// SaveReports replaces the whole report collection.
	SaveReports(ctx context.Context, reports []Report) error

	LoadProfile(ctx context.Context) (Profile, bool, error)
	SaveProfile(ctx context.Context, p Profile) error

	LoadCounterNumber(ctx context.Context) (int, bool, error)
	SaveCounterNumber(ctx context.Context, n int) error

	LoadCounterYear(ctx context.Context) (int, bool, error)
	SaveCounterYear(ctx context.Context, year int) error

	// Clear removes all four records.
	Clear(ctx context.Context) error
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple records
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the given Store is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// SYNC LOG - Separate from report state, tracks remote sync attempts
// =============================================================================

// SyncStatus is the outcome of a sync attempt.
type SyncStatus string

const (
	SyncOK     SyncStatus = "ok"
	SyncFailed SyncStatus = "failed"
)

// SyncRun records one attempt to import remote state.
type SyncRun struct {
	ID          string
	Trigger     string // "manual" or "scheduled"
	StartedAt   time.Time
	CompletedAt time.Time
	Status      SyncStatus
	Raised      bool
	Number      int
	Imported    int
	Error       string
}

// SyncLog stores sync runs. Append-only; Store.Clear leaves it intact.
type SyncLog interface {
	AppendSyncRun(ctx context.Context, run SyncRun) error

	// ListSyncRuns returns the most recent runs first.
	ListSyncRuns(ctx context.Context, limit int) ([]SyncRun, error)
}
