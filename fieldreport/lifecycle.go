/*
lifecycle.go - Facade used by the UI and network collaborators

PURPOSE:
  Lifecycle composes IdentifierAuthority, Repository and Reconciler into the
  operations external collaborators call: start/save/finalize drafts,
  submit to the remote backend, import remote state, update the profile
  and log out.

ATOMICITY:
  Every operation runs under a mutex and inside TxStore.WithTx. Components
  are bound to the transactional Store for the duration of the call, so a
  failing step rolls back all four records.

TWO-PHASE REMOTE PROTOCOL:
  Network round-trips (Sync fetches, Submit) return plain values first.
  Local state is only touched afterwards, in one atomic step. A failed
  round-trip never mutates local state.

INVARIANT RESTORATION:
  Realign runs after every draft save, profile change, finalize and remote
  import.

SEE ALSO:
  - reconcile.go: Realign / ImportRemote
  - api/handlers.go: HTTP surface over Lifecycle
  - remote/client.go: RemoteSource and Submitter implementation
*/
package fieldreport

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultPrefix is the prefix used until a profile is saved.
const DefaultPrefix = "C"

// =============================================================================
// COLLABORATORS
// =============================================================================

// RemoteSource supplies remote counter stats and report history.
type RemoteSource interface {
	FetchCounter(ctx context.Context) (CounterSnapshot, error)
	FetchHistory(ctx context.Context) ([]Report, error)
}

// Submitter sends a report to the remote backend. A nil error means the
// backend accepted the report.
type Submitter interface {
	Submit(ctx context.Context, report Report, technician string) error
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Lifecycle is the orchestrator of the report/identifier lifecycle.
type Lifecycle struct {
	store         TxStore
	clock         Clock
	logger        logrus.FieldLogger
	defaultPrefix string
	newKey        func() string

	mu sync.Mutex
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithClock sets the clock used for timestamps and year rollover.
func WithClock(c Clock) Option {
	return func(l *Lifecycle) { l.clock = c }
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(l *Lifecycle) { l.logger = logger }
}

// WithDefaultPrefix sets the prefix used before a profile exists.
func WithDefaultPrefix(prefix string) Option {
	return func(l *Lifecycle) { l.defaultPrefix = prefix }
}

// NewLifecycle creates a Lifecycle over store.
func NewLifecycle(store TxStore, opts ...Option) *Lifecycle {
	l := &Lifecycle{
		store:         store,
		clock:         SystemClock{},
		logger:        logrus.StandardLogger(),
		defaultPrefix: DefaultPrefix,
		newKey:        func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.WithField("component", "lifecycle")
	return l
}

// components binds the lifecycle's collaborators to one Store.
type components struct {
	store      Store
	authority  *IdentifierAuthority
	repository *Repository
	reconciler *Reconciler
}

func (l *Lifecycle) bind(s Store) components {
	authority := NewIdentifierAuthority(s, l.clock, l.defaultPrefix)
	repository := NewRepository(s)
	return components{
		store:      s,
		authority:  authority,
		repository: repository,
		reconciler: NewReconciler(authority, repository),
	}
}

// atomically runs fn under the lifecycle lock in a store transaction.
func (l *Lifecycle) atomically(ctx context.Context, fn func(c components) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tx(ctx, fn)
}

// tx runs fn in a store transaction. Caller must hold l.mu.
func (l *Lifecycle) tx(ctx context.Context, fn func(c components) error) error {
	err := l.store.WithTx(ctx, func(s Store) error {
		return fn(l.bind(s))
	})
	if IsInvariantViolation(err) {
		l.logger.WithError(err).WithField("investigate", true).
			Error("local report state is inconsistent")
	}
	return err
}

// =============================================================================
// PROFILE
// =============================================================================

// Profile returns the stored profile, or the placeholder identity.
func (l *Lifecycle) Profile(ctx context.Context) (Profile, error) {
	var p Profile
	err := l.atomically(ctx, func(c components) error {
		var err error
		p, err = l.loadProfile(ctx, c)
		return err
	})
	return p, err
}

func (l *Lifecycle) loadProfile(ctx context.Context, c components) (Profile, error) {
	p, ok, err := c.store.LoadProfile(ctx)
	if err != nil {
		return Profile{}, fmt.Errorf("load profile: %w", err)
	}
	if !ok {
		return DefaultProfile(l.defaultPrefix), nil
	}
	return p, nil
}

// UpdateProfile saves p and realigns drafts under its prefix.
func (l *Lifecycle) UpdateProfile(ctx context.Context, p Profile) (Profile, error) {
	if err := ValidatePrefix(p.Prefix); err != nil {
		return Profile{}, err
	}
	err := l.atomically(ctx, func(c components) error {
		return l.saveProfile(ctx, c, p)
	})
	return p, err
}

// ApplyLogin records the identity returned by a successful remote login.
// An empty prefix keeps the current one.
func (l *Lifecycle) ApplyLogin(ctx context.Context, name, prefix string) (Profile, error) {
	var p Profile
	err := l.atomically(ctx, func(c components) error {
		var err error
		p, err = l.loadProfile(ctx, c)
		if err != nil {
			return err
		}
		p.Name = name
		if prefix != "" {
			p.Prefix = prefix
		}
		if err := ValidatePrefix(p.Prefix); err != nil {
			return err
		}
		return l.saveProfile(ctx, c, p)
	})
	return p, err
}

func (l *Lifecycle) saveProfile(ctx context.Context, c components, p Profile) error {
	old, err := c.authority.Prefix(ctx)
	if err != nil {
		return err
	}
	if err := c.store.SaveProfile(ctx, p); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	changed, err := c.reconciler.Realign(ctx)
	if err != nil {
		return err
	}
	if old != p.Prefix {
		l.logger.WithFields(logrus.Fields{
			"old_prefix": old,
			"new_prefix": p.Prefix,
			"renumbered": changed,
		}).Info("prefix changed")
	}
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

// ReportFilter selects reports for Reports.
type ReportFilter struct {
	Status          Status // empty means all
	SortByTimestamp bool
}

// Reports returns reports matching filter.
func (l *Lifecycle) Reports(ctx context.Context, filter ReportFilter) ([]Report, error) {
	var out []Report
	err := l.atomically(ctx, func(c components) error {
		load := c.repository.All
		if filter.SortByTimestamp {
			load = c.repository.AllByTimestamp
		}
		all, err := load(ctx)
		if err != nil {
			return err
		}
		out = make([]Report, 0, len(all))
		for _, rep := range all {
			if filter.Status == "" || rep.Status == filter.Status {
				out = append(out, rep)
			}
		}
		return nil
	})
	return out, err
}

// Report returns the report with id. A draft wins over a synced report of
// an earlier year holding the same ID.
func (l *Lifecycle) Report(ctx context.Context, id string) (Report, error) {
	var r Report
	err := l.atomically(ctx, func(c components) error {
		var err error
		r, err = c.repository.Get(ctx, id)
		return err
	})
	return r, err
}

// CounterView is the dashboard view of the counter.
type CounterView struct {
	Year   int
	Number int
	Prefix string
	LastID string // empty while nothing was sent this year
	NextID string
	Drafts int
	Synced int
}

// Counter returns the current counter and collection summary.
func (l *Lifecycle) Counter(ctx context.Context) (CounterView, error) {
	var v CounterView
	err := l.atomically(ctx, func(c components) error {
		state, err := c.authority.State(ctx)
		if err != nil {
			return err
		}
		all, err := c.repository.All(ctx)
		if err != nil {
			return err
		}
		v = CounterView{Year: state.Year, Number: state.Number, Prefix: state.Prefix}
		if state.Number > 0 {
			v.LastID = FormatID(state.Prefix, state.Number)
		}
		v.NextID = FormatID(state.Prefix, state.Number+1)
		for _, rep := range all {
			if rep.IsSynced() {
				v.Synced++
			} else {
				v.Drafts++
			}
		}
		return nil
	})
	return v, err
}

// =============================================================================
// DRAFTS
// =============================================================================

// StartDraft builds a new draft with the next projected ID. It is not
// persisted until SaveDraft.
func (l *Lifecycle) StartDraft(ctx context.Context, opts ...DraftOption) (Report, error) {
	var r Report
	err := l.atomically(ctx, func(c components) error {
		drafts, err := c.repository.Drafts(ctx)
		if err != nil {
			return err
		}
		id, err := c.authority.ProjectID(ctx, len(drafts)+1)
		if err != nil {
			return err
		}
		profile, err := l.loadProfile(ctx, c)
		if err != nil {
			return err
		}

		now := l.clock.Now()
		payload := DefaultPayload(profile, now)
		for _, opt := range opts {
			opt(&payload)
		}
		r = Report{
			ID:        id,
			Key:       l.newKey(),
			Status:    StatusDraft,
			Timestamp: now.UnixMilli(),
			Year:      c.authority.Year(),
			Payload:   payload,
		}
		return nil
	})
	return r, err
}

// SaveDraft persists report as a draft and realigns. Returns the stored
// record, whose ID may differ from report.ID after realignment.
func (l *Lifecycle) SaveDraft(ctx context.Context, report Report) (Report, error) {
	var saved Report
	err := l.atomically(ctx, func(c components) error {
		var err error
		saved, err = l.saveDraft(ctx, c, report)
		return err
	})
	return saved, err
}

func (l *Lifecycle) saveDraft(ctx context.Context, c components, report Report) (Report, error) {
	if report.IsSynced() {
		return Report{}, fmt.Errorf("%w: %s", ErrReportSynced, report.ID)
	}

	report = report.Clone()
	report.Status = StatusDraft
	report.fillDefaults()

	existing, found, err := c.repository.Find(ctx, report)
	if err != nil {
		return Report{}, err
	}
	if found && existing.IsSynced() {
		return Report{}, fmt.Errorf("%w: %s", ErrReportSynced, existing.ID)
	}
	if report.Key == "" {
		report.Key = l.newKey()
	}
	if report.Timestamp == 0 {
		report.Timestamp = l.clock.Now().UnixMilli()
	}
	if found && existing.Timestamp > report.Timestamp {
		report.Timestamp = existing.Timestamp
	}

	if err := c.repository.Upsert(ctx, report); err != nil {
		return Report{}, err
	}
	if _, err := c.reconciler.Realign(ctx); err != nil {
		return Report{}, err
	}

	saved, _, err := c.repository.Find(ctx, Report{Key: report.Key, Status: StatusDraft})
	return saved, err
}

// DiscardDraft deletes the draft with id and realigns the rest.
func (l *Lifecycle) DiscardDraft(ctx context.Context, id string) error {
	return l.atomically(ctx, func(c components) error {
		if err := c.repository.RemoveByID(ctx, id); err != nil {
			return err
		}
		_, err := c.reconciler.Realign(ctx)
		return err
	})
}

// =============================================================================
// FINALIZATION
// =============================================================================

// FinalizeReport mints the real ID for a report the remote backend has
// accepted, stores it as synced and realigns the remaining drafts.
func (l *Lifecycle) FinalizeReport(ctx context.Context, report Report) (string, error) {
	var id string
	err := l.atomically(ctx, func(c components) error {
		var err error
		id, err = l.finalize(ctx, c, report)
		return err
	})
	return id, err
}

func (l *Lifecycle) finalize(ctx context.Context, c components, report Report) (string, error) {
	if report.IsSynced() {
		return "", fmt.Errorf("%w: %s", ErrReportSynced, report.ID)
	}
	existing, found, err := c.repository.Find(ctx, report)
	if err != nil {
		return "", err
	}
	if found && existing.IsSynced() {
		return "", fmt.Errorf("%w: %s", ErrReportSynced, existing.ID)
	}

	id, err := c.authority.Finalize(ctx)
	if err != nil {
		return "", err
	}

	final := report.Clone()
	final.ID = id
	final.Status = StatusSynced
	final.Year = c.authority.Year()
	final.fillDefaults()
	if final.Technician == "" {
		profile, err := l.loadProfile(ctx, c)
		if err != nil {
			return "", err
		}
		final.Technician = profile.Name
	}
	if final.Key == "" {
		final.Key = l.newKey()
	}
	if now := l.clock.Now().UnixMilli(); now > final.Timestamp {
		final.Timestamp = now
	}

	if err := c.repository.removeDraft(ctx, report); err != nil {
		return "", err
	}
	if err := c.repository.Upsert(ctx, final); err != nil {
		return "", err
	}
	changed, err := c.reconciler.Realign(ctx)
	if err != nil {
		return "", err
	}

	l.logger.WithFields(logrus.Fields{
		"draft_id":   report.ID,
		"final_id":   id,
		"renumbered": changed,
	}).Info("report finalized")
	return id, nil
}

// Submit sends report to the backend under the ID finalization will mint,
// then finalizes it. On failure the report is kept as a draft and a
// *SubmitError is returned; the counter is not advanced.
//
// The lifecycle lock is held across the round-trip so the projected ID
// can't be taken by a concurrent finalize or raise.
func (l *Lifecycle) Submit(ctx context.Context, report Report, sub Submitter) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var (
		candidate Report
		profile   Profile
	)
	err := l.tx(ctx, func(c components) error {
		if report.IsSynced() {
			return fmt.Errorf("%w: %s", ErrReportSynced, report.ID)
		}
		existing, found, err := c.repository.Find(ctx, report)
		if err != nil {
			return err
		}
		if found && existing.IsSynced() {
			return fmt.Errorf("%w: %s", ErrReportSynced, existing.ID)
		}
		next, err := c.authority.ProjectID(ctx, 1)
		if err != nil {
			return err
		}
		profile, err = l.loadProfile(ctx, c)
		if err != nil {
			return err
		}
		candidate = report.Clone()
		candidate.ID = next
		candidate.fillDefaults()
		return nil
	})
	if err != nil {
		return "", err
	}

	if subErr := sub.Submit(ctx, candidate, profile.Name); subErr != nil {
		var kept Report
		err := l.tx(context.WithoutCancel(ctx), func(c components) error {
			var err error
			kept, err = l.saveDraft(context.WithoutCancel(ctx), c, report)
			return err
		})
		if err != nil {
			return "", fmt.Errorf("keep draft after failed submit: %w", err)
		}
		l.logger.WithError(subErr).WithField("draft_id", kept.ID).
			Warn("submission failed, report kept as draft")
		return "", &SubmitError{ReportID: kept.ID, Err: subErr}
	}

	var id string
	err = l.tx(ctx, func(c components) error {
		var err error
		id, err = l.finalize(ctx, c, report)
		return err
	})
	if err != nil {
		return "", err
	}
	if id != candidate.ID {
		l.logger.WithFields(logrus.Fields{
			"submitted_id": candidate.ID,
			"final_id":     id,
		}).Warn("minted id differs from submitted id")
	}
	return id, nil
}

// =============================================================================
// REMOTE SYNC
// =============================================================================

// Sync fetches the remote counter and history, then applies them with
// SyncFromRemote. If either fetch fails nothing is applied.
func (l *Lifecycle) Sync(ctx context.Context, src RemoteSource) (ImportResult, error) {
	snapshot, err := src.FetchCounter(ctx)
	if err != nil {
		return ImportResult{}, fmt.Errorf("%w: fetch counter: %w", ErrRemoteUnavailable, err)
	}
	if !snapshot.Success {
		return ImportResult{}, fmt.Errorf("%w: counter fetch not successful", ErrRemoteUnavailable)
	}
	history, err := src.FetchHistory(ctx)
	if err != nil {
		return ImportResult{}, fmt.Errorf("%w: fetch history: %w", ErrRemoteUnavailable, err)
	}
	return l.SyncFromRemote(ctx, snapshot, history)
}

// SyncFromRemote imports a complete remote snapshot in one atomic step.
// An unsuccessful snapshot is rejected without touching local state.
func (l *Lifecycle) SyncFromRemote(ctx context.Context, snapshot CounterSnapshot, history []Report) (ImportResult, error) {
	if !snapshot.Success {
		return ImportResult{}, fmt.Errorf("%w: counter snapshot not successful", ErrRemoteUnavailable)
	}
	var res ImportResult
	err := l.atomically(ctx, func(c components) error {
		var err error
		res, err = c.reconciler.ImportRemote(ctx, snapshot, history)
		return err
	})
	if err != nil {
		return ImportResult{}, err
	}
	l.logger.WithFields(logrus.Fields{
		"raised":     res.Raised,
		"number":     res.Number,
		"imported":   res.Imported,
		"renumbered": res.Realigned,
	}).Info("remote state imported")
	return res, nil
}

// =============================================================================
// LOGOUT
// =============================================================================

// Logout clears reports, counter and profile.
func (l *Lifecycle) Logout(ctx context.Context) error {
	err := l.atomically(ctx, func(c components) error {
		return c.store.Clear(ctx)
	})
	if err == nil {
		l.logger.Info("local state cleared")
	}
	return err
}
