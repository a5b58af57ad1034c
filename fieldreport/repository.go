/*
repository.go - Local report collection

PURPOSE:
  Repository is the only writer of the report collection. It offers
  per-report upsert/remove and a remote merge; every write persists the
  whole collection synchronously, so a write is visible to the next read.

MATCHING:
  A report carrying a Key is matched by Key (drafts keep their Key across
  renumbering). Reports without a Key are matched by ID. See indexOf.

CONFLICT RULE (merge):
  Remote reports are added only when their ID is not already present.
  Local data always wins on collision.

SEE ALSO:
  - reconcile.go: Rewrites draft IDs via replaceAll
  - store.go: Underlying four-record Store
*/
package fieldreport

import (
	"context"
	"fmt"
	"sort"
	"strconv"
)

// Repository manages the persisted report collection.
type Repository struct {
	store Store
}

// NewRepository creates a repository over store.
func NewRepository(store Store) *Repository {
	return &Repository{store: store}
}

// All returns every known report in insertion order.
func (r *Repository) All(ctx context.Context) ([]Report, error) {
	reports, err := r.store.LoadReports(ctx)
	if err != nil {
		return nil, fmt.Errorf("load reports: %w", err)
	}
	return reports, nil
}

// AllByTimestamp returns every report sorted by ascending timestamp.
// Ties keep insertion order.
func (r *Repository) AllByTimestamp(ctx context.Context) ([]Report, error) {
	reports, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	SortByTimestamp(reports)
	return reports, nil
}

// Drafts returns draft reports in insertion order.
func (r *Repository) Drafts(ctx context.Context) ([]Report, error) {
	return r.filter(ctx, Report.IsDraft)
}

func (r *Repository) filter(ctx context.Context, keep func(Report) bool) ([]Report, error) {
	all, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Report, 0, len(all))
	for _, rep := range all {
		if keep(rep) {
			out = append(out, rep)
		}
	}
	return out, nil
}

// Get returns the report with the given ID. Drafts are preferred over a
// synced report of an earlier year sharing the same ID.
func (r *Repository) Get(ctx context.Context, id string) (Report, error) {
	all, err := r.All(ctx)
	if err != nil {
		return Report{}, err
	}
	found := -1
	for i, rep := range all {
		if rep.ID != id {
			continue
		}
		if found < 0 || rep.IsDraft() {
			found = i
		}
	}
	if found < 0 {
		return Report{}, fmt.Errorf("%w: %s", ErrReportNotFound, id)
	}
	return all[found], nil
}

// Upsert replaces the matching report in place or appends report.
// A synced report is never replaced.
func (r *Repository) Upsert(ctx context.Context, report Report) error {
	all, err := r.All(ctx)
	if err != nil {
		return err
	}
	if i := indexOf(all, report); i >= 0 {
		if all[i].IsSynced() {
			return fmt.Errorf("%w: %s", ErrReportSynced, all[i].ID)
		}
		all[i] = report
	} else {
		all = append(all, report)
	}
	return r.replaceAll(ctx, all)
}

// RemoveByID deletes every draft with the given ID. Returns
// ErrReportSynced if the ID only names synced reports.
func (r *Repository) RemoveByID(ctx context.Context, id string) error {
	all, err := r.All(ctx)
	if err != nil {
		return err
	}
	kept := all[:0:0]
	removed, synced := 0, false
	for _, rep := range all {
		if rep.ID == id {
			if rep.IsSynced() {
				synced = true
			} else {
				removed++
				continue
			}
		}
		kept = append(kept, rep)
	}
	if removed == 0 {
		if synced {
			return fmt.Errorf("%w: %s", ErrReportSynced, id)
		}
		return fmt.Errorf("%w: %s", ErrReportNotFound, id)
	}
	return r.replaceAll(ctx, kept)
}

// removeDraft deletes the draft report refers to. Missing drafts are
// not an error.
func (r *Repository) removeDraft(ctx context.Context, report Report) error {
	all, err := r.All(ctx)
	if err != nil {
		return err
	}
	i := indexOf(all, report)
	if i < 0 || all[i].IsSynced() {
		return nil
	}
	return r.replaceAll(ctx, append(all[:i:i], all[i+1:]...))
}

// Find returns the stored record report refers to.
func (r *Repository) Find(ctx context.Context, report Report) (Report, bool, error) {
	all, err := r.All(ctx)
	if err != nil {
		return Report{}, false, err
	}
	if i := indexOf(all, report); i >= 0 {
		return all[i], true, nil
	}
	return Report{}, false, nil
}

// Merge appends remote reports whose IDs are not present locally, tagged
// synced and with empty containers for missing fields. Returns the number
// of reports added. Merging the same history twice adds nothing the
// second time.
func (r *Repository) Merge(ctx context.Context, remote []Report) (int, error) {
	all, err := r.All(ctx)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]bool, len(all)+len(remote))
	for _, rep := range all {
		seen[rep.ID] = true
	}

	added := 0
	for _, rep := range remote {
		if rep.ID == "" || seen[rep.ID] {
			continue
		}
		seen[rep.ID] = true

		rep = rep.Clone()
		rep.Status = StatusSynced
		rep.Key = ""
		if rep.Year == 0 {
			rep.Year = yearOf(rep.Date)
		}
		rep.fillDefaults()
		all = append(all, rep)
		added++
	}
	if added == 0 {
		return 0, nil
	}
	return added, r.replaceAll(ctx, all)
}

// Clear removes every report.
func (r *Repository) Clear(ctx context.Context) error {
	return r.replaceAll(ctx, []Report{})
}

func (r *Repository) replaceAll(ctx context.Context, reports []Report) error {
	if err := r.store.SaveReports(ctx, reports); err != nil {
		return fmt.Errorf("save reports: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// SortByTimestamp sorts reports by ascending timestamp, stable on ties.
func SortByTimestamp(reports []Report) {
	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].Timestamp < reports[j].Timestamp
	})
}

// indexOf finds the stored record report refers to, or -1.
//
// A keyed report matches its own key. A keyed draft may also claim a
// keyless draft with the same ID (records saved before keys existed).
// A keyless report matches by ID, preferring drafts over synced reports.
func indexOf(all []Report, report Report) int {
	if report.Key != "" {
		for i, rep := range all {
			if rep.Key == report.Key {
				return i
			}
		}
		if report.IsSynced() {
			return -1
		}
		for i, rep := range all {
			if rep.Key == "" && rep.IsDraft() && rep.ID == report.ID {
				return i
			}
		}
		return -1
	}

	syncedAt := -1
	for i, rep := range all {
		if rep.ID != report.ID {
			continue
		}
		if rep.IsDraft() {
			return i
		}
		if syncedAt < 0 {
			syncedAt = i
		}
	}
	return syncedAt
}

// yearOf extracts the year of a YYYY-MM-DD date, or 0.
func yearOf(date string) int {
	if len(date) < 4 {
		return 0
	}
	y, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return y
}
