/*
reconcile.go - Draft realignment and remote import

PURPOSE:
  Restores the contiguous draft block after any event that could break it:
  a finalize, a draft save, a prefix change or a remote counter raise.

CONTIGUOUS DRAFT BLOCK:
  Drafts, ordered by ascending timestamp (stable on ties), hold the numbers
  CurrentNumber()+1, CurrentNumber()+2, ... under the active prefix.

REALIGN ALGORITHM:
  1. Partition reports into synced and draft
  2. Stable-sort drafts by timestamp
  3. base = CurrentNumber() (after rollover / raise)
  4. i-th draft gets FormatID(prefix, base+i+1)
  5. Persist synced (unchanged) followed by the renumbered drafts

  Realign is idempotent.

REMOTE IMPORT:
  RaiseFloor(remote number) → Merge(history) → Realign. Callers only invoke
  ImportRemote with a complete, successful snapshot; a failed round-trip
  never reaches this file.

SEE ALSO:
  - authority.go: CurrentNumber / RaiseFloor
  - repository.go: Merge
*/
package fieldreport

import (
	"context"
)

// Reconciler keeps draft numbering consistent with the counter.
type Reconciler struct {
	authority  *IdentifierAuthority
	repository *Repository
}

// NewReconciler creates a reconciler over the given components.
func NewReconciler(authority *IdentifierAuthority, repository *Repository) *Reconciler {
	return &Reconciler{authority: authority, repository: repository}
}

// Realign renumbers drafts into the contiguous block following the counter.
// Returns how many drafts changed identifier.
func (rc *Reconciler) Realign(ctx context.Context) (int, error) {
	all, err := rc.repository.All(ctx)
	if err != nil {
		return 0, err
	}

	synced := make([]Report, 0, len(all))
	drafts := make([]Report, 0, len(all))
	for _, rep := range all {
		if rep.IsSynced() {
			synced = append(synced, rep)
		} else {
			drafts = append(drafts, rep)
		}
	}
	if err := checkUnique(synced); err != nil {
		return 0, err
	}

	SortByTimestamp(drafts)

	state, err := rc.authority.State(ctx)
	if err != nil {
		return 0, err
	}

	changed := 0
	for i := range drafts {
		id := FormatID(state.Prefix, state.Number+i+1)
		if drafts[i].ID != id {
			changed++
		}
		drafts[i].ID = id
		drafts[i].Year = state.Year
		drafts[i].Status = StatusDraft
	}

	if err := rc.repository.replaceAll(ctx, append(synced, drafts...)); err != nil {
		return 0, err
	}
	return changed, nil
}

// ImportResult summarizes a remote import.
type ImportResult struct {
	Raised    bool
	Number    int
	Imported  int
	Realigned int
}

// ImportRemote applies a remote counter snapshot and history.
func (rc *Reconciler) ImportRemote(ctx context.Context, snapshot CounterSnapshot, history []Report) (ImportResult, error) {
	var res ImportResult

	raised, err := rc.authority.RaiseFloor(ctx, snapshot.Number())
	if err != nil {
		return res, err
	}
	res.Raised = raised

	res.Imported, err = rc.repository.Merge(ctx, history)
	if err != nil {
		return res, err
	}

	res.Realigned, err = rc.Realign(ctx)
	if err != nil {
		return res, err
	}

	res.Number, err = rc.authority.CurrentNumber(ctx)
	return res, err
}

// checkUnique fails on two synced reports sharing (year, id).
func checkUnique(synced []Report) error {
	type slot struct {
		year int
		id   string
	}
	seen := make(map[slot]bool, len(synced))
	for _, rep := range synced {
		k := slot{rep.Year, rep.ID}
		if seen[k] {
			return &DuplicateIDError{ID: rep.ID, Year: rep.Year}
		}
		seen[k] = true
	}
	return nil
}
