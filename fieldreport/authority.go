/*
authority.go - Per-year monotonic counter and ID minting

PURPOSE:
  IdentifierAuthority owns the counter records (number + year) and renders
  identifiers with the technician's prefix. It is the only component that
  writes the counter.

COUNTER LIFECYCLE:
  - First access: year defaults to the current year, number to 0
  - Annual rollover: stored year < current year → persist current year, number 0
  - Finalize: number + 1, persisted together with the current year
  - RaiseFloor: remote number > local number → persist remote number

  The counter is never lowered except by rollover.

PREFIX:
  Read from the profile record on every render. Changing the prefix never
  alters the numeric counter; existing numbers stay valid under the new prefix.

CONCURRENCY:
  Finalize and RaiseFloor must not interleave for the same counter. The
  Lifecycle serializes them; direct callers must do the same.

SEE ALSO:
  - reconcile.go: Calls CurrentNumber when realigning drafts
  - lifecycle.go: Serializes Finalize / RaiseFloor
*/
package fieldreport

import (
	"context"
	"fmt"
)

// IdentifierAuthority mints and projects report identifiers.
type IdentifierAuthority struct {
	store         Store
	clock         Clock
	defaultPrefix string
}

// NewIdentifierAuthority creates an authority over store.
// defaultPrefix is used while no profile has been saved.
func NewIdentifierAuthority(store Store, clock Clock, defaultPrefix string) *IdentifierAuthority {
	if clock == nil {
		clock = SystemClock{}
	}
	return &IdentifierAuthority{store: store, clock: clock, defaultPrefix: defaultPrefix}
}

// Prefix returns the active ID prefix.
func (a *IdentifierAuthority) Prefix(ctx context.Context) (string, error) {
	p, ok, err := a.store.LoadProfile(ctx)
	if err != nil {
		return "", fmt.Errorf("load profile: %w", err)
	}
	if !ok || p.Prefix == "" {
		return a.defaultPrefix, nil
	}
	return p.Prefix, nil
}

// Year returns the current calendar year according to the clock.
func (a *IdentifierAuthority) Year() int {
	return a.clock.Now().Year()
}

// CurrentNumber returns the last assigned number for the active year,
// applying the annual rollover first.
func (a *IdentifierAuthority) CurrentNumber(ctx context.Context) (int, error) {
	current := a.Year()

	year, ok, err := a.store.LoadCounterYear(ctx)
	if err != nil {
		return 0, fmt.Errorf("load counter year: %w", err)
	}
	if !ok {
		if err := a.store.SaveCounterYear(ctx, current); err != nil {
			return 0, fmt.Errorf("save counter year: %w", err)
		}
	} else if year < current {
		if err := a.store.SaveCounterYear(ctx, current); err != nil {
			return 0, fmt.Errorf("save counter year: %w", err)
		}
		if err := a.store.SaveCounterNumber(ctx, 0); err != nil {
			return 0, fmt.Errorf("reset counter: %w", err)
		}
		return 0, nil
	}

	n, ok, err := a.store.LoadCounterNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("load counter number: %w", err)
	}
	if !ok {
		return 0, nil
	}
	return n, nil
}

// State returns the full counter state after rollover.
func (a *IdentifierAuthority) State(ctx context.Context) (CounterState, error) {
	n, err := a.CurrentNumber(ctx)
	if err != nil {
		return CounterState{}, err
	}
	prefix, err := a.Prefix(ctx)
	if err != nil {
		return CounterState{}, err
	}
	return CounterState{Year: a.Year(), Number: n, Prefix: prefix}, nil
}

// ProjectID previews the identifier offset positions past the counter.
// It does not mutate the counter (beyond a pending rollover).
func (a *IdentifierAuthority) ProjectID(ctx context.Context, offset int) (string, error) {
	if offset < 1 {
		return "", fmt.Errorf("project id: offset must be positive, got %d", offset)
	}
	n, err := a.CurrentNumber(ctx)
	if err != nil {
		return "", err
	}
	prefix, err := a.Prefix(ctx)
	if err != nil {
		return "", err
	}
	return FormatID(prefix, n+offset), nil
}

// Finalize advances the counter by one and returns the minted identifier.
func (a *IdentifierAuthority) Finalize(ctx context.Context) (string, error) {
	n, err := a.CurrentNumber(ctx)
	if err != nil {
		return "", err
	}
	prefix, err := a.Prefix(ctx)
	if err != nil {
		return "", err
	}

	next := n + 1
	if err := a.store.SaveCounterYear(ctx, a.Year()); err != nil {
		return "", fmt.Errorf("save counter year: %w", err)
	}
	if err := a.store.SaveCounterNumber(ctx, next); err != nil {
		return "", fmt.Errorf("save counter number: %w", err)
	}
	return FormatID(prefix, next), nil
}

// RaiseFloor lifts the counter to remote if remote is higher.
// Returns true when the counter changed. Never lowers the counter.
func (a *IdentifierAuthority) RaiseFloor(ctx context.Context, remote int) (bool, error) {
	if remote < 0 {
		return false, fmt.Errorf("%w: %d", ErrInvalidFloor, remote)
	}
	n, err := a.CurrentNumber(ctx)
	if err != nil {
		return false, err
	}
	if remote <= n {
		return false, nil
	}
	if err := a.store.SaveCounterYear(ctx, a.Year()); err != nil {
		return false, fmt.Errorf("save counter year: %w", err)
	}
	if err := a.store.SaveCounterNumber(ctx, remote); err != nil {
		return false, fmt.Errorf("save counter number: %w", err)
	}
	return true, nil
}
