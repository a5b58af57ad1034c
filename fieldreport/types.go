/*
types.go - Core domain types for intervention reports

PURPOSE:
  Defines the report, profile and counter types shared by every component
  of the report lifecycle. The lifecycle core only interprets a handful of
  report fields (ID, Key, Status, Timestamp, Year); the rest of the payload
  is carried opaquely for the form, the spreadsheet backend and exports.

KEY TYPES:
  Report:       A single intervention report (draft or synced)
  Payload:      Form fields filled by the technician
  Profile:      Technician identity, including the ID prefix
  CounterState: Per-year numbering state owned by the IdentifierAuthority

STATUS LIFECYCLE:
  nonexistent → draft → synced (terminal)
  A draft may be renumbered and edited freely. A synced report is immutable.

SEE ALSO:
  - id.go: Textual ID format
  - authority.go: Owner of CounterState
  - repository.go: Owner of the report collection
*/
package fieldreport

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// REPORT
// =============================================================================

// Status is the lifecycle state of a report.
type Status string

const (
	StatusDraft  Status = "draft"
	StatusSynced Status = "synced"
)

// Report is an intervention report as held by the local repository.
type Report struct {
	// ID is the human-readable identifier, e.g. "C-0042".
	// Provisional while the report is a draft.
	ID string `json:"id"`

	// Key identifies a draft across renumbering. Empty for reports that
	// arrived from remote history.
	Key string `json:"key,omitempty"`

	Status    Status `json:"status"`
	Timestamp int64  `json:"timestamp" validate:"gte=0"` // unix milliseconds

	// Year is the numbering period the ID belongs to. 0 when unknown.
	Year int `json:"year,omitempty"`

	Payload
}

// IsDraft reports whether r is still provisional.
func (r Report) IsDraft() bool { return r.Status != StatusSynced }

// IsSynced reports whether r was accepted by the remote authority.
func (r Report) IsSynced() bool { return r.Status == StatusSynced }

// Time returns Timestamp as a time.Time.
func (r Report) Time() time.Time { return time.UnixMilli(r.Timestamp) }

// Clone returns a deep copy of r so callers can't alias stored slices.
func (r Report) Clone() Report {
	c := r
	c.Materials = slices.Clone(r.Materials)
	c.SelectedUnits = slices.Clone(r.SelectedUnits)
	c.SelectedTasks = slices.Clone(r.SelectedTasks)
	c.AssistantTechnicians = slices.Clone(r.AssistantTechnicians)
	return c
}

// InterventionType classifies the work performed.
type InterventionType string

const (
	InterventionMaintenance InterventionType = "Maintenance"
	InterventionEmergency   InterventionType = "Emergency"
	InterventionPresidium   InterventionType = "Presidium"
)

// Payload holds the form fields of a report.
type Payload struct {
	ClientID   string           `json:"clientId"`
	ClientName string           `json:"clientName"`
	LocationID string           `json:"locationId"`
	Date       string           `json:"date" validate:"omitempty,datetime=2006-01-02"`
	StartTime  string           `json:"startTime" validate:"omitempty,datetime=15:04"`
	EndTime    string           `json:"endTime" validate:"omitempty,datetime=15:04"`
	Type       InterventionType `json:"type" validate:"omitempty,oneof=Maintenance Emergency Presidium"`

	Description string     `json:"description"`
	Materials   []Material `json:"materials" validate:"dive"`

	SelectedUnits []int    `json:"selectedUnits" validate:"dive,gte=0"`
	SelectedTasks []string `json:"selectedTasks"`

	IsLinkedToPrevious bool   `json:"isLinkedToPrevious,omitempty"`
	PreviousActivityID string `json:"previousActivityId,omitempty"`

	TechnicianSignature string `json:"technicianSignature,omitempty"`
	ClientSignature     string `json:"clientSignature,omitempty"`

	AssistantTechnicians []string `json:"assistantTechnicians"`
	AIReview             string   `json:"aiReview,omitempty"`

	// Technician is the user who submitted the report. Set on finalize;
	// remote history rows may carry it.
	Technician string `json:"technician,omitempty"`
}

// Material is a part or consumable used during an intervention.
type Material struct {
	ID   string          `json:"id"`
	Name string          `json:"name" validate:"required"`
	Qty  int             `json:"qty" validate:"gte=0"`
	Cost decimal.Decimal `json:"cost"`
}

// MaterialsTotal returns the sum of qty*cost over all materials.
func (p Payload) MaterialsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, m := range p.Materials {
		total = total.Add(m.Cost.Mul(decimal.NewFromInt(int64(m.Qty))))
	}
	return total
}

// fillDefaults replaces nil containers with empty ones.
func (p *Payload) fillDefaults() {
	if p.Materials == nil {
		p.Materials = []Material{}
	}
	if p.SelectedUnits == nil {
		p.SelectedUnits = []int{}
	}
	if p.SelectedTasks == nil {
		p.SelectedTasks = []string{}
	}
	if p.AssistantTechnicians == nil {
		p.AssistantTechnicians = []string{}
	}
}

// DefaultPayload returns the form defaults for a new draft.
func DefaultPayload(profile Profile, now time.Time) Payload {
	p := Payload{
		Date:                now.Format("2006-01-02"),
		StartTime:           "09:00",
		EndTime:             "11:30",
		Type:                InterventionMaintenance,
		TechnicianSignature: profile.PermanentSignature,
	}
	p.fillDefaults()
	return p
}

// DraftOption customizes the payload of a new draft.
type DraftOption func(*Payload)

// WithClient sets the client and location of a new draft.
func WithClient(clientID, clientName, locationID string) DraftOption {
	return func(p *Payload) {
		p.ClientID = clientID
		p.ClientName = clientName
		p.LocationID = locationID
	}
}

// =============================================================================
// PROFILE
// =============================================================================

// Profile is the technician using the device.
type Profile struct {
	Name               string          `json:"name"`
	Role               string          `json:"role"`
	Avatar             string          `json:"avatar"`
	Prefix             string          `json:"prefix"`
	PermanentSignature string          `json:"permanentSignature,omitempty"`
	Settings           ProfileSettings `json:"settings"`
}

// ProfileSettings are device preferences. Not interpreted by the core.
type ProfileSettings struct {
	DarkMode      bool `json:"darkMode"`
	SyncWifiOnly  bool `json:"syncWifiOnly"`
	Notifications bool `json:"notifications"`
}

// DefaultProfile is the placeholder identity used before login.
func DefaultProfile(prefix string) Profile {
	return Profile{
		Name:   "Technician",
		Role:   "Technician",
		Prefix: prefix,
		Settings: ProfileSettings{
			DarkMode:      true,
			SyncWifiOnly:  true,
			Notifications: true,
		},
	}
}

// =============================================================================
// COUNTER
// =============================================================================

// CounterState is the numbering state for the active year.
type CounterState struct {
	Year   int
	Number int
	Prefix string
}

// CounterSnapshot is the remote authority's view of the counter.
type CounterSnapshot struct {
	Success bool   `json:"success"`
	LastID  string `json:"lastId"`
	LastNum int    `json:"lastNum"`
}

// Number returns LastNum, falling back to the number encoded in LastID.
func (s CounterSnapshot) Number() int {
	if s.LastNum > 0 || s.LastID == "" {
		return s.LastNum
	}
	if _, n, err := ParseID(s.LastID); err == nil {
		return n
	}
	return 0
}
