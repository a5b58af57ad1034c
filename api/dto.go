/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON envelopes of the HTTP API. Reports and profiles travel
  in their domain form (fieldreport.Report, fieldreport.Profile) because
  the same shape is exchanged with the remote backend; everything else
  gets a DTO here.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Request types carry go-playground/validator tags, checked by
  Handler.bind before any domain call.

SEE ALSO:
  - handlers.go: Uses these types
  - fieldreport/types.go: Report and Profile
*/
package api

import (
	"time"

	"github.com/fieldops/report-engine/fieldreport"
)

// =============================================================================
// SESSION
// =============================================================================

// LoginRequest is the request to log in against the remote backend.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse is the result of a login attempt.
type LoginResponse struct {
	Success bool                 `json:"success"`
	Message string               `json:"message,omitempty"`
	Profile *fieldreport.Profile `json:"profile,omitempty"`
}

// UpdateProfileRequest replaces the stored profile.
type UpdateProfileRequest struct {
	Name               string                      `json:"name" validate:"required,max=100"`
	Role               string                      `json:"role" validate:"max=100"`
	Avatar             string                      `json:"avatar"`
	Prefix             string                      `json:"prefix" validate:"required,min=1,max=2,alphanum"`
	PermanentSignature string                      `json:"permanentSignature,omitempty"`
	Settings           fieldreport.ProfileSettings `json:"settings"`
}

// Profile converts the request to the domain type.
func (r UpdateProfileRequest) Profile() fieldreport.Profile {
	return fieldreport.Profile{
		Name:               r.Name,
		Role:               r.Role,
		Avatar:             r.Avatar,
		Prefix:             r.Prefix,
		PermanentSignature: r.PermanentSignature,
		Settings:           r.Settings,
	}
}

// =============================================================================
// COUNTER
// =============================================================================

// CounterDTO is the dashboard view of the identifier counter.
type CounterDTO struct {
	Year   int    `json:"year"`
	Number int    `json:"number"`
	Prefix string `json:"prefix"`
	LastID string `json:"last_id,omitempty"`
	NextID string `json:"next_id"`
	Drafts int    `json:"drafts"`
	Synced int    `json:"synced"`
}

func toCounterDTO(v fieldreport.CounterView) CounterDTO {
	return CounterDTO{
		Year:   v.Year,
		Number: v.Number,
		Prefix: v.Prefix,
		LastID: v.LastID,
		NextID: v.NextID,
		Drafts: v.Drafts,
		Synced: v.Synced,
	}
}

// =============================================================================
// REPORTS
// =============================================================================

// StartDraftRequest optionally preselects the client of a new draft.
type StartDraftRequest struct {
	ClientID   string `json:"client_id"`
	ClientName string `json:"client_name"`
	LocationID string `json:"location_id"`
}

// ReportListResponse wraps a report listing.
type ReportListResponse struct {
	Reports []fieldreport.Report `json:"reports"`
	Count   int                  `json:"count"`
}

// FinalizeResponse is returned by submit and finalize.
type FinalizeResponse struct {
	ID      string     `json:"id"`
	Counter CounterDTO `json:"counter"`
}

// ReviewResponse is returned by the AI review.
type ReviewResponse struct {
	Review string             `json:"review"`
	Report fieldreport.Report `json:"report"`
}

// SubmitFailureResponse is returned when the backend did not accept a
// report. The report is kept as a draft under DraftID.
type SubmitFailureResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	DraftID string `json:"draft_id"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// SYNC
// =============================================================================

// SyncRunDTO is one entry of the sync log.
type SyncRunDTO struct {
	ID          string `json:"id"`
	Trigger     string `json:"trigger"`
	Status      string `json:"status"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at,omitempty"`
	Raised      bool   `json:"raised"`
	Number      int    `json:"number"`
	Imported    int    `json:"imported"`
	Error       string `json:"error,omitempty"`
}

func toSyncRunDTO(run fieldreport.SyncRun) SyncRunDTO {
	dto := SyncRunDTO{
		ID:        run.ID,
		Trigger:   run.Trigger,
		Status:    string(run.Status),
		StartedAt: run.StartedAt.Format(time.RFC3339),
		Raised:    run.Raised,
		Number:    run.Number,
		Imported:  run.Imported,
		Error:     run.Error,
	}
	if !run.CompletedAt.IsZero() {
		dto.CompletedAt = run.CompletedAt.Format(time.RFC3339)
	}
	return dto
}

// SyncResponse is returned by a manual sync. LocalOnly tells the UI to
// show the offline advisory.
type SyncResponse struct {
	Run       SyncRunDTO `json:"run"`
	LocalOnly bool       `json:"local_only"`
	Counter   CounterDTO `json:"counter"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}
