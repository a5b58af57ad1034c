/*
handlers.go - HTTP API handlers for the field report service

PURPOSE:
  Exposes the report lifecycle via REST API. Handles HTTP request/response,
  JSON serialization and validation, and delegates to fieldreport.Lifecycle.

ENDPOINTS:
  Session:
    POST   /api/login                 Remote login, stores name and prefix
    POST   /api/logout                Clear reports, counter and profile
    GET    /api/profile               Current profile
    PUT    /api/profile               Replace profile (realigns drafts)

  Counter:
    GET    /api/counter               Year, number, last and next ID

  Reports:
    GET    /api/reports               List (?status=draft|synced&sort=timestamp)
    GET    /api/reports/{id}          One report (draft preferred)
    POST   /api/drafts                New draft with projected ID (not saved)
    PUT    /api/drafts                Save draft
    DELETE /api/drafts/{id}           Discard draft
    POST   /api/reports/review        AI consistency check (not stored)
    POST   /api/reports/submit        Send to backend, then finalize
    POST   /api/reports/finalize      Finalize a report already accepted

  Sync:
    POST   /api/sync                  Manual sync
    GET    /api/sync/runs             Sync log (?limit=N)

  Export:
    GET    /api/export.xlsx           Workbook of all reports

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401: Login rejected
  - 404: Report not found
  - 409: Mutation of a synced report
  - 502: Remote backend unavailable or rejected a submission
  - 500: Invariant violations and internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scheduler.go: Sync runs shared with the manual endpoint
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/fieldops/report-engine/config"
	"github.com/fieldops/report-engine/export"
	"github.com/fieldops/report-engine/fieldreport"
	"github.com/fieldops/report-engine/remote"
	"github.com/fieldops/report-engine/review"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 200
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Lifecycle *fieldreport.Lifecycle
	Remote    *remote.Client
	Reviewer  *review.Reviewer
	Scheduler *SyncScheduler
	Logger    logrus.FieldLogger
	Clock     fieldreport.Clock

	validate *validator.Validate
}

// NewHandler creates a new handler. Sync runs go through scheduler so
// manual and scheduled runs share one log.
func NewHandler(lc *fieldreport.Lifecycle, client *remote.Client, reviewer *review.Reviewer, scheduler *SyncScheduler, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		Lifecycle: lc,
		Remote:    client,
		Reviewer:  reviewer,
		Scheduler: scheduler,
		Logger:    logger.WithField("component", "api"),
		Clock:     fieldreport.SystemClock{},
		validate:  validator.New(),
	}
}

// =============================================================================
// SESSION ENDPOINTS
// =============================================================================

// Login verifies credentials with the remote backend and stores the
// returned identity.
// POST /api/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.bind(w, r, &req) {
		return
	}

	res := h.Remote.Login(r.Context(), req.Username, req.Password)
	if !res.Success {
		writeJSON(w, http.StatusUnauthorized, LoginResponse{Success: false, Message: res.Message})
		return
	}

	name := res.Username
	if name == "" {
		name = req.Username
	}
	profile, err := h.Lifecycle.ApplyLogin(r.Context(), name, res.Prefix)
	if err != nil {
		h.writeDomainError(w, "Login", err)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Success: true, Profile: &profile})
}

// Logout clears local reports, counter and profile.
// POST /api/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Lifecycle.Logout(r.Context()); err != nil {
		h.writeDomainError(w, "Logout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetProfile returns the current profile.
// GET /api/profile
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.Lifecycle.Profile(r.Context())
	if err != nil {
		h.writeDomainError(w, "GetProfile", err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// UpdateProfile replaces the profile. A prefix change renumbers drafts.
// PUT /api/profile
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req UpdateProfileRequest
	if !h.bind(w, r, &req) {
		return
	}
	profile, err := h.Lifecycle.UpdateProfile(r.Context(), req.Profile())
	if err != nil {
		h.writeDomainError(w, "UpdateProfile", err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// =============================================================================
// COUNTER ENDPOINTS
// =============================================================================

// GetCounter returns the counter state and collection summary.
// GET /api/counter
func (h *Handler) GetCounter(w http.ResponseWriter, r *http.Request) {
	view, err := h.Lifecycle.Counter(r.Context())
	if err != nil {
		h.writeDomainError(w, "GetCounter", err)
		return
	}
	counterNumber.Set(float64(view.Number))
	writeJSON(w, http.StatusOK, toCounterDTO(view))
}

// =============================================================================
// REPORT ENDPOINTS
// =============================================================================

// ListReports returns stored reports.
// GET /api/reports?status=draft|synced&sort=timestamp
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	filter := fieldreport.ReportFilter{}
	switch status := fieldreport.Status(r.URL.Query().Get("status")); status {
	case "", fieldreport.StatusDraft, fieldreport.StatusSynced:
		filter.Status = status
	default:
		writeError(w, http.StatusBadRequest, "Invalid status filter", fmt.Errorf("unknown status %q", status))
		return
	}
	switch sort := r.URL.Query().Get("sort"); sort {
	case "":
	case "timestamp":
		filter.SortByTimestamp = true
	default:
		writeError(w, http.StatusBadRequest, "Invalid sort", fmt.Errorf("unknown sort %q", sort))
		return
	}

	reports, err := h.Lifecycle.Reports(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, "ListReports", err)
		return
	}
	writeJSON(w, http.StatusOK, ReportListResponse{Reports: reports, Count: len(reports)})
}

// GetReport returns one report.
// GET /api/reports/{id}
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, _, err := fieldreport.ParseID(id); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid report ID", err)
		return
	}
	report, err := h.Lifecycle.Report(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "GetReport", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// StartDraft returns a new draft under the next projected ID. The draft is
// not stored until saved. The body is optional.
// POST /api/drafts
func (h *Handler) StartDraft(w http.ResponseWriter, r *http.Request) {
	var req StartDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	var opts []fieldreport.DraftOption
	if req.ClientID != "" || req.ClientName != "" || req.LocationID != "" {
		opts = append(opts, fieldreport.WithClient(req.ClientID, req.ClientName, req.LocationID))
	}
	draft, err := h.Lifecycle.StartDraft(r.Context(), opts...)
	if err != nil {
		h.writeDomainError(w, "StartDraft", err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

// SaveDraft stores a draft. The returned ID reflects realignment.
// PUT /api/drafts
func (h *Handler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	var report fieldreport.Report
	if !h.bind(w, r, &report) {
		return
	}
	saved, err := h.Lifecycle.SaveDraft(r.Context(), report)
	if err != nil {
		h.writeDomainError(w, "SaveDraft", err)
		return
	}
	draftsSavedTotal.Inc()
	writeJSON(w, http.StatusOK, saved)
}

// DiscardDraft removes a draft and renumbers the rest.
// DELETE /api/drafts/{id}
func (h *Handler) DiscardDraft(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, _, err := fieldreport.ParseID(id); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid report ID", err)
		return
	}
	if err := h.Lifecycle.DiscardDraft(r.Context(), id); err != nil {
		h.writeDomainError(w, "DiscardDraft", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitReport sends a report to the remote backend and finalizes it on
// success. On failure the report is kept as a draft.
// POST /api/reports/submit
func (h *Handler) SubmitReport(w http.ResponseWriter, r *http.Request) {
	var report fieldreport.Report
	if !h.bind(w, r, &report) {
		return
	}
	id, err := h.Lifecycle.Submit(r.Context(), report, h.Remote)
	if err != nil {
		var subErr *fieldreport.SubmitError
		if errors.As(err, &subErr) {
			submitFailuresTotal.Inc()
		}
		h.writeDomainError(w, "SubmitReport", err)
		return
	}
	reportsFinalizedTotal.WithLabelValues("submit").Inc()
	h.writeFinalized(w, r, id)
}

// ReviewReport runs the AI consistency check and returns the report with
// aiReview filled. Nothing is stored; the client saves or submits the
// returned report.
// POST /api/reports/review
func (h *Handler) ReviewReport(w http.ResponseWriter, r *http.Request) {
	var report fieldreport.Report
	if !h.bind(w, r, &report) {
		return
	}
	report.AIReview = h.Reviewer.Review(r.Context(), report)
	writeJSON(w, http.StatusOK, ReviewResponse{Review: report.AIReview, Report: report})
}

// FinalizeReport mints the final ID for a report the backend accepted
// out of band.
// POST /api/reports/finalize
func (h *Handler) FinalizeReport(w http.ResponseWriter, r *http.Request) {
	var report fieldreport.Report
	if !h.bind(w, r, &report) {
		return
	}
	id, err := h.Lifecycle.FinalizeReport(r.Context(), report)
	if err != nil {
		h.writeDomainError(w, "FinalizeReport", err)
		return
	}
	reportsFinalizedTotal.WithLabelValues("finalize").Inc()
	h.writeFinalized(w, r, id)
}

func (h *Handler) writeFinalized(w http.ResponseWriter, r *http.Request, id string) {
	view, err := h.Lifecycle.Counter(r.Context())
	if err != nil {
		h.writeDomainError(w, "Counter", err)
		return
	}
	counterNumber.Set(float64(view.Number))
	writeJSON(w, http.StatusOK, FinalizeResponse{ID: id, Counter: toCounterDTO(view)})
}

// =============================================================================
// SYNC ENDPOINTS
// =============================================================================

// TriggerSync imports the remote counter and history now. A remote failure
// answers 502 with the recorded run; local state is unchanged and the UI
// keeps working local only.
// POST /api/sync
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	run, err := h.Scheduler.RunOnce(r.Context(), TriggerManual)
	if err != nil && !fieldreport.IsRetryable(err) {
		h.writeDomainError(w, "TriggerSync", err)
		return
	}

	view, cerr := h.Lifecycle.Counter(r.Context())
	if cerr != nil {
		h.writeDomainError(w, "Counter", cerr)
		return
	}
	resp := SyncResponse{
		Run:       toSyncRunDTO(run),
		LocalOnly: err != nil,
		Counter:   toCounterDTO(view),
	}
	if err != nil {
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListSyncRuns returns the most recent sync runs.
// GET /api/sync/runs?limit=N
func (h *Handler) ListSyncRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", fmt.Errorf("limit must be a positive integer, got %q", v))
			return
		}
		limit = min(n, maxRunLimit)
	}

	runs, err := h.Scheduler.Runs.ListSyncRuns(r.Context(), limit)
	if err != nil {
		h.writeDomainError(w, "ListSyncRuns", err)
		return
	}
	dtos := make([]SyncRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toSyncRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// EXPORT ENDPOINTS
// =============================================================================

// ExportWorkbook streams all reports as an XLSX workbook.
// GET /api/export.xlsx
func (h *Handler) ExportWorkbook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reports, err := h.Lifecycle.Reports(ctx, fieldreport.ReportFilter{SortByTimestamp: true})
	if err != nil {
		h.writeDomainError(w, "ExportWorkbook", err)
		return
	}
	profile, err := h.Lifecycle.Profile(ctx)
	if err != nil {
		h.writeDomainError(w, "ExportWorkbook", err)
		return
	}

	now := h.Clock.Now()
	f, err := export.Build(reports, profile.Name, now.Location())
	if err != nil {
		h.writeDomainError(w, "ExportWorkbook", err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="interventi-%d.xlsx"`, now.Year()))
	if err := f.Write(w); err != nil {
		// Headers are gone; all we can do is log.
		config.LogError(h.Logger, "api", "ExportWorkbook", "write workbook", nil, err)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// bind decodes the JSON body into dst and validates it. On failure it
// writes a 400 and returns false.
func (h *Handler) bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make([]string, len(verrs))
			for i, fe := range verrs {
				details[i] = fmt.Sprintf("%s: failed on '%s'", fe.Namespace(), fe.Tag())
			}
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:   "Validation failed",
				Code:    "validation_failed",
				Details: details,
			})
			return false
		}
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// writeDomainError maps lifecycle errors onto HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, funcName string, err error) {
	var subErr *fieldreport.SubmitError
	switch {
	case errors.As(err, &subErr):
		writeJSON(w, http.StatusBadGateway, SubmitFailureResponse{
			Error:   "Submission failed, report kept as draft",
			Code:    "submit_failed",
			DraftID: subErr.ReportID,
			Details: errDetails(subErr.Err),
		})
	case errors.Is(err, fieldreport.ErrReportNotFound):
		writeCodedError(w, http.StatusNotFound, "Report not found", "not_found", err)
	case errors.Is(err, fieldreport.ErrReportSynced):
		writeCodedError(w, http.StatusConflict, "Report already synced", "report_synced", err)
	case fieldreport.IsClientError(err):
		writeCodedError(w, http.StatusBadRequest, "Invalid request", "invalid_request", err)
	case fieldreport.IsRetryable(err):
		writeCodedError(w, http.StatusBadGateway, "Remote backend unavailable", "remote_unavailable", err)
	case fieldreport.IsInvariantViolation(err):
		config.LogError(h.Logger, "api", funcName, "invariant violation", nil, err)
		writeCodedError(w, http.StatusInternalServerError, "Local report state is inconsistent", "invariant_violation", err)
	default:
		config.LogError(h.Logger, "api", funcName, "internal error", nil, err)
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	writeCodedError(w, status, message, "", err)
}

func writeCodedError(w http.ResponseWriter, status int, message, code string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func errDetails(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
