/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Login / profile (remote mock backend, validation)
- Draft lifecycle over HTTP (start, save, list, discard)
- Submit and finalize, including synced-report conflicts
- Single report lookup and AI review
- Manual sync in local-only mode and the sync log
- Workbook export and metrics endpoint

All requests go through NewRouter against an in-memory store and an
offline remote client.
*/
package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fieldops/report-engine/api"
	"github.com/fieldops/report-engine/fieldreport"
	"github.com/fieldops/report-engine/fieldreport/store"
	"github.com/fieldops/report-engine/remote"
	"github.com/fieldops/report-engine/review"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var fixedNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type testServer struct {
	router http.Handler
	store  *store.TxMemory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger, _ := test.NewNullLogger()
	clock := fieldreport.ClockFunc(func() time.Time { return fixedNow })

	mem := store.NewTxMemory()
	lc := fieldreport.NewLifecycle(mem,
		fieldreport.WithClock(clock),
		fieldreport.WithLogger(logger),
	)
	client := remote.New("", time.Second, logger)
	scheduler := api.NewSyncScheduler(lc, client, mem, logger)
	scheduler.Clock = clock
	reviewer := review.New(review.Config{}, logger)
	h := api.NewHandler(lc, client, reviewer, scheduler, logger)
	h.Clock = clock

	return &testServer{router: api.NewRouter(h), store: mem}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (s *testServer) counter(t *testing.T) api.CounterDTO {
	t.Helper()
	rec := s.do(t, http.MethodGet, "/api/counter", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	return decode[api.CounterDTO](t, rec)
}

func (s *testServer) startAndSave(t *testing.T) fieldreport.Report {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/drafts", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	d := decode[fieldreport.Report](t, rec)

	rec = s.do(t, http.MethodPut, "/api/drafts", d)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[fieldreport.Report](t, rec)
}

// =============================================================================
// SESSION
// =============================================================================

func TestLogin_MockBackend_SetsPrefix(t *testing.T) {
	// GIVEN: No remote endpoint configured
	// WHEN: Logging in as admin/admin
	// THEN: The profile gets prefix T and IDs follow it

	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/login", api.LoginRequest{Username: "admin", Password: "admin"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[api.LoginResponse](t, rec)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Profile)
	assert.Equal(t, "T", resp.Profile.Prefix)
	assert.Equal(t, "Admin", resp.Profile.Name)

	assert.Equal(t, "T-0001", s.counter(t).NextID)
}

func TestLogin_WrongPassword_Unauthorized(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/login", api.LoginRequest{Username: "admin", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, decode[api.LoginResponse](t, rec).Success)
}

func TestLogin_MissingFields_ValidationError(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/login", map[string]string{"username": "admin"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[api.ErrorResponse](t, rec)
	assert.Equal(t, "validation_failed", resp.Code)
}

func TestUpdateProfile_RejectsBadPrefix(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPut, "/api/profile", api.UpdateProfileRequest{Name: "Ada", Prefix: "ABC"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_failed", decode[api.ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodPut, "/api/profile", api.UpdateProfileRequest{Name: "Ada", Prefix: "A"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/profile", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "A", decode[fieldreport.Profile](t, rec).Prefix)
}

// =============================================================================
// DRAFTS
// =============================================================================

func TestDrafts_SaveListAndDiscard(t *testing.T) {
	// GIVEN: Two saved drafts
	// WHEN: Discarding the first
	// THEN: The remaining draft takes C-0001

	s := newTestServer(t)

	first := s.startAndSave(t)
	second := s.startAndSave(t)
	assert.Equal(t, "C-0001", first.ID)
	assert.Equal(t, "C-0002", second.ID)

	c := s.counter(t)
	assert.Equal(t, 0, c.Number)
	assert.Equal(t, 2, c.Drafts)
	assert.Equal(t, "C-0001", c.NextID)

	rec := s.do(t, http.MethodDelete, "/api/drafts/C-0001", nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/reports?status=draft", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[api.ReportListResponse](t, rec)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "C-0001", list.Reports[0].ID)
	assert.Equal(t, second.Key, list.Reports[0].Key)
}

func TestDrafts_StartWithClient(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/drafts", api.StartDraftRequest{ClientName: "Acme", LocationID: "Milano"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	d := decode[fieldreport.Report](t, rec)
	assert.Equal(t, "Acme", d.ClientName)
	assert.Equal(t, "Milano", d.LocationID)
	assert.Equal(t, "2026-03-10", d.Date)

	// Not persisted until saved.
	assert.Equal(t, 0, s.counter(t).Drafts)
}

func TestDrafts_InvalidPayload_ValidationError(t *testing.T) {
	s := newTestServer(t)

	bad := fieldreport.Report{Payload: fieldreport.Payload{Date: "10/03/2026"}}
	rec := s.do(t, http.MethodPut, "/api/drafts", bad)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_failed", decode[api.ErrorResponse](t, rec).Code)
}

func TestDrafts_DiscardBadID(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodDelete, "/api/drafts/nonsense", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListReports_BadFilters(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/reports?status=archived", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/reports?sort=name", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/reports?sort=timestamp", nil).Code)
}

// =============================================================================
// SUBMIT / FINALIZE
// =============================================================================

func TestSubmit_MockBackend_Finalizes(t *testing.T) {
	// GIVEN: Two drafts
	// WHEN: Submitting the second through the mock backend
	// THEN: It becomes C-0001 and the other draft moves to C-0002

	s := newTestServer(t)
	s.startAndSave(t)
	second := s.startAndSave(t)

	rec := s.do(t, http.MethodPost, "/api/reports/submit", second)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[api.FinalizeResponse](t, rec)
	assert.Equal(t, "C-0001", resp.ID)
	assert.Equal(t, 1, resp.Counter.Number)
	assert.Equal(t, "C-0001", resp.Counter.LastID)
	assert.Equal(t, 1, resp.Counter.Synced)
	assert.Equal(t, 1, resp.Counter.Drafts)

	rec = s.do(t, http.MethodGet, "/api/reports?status=draft", nil)
	list := decode[api.ReportListResponse](t, rec)
	require.Len(t, list.Reports, 1)
	assert.Equal(t, "C-0002", list.Reports[0].ID)
}

func TestSubmit_SyncedReport_Conflict(t *testing.T) {
	s := newTestServer(t)
	d := s.startAndSave(t)

	rec := s.do(t, http.MethodPost, "/api/reports/finalize", d)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/reports?status=synced", nil)
	list := decode[api.ReportListResponse](t, rec)
	require.Len(t, list.Reports, 1)

	rec = s.do(t, http.MethodPost, "/api/reports/submit", list.Reports[0])
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "report_synced", decode[api.ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodPut, "/api/drafts", list.Reports[0])
	assert.Equal(t, http.StatusConflict, rec.Code)

	assert.Equal(t, 1, s.counter(t).Number)
}

func TestGetReport(t *testing.T) {
	s := newTestServer(t)
	d := s.startAndSave(t)

	rec := s.do(t, http.MethodGet, "/api/reports/C-0001", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[fieldreport.Report](t, rec)
	assert.Equal(t, d.Key, got.Key)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/reports/C-0009", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/reports/bogus", nil).Code)
}

func TestReviewReport_Offline(t *testing.T) {
	// GIVEN: No review model configured
	// WHEN: Asking for a review of a draft
	// THEN: The offline message is returned and set on the report, nothing is stored

	s := newTestServer(t)
	d := s.startAndSave(t)
	d.Description = "Sostituito filtro"

	rec := s.do(t, http.MethodPost, "/api/reports/review", d)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[api.ReviewResponse](t, rec)
	assert.Equal(t, review.OfflineMessage, resp.Review)
	assert.Equal(t, review.OfflineMessage, resp.Report.AIReview)
	assert.Equal(t, d.Key, resp.Report.Key)

	rec = s.do(t, http.MethodGet, "/api/reports/C-0001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[fieldreport.Report](t, rec).AIReview)
}

// =============================================================================
// SYNC
// =============================================================================

func TestSync_Offline_LocalOnlyAndRecorded(t *testing.T) {
	// GIVEN: No remote endpoint
	// WHEN: Triggering a manual sync
	// THEN: 502 with local_only, state unchanged, run recorded as failed

	s := newTestServer(t)
	s.startAndSave(t)

	rec := s.do(t, http.MethodPost, "/api/sync", nil)
	require.Equal(t, http.StatusBadGateway, rec.Code, rec.Body.String())
	resp := decode[api.SyncResponse](t, rec)
	assert.True(t, resp.LocalOnly)
	assert.Equal(t, "failed", resp.Run.Status)
	assert.Equal(t, api.TriggerManual, resp.Run.Trigger)
	assert.Equal(t, 1, resp.Counter.Drafts)

	rec = s.do(t, http.MethodGet, "/api/sync/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]api.SyncRunDTO](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, resp.Run.ID, runs[0].ID)
	assert.NotEmpty(t, runs[0].Error)
}

func TestSyncRuns_BadLimit(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/sync/runs?limit=0", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/sync/runs?limit=x", nil).Code)
}

func TestLogout_ClearsState(t *testing.T) {
	s := newTestServer(t)
	s.startAndSave(t)

	rec := s.do(t, http.MethodPost, "/api/logout", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	c := s.counter(t)
	assert.Equal(t, 0, c.Drafts)
	assert.Equal(t, "C", c.Prefix)
}

// =============================================================================
// EXPORT / METRICS
// =============================================================================

func TestExport_Workbook(t *testing.T) {
	s := newTestServer(t)
	s.startAndSave(t)

	rec := s.do(t, http.MethodGet, "/api/export.xlsx", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "interventi-2026.xlsx")
	// XLSX is a zip archive.
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))
}

func TestMetrics_Exposed(t *testing.T) {
	s := newTestServer(t)
	s.startAndSave(t)

	rec := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fieldreport_drafts_saved_total")
}
