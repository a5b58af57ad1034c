/*
client.go - Client for the spreadsheet-backed remote store

PURPOSE:
  Talks to the script endpoint that fronts the remote spreadsheet. Every
  call is a POST of a JSON body carrying an "action" field:

    login         verify credentials on the profiles sheet
    stats         last assigned counter for the technician
    history       previously submitted reports
    intervention  append one report row (columns A-Q)

  Results come back as plain values. The client never touches local state;
  fieldreport.Lifecycle applies them afterwards.

OFFLINE MODE:
  With no URL configured the client acts as a local mock backend:
  admin/admin logs in with prefix "T", submissions succeed, and stats and
  history report ErrNotConfigured so sync stays in local-only mode.

SEE ALSO:
  - fieldreport/lifecycle.go: RemoteSource / Submitter consumers
  - fieldreport/sheet.go: Row flattening
*/
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fieldops/report-engine/fieldreport"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotConfigured is returned by fetches when no endpoint URL is set.
	ErrNotConfigured = errors.New("remote endpoint not configured")

	// ErrRejected is returned when the backend answers success=false.
	ErrRejected = errors.New("rejected by remote backend")
)

// Client implements fieldreport.RemoteSource and fieldreport.Submitter.
type Client struct {
	URL        string
	HTTPClient *http.Client
	Logger     logrus.FieldLogger
	Clock      fieldreport.Clock

	// Technician scopes stats and history requests. Set after login.
	Technician string
}

// New creates a client for url with the given request timeout.
func New(url string, timeout time.Duration, logger logrus.FieldLogger) *Client {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{
		URL:        url,
		HTTPClient: &http.Client{Timeout: timeout},
		Logger:     logger.WithField("component", "remote"),
		Clock:      fieldreport.SystemClock{},
	}
}

// Offline reports whether the client runs as a local mock backend.
func (c *Client) Offline() bool { return c.URL == "" }

// WithTechnician returns a copy of c scoped to technician.
func (c *Client) WithTechnician(technician string) *Client {
	cp := *c
	cp.Technician = technician
	return &cp
}

// =============================================================================
// LOGIN
// =============================================================================

// LoginResult is the backend's answer to a login attempt.
type LoginResult struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
	Username string `json:"username,omitempty"`
}

// Login verifies credentials. A transport failure is reported as an
// unsuccessful result, not an error.
func (c *Client) Login(ctx context.Context, username, password string) LoginResult {
	if c.Offline() {
		if username == "admin" && password == "admin" {
			return LoginResult{Success: true, Prefix: "T", Username: "Admin"}
		}
		return LoginResult{Success: false, Message: "missing script URL"}
	}

	var res LoginResult
	err := c.post(ctx, map[string]string{
		"action":   "login",
		"username": username,
		"password": password,
	}, &res)
	if err != nil {
		c.Logger.WithError(err).Warn("login request failed")
		return LoginResult{Success: false, Message: "server connection error"}
	}
	return res
}

// =============================================================================
// FETCHES (fieldreport.RemoteSource)
// =============================================================================

// FetchCounter returns the remote counter snapshot.
func (c *Client) FetchCounter(ctx context.Context) (fieldreport.CounterSnapshot, error) {
	if c.Offline() {
		return fieldreport.CounterSnapshot{}, ErrNotConfigured
	}
	var snap fieldreport.CounterSnapshot
	if err := c.post(ctx, c.request("stats"), &snap); err != nil {
		return fieldreport.CounterSnapshot{}, err
	}
	return snap, nil
}

// historyResponse accepts either {"success":..,"reports":[..]} or a bare array.
type historyResponse struct {
	Success bool                 `json:"success"`
	Message string               `json:"message,omitempty"`
	Reports []fieldreport.Report `json:"reports"`
}

// FetchHistory returns previously submitted reports in backend order.
func (c *Client) FetchHistory(ctx context.Context) ([]fieldreport.Report, error) {
	if c.Offline() {
		return nil, ErrNotConfigured
	}
	var raw json.RawMessage
	if err := c.post(ctx, c.request("history"), &raw); err != nil {
		return nil, err
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var reports []fieldreport.Report
		if err := json.Unmarshal(raw, &reports); err != nil {
			return nil, fmt.Errorf("decode history: %w", err)
		}
		return reports, nil
	}

	var res historyResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	if !res.Success {
		return nil, fmt.Errorf("%w: %s", ErrRejected, res.Message)
	}
	return res.Reports, nil
}

func (c *Client) request(action string) map[string]string {
	req := map[string]string{"action": action}
	if c.Technician != "" {
		req["username"] = c.Technician
	}
	return req
}

// =============================================================================
// SUBMIT (fieldreport.Submitter)
// =============================================================================

type submitRequest struct {
	Action string `json:"action"`
	fieldreport.SheetRow
}

// Submit appends report to the interventions sheet.
func (c *Client) Submit(ctx context.Context, report fieldreport.Report, technician string) error {
	row := fieldreport.FlattenForSheet(report, technician, c.Clock.Now())
	// The row is appended only if the backend accepts it.
	row.Status = fieldreport.SheetStatusOK
	if c.Offline() {
		c.Logger.WithFields(logrus.Fields{"id": row.ID, "client": row.Client}).
			Info("offline submit accepted")
		return nil
	}

	var res struct {
		Success *bool  `json:"success"`
		Message string `json:"message"`
	}
	if err := c.post(ctx, submitRequest{Action: "intervention", SheetRow: row}, &res); err != nil {
		return err
	}
	if res.Success != nil && !*res.Success {
		return fmt.Errorf("%w: %s", ErrRejected, res.Message)
	}
	return nil
}

// =============================================================================
// TRANSPORT
// =============================================================================

// post sends body as JSON and decodes the response into out. An empty
// response body leaves out untouched.
func (c *Client) post(ctx context.Context, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	// Script endpoints reject preflighted content types.
	req.Header.Set("Content-Type", "text/plain;charset=utf-8")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
