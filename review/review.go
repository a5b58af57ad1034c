/*
review.go - AI consistency check of a report

PURPOSE:
  Asks a chat model for a short technical consistency check of a report's
  description, shown to the technician before submission and kept in the
  report's aiReview field.

FALLBACKS:
  The check is advisory and never fails the caller:
    no API key configured   "AI Offline."
    empty model answer      "Report pronto."
    model call failed       "Analisi completata."

SEE ALSO:
  - api/handlers.go: ReviewReport endpoint
  - config/config.go: OPENAI_* variables
*/
package review

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fieldops/report-engine/fieldreport"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

const (
	OfflineMessage  = "AI Offline."
	EmptyMessage    = "Report pronto."
	FallbackMessage = "Analisi completata."

	DefaultModel = "gpt-4o-mini"
)

// chatCompleter is the subset of *openai.Client the reviewer uses.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config selects the model endpoint. An empty APIKey runs offline.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Reviewer produces AI reviews of reports.
type Reviewer struct {
	client  chatCompleter
	model   string
	timeout time.Duration
	logger  logrus.FieldLogger
}

// New creates a reviewer. Without an API key every review returns
// OfflineMessage.
func New(cfg Config, logger logrus.FieldLogger) *Reviewer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	r := &Reviewer{
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  logger.WithField("component", "review"),
	}
	if r.model == "" {
		r.model = DefaultModel
	}
	if cfg.APIKey != "" {
		oc := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
		r.client = openai.NewClientWithConfig(oc)
	}
	return r
}

// Offline reports whether no model is configured.
func (r *Reviewer) Offline() bool { return r.client == nil }

// Review returns a one-line consistency check of report.
func (r *Reviewer) Review(ctx context.Context, report fieldreport.Report) string {
	if r.Offline() {
		return OfflineMessage
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       r.model,
		Temperature: 0.4,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt(report)},
		},
	})
	if err != nil {
		r.logger.WithError(err).WithField("id", report.ID).Warn("review failed")
		return FallbackMessage
	}
	if len(resp.Choices) == 0 {
		return EmptyMessage
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return EmptyMessage
	}
	return text
}

func prompt(report fieldreport.Report) string {
	return fmt.Sprintf("Analizza la coerenza tecnica: %s. Rispondi in 10 parole.", report.Description)
}
