// Package notify delivers end-of-run summary, per-error, and
// hazard-archival notifications over an HTTP webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

// Notifier is the interface the Run Supervisor drives. A nil-webhook
// Notifier is a valid no-op configuration: Shuttle must run standalone
// with no external reporting.
type Notifier interface {
	NotifyError(ctx context.Context, stage string, err error) error
	NotifySummary(ctx context.Context, s RunSummary) error
	NotifyHazard(ctx context.Context, h HazardEvent) error
}

// RunSummary is the aggregate handed to NotifySummary at end of run.
type RunSummary struct {
	RunID           string    `json:"run_id"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	AdmittedCount   int       `json:"admitted_count"`
	CleanCount      int       `json:"clean_count"`
	SuspectCount    int       `json:"suspect_count"`
	FailureCount    int       `json:"failure_count"`
	ThrottleStopped bool      `json:"throttle_stopped"`
	CircuitTripped  bool      `json:"circuit_tripped"`
	// Signature is the hex-encoded Ed25519 signature over the summary's
	// other fields, set by the Run Supervisor before NotifySummary is
	// called. Empty when no signing key is configured.
	Signature string `json:"signature,omitempty"`
}

// SigningPayload returns the deterministic byte string signed to
// produce Signature. It excludes Signature itself.
func (s RunSummary) SigningPayload() []byte {
	return []byte(fmt.Sprintf("%s|%s|%s|%d|%d|%d|%d|%t|%t",
		s.RunID, s.StartedAt.UTC().Format(time.RFC3339Nano), s.EndedAt.UTC().Format(time.RFC3339Nano),
		s.AdmittedCount, s.CleanCount, s.SuspectCount, s.FailureCount,
		s.ThrottleStopped, s.CircuitTripped))
}

// HazardEvent reports one file archived to the hazard store.
type HazardEvent struct {
	RunID        string `json:"run_id"`
	SourcePath   string `json:"source_path"`
	ArchivePath  string `json:"archive_path"`
	ContentHash  string `json:"content_hash"`
}

// WebhookNotifier posts JSON events to a single configured URL using a
// pooled HTTP client, the same cleanhttp-based transport idiom this
// codebase uses for its outbound API client.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier builds a Notifier posting to url. An empty url
// yields a Notifier whose methods are silent no-ops, so Shuttle runs
// standalone with no notify configuration without special-casing
// callers.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: cleanhttp.DefaultPooledClient(),
	}
}

func (w *WebhookNotifier) post(ctx context.Context, event string, payload any) error {
	if w.url == "" {
		return nil
	}

	body, err := json.Marshal(struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("notify: marshal %s event: %w", event, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post %s: %w", event, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: %s returned status %d", event, resp.StatusCode)
	}
	return nil
}

func (w *WebhookNotifier) NotifyError(ctx context.Context, stage string, cause error) error {
	return w.post(ctx, "error", struct {
		Stage string `json:"stage"`
		Error string `json:"error"`
	}{Stage: stage, Error: cause.Error()})
}

func (w *WebhookNotifier) NotifySummary(ctx context.Context, s RunSummary) error {
	return w.post(ctx, "summary", s)
}

func (w *WebhookNotifier) NotifyHazard(ctx context.Context, h HazardEvent) error {
	return w.post(ctx, "hazard", h)
}
