package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"autopress/internal/core"
	"autopress/internal/logger"
)

const defaultTimeout = 10 * time.Second

// Notifier posts execution reports to an operator webhook. Delivery is
// best effort: a run's outcome is already durable in the store, so a
// failed notification only logs.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a notifier. An empty webhook URL disables delivery.
func New(webhookURL string, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether a webhook is configured.
func (n *Notifier) Enabled() bool {
	return n.webhookURL != ""
}

// SendReport delivers the report, logging failures instead of
// returning them.
func (n *Notifier) SendReport(ctx context.Context, report core.ExecutionReport) {
	if !n.Enabled() {
		return
	}
	if err := n.post(ctx, report); err != nil {
		logger.Warn("report delivery failed", "execution_id", report.ExecutionID, "error", err.Error())
		return
	}
	logger.Debug("report delivered", "execution_id", report.ExecutionID, "status", string(report.Status))
}

func (n *Notifier) post(ctx context.Context, report core.ExecutionReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting report: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
