package status

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// Notifier posts a JSON summary to an operator-configured webhook URL
// whenever a donor source disconnects (spec §7 "Donor source disconnect"
// is a logged-and-continue condition in the core engine; this notifier is
// an additive ops concern layered on top, disabled when no URL is
// configured). Grounded in shape on the teacher's exchange REST client's
// retry-condition idiom (internal/exchange/client.go), applied here to a
// single best-effort outbound POST instead of an authenticated CLOB call.
type Notifier struct {
	client *resty.Client
	url    string
	logger *slog.Logger
}

// NewNotifier returns a Notifier, or nil if webhookURL is empty (disabled).
func NewNotifier(webhookURL string, logger *slog.Logger) *Notifier {
	if webhookURL == "" {
		return nil
	}
	client := resty.New().
		SetTimeout(5 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})
	return &Notifier{client: client, url: webhookURL, logger: logger.With("component", "status-notifier")}
}

// NotifyDonorDisconnect fires a best-effort webhook POST; failures are
// logged, never returned, since a notification failure must not affect
// reconciliation.
func (n *Notifier) NotifyDonorDisconnect(ctx context.Context, sourceID, reason string) {
	if n == nil {
		return
	}
	body := map[string]string{
		"event":     "donor_disconnected",
		"source_id": sourceID,
		"reason":    reason,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	resp, err := n.client.R().SetContext(ctx).SetBody(body).Post(n.url)
	if err != nil {
		n.logger.Warn("webhook notify failed", "source", sourceID, "error", err)
		return
	}
	if resp.IsError() {
		n.logger.Warn("webhook notify rejected", "source", sourceID, "status", resp.StatusCode())
	}
}
