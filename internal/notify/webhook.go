// Package notify delivers execution summary events to configured webhook
// endpoints. Delivery is fire-and-forget: a notification failure is logged
// and never changes an execution's outcome.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/credops/credops/internal/automation"
	"github.com/credops/credops/internal/config"
	"github.com/credops/credops/internal/logging"
)

const defaultTimeout = 10 * time.Second

// WebhookNotifier posts summary events to one or more HTTP endpoints.
type WebhookNotifier struct {
	hooks  []hook
	logger *logging.Logger
}

type hook struct {
	name     string
	url      string
	method   string
	headers  map[string]string
	statuses map[string]bool
	client   *http.Client
}

// NewWebhookNotifier builds a notifier from the configuration. An empty
// webhook list yields a notifier that silently does nothing.
func NewWebhookNotifier(cfgs []config.WebhookNotificationConfig, logger *logging.Logger) *WebhookNotifier {
	n := &WebhookNotifier{logger: logger}
	for _, cfg := range cfgs {
		if cfg.URL == "" {
			continue
		}
		h := hook{
			name:    cfg.Name,
			url:     cfg.URL,
			method:  cfg.Method,
			headers: cfg.Headers,
			client:  &http.Client{Timeout: defaultTimeout},
		}
		if h.name == "" {
			h.name = cfg.URL
		}
		if h.method == "" {
			h.method = http.MethodPost
		}
		if cfg.TimeoutSeconds > 0 {
			h.client.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
		}
		if len(cfg.Statuses) > 0 {
			h.statuses = make(map[string]bool, len(cfg.Statuses))
			for _, status := range cfg.Statuses {
				h.statuses[status] = true
			}
		}
		n.hooks = append(n.hooks, h)
	}
	return n
}

// NotifySummary delivers the event to every matching webhook.
func (n *WebhookNotifier) NotifySummary(ctx context.Context, event automation.SummaryEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("failed to encode summary event for execution %s: %v", event.ExecutionID, err)
		return
	}

	for _, h := range n.hooks {
		if h.statuses != nil && !h.statuses[string(event.Status)] {
			continue
		}
		if err := h.deliver(ctx, payload); err != nil {
			n.logger.Warn("webhook %s failed for execution %s: %v", h.name, event.ExecutionID, err)
			continue
		}
		n.logger.Debug("webhook %s delivered for execution %s", h.name, event.ExecutionID)
	}
}

func (h hook) deliver(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, h.method, h.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range h.headers {
		req.Header.Set(key, value)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
