package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credops/credops/internal/automation"
	"github.com/credops/credops/internal/config"
	"github.com/credops/credops/internal/logging"
	"github.com/credops/credops/internal/model"
)

type recordingHandler struct {
	mu     sync.Mutex
	bodies []string
	header http.Header
	status int
}

func (h *recordingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	h.mu.Lock()
	h.bodies = append(h.bodies, string(body))
	h.header = r.Header.Clone()
	h.mu.Unlock()
	if h.status != 0 {
		w.WriteHeader(h.status)
	}
}

func testEvent(status model.ExecutionStatus) automation.SummaryEvent {
	return automation.SummaryEvent{
		ExecutionID: "exec-1",
		OrgID:       "org-1",
		Type:        model.AutomationChangeSecret,
		Status:      status,
		Summary:     model.ExecutionSummary{Succeeded: 3, Failed: 1},
	}
}

func TestWebhookNotifier_DeliversJSONPayload(t *testing.T) {
	t.Parallel()

	handler := &recordingHandler{}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	n := NewWebhookNotifier([]config.WebhookNotificationConfig{{
		Name:    "audit",
		URL:     srv.URL,
		Headers: map[string]string{"X-Token": "t0ken"},
	}}, logging.NewWithWriter(io.Discard, false))

	n.NotifySummary(context.Background(), testEvent(model.ExecutionStatusFailed))

	require.Len(t, handler.bodies, 1)
	var got automation.SummaryEvent
	require.NoError(t, json.Unmarshal([]byte(handler.bodies[0]), &got))
	assert.Equal(t, "exec-1", got.ExecutionID)
	assert.Equal(t, 1, got.Summary.Failed)
	assert.Equal(t, "t0ken", handler.header.Get("X-Token"))
	assert.Equal(t, "application/json", handler.header.Get("Content-Type"))
}

func TestWebhookNotifier_StatusFilter(t *testing.T) {
	t.Parallel()

	handler := &recordingHandler{}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	n := NewWebhookNotifier([]config.WebhookNotificationConfig{{
		URL:      srv.URL,
		Statuses: []string{"failed"},
	}}, logging.NewWithWriter(io.Discard, false))

	n.NotifySummary(context.Background(), testEvent(model.ExecutionStatusSuccess))
	assert.Empty(t, handler.bodies, "success filtered out")

	n.NotifySummary(context.Background(), testEvent(model.ExecutionStatusFailed))
	assert.Len(t, handler.bodies, 1)
}

func TestWebhookNotifier_FailureDoesNotPanic(t *testing.T) {
	t.Parallel()

	handler := &recordingHandler{status: http.StatusBadGateway}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	n := NewWebhookNotifier([]config.WebhookNotificationConfig{{URL: srv.URL}},
		logging.NewWithWriter(io.Discard, false))

	// Delivery failure is logged, never surfaced.
	n.NotifySummary(context.Background(), testEvent(model.ExecutionStatusFailed))
	assert.Len(t, handler.bodies, 1)
}

func TestWebhookNotifier_EmptyConfigIsNoop(t *testing.T) {
	t.Parallel()

	n := NewWebhookNotifier(nil, logging.NewWithWriter(io.Discard, false))
	n.NotifySummary(context.Background(), testEvent(model.ExecutionStatusSuccess))
}
