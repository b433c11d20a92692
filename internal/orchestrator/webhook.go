package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/readr-labs/page-pipeline/internal/core"
)

const webhookTimeout = 10 * time.Second

// ChunkEvent is the JSON payload delivered to a streaming job's webhook URL
// after each synthesized chunk.
type ChunkEvent struct {
	JobID       string           `json:"job_id"`
	ChunkIndex  int              `json:"chunk_index"`
	ChunkCount  int              `json:"chunk_count"`
	AudioBytes  int              `json:"audio_bytes"`
	Correlation core.Correlation `json:"correlation"`
}

// WebhookNotifier delivers per-chunk notifications. Delivery is best
// effort: failures are logged and never fail the job.
type WebhookNotifier struct {
	httpClient *http.Client
	log        *logger.Logger
}

// NewWebhookNotifier creates a notifier with a bounded request timeout.
func NewWebhookNotifier(log *logger.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		httpClient: &http.Client{
			Timeout: webhookTimeout,
		},
		log: log,
	}
}

// NotifyChunk posts the event to the webhook URL.
func (n *WebhookNotifier) NotifyChunk(ctx context.Context, url string, event ChunkEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		n.log.Warn("Failed to marshal webhook payload for job %s: %v", event.JobID, err)

		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		n.log.Warn("Failed to create webhook request for job %s: %v", event.JobID, err)

		return
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.log.Warn("Webhook delivery failed for job %s chunk %d: %v",
			event.JobID, event.ChunkIndex, err)

		return
	}

	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		n.log.Warn("Webhook for job %s chunk %d returned status %s",
			event.JobID, event.ChunkIndex, resp.Status)
	}
}
