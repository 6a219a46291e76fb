package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/italolelis/model_provisioner/internal/transfer"
)

// Discord rejects messages longer than this.
const maxContentLength = 2000

type Notifier interface {
	Notify(ctx context.Context, content string) error
}

type DiscordNotifier struct {
	WebhookURL string
	Client     *http.Client
}

func (d *DiscordNotifier) Notify(ctx context.Context, content string) error {
	if d.WebhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	if len(content) > maxContentLength {
		content = content[:maxContentLength-3] + "..."
	}

	payload := map[string]string{"content": content}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}

// BatchFailureMessage renders the failed items of a batch.
func BatchFailureMessage(runID string, batch *transfer.BatchOutcome) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Provisioning run %s: %d of %d %s downloads failed", runID, len(batch.Failed), batch.Total, batch.Kind)

	for _, req := range batch.Failed {
		fmt.Fprintf(&b, "\n- %s -> %s", req.SourceURL, req.Destination)
	}

	return b.String()
}
