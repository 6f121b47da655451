package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/ports"
)

// Webhook implements ports.AlertSink by posting alert JSON to a configured
// endpoint. Delivery is best-effort with a short in-place retry; the engine
// never blocks on a failing sink beyond that.
type Webhook struct {
	url        string
	httpClient *http.Client
	logger     ports.Logger
	retries    int
}

// NewWebhook creates a webhook alert sink.
func NewWebhook(url string, logger ports.Logger) (*Webhook, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for webhook alert sink")
	}
	if url == "" {
		return nil, fmt.Errorf("%w: webhook URL is required", ports.ErrConfigurationError)
	}
	return &Webhook{
		url:        url,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
		retries:    3,
	}, nil
}

// Notify posts one alert. The payload is wrapped with the kind and a
// timestamp so receivers can route without parsing the body.
func (w *Webhook) Notify(ctx context.Context, kind ports.AlertKind, payload map[string]interface{}) error {
	body, err := json.Marshal(map[string]interface{}{
		"kind": string(kind),
		"at":   time.Now().UTC().Format(time.RFC3339),
		"data": payload,
	})
	if err != nil {
		return fmt.Errorf("marshal alert payload: %w", err)
	}

	var lastErr error
	for i := 0; i < w.retries; i++ {
		req, rerr := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if rerr != nil {
			return fmt.Errorf("build alert request: %w", rerr)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, derr := w.httpClient.Do(req)
		if derr != nil {
			lastErr = derr
		} else {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode/100 == 2 {
				return nil
			}
			lastErr = fmt.Errorf("webhook status=%d", resp.StatusCode)
		}

		select {
		case <-time.After(time.Duration(i+1) * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	w.logger.Warn(ctx, "alert delivery failed", map[string]interface{}{
		"kind": string(kind), "error": lastErr.Error(),
	})
	return lastErr
}
