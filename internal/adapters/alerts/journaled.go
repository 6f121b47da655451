package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/ports"
)

// Journaled wraps an alert sink and records every raised alert in the
// execution journal before forwarding it. The inner sink may be nil, in which
// case alerts are journaled only; that keeps alert history available even
// when no webhook is configured.
type Journaled struct {
	inner   ports.AlertSink
	journal ports.ExecutionJournal
	logger  ports.Logger
}

// NewJournaled creates a journaling alert sink around inner.
func NewJournaled(inner ports.AlertSink, journal ports.ExecutionJournal, logger ports.Logger) (*Journaled, error) {
	if journal == nil {
		return nil, fmt.Errorf("%w: journal is required for journaled alert sink", ports.ErrInvalidRequest)
	}
	if logger == nil {
		return nil, fmt.Errorf("%w: logger is required for journaled alert sink", ports.ErrInvalidRequest)
	}
	return &Journaled{inner: inner, journal: journal, logger: logger}, nil
}

// Notify records the alert and forwards it to the inner sink. Journal errors
// are logged and do not block delivery.
func (j *Journaled) Notify(ctx context.Context, kind ports.AlertKind, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		body = []byte(fmt.Sprintf("%v", payload))
	}
	if err := j.journal.RecordAlert(ctx, kind, string(body), time.Now().UTC()); err != nil {
		j.logger.Warn(ctx, "failed to journal alert", map[string]interface{}{
			"kind": string(kind), "error": err.Error(),
		})
	}
	if j.inner == nil {
		return nil
	}
	return j.inner.Notify(ctx, kind, payload)
}
