package relay

import (
	"context"
	"log/slog"

	"vidrelay/internal/domain"
	"vidrelay/internal/metrics"
)

// placeholder is the "processing" message shown for the lifetime of one run.
// Release is idempotent and safe on a nil receiver or when the message was
// never sent.
type placeholder struct {
	transport domain.ChatTransport
	handle    domain.MessageHandle
	logger    *slog.Logger
	released  bool
}

func (p *placeholder) Release(ctx context.Context) {
	if p == nil || p.released || p.handle.IsZero() {
		return
	}
	p.released = true

	if err := p.transport.DeleteMessage(ctx, p.handle); err != nil {
		metrics.PlaceholderCleanupFailures.Inc()
		p.logger.Warn("placeholder delete failed", "message_id", p.handle.MessageID, "err", err)
	}
}
