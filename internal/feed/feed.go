// Package feed defines the metric ingestion boundary. The engine consumes
// MetricSnapshot values from an Adapter; how those snapshots are produced
// (device sync, vendor webhook, batch import) is a concern of the adapter
// implementation.
package feed

import (
	"context"

	"github.com/vibespan/automation-engine/pkg/models"
)

// Adapter is the inbound metric boundary. Snapshots returns a channel the
// engine drains until it is closed or the pump context ends.
type Adapter interface {
	Snapshots() <-chan models.MetricSnapshot
}

// ChannelAdapter is an in-process adapter fed by Publish. It backs the HTTP
// ingestion endpoint and tests.
type ChannelAdapter struct {
	ch chan models.MetricSnapshot
}

// NewChannelAdapter creates an adapter with the given buffer depth.
func NewChannelAdapter(depth int) *ChannelAdapter {
	if depth < 1 {
		depth = 64
	}
	return &ChannelAdapter{ch: make(chan models.MetricSnapshot, depth)}
}

// Publish enqueues a snapshot for evaluation. It fails fast when the buffer
// is full rather than blocking the producer.
func (a *ChannelAdapter) Publish(ctx context.Context, snapshot models.MetricSnapshot) error {
	select {
	case a.ch <- snapshot:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrFeedSaturated
	}
}

// Snapshots implements Adapter.
func (a *ChannelAdapter) Snapshots() <-chan models.MetricSnapshot {
	return a.ch
}

// Close ends the stream. Publish must not be called afterwards.
func (a *ChannelAdapter) Close() {
	close(a.ch)
}
