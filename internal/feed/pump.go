package feed

import (
	"context"
	"errors"

	"github.com/vibespan/automation-engine/internal/logging"
	"github.com/vibespan/automation-engine/pkg/models"
)

// ErrFeedSaturated is returned by Publish when the adapter buffer is full.
var ErrFeedSaturated = errors.New("metric feed saturated")

// Evaluator turns a metric snapshot into zero or more trigger events.
type Evaluator interface {
	Evaluate(ctx context.Context, tenantID string, snapshot models.MetricSnapshot) ([]models.TriggerEvent, error)
}

// Submitter accepts trigger events for execution.
type Submitter interface {
	Submit(ctx context.Context, event models.TriggerEvent) error
}

// Pump drains an Adapter, evaluates each snapshot against the tenant's
// rules, and submits the resulting trigger events. A snapshot that fails
// evaluation is logged and dropped; the pump never stops on per-snapshot
// errors.
type Pump struct {
	adapter   Adapter
	evaluator Evaluator
	submitter Submitter
	logger    *logging.Logger
	accepted  func(models.TriggerSource)
}

// NewPump wires an adapter to the rule engine and the execution pool.
func NewPump(adapter Adapter, evaluator Evaluator, submitter Submitter, logger *logging.Logger) *Pump {
	return &Pump{adapter: adapter, evaluator: evaluator, submitter: submitter, logger: logger}
}

// WithAcceptedHook registers a callback invoked for each submitted event.
func (p *Pump) WithAcceptedHook(fn func(models.TriggerSource)) *Pump {
	p.accepted = fn
	return p
}

// Run drains the adapter until the context ends or the stream closes.
func (p *Pump) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snapshot, ok := <-p.adapter.Snapshots():
			if !ok {
				return nil
			}
			p.handle(ctx, snapshot)
		}
	}
}

func (p *Pump) handle(ctx context.Context, snapshot models.MetricSnapshot) {
	events, err := p.evaluator.Evaluate(ctx, snapshot.TenantID, snapshot)
	if err != nil {
		p.logger.Error("snapshot evaluation failed",
			"tenant_id", snapshot.TenantID, "error", err)
		return
	}
	for _, event := range events {
		if err := p.submitter.Submit(ctx, event); err != nil {
			p.logger.Warn("trigger submission rejected",
				"tenant_id", event.TenantID,
				"workflow_id", event.WorkflowID,
				"dedup_key", event.DedupKey,
				"error", err)
			continue
		}
		if p.accepted != nil {
			p.accepted(event.Source)
		}
	}
}
