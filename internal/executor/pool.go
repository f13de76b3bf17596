package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/vibespan/automation-engine/internal/logging"
	"github.com/vibespan/automation-engine/pkg/models"
)

// Pool processes trigger events with bounded concurrency. Each tenant has
// its own FIFO queue drained serially, so cooldown and next-due bookkeeping
// stay consistent; work across tenants runs in parallel up to the worker
// limit. A slow step for one tenant never blocks another tenant's pipeline.
type Pool struct {
	exec   *Executor
	logger *logging.Logger
	depth  int

	sem chan struct{} // bounds concurrent executions across tenants

	mu      sync.Mutex
	queues  map[string]chan models.TriggerEvent
	closed  bool
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool creates a pool with the given worker count and per-tenant queue
// depth.
func NewPool(exec *Executor, workers, depth int, logger *logging.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if depth < 1 {
		depth = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		exec:    exec,
		logger:  logger,
		depth:   depth,
		sem:     make(chan struct{}, workers),
		queues:  make(map[string]chan models.TriggerEvent),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Submit enqueues a trigger event onto its tenant's queue. Returns an error
// when the pool is shut down or the tenant's queue is full (backpressure is
// surfaced to the producer rather than buffered unboundedly).
func (p *Pool) Submit(ctx context.Context, event models.TriggerEvent) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("executor pool is shut down")
	}
	q, ok := p.queues[event.TenantID]
	if !ok {
		q = make(chan models.TriggerEvent, p.depth)
		p.queues[event.TenantID] = q
		p.wg.Add(1)
		go p.drain(event.TenantID, q)
	}
	p.mu.Unlock()

	select {
	case q <- event:
		return nil
	default:
		return fmt.Errorf("queue full for tenant %s", event.TenantID)
	}
}

// Shutdown stops accepting work, cancels in-flight executions, and waits for
// the tenant drainers to exit.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, q := range p.queues {
		close(q)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}

// drain processes one tenant's queue in arrival order.
func (p *Pool) drain(tenantID string, q chan models.TriggerEvent) {
	defer p.wg.Done()
	for event := range q {
		select {
		case p.sem <- struct{}{}:
		case <-p.baseCtx.Done():
			return
		}

		if _, err := p.exec.Execute(p.baseCtx, event); err != nil {
			p.logger.Error("trigger execution failed",
				"tenant_id", tenantID, "trigger_id", event.ID,
				"workflow_id", event.WorkflowID, "error", err)
		}
		<-p.sem
	}
}
