// Package engine drains the persistent operation queue against the remote
// API whenever a trigger fires: a manual request, restored connectivity,
// the periodic scheduler, or a trigger_sync event on the bus.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"offline-sync-service/internal/engine/backoff"
	"offline-sync-service/internal/events"
	"offline-sync-service/internal/logger"
	"offline-sync-service/internal/router"
	"offline-sync-service/internal/store"
)

type Options struct {
	BaseURL      string
	BatchSize    int
	RetryCeiling int
	Backoff      backoff.Policy
}

type Engine struct {
	queue   store.OperationQueue
	fetcher router.Fetcher
	bus     *events.Bus
	opts    Options

	mu         sync.Mutex
	status     string
	online     bool
	cancelPass context.CancelFunc

	trigger     chan struct{}
	stop        chan struct{}
	stopped     bool
	wg          sync.WaitGroup
	unsubscribe func()
}

func New(queue store.OperationQueue, fetcher router.Fetcher, bus *events.Bus, opts Options) *Engine {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 25
	}
	if opts.RetryCeiling <= 0 {
		opts.RetryCeiling = 5
	}
	if opts.Backoff == nil {
		opts.Backoff = backoff.Exponential{Base: time.Second, Max: 2 * time.Minute, Jitter: 0.5}
	}

	return &Engine{
		queue:   queue,
		fetcher: fetcher,
		bus:     bus,
		opts:    opts,
		status:  "idle",
		online:  true,
		trigger: make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
}

// Start requeues any operations stranded in_flight by a previous crash,
// subscribes to trigger_sync events, and launches the drain loop.
func (e *Engine) Start() error {
	n, err := e.queue.RequeueInFlight(context.Background())
	if err != nil {
		return fmt.Errorf("failed to requeue stranded operations: %w", err)
	}
	if n > 0 {
		logger.Log.Info("Requeued stranded operations", zap.Int("count", n))
	}

	e.unsubscribe = e.bus.Subscribe(events.TypeFilter(events.TriggerSync), func(events.Event) {
		e.TriggerSync()
	})

	e.wg.Add(1)
	go e.run()
	return nil
}

func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	if e.cancelPass != nil {
		e.cancelPass()
	}
	close(e.stop)
	e.mu.Unlock()

	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	e.wg.Wait()
	logger.Log.Info("Stopped sync engine")
}

func (e *Engine) Status() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// TriggerSync requests a drain pass. A pass already in progress is
// aborted so the new trigger starts from a fresh batch.
func (e *Engine) TriggerSync() {
	e.mu.Lock()
	if e.cancelPass != nil {
		e.cancelPass()
	}
	e.mu.Unlock()

	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// SetOnline records the connectivity signal; regaining the network
// triggers a drain.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	changed := e.online != online
	e.online = online
	e.mu.Unlock()

	if changed && online {
		logger.Log.Info("Connectivity restored, triggering sync")
		e.TriggerSync()
	}
}

func (e *Engine) IsOnline() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

func (e *Engine) run() {
	defer e.wg.Done()

	for {
		select {
		case <-e.stop:
			return
		case <-e.trigger:
			ctx, cancel := context.WithCancel(context.Background())
			e.mu.Lock()
			e.cancelPass = cancel
			e.mu.Unlock()

			e.Drain(ctx)

			e.mu.Lock()
			e.cancelPass = nil
			e.mu.Unlock()
			cancel()
		}
	}
}

// Drain runs one sync pass: dequeue a bounded batch oldest-first and
// attempt delivery of each operation. Draining an empty queue is a no-op.
// Exported so callers that need a synchronous pass (tests, CLI) can run
// one directly.
func (e *Engine) Drain(ctx context.Context) {
	if !e.IsOnline() {
		return
	}

	e.mu.Lock()
	e.status = "running"
	e.mu.Unlock()

	defer func() {
		// Nothing may be left in_flight by a completed or aborted pass.
		if _, err := e.queue.RequeueInFlight(context.Background()); err != nil {
			logger.Log.Error("Failed to demote in-flight operations", zap.Error(err))
		}
		e.mu.Lock()
		e.status = "idle"
		e.mu.Unlock()
	}()

	ops, err := e.queue.DequeuePending(ctx, e.opts.BatchSize)
	if err != nil {
		logger.Log.Error("Failed to dequeue pending operations", zap.Error(err))
		return
	}
	if len(ops) == 0 {
		return
	}

	logger.Log.Info("Draining operation queue", zap.Int("batch", len(ops)))

	maxRetry := 0
	transient := false
	for _, op := range ops {
		if ctx.Err() != nil {
			// Aborted mid-batch; the deferred requeue demotes anything
			// already marked in_flight.
			return
		}
		if retry, wasTransient := e.deliver(ctx, op); wasTransient {
			transient = true
			if retry > maxRetry {
				maxRetry = retry
			}
		}
	}

	if transient {
		delay := e.opts.Backoff.Delay(maxRetry)
		logger.Log.Info("Scheduling retry pass", zap.Duration("delay", delay))
		time.AfterFunc(delay, func() {
			select {
			case <-e.stop:
			default:
				e.TriggerSync()
			}
		})
	}
}

// deliver attempts one operation. Reports the operation's retry count and
// whether its failure (if any) is transient and worth another pass.
func (e *Engine) deliver(ctx context.Context, op *store.PendingOperation) (int, bool) {
	if err := e.queue.MarkInFlight(ctx, op.ID); err != nil {
		logger.Log.Error("Failed to mark operation in-flight",
			zap.String("id", op.ID), zap.Error(err))
		return 0, false
	}

	req := &router.Request{
		Method: http.MethodPost,
		URL:    e.opts.BaseURL + "/" + op.Table,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   op.Payload,
	}

	resp, err := e.fetcher.Do(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			// Aborted, not failed: back to pending for the next pass.
			if merr := e.queue.MarkPending(context.Background(), op.ID); merr != nil {
				logger.Log.Error("Failed to demote aborted operation",
					zap.String("id", op.ID), zap.Error(merr))
			}
			return 0, false
		}
		return e.transientFailure(ctx, op, err.Error())
	}

	switch {
	case resp.Status >= 200 && resp.Status < 300:
		if err := e.queue.MarkSynced(ctx, op.ID); err != nil {
			logger.Log.Error("Failed to mark operation synced",
				zap.String("id", op.ID), zap.Error(err))
			return 0, false
		}
		e.bus.Emit(events.SyncSuccess, map[string]any{
			"id":    op.ID,
			"table": op.Table,
		})
		return 0, false

	case resp.Status >= 400 && resp.Status < 500:
		// Validation errors cannot succeed on retry; surface them.
		detail := fmt.Sprintf("HTTP %d: %s", resp.Status, truncate(resp.Body, 512))
		if err := e.queue.Fail(ctx, op.ID, detail); err != nil {
			logger.Log.Error("Failed to mark operation failed",
				zap.String("id", op.ID), zap.Error(err))
		}
		e.bus.Emit(events.SyncError, map[string]any{
			"id":       op.ID,
			"table":    op.Table,
			"error":    detail,
			"terminal": true,
		})
		return 0, false

	default:
		return e.transientFailure(ctx, op, fmt.Sprintf("HTTP %d", resp.Status))
	}
}

func (e *Engine) transientFailure(ctx context.Context, op *store.PendingOperation, detail string) (int, bool) {
	terminal, err := e.queue.MarkFailed(ctx, op.ID, detail, e.opts.RetryCeiling)
	if err != nil {
		logger.Log.Error("Failed to record operation failure",
			zap.String("id", op.ID), zap.Error(err))
		return 0, false
	}

	e.bus.Emit(events.SyncError, map[string]any{
		"id":       op.ID,
		"table":    op.Table,
		"error":    detail,
		"terminal": terminal,
	})

	if terminal {
		logger.Log.Warn("Operation exceeded retry ceiling",
			zap.String("id", op.ID), zap.String("table", op.Table))
		return 0, false
	}
	return op.RetryCount + 1, true
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
