package engine

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"offline-sync-service/internal/engine/backoff"
	"offline-sync-service/internal/events"
	"offline-sync-service/internal/router"
	"offline-sync-service/internal/store"
)

type scriptedFetcher struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, req *router.Request) (*router.Response, error)
}

func (f *scriptedFetcher) Do(ctx context.Context, req *router.Request) (*router.Response, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(ctx, req)
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func respond(status int, body string) func(context.Context, *router.Request) (*router.Response, error) {
	return func(context.Context, *router.Request) (*router.Response, error) {
		return &router.Response{Status: status, Header: http.Header{}, Body: []byte(body)}, nil
	}
}

func newTestEngine(f router.Fetcher, ceiling int) (*Engine, *store.MemoryStore, *events.Bus) {
	st := store.NewMemoryStore()
	bus := events.NewBus()
	eng := New(st, f, bus, Options{
		BaseURL:      "https://api.example.com",
		BatchSize:    10,
		RetryCeiling: ceiling,
		Backoff:      backoff.None{},
	})
	return eng, st, bus
}

func collect(bus *events.Bus, t events.Type) *[]events.Event {
	var (
		mu  sync.Mutex
		got []events.Event
	)
	bus.Subscribe(events.TypeFilter(t), func(e events.Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})
	return &got
}

// Scenario: a mutation captured offline is delivered once connectivity
// returns, the queue drains empty and sync_success is emitted.
func TestDrainDeliversQueuedOperation(t *testing.T) {
	f := &scriptedFetcher{fn: respond(201, `{"ok":true}`)}
	eng, st, bus := newTestEngine(f, 3)
	ctx := context.Background()

	successes := collect(bus, events.SyncSuccess)

	id, err := st.Enqueue(ctx, "fields", []byte(`{"crop":"maize"}`))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	eng.Drain(ctx)

	counts, _ := st.Counts(ctx)
	if counts.Pending+counts.InFlight+counts.Failed != 0 {
		t.Errorf("Expected empty queue after drain, got %+v", counts)
	}
	if len(*successes) != 1 {
		t.Fatalf("Expected 1 sync_success event, got %d", len(*successes))
	}
	if (*successes)[0].Payload["id"] != id {
		t.Errorf("Event names wrong operation: %v", (*successes)[0].Payload)
	}
}

func TestDrainEmptyQueueIsNoOp(t *testing.T) {
	f := &scriptedFetcher{fn: respond(200, `{}`)}
	eng, _, _ := newTestEngine(f, 3)

	eng.Drain(context.Background())
	eng.Drain(context.Background())

	if f.callCount() != 0 {
		t.Errorf("Empty drain made %d network calls", f.callCount())
	}
}

// Scenario: a validation rejection is terminal on the first attempt, with
// no retry spent.
func TestValidationErrorIsTerminalWithoutRetry(t *testing.T) {
	f := &scriptedFetcher{fn: respond(422, `{"error":"bad crop code"}`)}
	eng, st, bus := newTestEngine(f, 3)
	ctx := context.Background()

	syncErrors := collect(bus, events.SyncError)

	st.Enqueue(ctx, "fields", []byte(`{"crop":"???"}`))
	eng.Drain(ctx)

	failed, _ := st.ListFailed(ctx, 10)
	if len(failed) != 1 {
		t.Fatalf("Expected 1 failed operation, got %d", len(failed))
	}
	if failed[0].RetryCount != 0 {
		t.Errorf("4xx must not consume retries, retry_count=%d", failed[0].RetryCount)
	}
	if f.callCount() != 1 {
		t.Errorf("4xx must not be retried, got %d calls", f.callCount())
	}
	if len(*syncErrors) != 1 || (*syncErrors)[0].Payload["terminal"] != true {
		t.Errorf("Expected one terminal sync_error, got %v", *syncErrors)
	}
	if detail, _ := (*syncErrors)[0].Payload["error"].(string); detail == "" {
		t.Error("sync_error should carry the validation detail")
	}
}

func TestTransientErrorsRetryUpToCeiling(t *testing.T) {
	f := &scriptedFetcher{fn: func(context.Context, *router.Request) (*router.Response, error) {
		return nil, errors.New("connection refused")
	}}
	const ceiling = 3
	eng, st, _ := newTestEngine(f, ceiling)
	ctx := context.Background()

	st.Enqueue(ctx, "fields", []byte(`{}`))

	// Each pass attempts the pending op once until it goes terminal.
	for i := 0; i < ceiling+2; i++ {
		eng.Drain(ctx)
	}

	if f.callCount() != ceiling {
		t.Errorf("Expected exactly %d attempts, got %d", ceiling, f.callCount())
	}
	failed, _ := st.ListFailed(ctx, 10)
	if len(failed) != 1 {
		t.Fatalf("Expected terminal failure, got %d failed ops", len(failed))
	}
	if failed[0].RetryCount != ceiling {
		t.Errorf("retry_count should stop at the ceiling, got %d", failed[0].RetryCount)
	}
	counts, _ := st.Counts(ctx)
	if counts.InFlight != 0 {
		t.Errorf("Operations left in_flight after passes: %+v", counts)
	}
}

func TestServerErrorIsTransient(t *testing.T) {
	f := &scriptedFetcher{fn: respond(500, `oops`)}
	eng, st, _ := newTestEngine(f, 3)
	ctx := context.Background()

	st.Enqueue(ctx, "fields", []byte(`{}`))
	eng.Drain(ctx)

	ops, _ := st.DequeuePending(ctx, 10)
	if len(ops) != 1 {
		t.Fatalf("5xx should return the op to pending, got %v", ops)
	}
	if ops[0].RetryCount != 1 {
		t.Errorf("Expected retry_count 1, got %d", ops[0].RetryCount)
	}
}

// An aborted pass must demote its in-flight operation back to pending,
// never strand it.
func TestAbortedPassDemotesInFlight(t *testing.T) {
	started := make(chan struct{})
	f := &scriptedFetcher{fn: func(ctx context.Context, _ *router.Request) (*router.Response, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	eng, st, _ := newTestEngine(f, 3)

	st.Enqueue(context.Background(), "fields", []byte(`{}`))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		eng.Drain(ctx)
		close(done)
	}()

	<-started
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Drain did not return after cancellation")
	}

	counts, _ := st.Counts(context.Background())
	if counts.InFlight != 0 {
		t.Fatalf("Operation stranded in_flight after abort: %+v", counts)
	}
	ops, _ := st.DequeuePending(context.Background(), 10)
	if len(ops) != 1 {
		t.Errorf("Aborted operation should be pending for the next pass, got %v", ops)
	}
	if ops[0].RetryCount != 0 {
		t.Errorf("Abort is not a failure, retry_count=%d", ops[0].RetryCount)
	}
}

func TestDrainSkipsWhileOffline(t *testing.T) {
	f := &scriptedFetcher{fn: respond(200, `{}`)}
	eng, st, _ := newTestEngine(f, 3)
	ctx := context.Background()

	st.Enqueue(ctx, "fields", []byte(`{}`))
	eng.SetOnline(false)
	eng.Drain(ctx)

	if f.callCount() != 0 {
		t.Errorf("Offline drain made %d network calls", f.callCount())
	}
	ops, _ := st.DequeuePending(ctx, 10)
	if len(ops) != 1 {
		t.Errorf("Offline drain should leave the queue alone, got %v", ops)
	}
}

func TestTriggerSyncViaBusEvent(t *testing.T) {
	f := &scriptedFetcher{fn: respond(200, `{}`)}
	eng, st, bus := newTestEngine(f, 3)
	ctx := context.Background()

	st.Enqueue(ctx, "fields", []byte(`{}`))

	if err := eng.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer eng.Stop()

	bus.Emit(events.TriggerSync, nil)

	deadline := time.Now().Add(2 * time.Second)
	for {
		counts, _ := st.Counts(ctx)
		if counts.Pending+counts.InFlight == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("trigger_sync event never drained the queue: %+v", counts)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
