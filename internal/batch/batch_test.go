package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docuflow/receiptscan/internal/store"
)

func makeRequests(n int) []Request {
	reqs := make([]Request, n)
	for i := range reqs {
		reqs[i] = Request{TaskID: i, Name: fmt.Sprintf("receipt-%d.png", i)}
	}
	return reqs
}

func TestRun_AllSucceed(t *testing.T) {
	runner := NewRunner(func(ctx context.Context, req Request) (*store.ScanResult, error) {
		return &store.ScanResult{ID: req.Name, EngineID: "tesseract"}, nil
	})

	results := runner.Run(context.Background(), makeRequests(7))
	if len(results) != 7 {
		t.Fatalf("expected 7 results, got %d", len(results))
	}
	for i, res := range results {
		if !res.Success {
			t.Errorf("item %d: expected success, got error %q", i, res.Error)
		}
		if res.TaskID != i {
			t.Errorf("result %d: TaskID = %d, results out of submission order", i, res.TaskID)
		}
		if res.Scan == nil || res.Scan.ID != res.Name {
			t.Errorf("item %d: scan result not carried through", i)
		}
	}
}

func TestRun_ConcurrencyNeverExceedsCap(t *testing.T) {
	const limit = 3
	var inFlight, peak int64

	runner := NewRunner(func(ctx context.Context, req Request) (*store.ScanResult, error) {
		cur := atomic.AddInt64(&inFlight, 1)
		defer atomic.AddInt64(&inFlight, -1)
		for {
			old := atomic.LoadInt64(&peak)
			if cur <= old || atomic.CompareAndSwapInt64(&peak, old, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return &store.ScanResult{}, nil
	}, WithMaxConcurrentTasks(limit))

	runner.Run(context.Background(), makeRequests(10))

	if got := atomic.LoadInt64(&peak); got > limit {
		t.Errorf("peak concurrency = %d, want at most %d", got, limit)
	}
	if got := atomic.LoadInt64(&peak); got < 2 {
		t.Errorf("peak concurrency = %d, items do not run in parallel", got)
	}
}

func TestRun_OneFailureDoesNotAffectOthers(t *testing.T) {
	runner := NewRunner(func(ctx context.Context, req Request) (*store.ScanResult, error) {
		if req.TaskID == 2 {
			return nil, errors.New("unreadable image")
		}
		return &store.ScanResult{}, nil
	})

	results := runner.Run(context.Background(), makeRequests(5))

	for i, res := range results {
		if i == 2 {
			if res.Success {
				t.Error("item 2: expected failure")
			}
			if res.Error != "unreadable image" {
				t.Errorf("item 2: error = %q, want %q", res.Error, "unreadable image")
			}
			continue
		}
		if !res.Success {
			t.Errorf("item %d: failed alongside item 2: %q", i, res.Error)
		}
	}
}

func TestRun_PanicIsIsolated(t *testing.T) {
	runner := NewRunner(func(ctx context.Context, req Request) (*store.ScanResult, error) {
		if req.TaskID == 1 {
			panic("corrupt pixel buffer")
		}
		return &store.ScanResult{}, nil
	})

	results := runner.Run(context.Background(), makeRequests(3))

	if results[1].Success {
		t.Error("panicking item reported success")
	}
	if !strings.Contains(results[1].Error, "corrupt pixel buffer") {
		t.Errorf("panicking item error = %q, want panic message", results[1].Error)
	}
	if !results[0].Success || !results[2].Success {
		t.Error("panic in one item affected its neighbors")
	}
}

func TestRun_BatchTimeoutFailsRemainingItems(t *testing.T) {
	var started int64

	runner := NewRunner(func(ctx context.Context, req Request) (*store.ScanResult, error) {
		atomic.AddInt64(&started, 1)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return &store.ScanResult{}, nil
		}
	}, WithMaxConcurrentTasks(2), WithTimeout(50*time.Millisecond))

	results := runner.Run(context.Background(), makeRequests(6))

	if len(results) != 6 {
		t.Fatalf("expected 6 results, got %d", len(results))
	}
	for i, res := range results {
		if res.Success {
			t.Errorf("item %d: succeeded past the batch deadline", i)
		}
		if res.Error != "batch timeout" {
			t.Errorf("item %d: error = %q, want %q", i, res.Error, "batch timeout")
		}
	}
	// Only the first chunk runs before the deadline fires.
	if got := atomic.LoadInt64(&started); got != 2 {
		t.Errorf("started %d items, want 2 (one chunk)", got)
	}
}

func TestRun_EmptyBatch(t *testing.T) {
	runner := NewRunner(func(ctx context.Context, req Request) (*store.ScanResult, error) {
		t.Error("processing function called for empty batch")
		return nil, nil
	})

	results := runner.Run(context.Background(), nil)
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}

func TestRun_ChunksRunSequentially(t *testing.T) {
	var mu sync.Mutex
	var order []int

	runner := NewRunner(func(ctx context.Context, req Request) (*store.ScanResult, error) {
		mu.Lock()
		order = append(order, req.TaskID/2)
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		return &store.ScanResult{}, nil
	}, WithMaxConcurrentTasks(2))

	runner.Run(context.Background(), makeRequests(6))

	// With chunked submission, chunk N finishes before chunk N+1 starts.
	for i := 1; i < len(order); i++ {
		if order[i] < order[i-1] {
			t.Fatalf("chunk %d started before chunk %d finished", order[i], order[i-1])
		}
	}
}

func TestNewRunner_Defaults(t *testing.T) {
	runner := NewRunner(nil)
	if runner.maxConcurrent != DefaultMaxConcurrentTasks {
		t.Errorf("maxConcurrent = %d, want %d", runner.maxConcurrent, DefaultMaxConcurrentTasks)
	}
	if runner.timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", runner.timeout, DefaultTimeout)
	}

	runner = NewRunner(nil, WithMaxConcurrentTasks(0), WithTimeout(-1))
	if runner.maxConcurrent != DefaultMaxConcurrentTasks || runner.timeout != DefaultTimeout {
		t.Error("invalid option values overrode defaults")
	}
}
