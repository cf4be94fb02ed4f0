// Package batch runs many receipt scans with bounded parallelism.
// Submissions are processed in chunks no wider than the concurrency
// cap, each item is isolated from the others, and a batch-level
// deadline turns unfinished items into timeout failures instead of
// blocking the whole run.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/docuflow/receiptscan/internal/logger"
	"github.com/docuflow/receiptscan/internal/store"
)

const (
	// DefaultMaxConcurrentTasks caps in-flight scans per batch
	DefaultMaxConcurrentTasks = 4

	// DefaultTimeout bounds a whole batch run
	DefaultTimeout = 60 * time.Second
)

// Request is one item of a batch submission.
type Request struct {
	// TaskID is the item's position in the submission
	TaskID int

	// Name is the source filename, carried through to the result
	Name string

	// Data is the raw image payload
	Data []byte
}

// Result is the outcome of one batch item.
type Result struct {
	TaskID   int               `json:"task_id"`
	Name     string            `json:"filename"`
	Success  bool              `json:"success"`
	Scan     *store.ScanResult `json:"result,omitempty"`
	Error    string            `json:"error,omitempty"`
	Duration time.Duration     `json:"duration"`
}

// Func processes a single batch item.
type Func func(ctx context.Context, req Request) (*store.ScanResult, error)

// Runner executes batches over a processing function. One runner
// serves concurrent batches; it holds no per-run state.
type Runner struct {
	fn            Func
	maxConcurrent int
	timeout       time.Duration
	log           *logger.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithMaxConcurrentTasks caps the number of in-flight items.
func WithMaxConcurrentTasks(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxConcurrent = n
		}
	}
}

// WithTimeout sets the whole-batch deadline.
func WithTimeout(timeout time.Duration) Option {
	return func(r *Runner) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(r *Runner) {
		r.log = log
	}
}

// NewRunner creates a batch runner around the processing function.
func NewRunner(fn Func, opts ...Option) *Runner {
	r := &Runner{
		fn:            fn,
		maxConcurrent: DefaultMaxConcurrentTasks,
		timeout:       DefaultTimeout,
		log:           logger.Get(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes all requests and returns one result per request, in
// submission order. It never returns an error: failures are recorded
// per item.
func (r *Runner) Run(ctx context.Context, reqs []Request) []Result {
	startTime := time.Now()
	results := make([]Result, len(reqs))

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	r.log.WithFields(
		"total_items", len(reqs),
		"chunk_size", r.maxConcurrent,
		"total_chunks", (len(reqs)+r.maxConcurrent-1)/r.maxConcurrent,
	).Info("Batch processing started")

	for start := 0; start < len(reqs); start += r.maxConcurrent {
		end := start + r.maxConcurrent
		if end > len(reqs) {
			end = len(reqs)
		}

		if ctx.Err() != nil {
			// Batch deadline hit: everything not yet started fails
			// with a timeout instead of waiting forever.
			for i := start; i < len(reqs); i++ {
				results[i] = Result{
					TaskID:  reqs[i].TaskID,
					Name:    reqs[i].Name,
					Success: false,
					Error:   "batch timeout",
				}
			}
			break
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				results[idx] = r.runOne(ctx, reqs[idx])
			}(i)
		}
		wg.Wait()
	}

	succeeded := 0
	for _, res := range results {
		if res.Success {
			succeeded++
		}
	}
	r.log.WithFields(
		"total_items", len(reqs),
		"succeeded", succeeded,
		"duration", time.Since(startTime),
	).Info("Batch processing completed")

	return results
}

// runOne processes a single item, recovering panics so one bad image
// never takes down the batch.
func (r *Runner) runOne(ctx context.Context, req Request) (res Result) {
	startTime := time.Now()
	res = Result{TaskID: req.TaskID, Name: req.Name}

	defer func() {
		res.Duration = time.Since(startTime)
		if p := recover(); p != nil {
			r.log.WithRequestID(req.Name).Errorf("Batch item panicked: %v", p)
			res.Success = false
			res.Scan = nil
			res.Error = fmt.Sprintf("internal error: %v", p)
		}
	}()

	scan, err := r.fn(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			res.Error = "batch timeout"
		} else {
			res.Error = err.Error()
		}
		r.log.WithRequestID(req.Name).WithError(err).Warn("Batch item failed")
		return res
	}

	res.Success = true
	res.Scan = scan
	return res
}
