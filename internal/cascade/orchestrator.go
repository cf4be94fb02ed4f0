package cascade

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/docuflow/receiptscan/internal/engine"
	"github.com/docuflow/receiptscan/internal/logger"
	"github.com/docuflow/receiptscan/internal/preprocess"
)

// EngineResult is one engine's attempt within a cascade, scored and
// tagged with any failure reason.
type EngineResult struct {
	EngineID      string        `json:"engine_id"`
	Text          string        `json:"text"`
	Confidence    float64       `json:"confidence"`
	AdjustedScore float64       `json:"adjusted_score"`
	Error         string        `json:"error,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// usable reports whether this result came from a successful invocation.
func (r EngineResult) usable() bool {
	return r.Error == ""
}

// Outcome is the result of one cascade run.
type Outcome struct {
	// Chosen is the selected result; nil only when the run failed
	Chosen *EngineResult `json:"chosen,omitempty"`

	// Tried holds every engine attempt in cascade order. On success it
	// is retained only when the caller asked for all results.
	Tried []EngineResult `json:"tried,omitempty"`

	// EnginesTried counts engine attempts, including failed ones
	EnginesTried int `json:"engines_tried"`

	// Consensus is the cross-engine agreement diagnostic, present when
	// two or more engines produced usable text
	Consensus *Consensus `json:"consensus,omitempty"`

	// ProcessingTime is the wall time of the whole cascade
	ProcessingTime time.Duration `json:"processing_time"`
}

// Orchestrator cascades recognition engines over a preprocessed image.
// It holds no per-request state; one instance serves concurrent
// requests.
type Orchestrator struct {
	engines   []engine.Engine
	pre       *preprocess.Preprocessor
	eval      *Evaluator
	stopEarly bool
	timeout   time.Duration
	log       *logger.Logger
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithPreprocessor sets the image preprocessor run before recognition.
func WithPreprocessor(pre *preprocess.Preprocessor) OrchestratorOption {
	return func(o *Orchestrator) {
		o.pre = pre
	}
}

// WithStopEarly enables terminating the cascade at the first result
// that clears the sufficiency threshold.
func WithStopEarly(stop bool) OrchestratorOption {
	return func(o *Orchestrator) {
		o.stopEarly = stop
	}
}

// WithTimeout sets the per-request deadline for the whole cascade.
func WithTimeout(timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.timeout = timeout
	}
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.log = log
	}
}

// New creates an orchestrator over the given engines in cascade order.
func New(engines []engine.Engine, eval *Evaluator, opts ...OrchestratorOption) *Orchestrator {
	if eval == nil {
		eval = NewEvaluator(DefaultEvaluatorConfig(), nil)
	}

	o := &Orchestrator{
		engines:   engines,
		eval:      eval,
		stopEarly: true,
		log:       logger.Get(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process runs the cascade for one image. Engine failures are recorded
// as zero-confidence results and never abort the run; only the absence
// of any usable result is returned as an error. wantAll controls
// whether intermediate results are retained in the outcome, never
// which result is chosen.
func (o *Orchestrator) Process(ctx context.Context, img image.Image, lang string, wantAll bool) (*Outcome, error) {
	startTime := time.Now()

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	if o.pre != nil {
		img = o.pre.Process(img)
	}

	tried := make([]EngineResult, 0, len(o.engines))
	var chosen *EngineResult

	for _, eng := range o.engines {
		if err := ctx.Err(); err != nil {
			// Deadline hit: everything not yet invoked fails with a
			// timeout reason and selection proceeds over what finished.
			tried = append(tried, EngineResult{
				EngineID: eng.ID(),
				Error:    ReasonTimeout,
			})
			continue
		}

		if !eng.Available() {
			o.log.WithEngine(eng.ID()).Warn("Engine not available, skipping")
			tried = append(tried, EngineResult{
				EngineID: eng.ID(),
				Error:    ReasonUnavailable,
			})
			continue
		}

		o.log.WithEngine(eng.ID()).Debug("Running recognition engine")
		engineStart := time.Now()
		res, err := eng.Recognize(ctx, img, lang)
		duration := time.Since(engineStart)

		if err != nil {
			reason := ReasonInvocationFailed + ": " + err.Error()
			if errors.Is(err, context.DeadlineExceeded) {
				reason = ReasonTimeout
			}
			o.log.WithEngine(eng.ID()).WithError(err).Warn("Engine invocation failed")
			tried = append(tried, EngineResult{
				EngineID: eng.ID(),
				Error:    reason,
				Duration: duration,
			})
			continue
		}

		score := o.eval.Score(res, eng.ID())
		result := EngineResult{
			EngineID:      eng.ID(),
			Text:          res.Text,
			Confidence:    res.Confidence,
			AdjustedScore: score,
			Duration:      duration,
		}
		tried = append(tried, result)

		o.log.WithEngine(eng.ID()).WithFields(
			"confidence", res.Confidence,
			"adjusted_score", score,
			"duration", duration,
		).Info("Engine completed")

		if o.stopEarly && score >= o.eval.Threshold() {
			o.log.WithEngine(eng.ID()).WithFields("adjusted_score", score).
				Info("Sufficient confidence, stopping cascade")
			chosen = &result
			break
		}
	}

	if chosen == nil {
		chosen = selectBest(tried)
	}

	outcome := &Outcome{
		Tried:          tried,
		EnginesTried:   len(tried),
		ProcessingTime: time.Since(startTime),
	}
	if usableCount(tried) >= 2 {
		_, outcome.Consensus = o.eval.Rank(usableResults(tried))
	}

	if chosen == nil {
		reasons := make(map[string]string, len(tried))
		for _, r := range tried {
			reasons[r.EngineID] = r.Error
		}
		return outcome, &NoUsableResultError{Reasons: reasons}
	}

	outcome.Chosen = chosen
	if !wantAll {
		outcome.Tried = nil
	}

	o.log.WithEngine(chosen.EngineID).WithFields(
		"adjusted_score", chosen.AdjustedScore,
		"engines_tried", outcome.EnginesTried,
		"processing_time", outcome.ProcessingTime,
	).Info("Cascade completed")

	return outcome, nil
}

// selectBest picks the usable result with the maximum adjusted score.
// Ties go to the earliest engine in cascade order.
func selectBest(tried []EngineResult) *EngineResult {
	var best *EngineResult
	for i := range tried {
		r := &tried[i]
		if !r.usable() {
			continue
		}
		if best == nil || r.AdjustedScore > best.AdjustedScore {
			best = r
		}
	}
	return best
}

func usableCount(tried []EngineResult) int {
	n := 0
	for _, r := range tried {
		if r.usable() {
			n++
		}
	}
	return n
}

func usableResults(tried []EngineResult) []EngineResult {
	out := make([]EngineResult, 0, len(tried))
	for _, r := range tried {
		if r.usable() {
			out = append(out, r)
		}
	}
	return out
}
