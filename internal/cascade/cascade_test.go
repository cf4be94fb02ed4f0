package cascade

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/docuflow/receiptscan/internal/engine"
)

// stubEngine is a scripted engine for cascade tests.
type stubEngine struct {
	id        string
	res       *engine.Result
	err       error
	available bool
	calls     int
	block     bool
}

func (s *stubEngine) Initialize() error { s.available = true; return nil }
func (s *stubEngine) Available() bool   { return s.available }
func (s *stubEngine) ID() string        { return s.id }

func (s *stubEngine) Recognize(ctx context.Context, img image.Image, lang string) (*engine.Result, error) {
	s.calls++
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.res, nil
}

// plainResult builds a result whose text is long enough to avoid the
// short-text penalty but carries no bonus-triggering patterns.
func plainResult(confidence float64) *engine.Result {
	return &engine.Result{
		Text:       "plain receipt text sample without digits",
		Confidence: confidence,
	}
}

func testImg() image.Image {
	return image.NewGray(image.Rect(0, 0, 4, 4))
}

func TestEvaluator_Score(t *testing.T) {
	eval := NewEvaluator(DefaultEvaluatorConfig(), nil)

	tests := []struct {
		name     string
		res      *engine.Result
		engineID string
		want     float64
	}{
		{
			name:     "plain text no adjustments",
			res:      plainResult(0.5),
			engineID: "unknown-engine",
			want:     0.5,
		},
		{
			name:     "trust weight applied",
			res:      plainResult(0.5),
			engineID: engine.IDOllama,
			want:     0.55,
		},
		{
			name:     "short text halved",
			res:      &engine.Result{Text: "hi", Confidence: 0.8},
			engineID: "unknown-engine",
			want:     0.4,
		},
		{
			name: "receipt signal bonuses",
			res: &engine.Result{
				Text:       "서울마트 영수증\n2024-01-02\n합계 3,000원\n카드 1234",
				Confidence: 0.5,
			},
			engineID: "unknown-engine",
			want:     0.75,
		},
		{
			name:     "clamped to one",
			res:      plainResult(0.95),
			engineID: engine.IDGemini,
			want:     1.0,
		},
		{
			name:     "nil result scores zero",
			res:      nil,
			engineID: engine.IDTesseract,
			want:     0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := eval.Score(tt.res, tt.engineID)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Score() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluator_ShouldEscalate(t *testing.T) {
	eval := NewEvaluator(DefaultEvaluatorConfig(), nil)

	if !eval.ShouldEscalate(plainResult(0.3), "unknown-engine") {
		t.Error("score below threshold should escalate")
	}
	if eval.ShouldEscalate(plainResult(0.9), "unknown-engine") {
		t.Error("score above threshold should not escalate")
	}
}

func TestEvaluator_Rank(t *testing.T) {
	eval := NewEvaluator(DefaultEvaluatorConfig(), nil)

	results := []EngineResult{
		{EngineID: "a", AdjustedScore: 0.4, Text: strings.Repeat("x", 100)},
		{EngineID: "b", AdjustedScore: 0.9, Text: strings.Repeat("x", 102)},
		{EngineID: "c", AdjustedScore: 0.6, Text: strings.Repeat("x", 101)},
	}

	ranked, consensus := eval.Rank(results)
	if ranked[0].EngineID != "b" || ranked[1].EngineID != "c" || ranked[2].EngineID != "a" {
		t.Errorf("rank order = %s %s %s, want b c a",
			ranked[0].EngineID, ranked[1].EngineID, ranked[2].EngineID)
	}
	if results[0].EngineID != "a" {
		t.Error("Rank must not modify its input")
	}
	if consensus == nil || !consensus.HasConsensus {
		t.Errorf("similar lengths should reach consensus, got %+v", consensus)
	}
}

func TestEvaluator_Rank_NoConsensus(t *testing.T) {
	eval := NewEvaluator(DefaultEvaluatorConfig(), nil)

	results := []EngineResult{
		{EngineID: "a", Text: strings.Repeat("x", 10)},
		{EngineID: "b", Text: strings.Repeat("x", 200)},
	}
	_, consensus := eval.Rank(results)
	if consensus == nil || consensus.HasConsensus {
		t.Errorf("divergent lengths should not reach consensus, got %+v", consensus)
	}

	_, consensus = eval.Rank(results[:1])
	if consensus != nil {
		t.Error("consensus needs at least two results")
	}
}

func TestProcess_EscalatesBelowThreshold(t *testing.T) {
	// Engine 1 scores below the threshold, engine 2 above: the cascade
	// must try both and choose engine 2.
	eval := NewEvaluator(EvaluatorConfig{SufficiencyThreshold: 0.7}, nil)
	first := &stubEngine{id: "first", available: true, res: plainResult(0.5)}
	second := &stubEngine{id: "second", available: true, res: plainResult(0.9)}

	o := New([]engine.Engine{first, second}, eval)
	outcome, err := o.Process(context.Background(), testImg(), "kor", false)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if outcome.Chosen == nil || outcome.Chosen.EngineID != "second" {
		t.Errorf("chosen = %+v, want second", outcome.Chosen)
	}
	if outcome.EnginesTried != 2 {
		t.Errorf("engines_tried = %d, want 2", outcome.EnginesTried)
	}
	if first.calls != 1 || second.calls != 1 {
		t.Errorf("calls = %d/%d, want 1/1", first.calls, second.calls)
	}
}

func TestProcess_StopsEarlyOnSufficientConfidence(t *testing.T) {
	eval := NewEvaluator(EvaluatorConfig{SufficiencyThreshold: 0.7}, nil)
	first := &stubEngine{id: "first", available: true, res: plainResult(0.95)}
	second := &stubEngine{id: "second", available: true, res: plainResult(0.99)}

	o := New([]engine.Engine{first, second}, eval)
	outcome, err := o.Process(context.Background(), testImg(), "kor", false)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if outcome.Chosen.EngineID != "first" {
		t.Errorf("chosen = %s, want first (early stop)", outcome.Chosen.EngineID)
	}
	if second.calls != 0 {
		t.Error("later engine must never run after a sufficient result")
	}
	if outcome.EnginesTried != 1 {
		t.Errorf("engines_tried = %d, want 1", outcome.EnginesTried)
	}
}

func TestProcess_RunsAllEnginesWhenStopEarlyDisabled(t *testing.T) {
	eval := NewEvaluator(EvaluatorConfig{SufficiencyThreshold: 0.7}, nil)
	first := &stubEngine{id: "first", available: true, res: plainResult(0.95)}
	second := &stubEngine{id: "second", available: true, res: plainResult(0.8)}

	o := New([]engine.Engine{first, second}, eval, WithStopEarly(false))
	outcome, err := o.Process(context.Background(), testImg(), "kor", true)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if first.calls != 1 || second.calls != 1 {
		t.Error("every engine must run when early stop is disabled")
	}
	if outcome.Chosen.EngineID != "first" {
		t.Errorf("chosen = %s, want first (max adjusted score)", outcome.Chosen.EngineID)
	}
	if len(outcome.Tried) != 2 {
		t.Errorf("tried = %d, want 2 with wantAll", len(outcome.Tried))
	}
}

func TestProcess_TieBreaksToEarliestEngine(t *testing.T) {
	eval := NewEvaluator(EvaluatorConfig{SufficiencyThreshold: 0.99}, nil)
	first := &stubEngine{id: "first", available: true, res: plainResult(0.5)}
	second := &stubEngine{id: "second", available: true, res: plainResult(0.5)}

	o := New([]engine.Engine{first, second}, eval, WithStopEarly(false))
	outcome, err := o.Process(context.Background(), testImg(), "kor", false)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if outcome.Chosen.EngineID != "first" {
		t.Errorf("chosen = %s, want first on tie", outcome.Chosen.EngineID)
	}
}

func TestProcess_AllEnginesFail(t *testing.T) {
	first := &stubEngine{id: "first", available: true, err: fmt.Errorf("backend exploded")}
	second := &stubEngine{id: "second", available: true, err: fmt.Errorf("also broken")}

	o := New([]engine.Engine{first, second}, nil)
	outcome, err := o.Process(context.Background(), testImg(), "kor", true)

	var noResult *NoUsableResultError
	if !errors.As(err, &noResult) {
		t.Fatalf("error = %v, want NoUsableResultError", err)
	}
	if outcome.Chosen != nil {
		t.Errorf("chosen = %+v, want nil", outcome.Chosen)
	}
	if len(outcome.Tried) != 2 {
		t.Fatalf("tried = %d, want 2", len(outcome.Tried))
	}
	for _, r := range outcome.Tried {
		if r.Confidence != 0 || r.AdjustedScore != 0 {
			t.Errorf("failed entry %s should have zero confidence", r.EngineID)
		}
		if r.Error == "" {
			t.Errorf("failed entry %s should carry a reason", r.EngineID)
		}
	}
	if len(noResult.Reasons) != 2 {
		t.Errorf("reasons = %d, want 2", len(noResult.Reasons))
	}
}

func TestProcess_SkipsUnavailableEngine(t *testing.T) {
	eval := NewEvaluator(EvaluatorConfig{SufficiencyThreshold: 0.7}, nil)
	first := &stubEngine{id: "first", available: false}
	second := &stubEngine{id: "second", available: true, res: plainResult(0.9)}

	o := New([]engine.Engine{first, second}, eval)
	outcome, err := o.Process(context.Background(), testImg(), "kor", true)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if first.calls != 0 {
		t.Error("unavailable engine must not be invoked")
	}
	if outcome.Tried[0].Error != ReasonUnavailable {
		t.Errorf("first entry error = %q, want %q", outcome.Tried[0].Error, ReasonUnavailable)
	}
	if outcome.Chosen.EngineID != "second" {
		t.Errorf("chosen = %s, want second", outcome.Chosen.EngineID)
	}
}

func TestProcess_FailureThenSuccessContinues(t *testing.T) {
	eval := NewEvaluator(EvaluatorConfig{SufficiencyThreshold: 0.7}, nil)
	first := &stubEngine{id: "first", available: true, err: fmt.Errorf("transient")}
	second := &stubEngine{id: "second", available: true, res: plainResult(0.9)}

	o := New([]engine.Engine{first, second}, eval)
	outcome, err := o.Process(context.Background(), testImg(), "kor", true)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if outcome.Chosen.EngineID != "second" {
		t.Errorf("chosen = %s, want second", outcome.Chosen.EngineID)
	}
	if !strings.Contains(outcome.Tried[0].Error, "transient") {
		t.Errorf("first entry should record the invocation error, got %q", outcome.Tried[0].Error)
	}
}

func TestProcess_TimeoutUsesPartialResults(t *testing.T) {
	eval := NewEvaluator(EvaluatorConfig{SufficiencyThreshold: 0.99}, nil)
	first := &stubEngine{id: "first", available: true, res: plainResult(0.5)}
	second := &stubEngine{id: "second", available: true, block: true}
	third := &stubEngine{id: "third", available: true, res: plainResult(0.9)}

	o := New([]engine.Engine{first, second, third}, eval,
		WithStopEarly(false), WithTimeout(50*time.Millisecond))
	outcome, err := o.Process(context.Background(), testImg(), "kor", true)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if outcome.Chosen == nil || outcome.Chosen.EngineID != "first" {
		t.Errorf("chosen = %+v, want first (only completed engine)", outcome.Chosen)
	}
	if outcome.Tried[1].Error != ReasonTimeout {
		t.Errorf("blocked engine error = %q, want %q", outcome.Tried[1].Error, ReasonTimeout)
	}
	if outcome.Tried[2].Error != ReasonTimeout {
		t.Errorf("never-invoked engine error = %q, want %q", outcome.Tried[2].Error, ReasonTimeout)
	}
	if third.calls != 0 {
		t.Error("engines after the deadline must not be invoked")
	}
}

func TestProcess_TimeoutWithNoResults(t *testing.T) {
	first := &stubEngine{id: "first", available: true, block: true}

	o := New([]engine.Engine{first}, nil, WithTimeout(20*time.Millisecond))
	_, err := o.Process(context.Background(), testImg(), "kor", false)

	var noResult *NoUsableResultError
	if !errors.As(err, &noResult) {
		t.Fatalf("error = %v, want NoUsableResultError", err)
	}
	if noResult.Reasons["first"] != ReasonTimeout {
		t.Errorf("reason = %q, want %q", noResult.Reasons["first"], ReasonTimeout)
	}
}

func TestProcess_WantAllControlsRetentionOnly(t *testing.T) {
	eval := NewEvaluator(EvaluatorConfig{SufficiencyThreshold: 0.7}, nil)

	run := func(wantAll bool) *Outcome {
		first := &stubEngine{id: "first", available: true, res: plainResult(0.5)}
		second := &stubEngine{id: "second", available: true, res: plainResult(0.9)}
		o := New([]engine.Engine{first, second}, eval)
		outcome, err := o.Process(context.Background(), testImg(), "kor", wantAll)
		if err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		return outcome
	}

	with := run(true)
	without := run(false)

	if with.Chosen.EngineID != without.Chosen.EngineID {
		t.Error("wantAll must never change which result is chosen")
	}
	if len(with.Tried) != 2 {
		t.Errorf("tried = %d, want 2 with wantAll", len(with.Tried))
	}
	if without.Tried != nil {
		t.Errorf("tried = %v, want nil without wantAll", without.Tried)
	}
	if with.EnginesTried != without.EnginesTried {
		t.Error("engines_tried must not depend on wantAll")
	}
}

func TestProcess_ConsensusDiagnostic(t *testing.T) {
	eval := NewEvaluator(EvaluatorConfig{SufficiencyThreshold: 0.99}, nil)
	first := &stubEngine{id: "first", available: true, res: plainResult(0.5)}
	second := &stubEngine{id: "second", available: true, res: plainResult(0.6)}

	o := New([]engine.Engine{first, second}, eval, WithStopEarly(false))
	outcome, err := o.Process(context.Background(), testImg(), "kor", true)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if outcome.Consensus == nil || !outcome.Consensus.HasConsensus {
		t.Errorf("identical texts should reach consensus, got %+v", outcome.Consensus)
	}
}
