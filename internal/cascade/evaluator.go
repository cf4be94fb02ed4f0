// Package cascade runs the multi-engine recognition cascade: engines
// are tried in configured order, each result is scored by the
// confidence evaluator, and the first sufficient (or overall best)
// result wins.
package cascade

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/docuflow/receiptscan/internal/engine"
	"github.com/docuflow/receiptscan/internal/logger"
)

// EvaluatorConfig tunes result scoring. It is fixed at construction;
// concurrent requests share it read-only.
type EvaluatorConfig struct {
	// SufficiencyThreshold is the adjusted score above which no further
	// engines are tried
	SufficiencyThreshold float64 `mapstructure:"sufficiency_threshold"`

	// MinTextLength is the character count under which the score is halved
	MinTextLength int `mapstructure:"min_text_length"`

	// TrustWeights maps engine ids to a-priori reliability multipliers
	TrustWeights map[string]float64 `mapstructure:"trust_weights"`

	// ScriptBonus is added when the text carries a run of Korean script
	ScriptBonus float64 `mapstructure:"script_bonus"`

	// NumberBonus is added when the text has three or more numeric tokens
	NumberBonus float64 `mapstructure:"number_bonus"`

	// AmountBonus is added when an amount-shaped token is present
	AmountBonus float64 `mapstructure:"amount_bonus"`

	// DateBonus is added when a date-shaped token is present
	DateBonus float64 `mapstructure:"date_bonus"`
}

// DefaultEvaluatorConfig returns the scoring defaults. Local engines
// are trusted less than cloud vision models.
func DefaultEvaluatorConfig() EvaluatorConfig {
	return EvaluatorConfig{
		SufficiencyThreshold: 0.6,
		MinTextLength:        10,
		TrustWeights: map[string]float64{
			engine.IDTesseract: 1.0,
			engine.IDOllama:    1.1,
			engine.IDOpenAI:    1.2,
			engine.IDAnthropic: 1.2,
			engine.IDGemini:    1.2,
		},
		ScriptBonus: 0.1,
		NumberBonus: 0.05,
		AmountBonus: 0.05,
		DateBonus:   0.05,
	}
}

// Evaluator scores engine results. Safe for concurrent use.
type Evaluator struct {
	cfg EvaluatorConfig
	log *logger.Logger
}

// NewEvaluator creates an evaluator with the given config. Zero-valued
// fields fall back to defaults so partial configs behave sensibly.
func NewEvaluator(cfg EvaluatorConfig, log *logger.Logger) *Evaluator {
	defaults := DefaultEvaluatorConfig()
	if cfg.SufficiencyThreshold <= 0 {
		cfg.SufficiencyThreshold = defaults.SufficiencyThreshold
	}
	if cfg.MinTextLength <= 0 {
		cfg.MinTextLength = defaults.MinTextLength
	}
	if cfg.TrustWeights == nil {
		cfg.TrustWeights = defaults.TrustWeights
	}
	if log == nil {
		log = logger.Get()
	}

	return &Evaluator{cfg: cfg, log: log}
}

// Threshold returns the configured sufficiency threshold.
func (e *Evaluator) Threshold() float64 {
	return e.cfg.SufficiencyThreshold
}

var (
	hangulRunPattern   = regexp.MustCompile(`[가-힣]+`)
	numberTokenPattern = regexp.MustCompile(`\d+`)
	amountTokenPattern = regexp.MustCompile(`[\d,]+\s*원`)
	dateTokenPattern   = regexp.MustCompile(`\d{4}[/-]\d{1,2}[/-]\d{1,2}`)
)

// Score computes the adjusted score for one engine result: reported
// confidence times the engine's trust weight, halved for very short
// text, plus capped receipt-signal bonuses, clamped to [0, 1].
func (e *Evaluator) Score(res *engine.Result, engineID string) float64 {
	if res == nil {
		return 0
	}

	weight, ok := e.cfg.TrustWeights[engineID]
	if !ok {
		weight = 1.0
	}
	adjusted := res.Confidence * weight

	if utf8.RuneCountInString(strings.TrimSpace(res.Text)) < e.cfg.MinTextLength {
		adjusted *= 0.5
		e.log.WithEngine(engineID).WithFields("text_length", len(res.Text)).
			Debug("Short text penalty applied")
	}

	adjusted += e.patternBonus(res.Text)

	if adjusted > 1 {
		adjusted = 1
	}
	if adjusted < 0 {
		adjusted = 0
	}
	return adjusted
}

// ShouldEscalate reports whether the cascade should try the next
// engine after this result.
func (e *Evaluator) ShouldEscalate(res *engine.Result, engineID string) bool {
	return e.Score(res, engineID) < e.cfg.SufficiencyThreshold
}

// patternBonus rewards receipt-like signal in the text. Each bonus is
// independently capped by its configured value.
func (e *Evaluator) patternBonus(text string) float64 {
	bonus := 0.0

	runs := hangulRunPattern.FindAllString(text, -1)
	if len(runs) > 0 && utf8.RuneCountInString(strings.Join(runs, "")) > 5 {
		bonus += e.cfg.ScriptBonus
	}
	if len(numberTokenPattern.FindAllString(text, -1)) >= 3 {
		bonus += e.cfg.NumberBonus
	}
	if amountTokenPattern.MatchString(text) {
		bonus += e.cfg.AmountBonus
	}
	if dateTokenPattern.MatchString(text) {
		bonus += e.cfg.DateBonus
	}

	return bonus
}

// Consensus is a weak cross-engine agreement signal computed from
// extracted-text lengths. Diagnostic only; it never gates selection.
type Consensus struct {
	HasConsensus  bool    `json:"has_consensus"`
	AvgTextLength int     `json:"avg_text_length"`
	Variance      float64 `json:"variance"`
}

// Rank sorts results best-first by adjusted score and computes the
// consensus signal. The input slice is not modified.
func (e *Evaluator) Rank(results []EngineResult) ([]EngineResult, *Consensus) {
	ranked := make([]EngineResult, len(results))
	copy(ranked, results)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].AdjustedScore > ranked[j].AdjustedScore
	})

	return ranked, e.checkConsensus(results)
}

// checkConsensus flags agreement when the variance of text lengths is
// within 10% of their mean.
func (e *Evaluator) checkConsensus(results []EngineResult) *Consensus {
	if len(results) < 2 {
		return nil
	}

	mean := 0.0
	for _, r := range results {
		mean += float64(len(r.Text))
	}
	mean /= float64(len(results))

	variance := 0.0
	for _, r := range results {
		d := float64(len(r.Text)) - mean
		variance += d * d
	}
	variance /= float64(len(results))

	return &Consensus{
		HasConsensus:  variance < mean*0.1,
		AvgTextLength: int(mean),
		Variance:      variance,
	}
}
