package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/docuflow/receiptscan/internal/cascade"
	"github.com/docuflow/receiptscan/internal/config"
	"github.com/docuflow/receiptscan/internal/engine"
	"github.com/docuflow/receiptscan/internal/extract"
	"github.com/docuflow/receiptscan/internal/hangul"
	"github.com/docuflow/receiptscan/internal/imagehash"
	"github.com/docuflow/receiptscan/internal/logger"
	"github.com/docuflow/receiptscan/internal/patterns"
	"github.com/docuflow/receiptscan/internal/preprocess"
	"github.com/docuflow/receiptscan/internal/store"
)

// pipeline wires the full scan path: preprocessing, the engine cascade,
// text repair, field extraction and the result store.
type pipeline struct {
	cfg        *config.Config
	log        *logger.Logger
	orch       *cascade.Orchestrator
	store      *store.BoltStore
	extractor  *extract.Extractor
	normalizer *hangul.Normalizer
	engines    []engine.Engine
}

// scanOutput is one scan rendered for the CLI.
type scanOutput struct {
	*store.ScanResult
	Cached bool                   `json:"cached"`
	Tried  []cascade.EngineResult `json:"tried,omitempty"`
}

// newPipeline assembles the scan pipeline from configuration. The
// returned pipeline must be closed.
func newPipeline(ctx context.Context, cfg *config.Config, log *logger.Logger) (*pipeline, error) {
	pre, err := preprocess.New(cfg.Preprocess, log)
	if err != nil {
		return nil, fmt.Errorf("failed to build preprocessor: %w", err)
	}

	engines := make([]engine.Engine, 0, len(cfg.Engines))
	for _, id := range cfg.Engines {
		eng, err := engine.New(ctx, id, engine.Options{
			Languages:   strings.Split(cfg.Language, "+"),
			Endpoint:    cfg.Engine.Endpoint,
			Model:       cfg.Engine.Model,
			APIKey:      cfg.Engine.APIKey,
			Temperature: cfg.Engine.Temperature,
			MaxRetries:  cfg.Engine.MaxRetries,
			Timeout:     cfg.Engine.Timeout,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create engine %s: %w", id, err)
		}
		if err := eng.Initialize(); err != nil {
			// An unreachable engine stays in the cascade; the
			// orchestrator records it as unavailable per request.
			log.WithEngine(id).WithError(err).Warn("Engine initialization failed")
		}
		engines = append(engines, eng)
	}

	eval := cascade.NewEvaluator(cfg.Evaluator, log)
	orch := cascade.New(engines, eval,
		cascade.WithPreprocessor(pre),
		cascade.WithStopEarly(cfg.StopEarly),
		cascade.WithTimeout(cfg.RequestTimeout),
		cascade.WithLogger(log),
	)

	lib, err := patterns.Default()
	if err != nil {
		return nil, fmt.Errorf("failed to load pattern library: %w", err)
	}

	db, err := store.NewBoltStore(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open result store: %w", err)
	}

	return &pipeline{
		cfg:        cfg,
		log:        log,
		orch:       orch,
		store:      db,
		extractor:  extract.New(lib, extract.WithLogger(log)),
		normalizer: hangul.New(),
		engines:    engines,
	}, nil
}

// Close releases the pipeline's resources.
func (p *pipeline) Close() error {
	return p.store.Close()
}

// scanBytes runs one image through cache lookup, the cascade, text
// repair and extraction, persisting the outcome.
func (p *pipeline) scanBytes(ctx context.Context, name string, data []byte, wantAll bool) (*scanOutput, error) {
	cacheKey := imagehash.CacheKey(data, p.cfg.Language, p.cacheParams())

	if p.cfg.CacheEnabled {
		if cached, err := p.store.GetByCacheKey(cacheKey); err == nil {
			p.log.WithRequestID(name).WithFields("cache_key", cacheKey).Info("Result served from store")
			return &scanOutput{ScanResult: cached, Cached: true}, nil
		}
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", name, err)
	}

	outcome, err := p.orch.Process(ctx, img, p.cfg.Language, wantAll)
	if err != nil {
		return nil, err
	}

	text := outcome.Chosen.Text
	if strings.Contains(p.cfg.Language, "kor") {
		text = p.normalizer.Normalize(text)
	}

	record := p.extractor.Extract(text)

	result := &store.ScanResult{
		CacheKey:       cacheKey,
		Language:       p.cfg.Language,
		EngineID:       outcome.Chosen.EngineID,
		Confidence:     outcome.Chosen.Confidence,
		AdjustedScore:  outcome.Chosen.AdjustedScore,
		EnginesTried:   outcome.EnginesTried,
		ProcessingTime: outcome.ProcessingTime,
		ContentHash:    imagehash.ContentHash(data),
		PerceptualHash: imagehash.PerceptualHash(img).String(),
		Record:         record,
	}

	if err := p.store.SaveResult(result); err != nil {
		// A scan that worked is worth returning even when the store is
		// having a bad day.
		p.log.WithRequestID(name).WithError(err).Warn("Failed to persist scan result")
	}

	return &scanOutput{ScanResult: result, Tried: outcome.Tried}, nil
}

// cacheParams folds the settings that change recognition output into
// the cache key, so a config change is a cache miss.
func (p *pipeline) cacheParams() string {
	pre := p.cfg.Preprocess
	return fmt.Sprintf("engines=%s;crop=%t;rotate=%t;denoise=%s;binarize=%s",
		strings.Join(p.cfg.Engines, ","),
		pre.AutoCrop, pre.AutoRotate, pre.DenoiseMethod, pre.BinarizationMethod)
}
