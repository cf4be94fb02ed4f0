package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/docuflow/receiptscan/internal/logger"
)

// Options holds per-engine construction settings. Fields apply only to
// the engines that use them.
type Options struct {
	// Languages are Tesseract language codes (tesseract only)
	Languages []string

	// Endpoint is the API endpoint (ollama only)
	Endpoint string

	// Model is the vision model name (ollama and cloud engines)
	Model string

	// APIKey is the credential for cloud engines (read from env vars)
	APIKey string

	// Temperature controls randomness (0.0 = deterministic, recommended for OCR)
	Temperature float64

	// MaxRetries is the maximum number of retry attempts
	MaxRetries int

	// Timeout is the per-call HTTP timeout (ollama only)
	Timeout time.Duration
}

// New creates an engine by identifier.
func New(ctx context.Context, id string, opts Options, log *logger.Logger) (Engine, error) {
	if log == nil {
		log = logger.Get()
	}

	switch id {
	case IDTesseract:
		return NewTesseract(opts.Languages, log), nil

	case IDOllama:
		ollamaOpts := []OllamaOption{
			WithOllamaLogger(log),
		}
		if opts.Endpoint != "" {
			ollamaOpts = append(ollamaOpts, WithEndpoint(opts.Endpoint))
		}
		if opts.Model != "" {
			ollamaOpts = append(ollamaOpts, WithModel(opts.Model))
		}
		if opts.MaxRetries > 0 {
			ollamaOpts = append(ollamaOpts, WithMaxRetries(opts.MaxRetries))
		}
		if opts.Timeout > 0 {
			ollamaOpts = append(ollamaOpts, WithTimeout(opts.Timeout))
		}
		return NewOllama(ollamaOpts...), nil

	case IDOpenAI:
		return NewOpenAI(opts.APIKey, opts.Model, opts.Temperature, opts.MaxRetries, log)

	case IDAnthropic:
		return NewAnthropic(opts.APIKey, opts.Model, opts.Temperature, opts.MaxRetries, log)

	case IDGemini:
		return NewGemini(ctx, opts.APIKey, opts.Model, opts.Temperature, log)

	default:
		return nil, fmt.Errorf("unsupported engine: %s (supported: tesseract, ollama, openai, anthropic, gemini)", id)
	}
}

// ValidateOptions checks that the options are complete for the given
// engine before any client is constructed.
func ValidateOptions(id string, opts Options) error {
	switch id {
	case IDTesseract:
		// Language data availability is checked at Initialize

	case IDOllama:
		if opts.Endpoint == "" {
			return fmt.Errorf("endpoint is required for the ollama engine")
		}

	case IDOpenAI, IDAnthropic, IDGemini:
		if opts.APIKey == "" {
			return fmt.Errorf("API key is required for the %s engine", id)
		}

	default:
		return fmt.Errorf("invalid engine: %s", id)
	}

	if opts.Temperature < 0.0 || opts.Temperature > 2.0 {
		return fmt.Errorf("temperature must be between 0.0 and 2.0, got %f", opts.Temperature)
	}
	if opts.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative, got %d", opts.MaxRetries)
	}

	return nil
}

// DefaultModelFor returns a recommended default model for the given
// engine, or empty for engines without a model concept.
func DefaultModelFor(id string) string {
	switch id {
	case IDOllama:
		return DefaultOllamaModel
	case IDOpenAI:
		return "gpt-4o"
	case IDAnthropic:
		return "claude-3-5-sonnet-20241022"
	case IDGemini:
		return "gemini-1.5-flash"
	default:
		return ""
	}
}
