package engine

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/docuflow/receiptscan/internal/logger"
)

// Anthropic is a cloud engine backed by Claude's vision API.
type Anthropic struct {
	client      anthropic.Client
	logger      *logger.Logger
	model       string
	temperature float64
	available   bool
}

// NewAnthropic creates the Claude-backed engine.
func NewAnthropic(apiKey, model string, temperature float64, maxRetries int, log *logger.Logger) (*Anthropic, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required (set ANTHROPIC_API_KEY environment variable)")
	}
	if log == nil {
		log = logger.Get()
	}
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if maxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(maxRetries))
	}

	return &Anthropic{
		client:      anthropic.NewClient(opts...),
		logger:      log.WithEngine(IDAnthropic),
		model:       model,
		temperature: temperature,
	}, nil
}

// Initialize verifies credentials with a minimal API call.
func (a *Anthropic) Initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 10,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("test")),
		},
	})
	if err != nil {
		return fmt.Errorf("anthropic credential check failed: %w", err)
	}

	a.available = true
	a.logger.WithFields("model", a.model).Debug("Anthropic engine initialized")
	return nil
}

// Available reports whether Initialize succeeded.
func (a *Anthropic) Available() bool {
	return a.available
}

// ID returns the engine identifier.
func (a *Anthropic) ID() string {
	return IDAnthropic
}

// Recognize transcribes the receipt with the Claude messages API.
func (a *Anthropic) Recognize(ctx context.Context, img image.Image, lang string) (*Result, error) {
	if !a.available {
		return nil, ErrUnavailable
	}

	imageData, err := encodeImageBase64(img)
	if err != nil {
		return nil, err
	}

	startTime := time.Now()

	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewTextBlock(promptFor(lang)),
				anthropic.NewImageBlockBase64("image/png", imageData),
			),
		},
		Temperature: anthropic.Float(a.temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API error: %w", err)
	}
	if len(resp.Content) == 0 {
		return nil, fmt.Errorf("no response from Anthropic")
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content = block.Text
			break
		}
	}
	if content == "" {
		return nil, fmt.Errorf("no text content in Anthropic response")
	}

	result, err := parseVisionResponse(content)
	if err != nil {
		a.logger.WithFields("content", content).Debug("Failed to parse Anthropic transcription")
		return nil, err
	}

	duration := time.Since(startTime)
	a.logger.WithFields(
		"model", a.model,
		"confidence", result.Confidence,
		"duration", duration,
	).Debug("Anthropic recognition completed")

	result.Detail = map[string]interface{}{
		"model":       a.model,
		"duration_ms": duration.Milliseconds(),
	}
	return result, nil
}
