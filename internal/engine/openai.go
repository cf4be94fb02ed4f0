package engine

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/docuflow/receiptscan/internal/logger"
)

// OpenAI is a cloud engine backed by OpenAI's vision-capable chat models.
type OpenAI struct {
	client      openai.Client
	logger      *logger.Logger
	model       string
	temperature float64
	available   bool
}

// NewOpenAI creates the OpenAI-backed engine.
func NewOpenAI(apiKey, model string, temperature float64, maxRetries int, log *logger.Logger) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required (set OPENAI_API_KEY environment variable)")
	}
	if log == nil {
		log = logger.Get()
	}
	if model == "" {
		model = "gpt-4o"
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if maxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(maxRetries))
	}

	return &OpenAI{
		client:      openai.NewClient(opts...),
		logger:      log.WithEngine(IDOpenAI),
		model:       model,
		temperature: temperature,
	}, nil
}

// Initialize verifies credentials by fetching the configured model.
func (o *OpenAI) Initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if _, err := o.client.Models.Get(ctx, o.model); err != nil {
		return fmt.Errorf("openai model check failed: %w", err)
	}

	o.available = true
	o.logger.WithFields("model", o.model).Debug("OpenAI engine initialized")
	return nil
}

// Available reports whether Initialize succeeded.
func (o *OpenAI) Available() bool {
	return o.available
}

// ID returns the engine identifier.
func (o *OpenAI) ID() string {
	return IDOpenAI
}

// Recognize transcribes the receipt with the vision chat API.
func (o *OpenAI) Recognize(ctx context.Context, img image.Image, lang string) (*Result, error) {
	if !o.available {
		return nil, ErrUnavailable
	}

	imageData, err := encodeImageBase64(img)
	if err != nil {
		return nil, err
	}

	startTime := time.Now()

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(promptFor(lang)),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: fmt.Sprintf("data:image/png;base64,%s", imageData),
				}),
			}),
		},
		Temperature: openai.Float(o.temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("openai API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from OpenAI")
	}

	content := resp.Choices[0].Message.Content
	result, err := parseVisionResponse(content)
	if err != nil {
		o.logger.WithFields("content", content).Debug("Failed to parse OpenAI transcription")
		return nil, err
	}

	duration := time.Since(startTime)
	o.logger.WithFields(
		"model", o.model,
		"confidence", result.Confidence,
		"duration", duration,
	).Debug("OpenAI recognition completed")

	result.Detail = map[string]interface{}{
		"model":       o.model,
		"duration_ms": duration.Milliseconds(),
	}
	return result, nil
}
