package engine

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/docuflow/receiptscan/internal/logger"
)

// Gemini is a cloud engine backed by Google's Gemini vision API.
type Gemini struct {
	client      *genai.Client
	logger      *logger.Logger
	model       string
	temperature float64
	available   bool
}

// NewGemini creates the Gemini-backed engine.
func NewGemini(ctx context.Context, apiKey, model string, temperature float64, log *logger.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google API key is required (set GOOGLE_API_KEY environment variable)")
	}
	if log == nil {
		log = logger.Get()
	}
	if model == "" {
		model = "gemini-1.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Gemini{
		client:      client,
		logger:      log.WithEngine(IDGemini),
		model:       model,
		temperature: temperature,
	}, nil
}

// Initialize verifies credentials with a minimal generation call.
func (g *Gemini) Initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	genModel := g.client.GenerativeModel(g.model)
	if _, err := genModel.GenerateContent(ctx, genai.Text("test")); err != nil {
		return fmt.Errorf("gemini credential check failed: %w", err)
	}

	g.available = true
	g.logger.WithFields("model", g.model).Debug("Gemini engine initialized")
	return nil
}

// Available reports whether Initialize succeeded.
func (g *Gemini) Available() bool {
	return g.available
}

// ID returns the engine identifier.
func (g *Gemini) ID() string {
	return IDGemini
}

// Close releases the underlying client.
func (g *Gemini) Close() error {
	return g.client.Close()
}

// Recognize transcribes the receipt with the Gemini vision API.
func (g *Gemini) Recognize(ctx context.Context, img image.Image, lang string) (*Result, error) {
	if !g.available {
		return nil, ErrUnavailable
	}

	imgBytes, err := encodeImagePNGBytes(img)
	if err != nil {
		return nil, err
	}

	startTime := time.Now()

	genModel := g.client.GenerativeModel(g.model)
	genModel.SetTemperature(float32(g.temperature))
	genModel.ResponseMIMEType = "application/json"

	resp, err := genModel.GenerateContent(
		ctx,
		genai.Text(promptFor(lang)),
		genai.ImageData("png", imgBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("gemini API error: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no response from Gemini")
	}

	var content string
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			content = string(txt)
			break
		}
	}
	if content == "" {
		return nil, fmt.Errorf("no text content in Gemini response")
	}

	result, err := parseVisionResponse(content)
	if err != nil {
		g.logger.WithFields("content", content).Debug("Failed to parse Gemini transcription")
		return nil, err
	}

	duration := time.Since(startTime)
	g.logger.WithFields(
		"model", g.model,
		"confidence", result.Confidence,
		"duration", duration,
	).Debug("Gemini recognition completed")

	result.Detail = map[string]interface{}{
		"model":       g.model,
		"duration_ms": duration.Milliseconds(),
	}
	return result, nil
}
