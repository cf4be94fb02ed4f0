// Package engine provides the recognition engine adapters used by the
// OCR cascade. Every backend, local or cloud, is wrapped behind the
// same Engine contract so the orchestrator can try them in order
// without knowing what sits behind each one.
package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"
)

// Engine identifiers, used in configuration and in cascade results.
const (
	IDTesseract = "tesseract"
	IDOllama    = "ollama"
	IDOpenAI    = "openai"
	IDAnthropic = "anthropic"
	IDGemini    = "gemini"
)

// ErrUnavailable is returned by Recognize when the engine's backend is
// not reachable or the engine was never successfully initialized.
var ErrUnavailable = errors.New("engine unavailable")

// Result is the outcome of a single recognition call. Confidence is the
// engine's own estimate in [0, 1]; the cascade evaluator adjusts it
// before comparing engines.
type Result struct {
	// Text is the recognized text with receipt lines separated by newlines
	Text string

	// Confidence is the engine-reported confidence score (0.0-1.0)
	Confidence float64

	// Detail carries engine-specific diagnostics (word counts, models, timings)
	Detail map[string]interface{}
}

// Engine is the adapter contract every recognition backend implements.
// Implementations fail closed: on any backend failure Recognize returns
// an error and never fabricated text.
type Engine interface {
	// Initialize prepares the backend and reports whether it is usable
	Initialize() error

	// Recognize performs OCR on the image in the given language
	Recognize(ctx context.Context, img image.Image, lang string) (*Result, error)

	// Available reports whether Initialize succeeded
	Available() bool

	// ID returns the engine identifier (e.g. "tesseract", "ollama")
	ID() string
}

// receiptPrompt is the prompt template for vision-model engines.
const receiptPrompt = `Extract all printed text from this receipt image.
Return ONLY valid JSON with no markdown formatting, no code blocks, no explanation.

Format:
{"text": "STORE NAME\n2024-01-15 13:45\nitem lines...", "confidence": 0.95}

Rules:
- Keep each receipt line on its own line inside "text"
- Include every printed character, even if partially legible
- Do not translate, summarize, or invent text
- confidence is 0.0-1.0 for the whole transcription, use 0.8 if uncertain
- Return {"text": "", "confidence": 0.0} if no text is found`

// encodeImagePNGBytes PNG-encodes an image for backends that take raw
// bytes.
func encodeImagePNGBytes(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// encodeImageBase64 PNG-encodes an image and returns it as a base64
// string, the wire format all vision backends accept.
func encodeImageBase64(img image.Image) (string, error) {
	data, err := encodeImagePNGBytes(img)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// promptFor appends a language hint to the receipt prompt so vision
// models keep the source script instead of romanizing it.
func promptFor(lang string) string {
	hint := languageName(lang)
	if hint == "" {
		return receiptPrompt
	}
	return receiptPrompt + "\n- The receipt text is primarily in " + hint
}

func languageName(lang string) string {
	var names []string
	for _, code := range strings.Split(lang, "+") {
		switch code {
		case "kor":
			names = append(names, "Korean")
		case "eng":
			names = append(names, "English")
		case "jpn":
			names = append(names, "Japanese")
		case "chi_sim", "chi_tra":
			names = append(names, "Chinese")
		}
	}
	return strings.Join(names, " and ")
}

// parseVisionResponse decodes the JSON transcription produced by a
// vision model. Models occasionally wrap the payload in a markdown code
// block despite the prompt, so fences are stripped before parsing.
func parseVisionResponse(content string) (*Result, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
		content = strings.TrimSpace(content)
	}

	var payload struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse transcription response: %w", err)
	}

	if payload.Confidence < 0 {
		payload.Confidence = 0
	} else if payload.Confidence > 1 {
		payload.Confidence = 1
	}

	return &Result{
		Text:       payload.Text,
		Confidence: payload.Confidence,
	}, nil
}
