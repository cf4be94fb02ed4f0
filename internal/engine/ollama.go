package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"

	"github.com/docuflow/receiptscan/internal/logger"
)

const (
	// DefaultOllamaEndpoint is the default Ollama API endpoint
	DefaultOllamaEndpoint = "http://localhost:11434"

	// DefaultOllamaModel is the default vision model
	DefaultOllamaModel = "llava"

	// DefaultOllamaTimeout is the default HTTP client timeout
	DefaultOllamaTimeout = 5 * time.Minute

	// DefaultMaxRetries is the default number of retries
	DefaultMaxRetries = 3

	// DefaultRetryDelay is the initial delay between retries
	DefaultRetryDelay = 1 * time.Second
)

// Ollama is the accurate local engine: a vision model served by a local
// Ollama instance.
type Ollama struct {
	endpoint   string
	model      string
	httpClient *http.Client
	logger     *logger.Logger
	maxRetries int
	retryDelay time.Duration
	available  bool
}

// OllamaOption is a function that configures an Ollama engine
type OllamaOption func(*Ollama)

// WithEndpoint sets the Ollama API endpoint
func WithEndpoint(endpoint string) OllamaOption {
	return func(o *Ollama) {
		o.endpoint = endpoint
	}
}

// WithModel sets the vision model name
func WithModel(model string) OllamaOption {
	return func(o *Ollama) {
		o.model = model
	}
}

// WithTimeout sets the HTTP client timeout
func WithTimeout(timeout time.Duration) OllamaOption {
	return func(o *Ollama) {
		o.httpClient.Timeout = timeout
	}
}

// WithMaxRetries sets the maximum number of retries
func WithMaxRetries(maxRetries int) OllamaOption {
	return func(o *Ollama) {
		o.maxRetries = maxRetries
	}
}

// WithRetryDelay sets the initial retry delay
func WithRetryDelay(delay time.Duration) OllamaOption {
	return func(o *Ollama) {
		o.retryDelay = delay
	}
}

// WithOllamaLogger sets the logger
func WithOllamaLogger(log *logger.Logger) OllamaOption {
	return func(o *Ollama) {
		o.logger = log
	}
}

// NewOllama creates the Ollama-backed engine
func NewOllama(opts ...OllamaOption) *Ollama {
	engine := &Ollama{
		endpoint: DefaultOllamaEndpoint,
		model:    DefaultOllamaModel,
		httpClient: &http.Client{
			Timeout: DefaultOllamaTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger:     logger.Get(),
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
	}

	for _, opt := range opts {
		opt(engine)
	}

	engine.logger = engine.logger.WithEngine(IDOllama)
	return engine
}

// Initialize checks that the Ollama server answers and the configured
// model is present.
func (o *Ollama) Initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.endpoint+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama is not accessible: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama health check failed with status: %d", resp.StatusCode)
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("failed to decode model list: %w", err)
	}

	modelFound := false
	for _, m := range tags.Models {
		if m.Name == o.model || m.Name == o.model+":latest" {
			modelFound = true
			break
		}
	}
	if !modelFound {
		return fmt.Errorf("model %q is not available on the ollama server", o.model)
	}

	o.available = true
	o.logger.WithFields("endpoint", o.endpoint, "model", o.model).Debug("Ollama engine initialized")
	return nil
}

// Available reports whether Initialize succeeded.
func (o *Ollama) Available() bool {
	return o.available
}

// ID returns the engine identifier.
func (o *Ollama) ID() string {
	return IDOllama
}

// Recognize sends the image to the vision model and parses its JSON
// transcription.
func (o *Ollama) Recognize(ctx context.Context, img image.Image, lang string) (*Result, error) {
	if !o.available {
		return nil, ErrUnavailable
	}

	imageData, err := encodeImageBase64(img)
	if err != nil {
		return nil, err
	}

	startTime := time.Now()

	req := &ollamaGenerateRequest{
		Model:  o.model,
		Prompt: promptFor(lang),
		Images: []string{imageData},
		Stream: false,
		Format: "json",
	}

	var resp ollamaGenerateResponse
	if err := o.doRequest(ctx, http.MethodPost, "/api/generate", req, &resp); err != nil {
		return nil, err
	}

	result, err := parseVisionResponse(resp.Response)
	if err != nil {
		o.logger.WithFields("response", resp.Response).Debug("Failed to parse Ollama transcription")
		return nil, err
	}

	duration := time.Since(startTime)
	o.logger.WithFields(
		"model", o.model,
		"confidence", result.Confidence,
		"duration", duration,
	).Debug("Ollama recognition completed")

	result.Detail = map[string]interface{}{
		"model":       o.model,
		"duration_ms": duration.Milliseconds(),
	}
	return result, nil
}

// doRequest performs an HTTP request with retry and exponential backoff.
// Server errors retry; client errors return immediately.
func (o *Ollama) doRequest(ctx context.Context, method, path string, body, response interface{}) error {
	var lastErr error

	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if attempt > 0 {
			delay := o.retryDelay * time.Duration(1<<uint(attempt-1))
			o.logger.Debugf("Retrying request (attempt %d/%d) after %v", attempt, o.maxRetries, delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		var reqBody io.Reader
		if body != nil {
			jsonData, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("failed to marshal request body: %w", err)
			}
			reqBody = bytes.NewReader(jsonData)
		}

		req, err := http.NewRequestWithContext(ctx, method, o.endpoint+path, reqBody)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := o.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("failed to execute request: %w", err)
			o.logger.Debugf("Request failed: %v", lastErr)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response body: %w", err)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			var errResp struct {
				Error string `json:"error"`
			}
			var errMsg string
			if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != "" {
				errMsg = fmt.Sprintf("ollama API error (status %d): %s", resp.StatusCode, errResp.Error)
			} else {
				errMsg = fmt.Sprintf("ollama API error (status %d): %s", resp.StatusCode, string(respBody))
			}

			if resp.StatusCode >= 500 {
				lastErr = errors.New(errMsg)
				o.logger.Debugf("Server error: %v", lastErr)
				continue
			}
			return errors.New(errMsg)
		}

		if response != nil {
			if err := json.Unmarshal(respBody, response); err != nil {
				return fmt.Errorf("failed to unmarshal response: %w", err)
			}
		}
		return nil
	}

	return fmt.Errorf("request failed after %d attempts: %w", o.maxRetries+1, lastErr)
}

type ollamaGenerateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images,omitempty"`
	Stream bool     `json:"stream"`
	Format string   `json:"format,omitempty"`
}

type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}
