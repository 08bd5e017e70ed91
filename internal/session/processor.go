package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrProcessor marks failures of the step between sanitize and restore.
var ErrProcessor = errors.New("processor failure")

// maxProcessorResponse bounds the upstream body read into memory.
const maxProcessorResponse = 10 << 20

// Processor transforms masked text. Implementations must leave masked tokens
// intact for restoration to find them.
type Processor interface {
	Process(ctx context.Context, text string) (string, error)
}

// IdentityProcessor returns its input unchanged.
type IdentityProcessor struct{}

// Process implements Processor.
func (IdentityProcessor) Process(_ context.Context, text string) (string, error) {
	return text, nil
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, text string) (string, error)

// Process implements Processor.
func (f ProcessorFunc) Process(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

type textPayload struct {
	Text string `json:"text"`
}

// HTTPProcessor posts {"text": ...} to an upstream service and reads
// {"text": ...} back.
type HTTPProcessor struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

// NewHTTPProcessor creates a processor calling url with the given per-call
// timeout.
func NewHTTPProcessor(url string, timeout time.Duration) *HTTPProcessor {
	return &HTTPProcessor{
		url:     url,
		client:  &http.Client{},
		timeout: timeout,
	}
}

// Process implements Processor.
func (p *HTTPProcessor) Process(ctx context.Context, text string) (string, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	reqBody, err := json.Marshal(textPayload{Text: text})
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %w", ErrProcessor, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("%w: create request: %w", ErrProcessor, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrProcessor, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProcessorResponse))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %w", ErrProcessor, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: upstream returned status %d", ErrProcessor, resp.StatusCode)
	}

	var out textPayload
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%w: parse response: %w", ErrProcessor, err)
	}
	return out.Text, nil
}
