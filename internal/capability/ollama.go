package capability

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

const (
	embedTimeout = 30 * time.Second
	// Generation has no client-side timeout; the caller's context bounds it.
	maxResponseBody = 10 << 20 // 10 MB
)

// Circuit breaker configuration.
const (
	cbFailureThreshold = 5
	cbCooldown         = 30 * time.Second
)

// Circuit breaker states.
const (
	cbClosed   = iota // Normal operation.
	cbOpen            // Fail fast.
	cbHalfOpen        // Probe with one request.
)

// ErrCircuitOpen is returned when the breaker is rejecting requests without
// calling the model server.
var ErrCircuitOpen = errors.New("ollama circuit breaker is open")

// breaker is a minimal circuit breaker shared by the embedder and the LLM
// provider so a downed model server fails fast instead of tying up workers.
type breaker struct {
	mu            sync.Mutex
	state         int
	failures      int
	lastFailureAt time.Time
}

func (b *breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case cbClosed:
		return nil
	case cbOpen:
		if time.Since(b.lastFailureAt) >= cbCooldown {
			b.state = cbHalfOpen

			return nil
		}

		return ErrCircuitOpen
	case cbHalfOpen:
		// Already probing, reject additional requests.
		return ErrCircuitOpen
	}

	return nil
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.state = cbClosed
}

func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailureAt = time.Now()

	if b.failures >= cbFailureThreshold || b.state == cbHalfOpen {
		b.state = cbOpen
	}
}

// OllamaEmbedder generates vector embeddings via the Ollama /api/embed endpoint.
type OllamaEmbedder struct {
	baseURL string
	model   string
	client  *http.Client
	cb      breaker
}

// NewOllamaEmbedder creates an embedder for the given Ollama endpoint and model.
func NewOllamaEmbedder(baseURL, model string) *OllamaEmbedder {
	return &OllamaEmbedder{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: embedTimeout},
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed implements Embedder, producing one vector per input text in order.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	if err := e.cb.allow(); err != nil {
		return nil, err
	}

	vectors, err := e.doEmbed(ctx, texts)
	if err != nil {
		e.cb.recordFailure()

		return nil, err
	}

	e.cb.recordSuccess()

	return vectors, nil
}

func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshaling embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating embed request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling ollama embed API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain body so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20)) //nolint:errcheck // best-effort drain before close.

		return nil, fmt.Errorf("ollama embed API returned status %d", resp.StatusCode)
	}

	var result embedResponse

	limited := io.LimitReader(resp.Body, maxResponseBody)
	if err := json.NewDecoder(limited).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding embed response: %w", err)
	}

	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(result.Embeddings), len(texts))
	}

	return result.Embeddings, nil
}

// OllamaLLM streams generated tokens via the Ollama /api/generate endpoint.
type OllamaLLM struct {
	baseURL string
	model   string
	client  *http.Client
	cb      breaker
}

// NewOllamaLLM creates an LLM provider for the given Ollama endpoint and model.
func NewOllamaLLM(baseURL, model string) *OllamaLLM {
	return &OllamaLLM{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{}, // no timeout: generation is bounded by ctx
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// GenerateStream implements LlmProvider. Tokens are forwarded in generation
// order; cancellation is cooperative via ctx or an error from onToken.
func (l *OllamaLLM) GenerateStream(ctx context.Context, prompt string, onToken func(token string) error) error {
	if err := l.cb.allow(); err != nil {
		return err
	}

	err := l.doGenerate(ctx, prompt, onToken)
	if err != nil && ctx.Err() == nil {
		l.cb.recordFailure()

		return err
	}

	l.cb.recordSuccess()

	return err
}

func (l *OllamaLLM) doGenerate(ctx context.Context, prompt string, onToken func(token string) error) error {
	body, err := json.Marshal(generateRequest{Model: l.model, Prompt: prompt, Stream: true})
	if err != nil {
		return fmt.Errorf("marshaling generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating generate request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling ollama generate API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20)) //nolint:errcheck // best-effort drain before close.

		return fmt.Errorf("ollama generate API returned status %d", resp.StatusCode)
	}

	// The response is newline-delimited JSON, one object per token.
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var chunk generateChunk
		if err := json.Unmarshal(scanner.Bytes(), &chunk); err != nil {
			return fmt.Errorf("decoding generate chunk: %w", err)
		}

		if chunk.Response != "" {
			if err := onToken(chunk.Response); err != nil {
				return err
			}
		}

		if chunk.Done {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading generate stream: %w", err)
	}

	return nil
}
