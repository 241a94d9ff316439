package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Ankitmohanty2/Kagaz/internal/logger"
	"github.com/Ankitmohanty2/Kagaz/internal/models"
	"github.com/Ankitmohanty2/Kagaz/internal/pkg/httpx"
)

type OpenAIConfig struct {
	Endpoint          string
	APIKey            string
	Model             string
	Dimensions        int
	BatchSize         int
	RequestsPerSecond float64
	Timeout           time.Duration
	MaxRetries        int
}

// OpenAIEmbedder talks to any OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	cfg        OpenAIConfig
	url        string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logger.Logger
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type providerHTTPError struct {
	StatusCode int
	Body       string
}

func (e *providerHTTPError) Error() string {
	return fmt.Sprintf("embedding provider returned status %d: %s", e.StatusCode, e.Body)
}

func (e *providerHTTPError) HTTPStatusCode() int { return e.StatusCode }

func NewOpenAIEmbedder(log *logger.Logger, cfg OpenAIConfig) *OpenAIEmbedder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	url := strings.TrimRight(cfg.Endpoint, "/")
	if !strings.HasSuffix(url, "/embeddings") {
		url += "/embeddings"
	}
	return &OpenAIEmbedder{
		cfg:        cfg,
		url:        url,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
		log:        log.With("component", "OpenAIEmbedder", "model", cfg.Model),
	}
}

func (o *OpenAIEmbedder) Dimensions() int { return o.cfg.Dimensions }

func (o *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (o *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += o.cfg.BatchSize {
		end := start + o.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := o.embedWithRetry(ctx, texts[start:end])
		if err != nil {
			return nil, &models.EmbeddingError{Err: err}
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (o *OpenAIEmbedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	backoff := 500 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt <= o.cfg.MaxRetries; attempt++ {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		vecs, resp, err := o.doOnce(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if !httpx.IsRetryableError(err) || ctx.Err() != nil || attempt == o.cfg.MaxRetries {
			break
		}
		wait := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 10*time.Second))
		o.log.Warn("embedding request failed, retrying", "attempt", attempt+1, "wait", wait, "error", err)
		if err := httpx.Sleep(ctx, wait); err != nil {
			return nil, err
		}
		backoff *= 2
	}
	return nil, lastErr
}

func (o *OpenAIEmbedder) doOnce(ctx context.Context, texts []string) ([][]float32, *http.Response, error) {
	data, err := json.Marshal(embeddingRequest{Model: o.cfg.Model, Input: texts, Dimensions: o.cfg.Dimensions})
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(data))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if o.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, resp, &providerHTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, resp, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, resp, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(parsed.Data))
	}

	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, resp, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		if o.cfg.Dimensions > 0 && len(d.Embedding) != o.cfg.Dimensions {
			return nil, resp, fmt.Errorf("expected %d dimensions, got %d", o.cfg.Dimensions, len(d.Embedding))
		}
		out[d.Index] = Normalize(d.Embedding)
	}
	for i, v := range out {
		if v == nil {
			return nil, resp, fmt.Errorf("missing embedding for input %d", i)
		}
	}
	return out, resp, nil
}
