package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Ankitmohanty2/Kagaz/internal/models"
	"github.com/Ankitmohanty2/Kagaz/internal/sse"
)

// OpenAIClient speaks the OpenAI chat-completions protocol, which Gemini,
// OpenAI and most local servers accept.
type OpenAIClient struct {
	Endpoint    string
	APIKey      string
	Temperature *float64
	HTTPClient  *http.Client
}

type OpenAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type OpenAIResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// HTTPError is a non-2xx answer from the provider.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("LLM server returned status %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPError) HTTPStatusCode() int { return e.StatusCode }

func NewOpenAIClient(endpoint string, apiKey string) *OpenAIClient {
	endpoint = strings.TrimRight(endpoint, "/")
	if !strings.HasSuffix(endpoint, "/chat/completions") {
		endpoint += "/chat/completions"
	}
	return &OpenAIClient{
		Endpoint: endpoint,
		APIKey:   apiKey,
		// No client timeout: streams are bounded by the caller's context.
		HTTPClient: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   20,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 60 * time.Second,
			},
		},
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, model string, messages []Message) (string, error) {
	resp, err := c.post(ctx, OpenAIRequest{Model: model, Messages: messages, Temperature: c.Temperature})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var llmResp OpenAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&llmResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if len(llmResp.Choices) == 0 {
		return "", fmt.Errorf("no response from LLM server")
	}
	choice := llmResp.Choices[0]
	if isBlocked(choice.FinishReason) {
		return "", &models.ContentError{Model: model, Reason: choice.FinishReason}
	}
	return choice.Message.Content, nil
}

func (c *OpenAIClient) Stream(ctx context.Context, model string, messages []Message) (FragmentStream, error) {
	resp, err := c.post(ctx, OpenAIRequest{Model: model, Messages: messages, Temperature: c.Temperature, Stream: true})
	if err != nil {
		return nil, err
	}
	return &openAIStream{model: model, body: resp.Body, events: sse.NewReader(resp.Body)}, nil
}

func (c *OpenAIClient) post(ctx context.Context, reqBody OpenAIRequest) (*http.Response, error) {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if reqBody.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.APIKey))
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return resp, nil
}

type openAIStream struct {
	model  string
	body   io.ReadCloser
	events *sse.Reader
	done   bool
}

func (s *openAIStream) Recv() (string, error) {
	for {
		if s.done {
			return "", io.EOF
		}
		ev, err := s.events.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				// The provider closed the body without the [DONE] sentinel.
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}
		if ev.Data == sse.DoneSentinel {
			s.done = true
			return "", io.EOF
		}

		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			return "", fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Error != nil {
			return "", errors.New(chunk.Error.Message)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if isBlocked(choice.FinishReason) {
			return "", &models.ContentError{Model: s.model, Reason: choice.FinishReason}
		}
		if choice.Delta.Content != "" {
			return choice.Delta.Content, nil
		}
	}
}

func (s *openAIStream) Close() error {
	s.done = true
	return s.body.Close()
}

func isBlocked(finishReason string) bool {
	switch strings.ToLower(finishReason) {
	case "content_filter", "safety", "recitation", "prohibited_content", "blocklist":
		return true
	}
	return false
}
