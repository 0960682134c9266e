// Package gateway streams chat completions from an OpenAI-compatible LLM
// gateway.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const maxErrorBody = 4 << 10

type Client struct {
	apiKey string
	model  string
	url    string
	client *http.Client
}

// NewClient returns a client for the chat-completions endpoint at url.
// Streams can run for minutes, so only the wait for response headers is
// bounded; callers cancel the stream through ctx.
func NewClient(apiKey, model, url string) *Client {
	return &Client{
		apiKey: apiKey,
		model:  model,
		url:    url,
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 60 * time.Second,
				IdleConnTimeout:       90 * time.Second,
				MaxIdleConnsPerHost:   16,
			},
		},
	}
}

func (c *Client) Model() string {
	return c.model
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StatusError is a non-200 answer from the gateway. No stream was started.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway error %d: %s", e.StatusCode, e.Body)
}

// IsThrottled reports whether err is a gateway 429.
func IsThrottled(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests
}

// IsQuotaExhausted reports whether err is a gateway 402.
func IsQuotaExhausted(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusPaymentRequired
}

// Stream opens a streaming completion for the system prompt followed by
// messages. Images are attached to the last user message only. On success
// the caller owns the returned SSE body and must close it.
func (c *Client) Stream(ctx context.Context, system string, messages []Message, images []string) (io.ReadCloser, error) {
	body, err := json.Marshal(c.buildRequest(system, messages, images))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway call: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	return resp.Body, nil
}

func (c *Client) buildRequest(system string, messages []Message, images []string) openai.ChatCompletionRequest {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	lastUser := -1
	if len(images) > 0 {
		for i := len(messages) - 1; i >= 0; i-- {
			if messages[i].Role == openai.ChatMessageRoleUser {
				lastUser = i
				break
			}
		}
	}

	for i, m := range messages {
		if i != lastUser {
			out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
			continue
		}
		parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: m.Content}}
		for _, img := range images {
			parts = append(parts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: img, Detail: openai.ImageURLDetailAuto},
			})
		}
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, MultiContent: parts})
	}

	return openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: out,
		Stream:   true,
	}
}
