package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

// OllamaClient generates replies from a local Ollama server. Useful for
// running the gateway without any cloud credentials.
type OllamaClient struct {
	client *api.Client
	model  string
}

// NewOllamaClient builds a client for the given host URL. Connection pooling
// is tuned for repeated low-latency requests to a local server.
func NewOllamaClient(host, model string) (*OllamaClient, error) {
	parsedURL, err := url.Parse(strings.TrimSuffix(host, "/"))
	if err != nil {
		return nil, fmt.Errorf("ollama: invalid host URL: %w", err)
	}
	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	return &OllamaClient{
		client: api.NewClient(parsedURL, httpClient),
		model:  model,
	}, nil
}

// Stream sends the conversation and invokes onDelta per generated fragment.
func (c *OllamaClient) Stream(ctx context.Context, messages []Message, onDelta func(delta string) error) (string, error) {
	apiMessages := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		apiMessages = append(apiMessages, api.Message{Role: m.Role, Content: m.Content})
	}

	stream := true
	var full strings.Builder
	err := c.client.Chat(ctx, &api.ChatRequest{
		Model:    c.model,
		Messages: apiMessages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": 0.7,
			"num_predict": 300, // voice replies stay short
		},
	}, func(resp api.ChatResponse) error {
		delta := resp.Message.Content
		if delta == "" {
			return nil
		}
		full.WriteString(delta)
		if onDelta != nil {
			return onDelta(delta)
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return full.String(), ctx.Err()
		}
		return full.String(), fmt.Errorf("ollama: chat: %w", err)
	}
	return strings.TrimSpace(full.String()), nil
}

// HealthCheck verifies the Ollama server is reachable.
func (c *OllamaClient) HealthCheck(ctx context.Context) error {
	if err := c.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("ollama: cannot reach server: %w", err)
	}
	return nil
}
