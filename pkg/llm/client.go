// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"checkdoc-go/internal/config"
	"checkdoc-go/pkg/log"
	"checkdoc-go/pkg/retry"
)

// ServiceError indicates a transport or provider failure of the chat model.
// Transient failures are retried by the client; permanent ones (auth, bad
// request) are surfaced immediately.
type ServiceError struct {
	Status    int
	Transient bool
	Err       error
}

func (e *ServiceError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("llm service error (%s, status %d): %v", kind, e.Status, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Client defines the interface for an LLM client.
type Client interface {
	// Complete sends role-based messages and returns the model's full reply.
	// One call per invocation, no multi-turn state.
	Complete(ctx context.Context, messages []Message, gen *GenerationParams) (string, error)
}

type openAICompatibleClient struct {
	cfg    config.LLMConfig
	client *http.Client
	policy retry.Policy
}

// NewClient creates a new LLM client for an OpenAI-compatible chat endpoint.
func NewClient(cfg config.LLMConfig, policy retry.Policy) Client {
	return &openAICompatibleClient{
		cfg:    cfg,
		client: &http.Client{},
		policy: policy,
	}
}

// Message is a single role-based chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// GenerationParams controls sampling behaviour.
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Complete calls the chat completions API and returns the reply content,
// retrying transient failures with the shared policy.
func (c *openAICompatibleClient) Complete(ctx context.Context, messages []Message, gen *GenerationParams) (string, error) {
	log.Infof("[LLMClient] calling chat API, model: %s, messages: %d", c.cfg.Model, len(messages))

	var content string
	err := c.policy.Do(ctx, func() error {
		result, err := c.completeOnce(ctx, messages, gen)
		if err != nil {
			var svcErr *ServiceError
			if errors.As(err, &svcErr) && !svcErr.Transient {
				return retry.Permanent(err)
			}
			log.Warnf("[LLMClient] transient chat failure, will retry: %v", err)
			return err
		}
		content = result
		return nil
	})
	if err != nil {
		return "", err
	}
	return content, nil
}

func (c *openAICompatibleClient) completeOnce(ctx context.Context, messages []Message, gen *GenerationParams) (string, error) {
	reqBody := chatRequest{
		Model:    c.cfg.Model,
		Messages: messages,
		Stream:   false,
	}
	if gen != nil {
		reqBody.Temperature = gen.Temperature
		reqBody.TopP = gen.TopP
		reqBody.MaxTokens = gen.MaxTokens
	} else {
		if c.cfg.Generation.Temperature != 0 {
			t := c.cfg.Generation.Temperature
			reqBody.Temperature = &t
		}
		if c.cfg.Generation.TopP != 0 {
			p := c.cfg.Generation.TopP
			reqBody.TopP = &p
		}
		if c.cfg.Generation.MaxTokens != 0 {
			m := c.cfg.Generation.MaxTokens
			reqBody.MaxTokens = &m
		}
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create chat request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &ServiceError{Transient: true, Err: fmt.Errorf("failed to call chat api: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", &ServiceError{
			Status:    resp.StatusCode,
			Transient: isTransientStatus(resp.StatusCode),
			Err:       fmt.Errorf("chat api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes)),
		}
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", &ServiceError{Transient: true, Err: fmt.Errorf("failed to decode chat response: %w", err)}
	}

	if len(chatResp.Choices) == 0 {
		return "", &ServiceError{Transient: true, Err: fmt.Errorf("chat api returned no choices")}
	}
	return chatResp.Choices[0].Message.Content, nil
}

func isTransientStatus(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= http.StatusInternalServerError
}
