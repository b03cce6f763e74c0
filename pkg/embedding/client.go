// Package embedding provides a client for interacting with embedding models.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"checkdoc-go/internal/config"
	"checkdoc-go/pkg/log"
	"checkdoc-go/pkg/retry"
)

// ServiceError indicates a failure of the remote embedding provider.
// Transient failures (timeouts, 5xx, rate limits) are retried by the
// client; permanent ones (bad input, auth) are surfaced immediately.
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
	return fmt.Sprintf("embedding service error (%s, status %d): %v", kind, e.Status, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Client defines the interface for an embedding client.
type Client interface {
	// CreateEmbedding maps a text to a vector of the configured dimensionality.
	// Deterministic for identical input and model version.
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
	// CreateEmbeddings embeds a batch of texts in one provider call.
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

type openAICompatibleClient struct {
	cfg    config.EmbeddingConfig
	client *http.Client
	policy retry.Policy
}

// NewClient creates a new embedding client for an OpenAI-compatible endpoint.
func NewClient(cfg config.EmbeddingConfig, policy retry.Policy) Client {
	return &openAICompatibleClient{
		cfg:    cfg,
		client: &http.Client{},
		policy: policy,
	}
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// CreateEmbedding calls the embedding API for a single text.
func (c *openAICompatibleClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.CreateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// CreateEmbeddings calls the embedding API for a batch of texts, retrying
// transient failures with the shared policy.
func (c *openAICompatibleClient) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	log.Infof("[EmbeddingClient] calling embedding API, model: %s, batch: %d", c.cfg.Model, len(texts))

	var vectors [][]float32
	err := c.policy.Do(ctx, func() error {
		result, err := c.embedOnce(ctx, texts)
		if err != nil {
			var svcErr *ServiceError
			if errors.As(err, &svcErr) && !svcErr.Transient {
				return retry.Permanent(err)
			}
			log.Warnf("[EmbeddingClient] transient embedding failure, will retry: %v", err)
			return err
		}
		vectors = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Infof("[EmbeddingClient] embedding API returned %d vectors, dimensions: %d", len(vectors), len(vectors[0]))
	return vectors, nil
}

func (c *openAICompatibleClient) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := embeddingRequest{
		Model:      c.cfg.Model,
		Input:      texts,
		Dimensions: c.cfg.Dimensions,
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/embeddings", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &ServiceError{Transient: true, Err: fmt.Errorf("failed to call embedding api: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ServiceError{
			Status:    resp.StatusCode,
			Transient: isTransientStatus(resp.StatusCode),
			Err:       fmt.Errorf("embedding api returned non-200 status: %s", resp.Status),
		}
	}

	var embeddingResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingResp); err != nil {
		return nil, &ServiceError{Transient: true, Err: fmt.Errorf("failed to decode embedding response: %w", err)}
	}

	if len(embeddingResp.Data) != len(texts) {
		return nil, &ServiceError{Transient: true, Err: fmt.Errorf("embedding api returned %d vectors for %d inputs", len(embeddingResp.Data), len(texts))}
	}

	vectors := make([][]float32, 0, len(embeddingResp.Data))
	for _, d := range embeddingResp.Data {
		if len(d.Embedding) == 0 {
			return nil, &ServiceError{Transient: true, Err: fmt.Errorf("received empty embedding from api")}
		}
		vectors = append(vectors, d.Embedding)
	}
	return vectors, nil
}

// isTransientStatus reports whether a status code is worth retrying:
// request timeout, rate limiting and server-side failures.
func isTransientStatus(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= http.StatusInternalServerError
}
