// Package tika provides a client for extracting document text via an Apache Tika server.
package tika

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"checkdoc-go/internal/config"
)

// ExtractionError indicates that a document could not be turned into text:
// the bytes are not a parseable document or carry no extractable text layer.
// It is fatal for indexing that document only.
type ExtractionError struct {
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("extraction failed: %s", e.Reason)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Client talks to a Tika server.
type Client struct {
	serverURL  string
	httpClient *http.Client
}

// NewClient creates a new Tika client instance.
func NewClient(cfg config.TikaConfig) *Client {
	return &Client{
		serverURL:  cfg.ServerURL,
		httpClient: http.DefaultClient,
	}
}

// ExtractPages sends PDF bytes to Tika and returns the extracted text as
// ordered page segments. Tika's plain-text output separates pages with
// form feeds; pages that contain no text are dropped.
func (c *Client) ExtractPages(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, &ExtractionError{Reason: "document is empty"}
	}

	req, err := http.NewRequest("PUT", c.serverURL+"/tika", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create tika request: %w", err)
	}

	req.Header.Set("Accept", "text/plain")
	req.Header.Set("Content-Type", "application/pdf")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call tika: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnprocessableEntity {
		body, _ := io.ReadAll(resp.Body)
		return nil, &ExtractionError{Reason: "document is not parseable", Err: fmt.Errorf("tika [%d]: %s", resp.StatusCode, string(body))}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("tika returned error [%d]: %s", resp.StatusCode, string(body))
	}

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, resp.Body); err != nil {
		return nil, fmt.Errorf("failed to read tika response: %w", err)
	}

	pages := SplitPages(buf.String())
	if len(pages) == 0 {
		return nil, &ExtractionError{Reason: "document has no extractable text layer"}
	}
	return pages, nil
}

// SplitPages splits Tika plain-text output into non-empty page segments.
func SplitPages(text string) []string {
	var pages []string
	for _, page := range strings.Split(text, "\f") {
		if strings.TrimSpace(page) == "" {
			continue
		}
		pages = append(pages, page)
	}
	return pages
}
