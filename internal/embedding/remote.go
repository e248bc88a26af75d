package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const remoteRequestTimeout = 30 * time.Second

// RemoteEmbedder delegates embedding to an external inference service:
// the image bytes are POSTed and the service answers with the vector.
// Useful when the model runs in a separate process or on a GPU host.
type RemoteEmbedder struct {
	url        string
	dimensions int
	client     *http.Client
	cache      *VectorCache
}

type remoteResponse struct {
	Embedding []float32 `json:"embedding"`
	Dimension int       `json:"dimension"`
}

// NewRemoteEmbedder creates an embedder calling the inference service at url.
func NewRemoteEmbedder(url string, dimensions, cacheSize int) (*RemoteEmbedder, error) {
	if url == "" {
		return nil, fmt.Errorf("remote embedder requires a service URL")
	}
	return &RemoteEmbedder{
		url:        url,
		dimensions: dimensions,
		client:     &http.Client{Timeout: remoteRequestTimeout},
		cache:      NewVectorCache(cacheSize),
	}, nil
}

// Embed posts the image to the inference service and returns its vector,
// using the cache when available. A vector of unexpected length is an
// error; it is never truncated or padded.
func (e *RemoteEmbedder) Embed(ctx context.Context, image []byte) ([]float32, error) {
	key := e.cache.Key(image)
	if cached, ok := e.cache.Get(key); ok {
		return cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding service request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(out.Embedding) != e.dimensions {
		return nil, fmt.Errorf("embedding service returned %d dimensions, expected %d", len(out.Embedding), e.dimensions)
	}

	e.cache.Set(key, out.Embedding)
	return out.Embedding, nil
}

// Dimensions returns the embedding dimension.
func (e *RemoteEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for RemoteEmbedder.
func (e *RemoteEmbedder) Close() error {
	return nil
}
