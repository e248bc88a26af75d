// Package embedding provides image embedding providers and caching.
package embedding

import (
	"context"
	"fmt"

	"github.com/okabe/omokage/internal/config"
)

// Embedder produces vector embeddings for images. The rest of the system
// treats the model as an opaque image -> vector function; Dimensions
// fixes the store dimensionality at startup.
type Embedder interface {
	Embed(ctx context.Context, image []byte) ([]float32, error)
	Dimensions() int
	Close() error
}

// Provider names for NewEmbedder.
const (
	ProviderMock   = "mock"
	ProviderCLIP   = "clip"
	ProviderRemote = "remote"
)

// NewEmbedder creates an embedding provider from config.
// CLIP requires building with CGO and the onnxruntime library.
func NewEmbedder(cfg *config.EmbeddingConfig) (Embedder, error) {
	switch cfg.Provider {
	case ProviderMock, "":
		return NewMockEmbedder(cfg.Dimensions), nil
	case ProviderCLIP:
		return NewCLIPEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.CacheSize)
	case ProviderRemote:
		return NewRemoteEmbedder(cfg.RemoteURL, cfg.Dimensions, cfg.CacheSize)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: mock, clip, remote)", cfg.Provider)
	}
}
