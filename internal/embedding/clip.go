//go:build cgo
// +build cgo

// CLIP visual encoder via ONNX Runtime (requires CGO and the onnxruntime
// shared library).
package embedding

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/okabe/omokage/pkg/utils"
)

// CLIPEmbedder runs the clip-ViT-B-32 visual encoder exported to ONNX.
// Inference is serialized over pre-allocated tensors; callers can embed
// concurrently, they just queue on the session mutex.
type CLIPEmbedder struct {
	session      *ort.AdvancedSession
	dimensions   int
	cache        *VectorCache
	pixelsTensor *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	mu           sync.Mutex
}

// NewCLIPEmbedder creates a CLIP embedder from an ONNX model file.
// InitializeEnvironment is called if not already done.
func NewCLIPEmbedder(modelPath string, dimensions, cacheSize int) (*CLIPEmbedder, error) {
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}

	pixels := make([]float32, 3*clipInputSize*clipInputSize)
	pixelsTensor, err := ort.NewTensor(ort.NewShape(1, 3, clipInputSize, clipInputSize), pixels)
	if err != nil {
		return nil, fmt.Errorf("failed to create pixel_values tensor: %w", err)
	}
	outputData := make([]float32, dimensions)
	outputTensor, err := ort.NewTensor(ort.NewShape(1, int64(dimensions)), outputData)
	if err != nil {
		pixelsTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"pixel_values"},
		[]string{"image_embeds"},
		[]ort.ArbitraryTensor{pixelsTensor},
		[]ort.ArbitraryTensor{outputTensor},
		nil,
	)
	if err != nil {
		pixelsTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &CLIPEmbedder{
		session:      session,
		dimensions:   dimensions,
		cache:        NewVectorCache(cacheSize),
		pixelsTensor: pixelsTensor,
		outputTensor: outputTensor,
	}, nil
}

// Embed returns the L2-normalized embedding for the image, using the
// cache when available.
func (e *CLIPEmbedder) Embed(ctx context.Context, image []byte) ([]float32, error) {
	key := e.cache.Key(image)
	if cached, ok := e.cache.Get(key); ok {
		return cached, nil
	}

	pixels, err := PreprocessImage(image)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	copy(e.pixelsTensor.GetData(), pixels)
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	outputData := e.outputTensor.GetData()
	embedding := make([]float32, e.dimensions)
	copy(embedding, outputData[:e.dimensions])

	utils.NormalizeL2(embedding)
	e.cache.Set(key, embedding)
	return embedding, nil
}

// Dimensions returns the embedding dimension.
func (e *CLIPEmbedder) Dimensions() int {
	return e.dimensions
}

// Close destroys the session and tensors.
func (e *CLIPEmbedder) Close() error {
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	if e.pixelsTensor != nil {
		_ = e.pixelsTensor.Destroy()
		e.pixelsTensor = nil
	}
	if e.outputTensor != nil {
		_ = e.outputTensor.Destroy()
		e.outputTensor = nil
	}
	return err
}
