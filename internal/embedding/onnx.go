//go:build cgo
// +build cgo

// ONNX-based embedding requires CGO and the onnxruntime shared library.
package embedding

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/hyperjump/miwake/internal/config"
	"github.com/hyperjump/miwake/internal/imaging"
	"github.com/hyperjump/miwake/pkg/utils"
)

// ONNXEmbedder runs the visual encoder with ONNX Runtime. It holds one
// pre-allocated input/output tensor pair and serializes inference, so device
// contention never affects output values, only latency.
type ONNXEmbedder struct {
	session      *ort.AdvancedSession
	dimensions   int
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	mu           sync.Mutex
}

// NewONNXEmbedder creates an embedder for the model at cfg.ModelPath.
// InitializeEnvironment is called if not already done. Device selection follows
// cfg.Device: "cuda" and "auto" try the CUDA provider and degrade to CPU with a
// warning when it is unavailable; output values do not depend on the device.
func NewONNXEmbedder(cfg *config.EmbeddingConfig, logger *zap.Logger) (*ONNXEmbedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	if cfg.Device == "cuda" || cfg.Device == "auto" {
		if err := appendCUDAProvider(options); err != nil {
			logger.Warn("cuda execution provider unavailable, falling back to cpu",
				zap.String("device", cfg.Device), zap.Error(err))
		} else {
			logger.Info("using cuda execution provider")
		}
	}

	inputData := make([]float32, 3*imaging.InputSize*imaging.InputSize)
	inputTensor, err := ort.NewTensor(ort.NewShape(1, 3, imaging.InputSize, imaging.InputSize), inputData)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	outputData := make([]float32, cfg.Dimensions)
	outputTensor, err := ort.NewTensor(ort.NewShape(1, int64(cfg.Dimensions)), outputData)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXEmbedder{
		session:      session,
		dimensions:   cfg.Dimensions,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func appendCUDAProvider(options *ort.SessionOptions) error {
	cudaOptions, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return err
	}
	defer cudaOptions.Destroy()
	if err := cudaOptions.Update(map[string]string{"device_id": "0"}); err != nil {
		return err
	}
	return options.AppendExecutionProviderCUDA(cudaOptions)
}

// Embed runs inference for one normalized image tensor.
func (e *ONNXEmbedder) Embed(ctx context.Context, tensor *imaging.Tensor) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want := 3 * imaging.InputSize * imaging.InputSize
	if tensor == nil || len(tensor.Data) != want {
		return nil, fmt.Errorf("input tensor has %d values, want %d", tensorLen(tensor), want)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	copy(e.inputTensor.GetData(), tensor.Data)
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	outputData := e.outputTensor.GetData()
	vec := make([]float32, e.dimensions)
	copy(vec, outputData[:e.dimensions])
	utils.NormalizeL2(vec)
	return vec, nil
}

// EmbedBatch embeds each tensor in order. Results are identical to calling
// Embed per tensor; batching exists for build-time throughput, not semantics.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, tensors []*imaging.Tensor) ([][]float32, error) {
	vecs := make([][]float32, len(tensors))
	for i, tensor := range tensors {
		vec, err := e.Embed(ctx, tensor)
		if err != nil {
			return nil, err
		}
		vecs[i] = vec
	}
	return vecs, nil
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// Close destroys the session and tensors.
func (e *ONNXEmbedder) Close() error {
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	if e.inputTensor != nil {
		_ = e.inputTensor.Destroy()
		e.inputTensor = nil
	}
	if e.outputTensor != nil {
		_ = e.outputTensor.Destroy()
		e.outputTensor = nil
	}
	return err
}

func tensorLen(t *imaging.Tensor) int {
	if t == nil {
		return 0
	}
	return len(t.Data)
}
