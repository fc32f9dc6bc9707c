// Package ort runs an image classification model with ONNX Runtime.
package ort

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	onnx "github.com/yalue/onnxruntime_go"

	"github.com/bdougie/plantcam/internal/classifier"
	"github.com/bdougie/plantcam/internal/models"
)

// Config describes the model and runtime to load
type Config struct {
	// Library is the path to the onnxruntime shared library. Empty uses the platform default.
	Library   string
	ModelPath string
	InputSize int
	// Softmax converts raw logits to probabilities before they reach the gate.
	Softmax bool
	Logger  *slog.Logger
}

// Classifier owns one ONNX Runtime session. The session and its tensors are reused for
// every frame, so Classify calls are serialized.
type Classifier struct {
	mu      sync.Mutex
	cfg     Config
	session *onnx.AdvancedSession
	input   *onnx.Tensor[float32]
	output  *onnx.Tensor[float32]
	logger  *slog.Logger
}

var envOnce sync.Once
var envErr error

func initEnvironment(library string) error {
	envOnce.Do(func() {
		if library != "" {
			onnx.SetSharedLibraryPath(library)
		}
		envErr = onnx.InitializeEnvironment()
	})
	return envErr
}

// New loads the model and allocates the input and output tensors
func New(cfg Config) (*Classifier, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("model path is required")
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = classifier.DefaultInputSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if err := initEnvironment(cfg.Library); err != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", err)
	}

	inputs, outputs, err := onnx.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("inspect model %s: %w", cfg.ModelPath, err)
	}
	if len(inputs) != 1 || len(outputs) < 1 {
		return nil, fmt.Errorf("model %s: expected one input and at least one output, got %d/%d",
			cfg.ModelPath, len(inputs), len(outputs))
	}

	classes := outputs[0].Dimensions[len(outputs[0].Dimensions)-1]
	if classes <= 0 {
		return nil, fmt.Errorf("model %s: output %q has no fixed class dimension", cfg.ModelPath, outputs[0].Name)
	}

	size := int64(cfg.InputSize)
	input, err := onnx.NewEmptyTensor[float32](onnx.NewShape(1, 3, size, size))
	if err != nil {
		return nil, fmt.Errorf("allocate input tensor: %w", err)
	}
	output, err := onnx.NewEmptyTensor[float32](onnx.NewShape(1, classes))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("allocate output tensor: %w", err)
	}

	session, err := onnx.NewAdvancedSession(cfg.ModelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name},
		[]onnx.Value{input}, []onnx.Value{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create session: %w", err)
	}

	cfg.Logger.Info("onnx model loaded",
		"model", cfg.ModelPath,
		"input", inputs[0].Name,
		"output", outputs[0].Name,
		"classes", classes)

	return &Classifier{
		cfg:     cfg,
		session: session,
		input:   input,
		output:  output,
		logger:  cfg.Logger,
	}, nil
}

// Classes returns the length of the output vector
func (c *Classifier) Classes() int {
	return int(c.output.GetShape()[1])
}

// Classify runs the model over img and returns one score per class
func (c *Classifier) Classify(ctx context.Context, img image.Image) (models.ClassificationVector, error) {
	pixels, err := classifier.Preprocess(img, c.cfg.InputSize)
	if err != nil {
		return nil, fmt.Errorf("preprocess: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil, errors.New("classifier is closed")
	}

	copy(c.input.GetData(), pixels)
	if err := c.session.Run(); err != nil {
		return nil, fmt.Errorf("run session: %w", err)
	}

	scores := make(models.ClassificationVector, len(c.output.GetData()))
	copy(scores, c.output.GetData())
	if c.cfg.Softmax {
		classifier.Softmax(scores)
	}
	return scores, nil
}

// Close releases the session and tensors
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil
	}
	errs := []error{c.session.Destroy(), c.input.Destroy(), c.output.Destroy()}
	c.session = nil
	return errors.Join(errs...)
}
