// Package agent classifies frames with a local vision language model served by Ollama.
// The model is shown the label table and asked to answer with a single index:confidence pair.
package agent

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/agent-api/core/pkg/agent"
	"github.com/agent-api/core/types"
	"github.com/agent-api/ollama"
	"github.com/disintegration/imaging"
	"github.com/go-resty/resty/v2"

	"github.com/bdougie/plantcam/internal/models"
)

const systemPrompt = "You are a botanist identifying plants in photos. You only ever answer with one line " +
	"of the form index:confidence, where index is taken from the list you are given and confidence is a " +
	"number between 0 and 1. Answer -1:0 if no listed plant is visible."

// Config points the classifier at an Ollama server
type Config struct {
	BaseURL string
	Port    int
	Model   string
	Logger  *slog.Logger
}

// AskFunc sends a prompt and an image file to the model and returns its reply
type AskFunc func(ctx context.Context, prompt, imagePath string) (string, error)

// Classifier turns free-form model replies into classification vectors
type Classifier struct {
	labels []string
	prompt string
	ask    AskFunc
	logger *slog.Logger
}

// New checks that Ollama is reachable and prepares a vision agent
func New(ctx context.Context, cfg Config, labels []string) (*Classifier, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := checkServer(ctx, cfg); err != nil {
		return nil, err
	}

	provider := ollama.NewProvider(&ollama.ProviderOpts{
		Logger:  cfg.Logger,
		BaseURL: cfg.BaseURL,
		Port:    cfg.Port,
	})
	provider.UseModel(ctx, &types.Model{ID: cfg.Model})

	a := agent.NewAgent(&agent.NewAgentConfig{
		Provider:     provider,
		Logger:       cfg.Logger,
		SystemPrompt: systemPrompt,
	})

	ask := func(ctx context.Context, prompt, imagePath string) (string, error) {
		response := a.Run(ctx,
			agent.WithInput(prompt),
			agent.WithImagePath(imagePath),
		)
		if response.Err != nil {
			return "", response.Err
		}
		if len(response.Messages) == 0 {
			return "", errors.New("no response messages received from model")
		}
		return response.Messages[len(response.Messages)-1].Content, nil
	}

	return NewWithAsk(labels, ask, cfg.Logger), nil
}

// NewWithAsk builds a classifier around an arbitrary model call
func NewWithAsk(labels []string, ask AskFunc, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		labels: labels,
		prompt: buildPrompt(labels),
		ask:    ask,
		logger: logger,
	}
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func checkServer(ctx context.Context, cfg Config) error {
	var tags tagsResponse
	url := fmt.Sprintf("%s:%d/api/tags", strings.TrimSuffix(cfg.BaseURL, "/"), cfg.Port)

	resp, err := resty.New().
		SetTimeout(5 * time.Second).
		R().
		SetContext(ctx).
		SetResult(&tags).
		Get(url)
	if err != nil {
		return fmt.Errorf("ollama not reachable at %s: %w", url, err)
	}
	if resp.IsError() {
		return fmt.Errorf("ollama returned %s", resp.Status())
	}

	for _, m := range tags.Models {
		if m.Name == cfg.Model {
			return nil
		}
	}
	cfg.Logger.Warn("model not pulled yet, first request will be slow", "model", cfg.Model)
	return nil
}

func buildPrompt(labels []string) string {
	var b strings.Builder
	b.WriteString("Which of these plants is shown in the image?\n")
	for i, l := range labels {
		if l == "" {
			continue
		}
		fmt.Fprintf(&b, "%d:%s\n", i, l)
	}
	b.WriteString("Reply with index:confidence only.")
	return b.String()
}

// Classify writes img to a temporary JPEG and asks the model about it
func (c *Classifier) Classify(ctx context.Context, img image.Image) (models.ClassificationVector, error) {
	file, err := os.CreateTemp("", "plantcam-*.jpg")
	if err != nil {
		return nil, fmt.Errorf("create temp image: %w", err)
	}
	defer os.Remove(file.Name())

	if err := imaging.Encode(file, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		file.Close()
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("write temp image: %w", err)
	}

	reply, err := c.ask(ctx, c.prompt, file.Name())
	if err != nil {
		return nil, err
	}
	c.logger.Debug("model reply", "content", reply)

	return ParseReply(reply, len(c.labels))
}

var replyPattern = regexp.MustCompile(`(-?\d+)\s*:\s*(\d*\.?\d+)`)

// ParseReply reads the first index:confidence pair out of reply and returns a vector of
// length n with only that index set. A negative index means no plant was recognised.
func ParseReply(reply string, n int) (models.ClassificationVector, error) {
	m := replyPattern.FindStringSubmatch(reply)
	if m == nil {
		return nil, fmt.Errorf("unparseable model reply %q", reply)
	}
	idx, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, fmt.Errorf("bad index in reply %q: %w", reply, err)
	}
	conf, err := strconv.ParseFloat(m[2], 32)
	if err != nil {
		return nil, fmt.Errorf("bad confidence in reply %q: %w", reply, err)
	}

	vec := make(models.ClassificationVector, n)
	if idx < 0 {
		return vec, nil
	}
	if idx >= n {
		return nil, fmt.Errorf("model answered index %d outside %d labels", idx, n)
	}
	vec[idx] = float32(min(max(conf, 0), 1))
	return vec, nil
}
