package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/disintegration/imaging"

	"github.com/bdougie/plantcam/internal/config"
	"github.com/bdougie/plantcam/internal/inference"
	"github.com/bdougie/plantcam/internal/models"
	"github.com/bdougie/plantcam/internal/storage"
)

// DefaultSimilarLimit is how many stored snapshots a similarity lookup returns
const DefaultSimilarLimit = 5

// Similar classifies one photo and returns the stored snapshots whose class scores are
// closest to it
func Similar(ctx context.Context, cfg *config.Config, imagePath string, limit int, logger *slog.Logger) ([]models.SimilarSnapshot, error) {
	if !cfg.PostgresEnabled() {
		return nil, errors.New("similarity search needs DB_HOST and DB_NAME")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if limit <= 0 {
		limit = DefaultSimilarLimit
	}

	a := &App{cfg: cfg, logger: logger}
	defer a.Close()

	labels, err := inference.LoadLabels(cfg.LabelsPath)
	if err != nil {
		return nil, err
	}
	classifier, err := a.newClassifier(ctx, labels)
	if err != nil {
		return nil, err
	}

	img, err := imaging.Open(imagePath, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", imagePath, err)
	}
	scores, err := classifier.Classify(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("failed to classify %s: %w", imagePath, err)
	}
	guess := inference.Decide(scores, labels, float32(cfg.ConfidenceThreshold))
	logger.Info("Classified query photo", "label", guess.Label, "confidence", guess.Confidence)

	pg, err := storage.NewPostgresStorage(ctx, storage.PostgresConfig{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
	}, logger)
	if err != nil {
		return nil, err
	}
	defer pg.Close()

	return pg.SearchSimilar(ctx, scores, limit)
}
