package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/lmittmann/tint"

	"github.com/bdougie/plantcam/internal/app"
	"github.com/bdougie/plantcam/internal/config"
	"github.com/bdougie/plantcam/internal/models"
)

const usage = `Usage: plantcam (--video path/to/video.mp4 | --frames dir) [--trace trace.json] [--backend onnx|ollama] [--record] [--loop] [--lat 48.13 --lon 11.57]
       plantcam --similar photo.jpg [--backend onnx|ollama]`

// logDisplay prints what a screen would show
type logDisplay struct {
	logger *slog.Logger
}

func (d logDisplay) ShowScale(s models.WorldDistanceSample) {
	d.logger.Debug("scale", "px", s.LengthInPixel, "cm", s.LengthInCentiMeter)
}

func (d logDisplay) ShowLabel(text string) {
	if text != "" {
		d.logger.Info("Plant", "label", text)
	}
}

func (d logDisplay) ShowRuler(readout string) { d.logger.Info("Ruler", "reading", readout) }
func (d logDisplay) SetReady(ready bool)      { d.logger.Info("Tracking", "ready", ready) }
func (d logDisplay) SetRecording(on bool)     { d.logger.Info("Recording", "on", on) }
func (d logDisplay) Alert(message string)     { d.logger.Warn(message) }

func main() {
	cfg := config.Load()

	logger := slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      cfg.SlogLevel(),
			TimeFormat: "15:04:05",
		}),
	)

	var opts app.Options
	var lat, lon, similar string
	for i := 1; i < len(os.Args); i++ {
		switch os.Args[i] {
		case "--video":
			if i+1 < len(os.Args) {
				opts.VideoPath = os.Args[i+1]
				i++
			}
		case "--frames":
			if i+1 < len(os.Args) {
				opts.FramesDir = os.Args[i+1]
				i++
			}
		case "--trace":
			if i+1 < len(os.Args) {
				opts.TracePath = os.Args[i+1]
				i++
			}
		case "--backend":
			if i+1 < len(os.Args) {
				cfg.Classifier = os.Args[i+1]
				i++
			}
		case "--lat":
			if i+1 < len(os.Args) {
				lat = os.Args[i+1]
				i++
			}
		case "--lon":
			if i+1 < len(os.Args) {
				lon = os.Args[i+1]
				i++
			}
		case "--similar":
			if i+1 < len(os.Args) {
				similar = os.Args[i+1]
				i++
			}
		case "--record":
			opts.Record = true
		case "--loop":
			opts.Loop = true
		}
	}

	if similar != "" {
		if err := printSimilar(cfg, similar, logger); err != nil {
			log.Fatalf("Similarity search failed: %v", err)
		}
		return
	}

	if opts.VideoPath == "" && opts.FramesDir == "" {
		fmt.Println(usage)
		os.Exit(1)
	}
	if lat != "" || lon != "" {
		loc, err := parseLocation(lat, lon)
		if err != nil {
			log.Fatalf("Invalid location: %v", err)
		}
		opts.Location = &loc
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, opts, logDisplay{logger: logger}, logger)
	if err != nil {
		log.Fatalf("Failed to set up pipeline: %v", err)
	}
	defer a.Close()

	if opts.Record {
		// headless runs record from the first frame until the frames run out
		a.Session.ToggleRecording()
	}

	logger.Info("Starting capture session", "backend", cfg.Classifier)
	if err := a.Run(ctx); err != nil {
		logger.Error("Session failed", "err", err)
		os.Exit(1)
	}
}

func parseLocation(lat, lon string) (models.Location, error) {
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return models.Location{}, fmt.Errorf("latitude: %w", err)
	}
	lo, err := strconv.ParseFloat(lon, 64)
	if err != nil {
		return models.Location{}, fmt.Errorf("longitude: %w", err)
	}
	if la < -90 || la > 90 || lo < -180 || lo > 180 {
		return models.Location{}, fmt.Errorf("%v,%v is out of range", la, lo)
	}
	return models.Location{Latitude: la, Longitude: lo}, nil
}

func printSimilar(cfg *config.Config, path string, logger *slog.Logger) error {
	matches, err := app.Similar(context.Background(), cfg, path, app.DefaultSimilarLimit, logger)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		fmt.Println("No stored snapshots yet")
		return nil
	}
	for _, m := range matches {
		fmt.Printf("%s_%d\t%-24s\t%.1f cm\t%.5f,%.5f\tdistance %.4f\n",
			m.Burst, m.Index, m.Label, m.CentiMeter, m.Latitude, m.Longitude, m.Distance)
	}
	return nil
}
