package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	fyneapp "fyne.io/fyne/v2/app"
	"github.com/lmittmann/tint"

	"github.com/bdougie/plantcam/internal/app"
	"github.com/bdougie/plantcam/internal/config"
	"github.com/bdougie/plantcam/internal/ui"
)

const fyneAppID = "com.bdougie.plantcam"

func main() {
	cfg := config.Load()

	logger := slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      cfg.SlogLevel(),
			TimeFormat: "15:04:05",
		}),
	)

	opts := app.Options{Loop: true, Record: true}
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
		}
	}
	if opts.VideoPath == "" && opts.FramesDir == "" {
		fmt.Println("Usage: plantcam-viewer (--video path/to/video.mp4 | --frames dir) [--trace trace.json] [--backend onnx|ollama]")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fa := fyneapp.NewWithID(fyneAppID)
	viewer := ui.New(fa, cfg.Viewport())

	a, err := app.New(ctx, cfg, opts, viewer, logger)
	if err != nil {
		log.Fatalf("Failed to set up pipeline: %v", err)
	}
	defer a.Close()

	viewer.SetSegment(a.Segment)
	viewer.Bind(a.Session)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := a.Run(ctx); err != nil {
			logger.Error("Session failed", "err", err)
		}
	}()

	viewer.Window().ShowAndRun()
	cancel()
	<-done
}
