package app

import (
	"context"
	"image/color"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"github.com/bdougie/plantcam/internal/config"
	"github.com/bdougie/plantcam/internal/models"
	"github.com/bdougie/plantcam/internal/scale"
	"github.com/bdougie/plantcam/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	labels := filepath.Join(dir, "labels.txt")
	if err := os.WriteFile(labels, []byte("0:aloe\n1:basil\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return &config.Config{
		ConfidenceThreshold: 0.5,
		ScaleWidth:          100,
		SegmentAnchor:       config.AnchorCentered,
		DisplayScale:        2,
		ViewportWidth:       375,
		ViewportHeight:      667,
		FrameRate:           50,
		RecordInterval:      time.Second,
		LabelsPath:          labels,
		InputSize:           224,
		Classifier:          config.BackendOllama,
		OllamaModel:         "llava",
		OutputDir:           filepath.Join(dir, "out"),
	}
}

// fakeOllama answers the health check and fails every generation request
func fakeOllama(t *testing.T, cfg *config.Config) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"models":[{"name":"llava"}]}`)
			return
		}
		http.Error(w, "no model", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}
	cfg.OllamaURL = "http://" + u.Hostname()
	cfg.OllamaPort = port
}

func writeFrames(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		img := testutil.SolidImage(32, 32, color.RGBA{G: 200, A: 255})
		if err := imaging.Save(img, filepath.Join(dir, "frame_0000"+strconv.Itoa(i)+".jpg")); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestDeskResolver_Scale(t *testing.T) {
	viewport := models.Size{Width: 375, Height: 667}
	est := scale.NewEstimator(viewport, 100, 2, scale.CenteredSegment)

	sample, ok := est.Estimate(deskResolver(viewport))
	if !ok {
		t.Fatal("Expected the desk camera to resolve the segment")
	}
	want := 100 / (375 * 1.3) * DeskHeight * 100
	if math.Abs(sample.LengthInCentiMeter-want) > 1e-9 {
		t.Errorf("Expected %.4f cm, got %.4f", want, sample.LengthInCentiMeter)
	}
	if sample.LengthInPixel != 200 {
		t.Errorf("Expected 200 px, got %v", sample.LengthInPixel)
	}
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config, *Options)
	}{
		{"invalid config", func(c *config.Config, _ *Options) { c.ScaleWidth = 0 }},
		{"missing labels", func(c *config.Config, _ *Options) { c.LabelsPath = filepath.Join(t.TempDir(), "none.txt") }},
		{"no frames", func(c *config.Config, o *Options) { o.FramesDir = "" }},
		{"missing trace", func(c *config.Config, o *Options) { o.TracePath = filepath.Join(t.TempDir(), "none.json") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			fakeOllama(t, cfg)
			opts := Options{FramesDir: writeFrames(t, 1)}
			tt.mutate(cfg, &opts)

			if _, err := New(context.Background(), cfg, opts, &testutil.MockDisplay{}, quietLogger()); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestApp_RunsFramesThroughSession(t *testing.T) {
	cfg := testConfig(t)
	fakeOllama(t, cfg)
	display := &testutil.MockDisplay{}

	a, err := New(context.Background(), cfg, Options{
		FramesDir: writeFrames(t, 5),
		TracePath: filepath.Join("..", "trace", "testdata", "tabletop.json"),
	}, display, quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	stats := a.Stats()
	if got := stats.FramesSeen + a.Source.Skipped(); got != 5 {
		t.Errorf("Expected 5 frames seen or skipped, got %d", got)
	}
	if stats.ScaleSamples == 0 {
		t.Error("Expected the trace to produce scale samples")
	}
	if a.Source.InFlight() != 0 {
		t.Errorf("Expected every frame released, %d still in flight", a.Source.InFlight())
	}
}

func TestSimilar_NeedsPostgres(t *testing.T) {
	cfg := testConfig(t)
	if _, err := Similar(context.Background(), cfg, "photo.jpg", 0, quietLogger()); err == nil {
		t.Error("Expected an error without a database configured")
	}
}
