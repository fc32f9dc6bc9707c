package classifier_test

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/bdougie/plantcam/internal/classifier"
	"github.com/bdougie/plantcam/internal/testutil"
)

func TestPreprocess_ShapeAndRange(t *testing.T) {
	img := testutil.SolidImage(64, 32, color.RGBA{R: 255, G: 0, B: 51, A: 255})

	out, err := classifier.Preprocess(img, 16)
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	if len(out) != 3*16*16 {
		t.Fatalf("Expected %d values, got %d", 3*16*16, len(out))
	}

	plane := 16 * 16
	for i := 0; i < plane; i++ {
		if math.Abs(float64(out[i])-1) > 0.01 {
			t.Fatalf("Expected red plane at 1, got %v at %d", out[i], i)
		}
		if out[plane+i] > 0.01 {
			t.Fatalf("Expected green plane at 0, got %v at %d", out[plane+i], i)
		}
		if math.Abs(float64(out[2*plane+i])-0.2) > 0.01 {
			t.Fatalf("Expected blue plane at 0.2, got %v at %d", out[2*plane+i], i)
		}
	}
}

func TestPreprocess_CropsCenter(t *testing.T) {
	// black borders on the long edges fall outside a center crop
	img := image.NewRGBA(image.Rect(0, 0, 90, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 90; x++ {
			c := color.RGBA{A: 255}
			if x >= 10 && x < 80 {
				c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
			}
			img.Set(x, y, c)
		}
	}

	out, err := classifier.Preprocess(img, 8)
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	for i, v := range out {
		if v < 0.9 {
			t.Fatalf("Expected only the white center to survive, got %v at %d", v, i)
		}
	}
}

func TestPreprocess_Errors(t *testing.T) {
	if _, err := classifier.Preprocess(nil, 8); err == nil {
		t.Error("Expected an error for a nil image")
	}
	if _, err := classifier.Preprocess(image.NewRGBA(image.Rect(0, 0, 0, 0)), 8); err == nil {
		t.Error("Expected an error for an empty image")
	}
}

func TestSoftmax(t *testing.T) {
	out := classifier.Softmax([]float32{1, 2, 3})

	var sum float32
	for _, v := range out {
		sum += v
	}
	if math.Abs(float64(sum)-1) > 1e-6 {
		t.Errorf("Expected probabilities to sum to 1, got %v", sum)
	}
	if !(out[2] > out[1] && out[1] > out[0]) {
		t.Errorf("Expected order preserved, got %v", out)
	}
}
