package inference_test

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/bdougie/plantcam/internal/inference"
	"github.com/bdougie/plantcam/internal/models"
)

func TestDecide_StrictThreshold(t *testing.T) {
	labels := plantLabels(t)

	tests := []struct {
		name  string
		vec   models.ClassificationVector
		want  string
		conf  float32
		empty bool
	}{
		{"equal to threshold", models.ClassificationVector{0.7, 0.2, 0.1}, "", 0, true},
		{"just above threshold", models.ClassificationVector{0.7001, 0.2, 0.0999}, "aloe", 0.7001, false},
		{"well above", models.ClassificationVector{0.05, 0.05, 0.9}, "cactus", 0.9, false},
		{"empty vector", models.ClassificationVector{}, "", 0, true},
		{"nan", models.ClassificationVector{float32(math.NaN()), 0.1, 0.1}, "", 0, true},
		{"nan before a valid score", models.ClassificationVector{float32(math.NaN()), 0.95, 0.01}, "basil", 0.95, false},
		{"all nan", models.ClassificationVector{float32(math.NaN()), float32(math.NaN())}, "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := inference.Decide(tt.vec, labels, 0.7)
			if got.IsEmpty() != tt.empty {
				t.Fatalf("Expected empty=%v, got %+v", tt.empty, got)
			}
			if got.Label != tt.want || got.Confidence != tt.conf {
				t.Errorf("Expected %q@%v, got %+v", tt.want, tt.conf, got)
			}
		})
	}
}

func TestDecide_TiesPickLowestIndex(t *testing.T) {
	got := inference.Decide(models.ClassificationVector{0.1, 0.8, 0.8}, plantLabels(t), 0.5)
	if got.Label != "basil" {
		t.Errorf("Expected basil, got %+v", got)
	}
}

func TestDecide_IndexOutsideLabelTable(t *testing.T) {
	names := make([]string, 43)
	for i := range names {
		names[i] = fmt.Sprintf("plant-%d", i)
	}
	labels, err := inference.NewLabelTable(names)
	if err != nil {
		t.Fatalf("NewLabelTable: %v", err)
	}

	vec := make(models.ClassificationVector, 1000)
	vec[999] = 0.99

	if got := inference.Decide(vec, labels, 0.5); !got.IsEmpty() {
		t.Errorf("Expected no result for index 999 with 43 labels, got %+v", got)
	}
}

func TestParseLabels(t *testing.T) {
	input := "\ufeff0:Aloe vera\n1:Basil\n2: Monstera deliciosa \n3:Café\n\n"

	labels, err := inference.ParseLabels(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseLabels: %v", err)
	}
	want := []string{"Aloe vera", "Basil", "Monstera deliciosa", "Café"}
	got := labels.Labels()
	if len(got) != len(want) {
		t.Fatalf("Expected %d labels, got %d: %q", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("label %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestParseLabels_PlainLinesAndKeptSlots(t *testing.T) {
	labels, err := inference.ParseLabels(strings.NewReader("daisy\n\nrose:red:Rosa\n"))
	if err != nil {
		t.Fatalf("ParseLabels: %v", err)
	}
	if labels.Len() != 3 {
		t.Fatalf("Expected 3 slots, got %d", labels.Len())
	}
	if l, _ := labels.Label(2); l != "Rosa" {
		t.Errorf("Expected text after the last colon, got %q", l)
	}
	if got := inference.Decide(models.ClassificationVector{0, 0.9, 0.1}, labels, 0.5); !got.IsEmpty() {
		t.Errorf("Expected blank slot to produce no result, got %+v", got)
	}
}

func TestParseLabels_Empty(t *testing.T) {
	for _, input := range []string{"", "\n\n", "0:\n1: \n"} {
		if _, err := inference.ParseLabels(strings.NewReader(input)); !errors.Is(err, inference.ErrNoLabels) {
			t.Errorf("ParseLabels(%q): expected ErrNoLabels, got %v", input, err)
		}
	}
}

func TestLoadLabels_MissingFile(t *testing.T) {
	if _, err := inference.LoadLabels(t.TempDir() + "/labels.txt"); err == nil {
		t.Error("Expected an error for a missing file")
	}
}
