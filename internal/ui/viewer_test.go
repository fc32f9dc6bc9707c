package ui

import (
	"testing"

	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/test"

	"github.com/bdougie/plantcam/internal/models"
)

type fakeControls struct {
	began, ended, toggled int
}

func (f *fakeControls) TouchBegan()      { f.began++ }
func (f *fakeControls) TouchEnded()      { f.ended++ }
func (f *fakeControls) ToggleRecording() { f.toggled++ }

func newViewer(t *testing.T) *Viewer {
	t.Helper()
	a := test.NewApp()
	t.Cleanup(a.Quit)
	return New(a, models.Size{Width: 375, Height: 667})
}

func TestViewer_ForwardsControls(t *testing.T) {
	v := newViewer(t)
	controls := &fakeControls{}
	v.Bind(controls)

	test.Tap(v.recordBtn)
	v.hold.MouseDown(&desktop.MouseEvent{})
	v.hold.MouseUp(&desktop.MouseEvent{})

	if controls.toggled != 1 || controls.began != 1 || controls.ended != 1 {
		t.Errorf("Unexpected control calls %+v", controls)
	}
}

func TestViewer_Readouts(t *testing.T) {
	v := newViewer(t)

	v.ShowScale(models.WorldDistanceSample{LengthInPixel: 200, LengthInCentiMeter: 6.5})
	if got := v.scale.Text; got != "200 px = 6.50 cm" {
		t.Errorf("Unexpected scale text %q", got)
	}

	v.ShowLabel("basil (0.91)")
	if v.status.Text != "basil (0.91)" {
		t.Errorf("Unexpected status %q", v.status.Text)
	}

	v.SetReady(true)
	if v.ready.Text != "ready" || !v.aim.Visible() {
		t.Error("Expected ready state with the aim shown")
	}

	v.SetRecording(true)
	if v.recordBtn.Text != "Stop" {
		t.Errorf("Expected Stop while recording, got %q", v.recordBtn.Text)
	}
	v.SetRecording(false)
	if v.recordBtn.Text != "Record" {
		t.Errorf("Expected Record when idle, got %q", v.recordBtn.Text)
	}
}

func TestViewer_SetSegment(t *testing.T) {
	v := newViewer(t)
	v.SetSegment(models.ScreenSegment{
		Start: models.ScreenPoint{X: 137.5, Y: 333.5},
		End:   models.ScreenPoint{X: 237.5, Y: 333.5},
	})
	if v.segment.Position1.X != 137.5 || v.segment.Position2.X != 237.5 {
		t.Errorf("Unexpected segment %v %v", v.segment.Position1, v.segment.Position2)
	}
}
