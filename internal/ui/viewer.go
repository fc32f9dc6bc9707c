// Package ui is a desktop viewer for a capture session built with Fyne.
package ui

import (
	"fmt"
	"image"
	"image/color"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"github.com/bdougie/plantcam/internal/models"
)

// Controls are the user actions the viewer forwards
type Controls interface {
	TouchBegan()
	TouchEnded()
	ToggleRecording()
}

// Viewer shows the live frame with the reference segment and the readouts
type Viewer struct {
	w         fyne.Window
	frame     *canvas.Image
	segment   *canvas.Line
	aim       *canvas.Circle
	scale     *widget.Label
	status    *widget.Label
	ready     *widget.Label
	recordBtn *widget.Button
	hold      *holdArea
}

// New builds the viewer window for a viewport of the given size
func New(a fyne.App, viewport models.Size) *Viewer {
	v := &Viewer{}
	v.w = a.NewWindow("plantcam")

	v.frame = canvas.NewImageFromImage(image.NewRGBA(image.Rect(0, 0, 1, 1)))
	v.frame.FillMode = canvas.ImageFillContain

	v.segment = canvas.NewLine(color.NRGBA{R: 255, G: 59, B: 48, A: 255})
	v.segment.StrokeWidth = 3

	center := viewport.Center()
	v.aim = canvas.NewCircle(color.Transparent)
	v.aim.StrokeColor = color.White
	v.aim.StrokeWidth = 2
	v.aim.Resize(fyne.NewSize(16, 16))
	v.aim.Move(fyne.NewPos(float32(center.X)-8, float32(center.Y)-8))
	v.aim.Hide()

	v.scale = widget.NewLabel("")
	v.status = widget.NewLabelWithStyle("", fyne.TextAlignCenter, fyne.TextStyle{Bold: true})
	v.ready = widget.NewLabel("not ready")
	v.recordBtn = widget.NewButtonWithIcon("Record", theme.MediaRecordIcon(), nil)
	v.hold = newHoldArea()

	overlay := container.NewWithoutLayout(v.segment, v.aim)
	view := container.NewStack(v.frame, overlay, v.hold)

	top := container.NewHBox(v.ready, widget.NewSeparator(), v.scale)
	bottom := container.NewVBox(v.status, v.recordBtn)

	v.w.SetContent(container.NewBorder(top, bottom, nil, nil, view))
	v.w.Resize(fyne.NewSize(float32(viewport.Width), float32(viewport.Height)))
	return v
}

// Bind forwards the record button and touch-and-hold to c
func (v *Viewer) Bind(c Controls) {
	v.recordBtn.OnTapped = c.ToggleRecording
	v.hold.onDown = c.TouchBegan
	v.hold.onUp = c.TouchEnded
}

// SetSegment places the reference ruler. Call it before the window is shown.
func (v *Viewer) SetSegment(seg models.ScreenSegment) {
	v.segment.Position1 = fyne.NewPos(float32(seg.Start.X), float32(seg.Start.Y))
	v.segment.Position2 = fyne.NewPos(float32(seg.End.X), float32(seg.End.Y))
}

// Window returns the viewer's window
func (v *Viewer) Window() fyne.Window {
	return v.w
}

func (v *Viewer) ShowFrame(img image.Image) {
	fyne.Do(func() {
		v.frame.Image = img
		v.frame.Refresh()
	})
}

func (v *Viewer) ShowScale(s models.WorldDistanceSample) {
	fyne.Do(func() {
		v.scale.SetText(fmt.Sprintf("%.0f px = %.2f cm", s.LengthInPixel, s.LengthInCentiMeter))
	})
}

func (v *Viewer) ShowLabel(text string) {
	fyne.Do(func() {
		v.status.SetText(text)
	})
}

func (v *Viewer) ShowRuler(readout string) {
	fyne.Do(func() {
		v.status.SetText(readout)
	})
}

func (v *Viewer) SetReady(ready bool) {
	fyne.Do(func() {
		if ready {
			v.ready.SetText("ready")
			v.aim.Show()
		} else {
			v.ready.SetText("not ready")
			v.aim.Hide()
		}
	})
}

func (v *Viewer) SetRecording(recording bool) {
	fyne.Do(func() {
		if recording {
			v.recordBtn.SetText("Stop")
			v.recordBtn.SetIcon(theme.MediaStopIcon())
			v.recordBtn.Importance = widget.DangerImportance
		} else {
			v.recordBtn.SetText("Record")
			v.recordBtn.SetIcon(theme.MediaRecordIcon())
			v.recordBtn.Importance = widget.MediumImportance
		}
		v.recordBtn.Refresh()
	})
}

func (v *Viewer) Alert(message string) {
	fyne.Do(func() {
		dialog.ShowInformation("plantcam", message, v.w)
	})
}

// holdArea turns a mouse press and release into touch began and ended
type holdArea struct {
	widget.BaseWidget
	onDown func()
	onUp   func()
}

var _ desktop.Mouseable = (*holdArea)(nil)

func newHoldArea() *holdArea {
	h := &holdArea{}
	h.ExtendBaseWidget(h)
	return h
}

func (h *holdArea) CreateRenderer() fyne.WidgetRenderer {
	return widget.NewSimpleRenderer(canvas.NewRectangle(color.Transparent))
}

func (h *holdArea) MouseDown(*desktop.MouseEvent) {
	if h.onDown != nil {
		h.onDown()
	}
}

func (h *holdArea) MouseUp(*desktop.MouseEvent) {
	if h.onUp != nil {
		h.onUp()
	}
}
