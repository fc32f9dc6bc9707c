// Package classifier prepares camera frames for image classification models.
package classifier

import (
	"errors"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// DefaultInputSize is the square edge most mobile plant models are trained on
const DefaultInputSize = 224

// Preprocess center-crops img to a square, scales it to size×size and returns the pixels
// as a planar RGB tensor (NCHW with N=1) in [0,1].
func Preprocess(img image.Image, size int) ([]float32, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}
	if size <= 0 {
		size = DefaultInputSize
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, errors.New("empty image")
	}

	square := imaging.Fill(img, size, size, imaging.Center, imaging.Lanczos)

	plane := size * size
	out := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		row := square.Pix[y*square.Stride:]
		for x := 0; x < size; x++ {
			px := row[x*4:]
			i := y*size + x
			out[i] = float32(px[0]) / 255
			out[plane+i] = float32(px[1]) / 255
			out[2*plane+i] = float32(px[2]) / 255
		}
	}
	return out, nil
}

// Softmax converts logits into probabilities in place and returns them
func Softmax(v []float32) []float32 {
	if len(v) == 0 {
		return v
	}
	max := v[0]
	for _, x := range v[1:] {
		if x > max {
			max = x
		}
	}
	var sum float64
	for i, x := range v {
		e := math.Exp(float64(x - max))
		v[i] = float32(e)
		sum += e
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / sum)
	}
	return v
}
