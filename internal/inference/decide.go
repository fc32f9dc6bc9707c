package inference

import "github.com/bdougie/plantcam/internal/models"

// Decide picks the best label from a raw output vector. The argmax score is the confidence;
// it must be strictly above threshold and its index must exist in the table, otherwise the
// result is empty.
func Decide(vec models.ClassificationVector, labels *LabelTable, threshold float32) models.BestGuess {
	idx, confidence, ok := vec.Argmax()
	if !ok {
		return models.BestGuess{}
	}
	if !(confidence > threshold) {
		return models.BestGuess{}
	}
	label, ok := labels.Label(idx)
	if !ok || label == "" {
		return models.BestGuess{}
	}
	return models.BestGuess{Label: label, Confidence: confidence}
}
