// Package models hosts the prediction models, their registry, and the
// performance tracking that feeds ensemble weights.
package models

import (
	"github.com/niveshlabs/nivesh/internal/features"
)

// Predictor is one trained model. Implementations must be safe for
// concurrent PredictProba calls after Train returns.
type Predictor interface {
	// ID uniquely names the model instance (kind + ticker + interval).
	ID() string
	// Train fits the model on a labeled, cleaned frame in time order.
	Train(frame *features.Frame) error
	// PredictProba returns P(up) in [0, 1] for one feature row.
	PredictProba(row []float64) (float64, error)
	// Features returns the column names the model was trained on, in the
	// order PredictProba expects.
	Features() []string
	// Save persists the fitted parameters to path.
	Save(path string) error
	// Load restores fitted parameters from path.
	Load(path string) error
}
