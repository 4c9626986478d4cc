package models

import (
	"fmt"
	"math"

	"github.com/niveshlabs/nivesh/internal/domain"
	"github.com/niveshlabs/nivesh/internal/features"
)

const (
	walkForwardFolds = 4
	minFoldRows      = 30
)

// WalkForward evaluates a model factory on the labeled frame with expanding
// time-ordered folds: train on rows [0, split), score rows [split, next).
// Shuffling would leak future bars into training, so folds never reorder.
func WalkForward(newModel func() Predictor, frame *features.Frame) (Metrics, error) {
	labels, err := frame.Column(features.LabelColumn)
	if err != nil {
		return Metrics{}, fmt.Errorf("frame is unlabeled: %w", err)
	}
	n := frame.Len()
	if n < walkForwardFolds*minFoldRows {
		return Metrics{}, fmt.Errorf("%w: need %d rows for walk-forward, have %d",
			domain.ErrNoData, walkForwardFolds*minFoldRows, n)
	}

	names := frame.FeatureNames()
	foldSize := n / (walkForwardFolds + 1)

	correct, total, folds := 0, 0, 0
	for fold := 1; fold <= walkForwardFolds; fold++ {
		trainEnd := fold * foldSize
		testEnd := trainEnd + foldSize
		if fold == walkForwardFolds {
			testEnd = n
		}

		sub := subFrame(frame, 0, trainEnd)
		model := newModel()
		if err := model.Train(sub); err != nil {
			return Metrics{}, fmt.Errorf("fold %d train failed: %w", fold, err)
		}

		for i := trainEnd; i < testEnd; i++ {
			if math.IsNaN(labels[i]) {
				continue
			}
			p, err := model.PredictProba(frame.Row(i, names))
			if err != nil {
				return Metrics{}, fmt.Errorf("fold %d predict failed: %w", fold, err)
			}
			predictedUp := p >= 0.5
			actualUp := labels[i] == 1
			if predictedUp == actualUp {
				correct++
			}
			total++
		}
		folds++
	}

	if total == 0 {
		return Metrics{}, fmt.Errorf("%w: no scorable rows in walk-forward", domain.ErrNoData)
	}
	return Metrics{
		Accuracy: float64(correct) / float64(total),
		Folds:    folds,
		Samples:  total,
	}, nil
}

// subFrame views rows [lo, hi) of the frame without copying column data.
func subFrame(f *features.Frame, lo, hi int) *features.Frame {
	sub := &features.Frame{
		Ticker:   f.Ticker,
		Interval: f.Interval,
		Times:    f.Times[lo:hi],
		Names:    f.Names,
		Cols:     make(map[string][]float64, len(f.Cols)),
		BuiltAt:  f.BuiltAt,
	}
	if len(f.Closes) > 0 {
		sub.Closes = f.Closes[lo:hi]
	}
	for name, col := range f.Cols {
		sub.Cols[name] = col[lo:hi]
	}
	return sub
}
