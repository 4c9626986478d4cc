package models

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/floats"

	"github.com/niveshlabs/nivesh/internal/domain"
	"github.com/niveshlabs/nivesh/internal/features"
)

const (
	logisticEpochs       = 200
	logisticLearningRate = 0.1
	logisticL2           = 1e-3
	minTrainRows         = 50
)

// Logistic is the baseline model: L2-regularized logistic regression over
// standard-scored features, fit with full-batch gradient descent. It is
// deliberately simple; it exists so the ensemble always has a calibrated,
// explainable member.
type Logistic struct {
	id       string
	features []string

	weights []float64
	bias    float64
	means   []float64
	stds    []float64
	fitted  bool
}

// NewLogistic creates an unfitted model identified by kind:ticker:interval.
func NewLogistic(ticker string, interval domain.Interval) *Logistic {
	return &Logistic{id: fmt.Sprintf("logistic:%s:%s", ticker, interval)}
}

func (m *Logistic) ID() string         { return m.id }
func (m *Logistic) Features() []string { return m.features }

func sigmoid(z float64) float64 {
	// Guard against overflow in exp for extreme logits.
	if z < -35 {
		return 0
	}
	if z > 35 {
		return 1
	}
	return 1 / (1 + math.Exp(-z))
}

// Train fits on the frame's labeled rows. The frame must already be
// cleaned; any remaining NaN is a caller bug and fails the fit.
func (m *Logistic) Train(frame *features.Frame) error {
	labels, err := frame.Column(features.LabelColumn)
	if err != nil {
		return fmt.Errorf("frame is unlabeled: %w", err)
	}
	names := frame.FeatureNames()
	if len(names) == 0 {
		return fmt.Errorf("frame has no feature columns")
	}
	rows := frame.Matrix(names)
	if len(rows) < minTrainRows {
		return fmt.Errorf("%w: need %d training rows, have %d", domain.ErrNoData, minTrainRows, len(rows))
	}

	nFeat := len(names)
	means := make([]float64, nFeat)
	stds := make([]float64, nFeat)
	for j := 0; j < nFeat; j++ {
		col := make([]float64, len(rows))
		for i := range rows {
			v := rows[i][j]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("unclean frame: non-finite value in %s", names[j])
			}
			col[i] = v
		}
		means[j] = floats.Sum(col) / float64(len(col))
		var ss float64
		for _, v := range col {
			d := v - means[j]
			ss += d * d
		}
		stds[j] = math.Sqrt(ss / float64(len(col)))
		if stds[j] == 0 {
			stds[j] = 1
		}
	}

	scaled := make([][]float64, len(rows))
	for i := range rows {
		scaled[i] = make([]float64, nFeat)
		for j := range rows[i] {
			scaled[i][j] = (rows[i][j] - means[j]) / stds[j]
		}
	}

	weights := make([]float64, nFeat)
	bias := 0.0
	n := float64(len(scaled))
	grad := make([]float64, nFeat)

	for epoch := 0; epoch < logisticEpochs; epoch++ {
		for j := range grad {
			grad[j] = 0
		}
		gradBias := 0.0
		for i, x := range scaled {
			p := sigmoid(floats.Dot(weights, x) + bias)
			e := p - labels[i]
			floats.AddScaled(grad, e, x)
			gradBias += e
		}
		for j := range weights {
			weights[j] -= logisticLearningRate * (grad[j]/n + logisticL2*weights[j])
		}
		bias -= logisticLearningRate * gradBias / n
	}

	m.features = names
	m.weights = weights
	m.bias = bias
	m.means = means
	m.stds = stds
	m.fitted = true
	return nil
}

// PredictProba scores one raw (unscaled) feature row.
func (m *Logistic) PredictProba(row []float64) (float64, error) {
	if !m.fitted {
		return 0, fmt.Errorf("model %s is not fitted", m.id)
	}
	if len(row) != len(m.weights) {
		return 0, fmt.Errorf("model %s expects %d features, got %d", m.id, len(m.weights), len(row))
	}
	z := m.bias
	for j, v := range row {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%w: non-finite feature %s", domain.ErrValidationFailed, m.features[j])
		}
		z += m.weights[j] * (v - m.means[j]) / m.stds[j]
	}
	return sigmoid(z), nil
}

type logisticState struct {
	ID       string    `json:"id"`
	Features []string  `json:"features"`
	Weights  []float64 `json:"weights"`
	Bias     float64   `json:"bias"`
	Means    []float64 `json:"means"`
	Stds     []float64 `json:"stds"`
}

// Save writes the fitted parameters as JSON.
func (m *Logistic) Save(path string) error {
	if !m.fitted {
		return fmt.Errorf("model %s is not fitted", m.id)
	}
	data, err := json.MarshalIndent(logisticState{
		ID: m.id, Features: m.features, Weights: m.weights,
		Bias: m.bias, Means: m.means, Stds: m.stds,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Load restores parameters written by Save.
func (m *Logistic) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var st logisticState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to decode model file: %w", err)
	}
	if len(st.Weights) != len(st.Features) {
		return fmt.Errorf("corrupt model file: %d weights for %d features", len(st.Weights), len(st.Features))
	}
	m.id = st.ID
	m.features = st.Features
	m.weights = st.Weights
	m.bias = st.Bias
	m.means = st.Means
	m.stds = st.Stds
	m.fitted = true
	return nil
}
