// Package ensemble combines member model probabilities into one prediction.
package ensemble

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/niveshlabs/nivesh/internal/config"
	"github.com/niveshlabs/nivesh/internal/domain"
	"github.com/niveshlabs/nivesh/internal/models"
	"github.com/niveshlabs/nivesh/pkg/formulas"
)

// Member is one model's vote.
type Member struct {
	Prediction  domain.Prediction
	Performance models.ModelPerformance
}

// Combined is the ensemble output: a probability plus how much the members
// agree.
type Combined struct {
	Probability float64            `json:"probability"`
	Confidence  float64            `json:"confidence"`
	Method      string             `json:"method"`
	Members     int                `json:"members"`
	Weights     map[string]float64 `json:"weights,omitempty"`
}

// Combiner aggregates member predictions using the configured method.
type Combiner struct {
	method config.EnsembleMethod
	log    zerolog.Logger
}

// NewCombiner builds a combiner for the method named in the trading config.
func NewCombiner(method config.EnsembleMethod, log zerolog.Logger) *Combiner {
	return &Combiner{
		method: method,
		log:    log.With().Str("component", "ensemble").Logger(),
	}
}

// Combine merges the members. Stacking is accepted as a method name but
// degrades to weighted averaging until a meta-model exists.
func (c *Combiner) Combine(members []Member) (Combined, error) {
	if len(members) == 0 {
		return Combined{}, fmt.Errorf("%w: ensemble received no members", domain.ErrNoData)
	}

	switch c.method {
	case config.EnsembleVoting:
		return c.vote(members), nil
	case config.EnsembleWeightedAverage, config.EnsembleStacking:
		return c.weightedAverage(members), nil
	default:
		return Combined{}, fmt.Errorf("unrecognized ensemble method %q", c.method)
	}
}

// memberWeight scores a member by its tracked performance:
// 0.4·accuracy + 0.4·normalized_sharpe + 0.2·win_rate. A member with no
// history gets a neutral weight so new models still participate.
func memberWeight(perf models.ModelPerformance) float64 {
	if perf.Samples == 0 {
		return 0.5
	}
	// Sharpe is mapped from [-2, +2] onto [0, 1].
	normSharpe := formulas.Clamp((perf.Sharpe+2)/4, 0, 1)
	return 0.4*perf.Accuracy + 0.4*normSharpe + 0.2*perf.WinRate
}

func (c *Combiner) weightedAverage(members []Member) Combined {
	weights := make(map[string]float64, len(members))
	var sumW, sumWP float64
	probs := make([]float64, 0, len(members))

	for _, m := range members {
		w := memberWeight(m.Performance)
		weights[m.Prediction.ModelID] = w
		sumW += w
		sumWP += w * m.Prediction.Probability
		probs = append(probs, m.Prediction.Probability)
	}

	prob := 0.5
	if sumW > 0 {
		prob = sumWP / sumW
	}

	return Combined{
		Probability: prob,
		Confidence:  agreementConfidence(probs),
		Method:      string(config.EnsembleWeightedAverage),
		Members:     len(members),
		Weights:     weights,
	}
}

// vote buckets each member into a conviction score and averages: prob
// ≥0.65 → +1, ≥0.55 → +0.5, ≤0.35 → −1, ≤0.45 → −0.5, else 0. The mean
// vote maps back onto a probability centered at 0.5.
func (c *Combiner) vote(members []Member) Combined {
	var sum float64
	probs := make([]float64, 0, len(members))
	for _, m := range members {
		p := m.Prediction.Probability
		probs = append(probs, p)
		switch {
		case p >= domain.ThresholdStrongBuy:
			sum += 1
		case p >= domain.ThresholdBuy:
			sum += 0.5
		case p <= domain.ThresholdStrongSell:
			sum -= 1
		case p <= domain.ThresholdSell:
			sum -= 0.5
		}
	}
	mean := sum / float64(len(members))

	return Combined{
		Probability: 0.5 + mean/2,
		Confidence:  agreementConfidence(probs),
		Method:      string(config.EnsembleVoting),
		Members:     len(members),
	}
}

// agreementConfidence is 1 − 2·stddev of member probabilities, floored at
// zero. A lone member cannot claim consensus, so its confidence caps at
// 0.5.
func agreementConfidence(probs []float64) float64 {
	if len(probs) == 1 {
		return 0.5
	}
	std := formulas.StdDev(probs)
	conf := 1 - 2*std
	return math.Max(0, math.Min(1, conf))
}
