package ensemble

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niveshlabs/nivesh/internal/config"
	"github.com/niveshlabs/nivesh/internal/domain"
	"github.com/niveshlabs/nivesh/internal/models"
)

func member(id string, prob float64, perf models.ModelPerformance) Member {
	perf.ModelID = id
	return Member{
		Prediction:  domain.Prediction{ModelID: id, Probability: prob, Timestamp: time.Now()},
		Performance: perf,
	}
}

func TestWeightedAverageFavorsStrongerModels(t *testing.T) {
	c := NewCombiner(config.EnsembleWeightedAverage, zerolog.Nop())

	strong := models.ModelPerformance{Accuracy: 0.8, Sharpe: 1.5, WinRate: 0.7, Samples: 100}
	weak := models.ModelPerformance{Accuracy: 0.4, Sharpe: -1.0, WinRate: 0.3, Samples: 100}

	out, err := c.Combine([]Member{
		member("strong", 0.8, strong),
		member("weak", 0.3, weak),
	})
	require.NoError(t, err)

	// The blended probability must sit closer to the strong model's call.
	assert.Greater(t, out.Probability, 0.55)
	assert.Equal(t, 2, out.Members)
	assert.Greater(t, out.Weights["strong"], out.Weights["weak"])
}

func TestWeightedAverageNeutralWeightForNewModels(t *testing.T) {
	c := NewCombiner(config.EnsembleWeightedAverage, zerolog.Nop())

	out, err := c.Combine([]Member{
		member("fresh-a", 0.6, models.ModelPerformance{}),
		member("fresh-b", 0.7, models.ModelPerformance{}),
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.65, out.Probability, 1e-9)
}

func TestSingleMemberConfidenceCapped(t *testing.T) {
	c := NewCombiner(config.EnsembleWeightedAverage, zerolog.Nop())

	out, err := c.Combine([]Member{
		member("only", 0.9, models.ModelPerformance{Accuracy: 0.9, Samples: 50}),
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, out.Confidence, 0.5)
}

func TestConfidenceDropsWithDisagreement(t *testing.T) {
	c := NewCombiner(config.EnsembleWeightedAverage, zerolog.Nop())

	agree, err := c.Combine([]Member{
		member("a", 0.7, models.ModelPerformance{}),
		member("b", 0.72, models.ModelPerformance{}),
		member("c", 0.69, models.ModelPerformance{}),
	})
	require.NoError(t, err)

	disagree, err := c.Combine([]Member{
		member("a", 0.9, models.ModelPerformance{}),
		member("b", 0.2, models.ModelPerformance{}),
		member("c", 0.6, models.ModelPerformance{}),
	})
	require.NoError(t, err)

	assert.Greater(t, agree.Confidence, disagree.Confidence)
}

func TestVoting(t *testing.T) {
	c := NewCombiner(config.EnsembleVoting, zerolog.Nop())

	out, err := c.Combine([]Member{
		member("a", 0.70, models.ModelPerformance{}), // +1
		member("b", 0.58, models.ModelPerformance{}), // +0.5
		member("c", 0.50, models.ModelPerformance{}), // 0
		member("d", 0.30, models.ModelPerformance{}), // -1
	})
	require.NoError(t, err)

	// Mean vote = 0.125 → probability 0.5625.
	assert.InDelta(t, 0.5625, out.Probability, 1e-9)
	assert.Equal(t, string(config.EnsembleVoting), out.Method)
}

func TestStackingFallsBackToWeightedAverage(t *testing.T) {
	c := NewCombiner(config.EnsembleStacking, zerolog.Nop())

	out, err := c.Combine([]Member{
		member("a", 0.6, models.ModelPerformance{}),
		member("b", 0.6, models.ModelPerformance{}),
	})
	require.NoError(t, err)
	assert.Equal(t, string(config.EnsembleWeightedAverage), out.Method)
	assert.InDelta(t, 0.6, out.Probability, 1e-9)
}

func TestCombineEmpty(t *testing.T) {
	c := NewCombiner(config.EnsembleWeightedAverage, zerolog.Nop())
	_, err := c.Combine(nil)
	assert.ErrorIs(t, err, domain.ErrNoData)
}
