package models

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/niveshlabs/nivesh/internal/domain"
	"github.com/niveshlabs/nivesh/internal/storage"
	"github.com/niveshlabs/nivesh/pkg/formulas"
)

// ModelPerformance summarizes a model's resolved predictions. Only
// directional calls are scored; a HOLD never enters the denominator.
type ModelPerformance struct {
	ModelID   string  `json:"model_id"`
	Accuracy  float64 `json:"accuracy"`
	WinRate   float64 `json:"win_rate"`
	Sharpe    float64 `json:"sharpe"`
	AvgReturn float64 `json:"avg_return"`
	Samples   int     `json:"samples"`
}

type trackerState struct {
	Pending  []domain.PendingPrediction  `json:"pending"`
	Resolved []domain.ResolvedPrediction `json:"resolved"`
}

// maxResolvedHistory bounds the resolution log; older entries age out.
const maxResolvedHistory = 2000

// Tracker records predictions made at trade time and resolves them against
// realized exits, producing the per-model metrics the ensemble weights by.
type Tracker struct {
	store *storage.JSONStore
	mu    sync.Mutex
	log   zerolog.Logger
	now   func() time.Time
}

// NewTracker opens the tracker backed by the given JSON file.
func NewTracker(path string, log zerolog.Logger) (*Tracker, error) {
	store, err := storage.NewJSONStore(path)
	if err != nil {
		return nil, err
	}
	return &Tracker{
		store: store,
		log:   log.With().Str("component", "modeltracker").Logger(),
		now:   time.Now,
	}, nil
}

// RecordPending queues a prediction whose outcome is unknown until the
// position closes.
func (t *Tracker) RecordPending(p domain.PendingPrediction) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var st trackerState
	return t.store.Update(&st, func(bool) (interface{}, error) {
		st.Pending = append(st.Pending, p)
		return &st, nil
	})
}

// Resolve closes the oldest pending prediction for the ticker with the
// realized exit. A prediction is correct when it called the direction of
// the realized move.
func (t *Tracker) Resolve(ticker string, exitPrice float64) (*domain.ResolvedPrediction, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var resolved *domain.ResolvedPrediction
	var st trackerState
	err := t.store.Update(&st, func(bool) (interface{}, error) {
		idx := -1
		for i, p := range st.Pending {
			if p.Ticker == ticker {
				idx = i
				break
			}
		}
		if idx < 0 {
			return &st, nil
		}

		p := st.Pending[idx]
		st.Pending = append(st.Pending[:idx], st.Pending[idx+1:]...)

		ret := 0.0
		if p.EntryPrice > 0 {
			ret = exitPrice/p.EntryPrice - 1
		}
		calledUp := p.Probability >= 0.5
		r := domain.ResolvedPrediction{
			PendingPrediction: p,
			ExitPrice:         exitPrice,
			RealizedReturn:    ret,
			Correct:           calledUp == (ret > 0),
			ResolvedAt:        t.now(),
		}
		st.Resolved = append(st.Resolved, r)
		if len(st.Resolved) > maxResolvedHistory {
			st.Resolved = st.Resolved[len(st.Resolved)-maxResolvedHistory:]
		}
		resolved = &r
		return &st, nil
	})
	if err != nil {
		return nil, err
	}
	if resolved != nil {
		t.log.Debug().Str("ticker", ticker).Str("model", resolved.ModelID).
			Bool("correct", resolved.Correct).Float64("return", resolved.RealizedReturn).
			Msg("Prediction resolved")
	}
	return resolved, nil
}

// Performance computes metrics for one model over resolutions inside the
// window. A zero window means all history; an empty model id aggregates
// every model, which is what the circuit breaker's accuracy gate reads.
func (t *Tracker) Performance(modelID string, window time.Duration) (ModelPerformance, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var st trackerState
	if _, err := t.store.Load(&st); err != nil {
		return ModelPerformance{}, err
	}

	cutoff := time.Time{}
	if window > 0 {
		cutoff = t.now().Add(-window)
	}

	var returns []float64
	correct, wins := 0, 0
	for _, r := range st.Resolved {
		if (modelID != "" && r.ModelID != modelID) || r.ResolvedAt.Before(cutoff) {
			continue
		}
		returns = append(returns, r.RealizedReturn)
		if r.Correct {
			correct++
		}
		if r.RealizedReturn > 0 {
			wins++
		}
	}

	perf := ModelPerformance{ModelID: modelID, Samples: len(returns)}
	if len(returns) == 0 {
		return perf, nil
	}

	perf.Accuracy = float64(correct) / float64(len(returns))
	perf.WinRate = float64(wins) / float64(len(returns))
	perf.AvgReturn = formulas.Mean(returns)
	if std := formulas.StdDev(returns); std > 0 {
		perf.Sharpe = perf.AvgReturn / std * math.Sqrt(252)
	}
	return perf, nil
}

// PendingCount returns the queue depth, for status reporting.
func (t *Tracker) PendingCount() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var st trackerState
	if _, err := t.store.Load(&st); err != nil {
		return 0, err
	}
	return len(st.Pending), nil
}
