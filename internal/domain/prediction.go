package domain

import "time"

// Prediction is one model's probability-of-up for a row of features.
type Prediction struct {
	ModelID     string    `json:"model_id"`
	Probability float64   `json:"probability"`
	Timestamp   time.Time `json:"ts"`
}

// PendingPrediction is queued when a BUY executes and resolved with the
// realized return when the matching position closes. Resolutions feed model
// accuracy metrics.
type PendingPrediction struct {
	ModelID     string    `json:"model_id"`
	Ticker      string    `json:"ticker"`
	Probability float64   `json:"probability"`
	EntryPrice  float64   `json:"entry_price"`
	Timestamp   time.Time `json:"ts"`
}

// ResolvedPrediction pairs a pending prediction with its realized outcome.
type ResolvedPrediction struct {
	PendingPrediction
	ExitPrice      float64   `json:"exit_price"`
	RealizedReturn float64   `json:"realized_return"`
	Correct        bool      `json:"correct"`
	ResolvedAt     time.Time `json:"resolved_at"`
}
