package models

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/niveshlabs/nivesh/internal/domain"
	"github.com/niveshlabs/nivesh/internal/storage"
)

// ModelRecord is a catalog entry for one trained model.
type ModelRecord struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Ticker    string          `json:"ticker"`
	Interval  domain.Interval `json:"interval"`
	Path      string          `json:"path"`
	TrainedAt time.Time       `json:"trained_at"`
	Rows      int             `json:"rows"`
	Metrics   Metrics         `json:"metrics"`
}

// Metrics are out-of-sample walk-forward metrics captured at training time.
type Metrics struct {
	Accuracy float64 `json:"accuracy"`
	Folds    int     `json:"folds"`
	Samples  int     `json:"samples"`
}

type catalog struct {
	Models map[string]ModelRecord `json:"models"`
}

// Registry is the single writer for the model catalog and the parameter
// files beneath its directory.
type Registry struct {
	dir   string
	store *storage.JSONStore
	mu    sync.Mutex
	log   zerolog.Logger
}

// NewRegistry opens (or creates) a registry rooted at dir.
func NewRegistry(dir string, log zerolog.Logger) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create model dir: %w", err)
	}
	store, err := storage.NewJSONStore(filepath.Join(dir, "catalog.json"))
	if err != nil {
		return nil, err
	}
	return &Registry{
		dir:   dir,
		store: store,
		log:   log.With().Str("component", "modelregistry").Logger(),
	}, nil
}

func modelFileName(id string) string {
	slug := strings.NewReplacer(":", "_", "^", "", ".", "-", "|", "-").Replace(strings.ToLower(id))
	return slug + ".json"
}

// Register saves the fitted model's parameters and upserts its catalog
// entry.
func (r *Registry) Register(model Predictor, kind, ticker string, interval domain.Interval, rows int, metrics Metrics) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	path := filepath.Join(r.dir, modelFileName(model.ID()))
	if err := model.Save(path); err != nil {
		return fmt.Errorf("failed to save model %s: %w", model.ID(), err)
	}

	record := ModelRecord{
		ID: model.ID(), Kind: kind, Ticker: ticker, Interval: interval,
		Path: path, TrainedAt: time.Now(), Rows: rows, Metrics: metrics,
	}
	var cat catalog
	err := r.store.Update(&cat, func(loaded bool) (interface{}, error) {
		if cat.Models == nil {
			cat.Models = make(map[string]ModelRecord)
		}
		cat.Models[record.ID] = record
		return &cat, nil
	})
	if err != nil {
		return err
	}
	r.log.Info().Str("model", record.ID).Float64("accuracy", metrics.Accuracy).
		Int("rows", rows).Msg("Model registered")
	return nil
}

// Lookup returns the catalog entry for a model id.
func (r *Registry) Lookup(id string) (ModelRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var cat catalog
	loaded, err := r.store.Load(&cat)
	if err != nil || !loaded {
		return ModelRecord{}, false, err
	}
	rec, ok := cat.Models[id]
	return rec, ok, nil
}

// LoadLogistic restores a registered logistic model, or reports absence.
func (r *Registry) LoadLogistic(ticker string, interval domain.Interval) (*Logistic, bool, error) {
	model := NewLogistic(ticker, interval)
	rec, ok, err := r.Lookup(model.ID())
	if err != nil || !ok {
		return nil, false, err
	}
	if err := model.Load(rec.Path); err != nil {
		return nil, false, fmt.Errorf("failed to load model %s: %w", rec.ID, err)
	}
	return model, true, nil
}

// Records lists every catalog entry.
func (r *Registry) Records() ([]ModelRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var cat catalog
	if _, err := r.store.Load(&cat); err != nil {
		return nil, err
	}
	records := make([]ModelRecord, 0, len(cat.Models))
	for _, rec := range cat.Models {
		records = append(records, rec)
	}
	return records, nil
}
