package autotrader

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/niveshlabs/nivesh/internal/storage"
)

type cooldownState struct {
	LastLoss map[string]time.Time `json:"last_loss"`
}

// Cooldowns is the persisted per-ticker loss cooldown table: a ticker that
// just lost money is skipped for a while. Survives restarts.
type Cooldowns struct {
	store *storage.JSONStore
	hours float64
	mu    sync.Mutex
	log   zerolog.Logger
	now   func() time.Time
}

// NewCooldowns opens the cooldown table backed by the given JSON file.
func NewCooldowns(path string, hours float64, log zerolog.Logger) (*Cooldowns, error) {
	store, err := storage.NewJSONStore(path)
	if err != nil {
		return nil, err
	}
	return &Cooldowns{
		store: store,
		hours: hours,
		log:   log.With().Str("component", "cooldowns").Logger(),
		now:   time.Now,
	}, nil
}

// RecordLoss stamps the ticker with the current time.
func (c *Cooldowns) RecordLoss(ticker string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var st cooldownState
	err := c.store.Update(&st, func(bool) (interface{}, error) {
		if st.LastLoss == nil {
			st.LastLoss = make(map[string]time.Time)
		}
		st.LastLoss[ticker] = c.now()
		return &st, nil
	})
	if err != nil {
		return err
	}
	c.log.Debug().Str("ticker", ticker).Float64("hours", c.hours).Msg("Ticker cooldown recorded")
	return nil
}

// Active reports whether the ticker is still cooling down after a loss.
func (c *Cooldowns) Active(ticker string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	var st cooldownState
	if _, err := c.store.Load(&st); err != nil {
		c.log.Warn().Err(err).Msg("Failed to load cooldown table")
		return false
	}
	last, ok := st.LastLoss[ticker]
	if !ok {
		return false
	}
	return c.now().Sub(last) < time.Duration(c.hours*float64(time.Hour))
}
