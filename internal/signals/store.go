package signals

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/niveshlabs/nivesh/internal/domain"
	"github.com/niveshlabs/nivesh/internal/storage"
)

// cacheTTL is how long a saved consensus stays quotable before a scan must
// regenerate it.
const cacheTTL = 15 * time.Minute

// Store persists the latest consensus per ticker so the CLI and the
// auto-trader share one view of "the current signal".
type Store struct {
	store *storage.JSONStore
	log   zerolog.Logger
	now   func() time.Time
}

type storeState struct {
	Signals map[string]domain.MultiTimeframeSignal `json:"signals"`
}

// NewStore opens the signal cache at path.
func NewStore(path string, log zerolog.Logger) (*Store, error) {
	js, err := storage.NewJSONStore(path)
	if err != nil {
		return nil, err
	}
	return &Store{
		store: js,
		log:   log.With().Str("component", "signalstore").Logger(),
		now:   time.Now,
	}, nil
}

// Put upserts the consensus for its ticker.
func (s *Store) Put(sig *domain.MultiTimeframeSignal) error {
	var st storeState
	return s.store.Update(&st, func(bool) (interface{}, error) {
		if st.Signals == nil {
			st.Signals = make(map[string]domain.MultiTimeframeSignal)
		}
		st.Signals[sig.Ticker] = *sig
		return &st, nil
	})
}

// Get returns the cached consensus when it is still inside the TTL.
func (s *Store) Get(ticker string) (*domain.MultiTimeframeSignal, bool, error) {
	var st storeState
	loaded, err := s.store.Load(&st)
	if err != nil || !loaded {
		return nil, false, err
	}
	sig, ok := st.Signals[ticker]
	if !ok || s.now().Sub(sig.GeneratedAt) > cacheTTL {
		return nil, false, nil
	}
	return &sig, true, nil
}

// All returns every cached consensus, stale ones included; callers that
// care about freshness use Get.
func (s *Store) All() (map[string]domain.MultiTimeframeSignal, error) {
	var st storeState
	if _, err := s.store.Load(&st); err != nil {
		return nil, err
	}
	if st.Signals == nil {
		st.Signals = make(map[string]domain.MultiTimeframeSignal)
	}
	return st.Signals, nil
}
