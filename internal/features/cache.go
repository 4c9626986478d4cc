package features

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/niveshlabs/nivesh/internal/domain"
)

// Cache persists built frames as msgpack blobs so repeated scans inside a
// bar width do not recompute fifty indicator columns per ticker.
type Cache struct {
	dir string
	mu  sync.Mutex
	log zerolog.Logger
	now func() time.Time
}

// NewCache creates the cache directory if needed.
func NewCache(dir string, log zerolog.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create feature cache dir: %w", err)
	}
	return &Cache{
		dir: dir,
		log: log.With().Str("component", "featurecache").Logger(),
		now: time.Now,
	}, nil
}

func (c *Cache) path(ticker string, interval domain.Interval) string {
	slug := strings.ToLower(ticker)
	slug = strings.NewReplacer("^", "", ".", "-", "|", "-", "/", "-").Replace(slug)
	return filepath.Join(c.dir, fmt.Sprintf("%s_%s.msgpack", slug, interval))
}

// Get returns a cached frame still within the interval's TTL, or nil.
func (c *Cache) Get(ticker string, interval domain.Interval) *Frame {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path(ticker, interval))
	if err != nil {
		return nil
	}
	var frame Frame
	if err := msgpack.Unmarshal(data, &frame); err != nil {
		c.log.Warn().Err(err).Str("ticker", ticker).Msg("Discarding unreadable feature cache entry")
		os.Remove(c.path(ticker, interval))
		return nil
	}
	if c.now().Sub(frame.BuiltAt) > interval.CacheTTL() {
		return nil
	}
	return &frame
}

// Put stores the frame, replacing any previous entry.
func (c *Cache) Put(frame *Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := msgpack.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	tmp, err := os.CreateTemp(c.dir, "frame.*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), c.path(frame.Ticker, frame.Interval))
}
