package upstox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/niveshlabs/nivesh/internal/domain"
)

const (
	defaultFeedURL       = "wss://api.upstox.com/v2/feed/market-data-feed"
	feedWriteWait        = 10 * time.Second
	baseReconnectDelay   = 5 * time.Second
	maxReconnectDelay    = 5 * time.Minute
	maxReconnectAttempts = 10
)

// Feed streams LTP updates over the broker websocket. It implements
// domain.FeedClient with automatic reconnection.
type Feed struct {
	url   string
	token func() string // access token supplier; re-evaluated on reconnect
	log   zerolog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	keys      []domain.InstrumentKey
	out       chan domain.FeedTick
	closed    bool
	cancelRun context.CancelFunc
}

// NewFeed creates a feed client. An empty url selects the production feed
// endpoint. The token func is called on every (re)connect so session
// refreshes propagate automatically.
func NewFeed(url string, token func() string, log zerolog.Logger) *Feed {
	if url == "" {
		url = defaultFeedURL
	}
	return &Feed{
		url:   url,
		token: token,
		log:   log.With().Str("client", "upstox_feed").Logger(),
	}
}

// Subscribe opens the stream for the given instrument keys. The returned
// channel closes when the feed is closed or reconnection is exhausted.
func (f *Feed) Subscribe(ctx context.Context, keys []domain.InstrumentKey) (<-chan domain.FeedTick, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, fmt.Errorf("feed is closed")
	}
	if f.out != nil {
		return nil, fmt.Errorf("feed already subscribed")
	}

	f.keys = append([]domain.InstrumentKey(nil), keys...)
	f.out = make(chan domain.FeedTick, 256)

	runCtx, cancel := context.WithCancel(ctx)
	f.cancelRun = cancel

	if err := f.connect(runCtx); err != nil {
		f.log.Warn().Err(err).Msg("Initial feed connection failed, will retry in background")
	}
	go f.run(runCtx)

	return f.out, nil
}

// Close terminates the stream.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if f.cancelRun != nil {
		f.cancelRun()
	}
	if f.conn != nil {
		f.conn.Close(websocket.StatusNormalClosure, "shutdown")
		f.conn = nil
	}
	return nil
}

// connect dials and sends the subscription frame. Caller handles errors.
func (f *Feed) connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, f.url+"?token="+f.token(), nil)
	if err != nil {
		return fmt.Errorf("%w: feed dial: %v", domain.ErrTransient, err)
	}

	sub := map[string]interface{}{
		"guid":   "nivesh-feed",
		"method": "sub",
		"data": map[string]interface{}{
			"mode":           "ltpc",
			"instrumentKeys": f.keys,
		},
	}
	frame, _ := json.Marshal(sub)

	writeCtx, cancelWrite := context.WithTimeout(ctx, feedWriteWait)
	defer cancelWrite()
	if err := conn.Write(writeCtx, websocket.MessageText, frame); err != nil {
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return fmt.Errorf("%w: feed subscribe: %v", domain.ErrTransient, err)
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	f.log.Info().Int("instruments", len(f.keys)).Msg("Feed connected")
	return nil
}

// run reads ticks until the context ends, reconnecting with exponential
// backoff on failure.
func (f *Feed) run(ctx context.Context) {
	defer func() {
		f.mu.Lock()
		close(f.out)
		f.out = nil
		f.mu.Unlock()
	}()

	attempts := 0
	for {
		if ctx.Err() != nil {
			return
		}

		f.mu.Lock()
		conn := f.conn
		f.mu.Unlock()

		if conn == nil {
			if attempts >= maxReconnectAttempts {
				f.log.Error().Int("attempts", attempts).Msg("Feed reconnection exhausted")
				return
			}
			delay := baseReconnectDelay * time.Duration(1<<uint(attempts))
			if delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}
			attempts++
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			if err := f.connect(ctx); err != nil {
				f.log.Warn().Err(err).Int("attempt", attempts).Msg("Feed reconnect failed")
			}
			continue
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			f.log.Warn().Err(err).Msg("Feed read error, reconnecting")
			f.mu.Lock()
			f.conn = nil
			f.mu.Unlock()
			continue
		}
		attempts = 0

		tick, ok := parseTick(data)
		if !ok {
			continue
		}
		select {
		case f.out <- tick:
		default:
			// Drop on a full buffer; consumers only need the latest mark.
		}
	}
}

// parseTick decodes one feed frame into a FeedTick.
func parseTick(data []byte) (domain.FeedTick, bool) {
	var frame struct {
		Feeds map[string]struct {
			LTPC struct {
				LTP float64 `json:"ltp"`
				CP  float64 `json:"cp"`
			} `json:"ltpc"`
			OHLC struct {
				Open   float64 `json:"open"`
				High   float64 `json:"high"`
				Low    float64 `json:"low"`
				Close  float64 `json:"close"`
				Volume float64 `json:"volume"`
			} `json:"ohlc"`
			TS int64 `json:"ts"`
		} `json:"feeds"`
	}
	if err := json.Unmarshal(data, &frame); err != nil || len(frame.Feeds) == 0 {
		return domain.FeedTick{}, false
	}
	for key, feed := range frame.Feeds {
		return domain.FeedTick{
			InstrumentKey: domain.InstrumentKey(key),
			LTP:           feed.LTPC.LTP,
			Open:          feed.OHLC.Open,
			High:          feed.OHLC.High,
			Low:           feed.OHLC.Low,
			Close:         feed.OHLC.Close,
			Volume:        feed.OHLC.Volume,
			Timestamp:     time.UnixMilli(feed.TS),
		}, true
	}
	return domain.FeedTick{}, false
}
