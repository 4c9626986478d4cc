package datafabric

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/niveshlabs/nivesh/internal/domain"
	"github.com/niveshlabs/nivesh/internal/instruments"
)

// BrokerSource adapts the broker client into a fabric Source. It is the
// highest-priority source: exchange-grade data, but only while the session
// is authenticated.
type BrokerSource struct {
	client domain.BrokerClient
	master *instruments.Master
	log    zerolog.Logger
}

// NewBrokerSource wires the broker client and the instrument master.
func NewBrokerSource(client domain.BrokerClient, master *instruments.Master, log zerolog.Logger) *BrokerSource {
	return &BrokerSource{
		client: client,
		master: master,
		log:    log.With().Str("source", "broker").Logger(),
	}
}

// Name identifies the source in fabric logs and quote flags.
func (s *BrokerSource) Name() string { return "broker" }

// FetchOHLCV resolves the ticker to an instrument key and pulls candles.
func (s *BrokerSource) FetchOHLCV(ctx context.Context, ticker string, interval domain.Interval, from, to time.Time) (*domain.OHLCVSeries, error) {
	if !s.client.IsConnected() {
		return nil, domain.ErrAuthFailure
	}
	inst, err := s.master.Resolve(ctx, ticker)
	if err != nil {
		return nil, err
	}

	candles, err := s.client.GetHistoricalCandles(ctx, inst.InstrumentKey, interval, from, to)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, domain.NoDataError(ticker, nil)
	}

	bars := make([]domain.OHLCVBar, 0, len(candles))
	for _, c := range candles {
		bars = append(bars, domain.OHLCVBar{
			T: c.T, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume,
		})
	}
	return &domain.OHLCVSeries{
		Ticker:   ticker,
		Interval: interval,
		Bars:     bars,
		Source:   s.Name(),
	}, nil
}

// FetchQuote pulls a full market quote for the ticker.
func (s *BrokerSource) FetchQuote(ctx context.Context, ticker string) (*domain.Quote, error) {
	if !s.client.IsConnected() {
		return nil, domain.ErrAuthFailure
	}
	inst, err := s.master.Resolve(ctx, ticker)
	if err != nil {
		return nil, err
	}

	quotes, err := s.client.GetQuotes(ctx, []domain.InstrumentKey{inst.InstrumentKey})
	if err != nil {
		return nil, err
	}
	q, ok := quotes[inst.InstrumentKey]
	if !ok {
		return nil, domain.NoDataError(ticker, nil)
	}

	change := q.LastPrice - q.PrevClose
	changePct := 0.0
	if q.PrevClose > 0 {
		changePct = change / q.PrevClose * 100
	}
	return &domain.Quote{
		Ticker:        ticker,
		LastPrice:     q.LastPrice,
		Open:          q.Open,
		High:          q.High,
		Low:           q.Low,
		PrevClose:     q.PrevClose,
		Volume:        q.Volume,
		Change:        change,
		ChangePercent: changePct,
		Source:        s.Name(),
		Timestamp:     q.Timestamp,
	}, nil
}
