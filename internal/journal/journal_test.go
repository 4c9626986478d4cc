package journal

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	loc := time.FixedZone("IST", 5*3600+1800)
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), loc, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func pnl(v float64) *float64 { return &v }

func TestRecordAndListExecutions(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	at := time.Date(2026, 1, 5, 10, 30, 0, 0, time.UTC)

	require.NoError(t, j.Record(ctx, Entry{
		Symbol: "RELIANCE.NS", Side: "BUY", Quantity: 10, Price: 2850,
		Success: true, PaperTrade: true, OrderID: "ORD-1", PlanID: "plan-1",
		ExecutedAt: at,
	}))
	require.NoError(t, j.Record(ctx, Entry{
		Symbol: "RELIANCE.NS", Side: "SELL", Quantity: 10, Price: 2900,
		Success: true, PaperTrade: true, ExitReason: "target_1",
		RealizedPnL: pnl(500), ExecutedAt: at.Add(2 * time.Hour),
	}))

	entries, err := j.Executions(ctx, at)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "BUY", entries[0].Side)
	assert.Equal(t, "2026-01-05", entries[0].TradeDay)
	require.NotNil(t, entries[1].RealizedPnL)
	assert.Equal(t, 500.0, *entries[1].RealizedPnL)
	assert.True(t, entries[0].ExecutedAt.Equal(at))
}

func TestTradeDayFollowsExchangeTimezone(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	// 20:00 UTC is already 01:30 the next day in IST.
	late := time.Date(2026, 1, 5, 20, 0, 0, 0, time.UTC)
	require.NoError(t, j.Record(ctx, Entry{
		Symbol: "TCS.NS", Side: "BUY", Quantity: 1, Price: 3000,
		Success: true, ExecutedAt: late,
	}))

	entries, err := j.Executions(ctx, late)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "2026-01-06", entries[0].TradeDay)
}

func TestRecordRequiresTimestamp(t *testing.T) {
	j := openTestJournal(t)
	err := j.Record(context.Background(), Entry{Symbol: "TCS.NS", Side: "BUY"})
	assert.Error(t, err)
}

func TestDailyReport(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	at := time.Date(2026, 1, 5, 5, 0, 0, 0, time.UTC)

	fixtures := []Entry{
		{Symbol: "RELIANCE.NS", Side: "BUY", Quantity: 10, Price: 2850, Success: true},
		{Symbol: "RELIANCE.NS", Side: "SELL", Quantity: 10, Price: 2900, Success: true, RealizedPnL: pnl(500)},
		{Symbol: "TCS.NS", Side: "BUY", Quantity: 5, Price: 3000, Success: true},
		{Symbol: "TCS.NS", Side: "SELL", Quantity: 5, Price: 2960, Success: true, RealizedPnL: pnl(-200)},
		{Symbol: "INFY.NS", Side: "BUY", Quantity: 5, Price: 1500, Success: false, Reason: "insufficient funds"},
	}
	for i, e := range fixtures {
		e.ExecutedAt = at.Add(time.Duration(i) * time.Minute)
		require.NoError(t, j.Record(ctx, e))
	}

	rep, err := j.DailyReport(ctx, at)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-05", rep.Day)
	assert.Equal(t, 4, rep.Trades)
	assert.Equal(t, 2, rep.Buys)
	assert.Equal(t, 2, rep.Sells)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 1, rep.Wins)
	assert.Equal(t, 1, rep.Losses)
	assert.InDelta(t, 300.0, rep.GrossPnL, 1e-9)
	assert.InDelta(t, 0.5, rep.WinRate, 1e-9)
	assert.Equal(t, "RELIANCE.NS", rep.BestSymbol)
	assert.Equal(t, "TCS.NS", rep.WorstSymbol)
}

func TestPnLSince(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	old := time.Date(2026, 1, 2, 5, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 1, 5, 5, 0, 0, 0, time.UTC)
	require.NoError(t, j.Record(ctx, Entry{
		Symbol: "TCS.NS", Side: "SELL", Quantity: 1, Price: 3000,
		Success: true, RealizedPnL: pnl(1000), ExecutedAt: old,
	}))
	require.NoError(t, j.Record(ctx, Entry{
		Symbol: "TCS.NS", Side: "SELL", Quantity: 1, Price: 2900,
		Success: true, RealizedPnL: pnl(-100), ExecutedAt: recent,
	}))

	total, err := j.PnLSince(ctx, recent)
	require.NoError(t, err)
	assert.InDelta(t, -100.0, total, 1e-9)

	total, err = j.PnLSince(ctx, old)
	require.NoError(t, err)
	assert.InDelta(t, 900.0, total, 1e-9)
}

func TestExportDayMirrorsEntries(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	at := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	require.NoError(t, j.Record(ctx, Entry{
		Symbol: "INFY.NS", Side: "BUY", Quantity: 5, Price: 1500,
		Success: true, PaperTrade: true, ExecutedAt: at,
	}))

	path := filepath.Join(t.TempDir(), "trade_journal.json")
	require.NoError(t, j.ExportDay(ctx, at, path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var entries []Entry
	require.NoError(t, json.Unmarshal(raw, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "INFY.NS", entries[0].Symbol)
	assert.Equal(t, int64(5), entries[0].Quantity)

	// Days with no executions still produce a valid, empty export.
	empty := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, j.ExportDay(ctx, at.AddDate(0, 0, 3), empty))
	raw, err = os.ReadFile(empty)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(raw))
}
