// Package main is the entry point for the nivesh autonomous trading daemon.
// It wires the market-data fabric, the signal pipeline, the planner, the
// risk manager, the executor, and the auto-trader, then hands the trading
// day to the scheduler.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/niveshlabs/nivesh/internal/autotrader"
	"github.com/niveshlabs/nivesh/internal/clients/nseapi"
	"github.com/niveshlabs/nivesh/internal/clients/upstox"
	"github.com/niveshlabs/nivesh/internal/clients/yahoo"
	"github.com/niveshlabs/nivesh/internal/config"
	"github.com/niveshlabs/nivesh/internal/datafabric"
	"github.com/niveshlabs/nivesh/internal/domain"
	"github.com/niveshlabs/nivesh/internal/ensemble"
	"github.com/niveshlabs/nivesh/internal/executor"
	"github.com/niveshlabs/nivesh/internal/features"
	"github.com/niveshlabs/nivesh/internal/instruments"
	"github.com/niveshlabs/nivesh/internal/journal"
	"github.com/niveshlabs/nivesh/internal/markethours"
	"github.com/niveshlabs/nivesh/internal/models"
	"github.com/niveshlabs/nivesh/internal/mtf"
	"github.com/niveshlabs/nivesh/internal/planner"
	"github.com/niveshlabs/nivesh/internal/reliability"
	"github.com/niveshlabs/nivesh/internal/risk"
	"github.com/niveshlabs/nivesh/internal/scheduler"
	"github.com/niveshlabs/nivesh/internal/signals"
	"github.com/niveshlabs/nivesh/internal/strategy"
	"github.com/niveshlabs/nivesh/pkg/logger"
)

// instrumentURLs are the published exchange instrument masters.
var instrumentURLs = map[string]string{
	"NSE": "https://assets.upstox.com/market-quote/instruments/exchange/NSE.csv",
	"BSE": "https://assets.upstox.com/market-quote/instruments/exchange/BSE.csv",
}

// defaultUniverse scans the Nifty large caps when no watchlist file is
// configured.
var defaultUniverse = []string{
	"RELIANCE.NS", "TCS.NS", "HDFCBANK.NS", "INFY.NS", "ICICIBANK.NS",
	"SBIN.NS", "ITC.NS", "LT.NS", "BHARTIARTL.NS", "HINDUNILVR.NS",
}

const (
	focusListSize       = 10
	backupRetentionDays = 30
	cachePurgeAge       = 7 * 24 * time.Hour
	maintenanceSpec     = "30 16 * * MON-FRI"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	logger.SetGlobalLogger(log)
	log.Info().Str("mode", string(cfg.Mode)).Msg("Starting nivesh")

	tradingCfg, err := config.LoadTradingConfig(cfg.TradingConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load trading configuration")
	}

	hours := markethours.NewService()
	master := instruments.NewMaster(cfg.CacheDir, instrumentURLs, log)
	broker := upstox.NewClient(cfg.BrokerAPIKey, cfg.BrokerAPISecret, cfg.BrokerRedirect, log)

	// Data sources in failover order: broker first when credentialed, then
	// the exchange API, then the fallback historical source.
	var sources []datafabric.Source
	if cfg.BrokerAPIKey != "" {
		sources = append(sources, datafabric.NewBrokerSource(broker, master, log))
	}
	sources = append(sources, nseapi.NewClient(log), yahoo.NewClient(log))

	cache, err := datafabric.NewCache(cfg.CacheDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open market data cache")
	}
	fabric := datafabric.New(sources, cache, hours, log)

	registry, err := models.NewRegistry(filepath.Join(cfg.DataDir, "models"), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open model registry")
	}
	tracker, err := models.NewTracker(filepath.Join(cfg.DataDir, "pending_predictions.json"), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open prediction tracker")
	}

	engine := features.NewEngine(log)
	if featCache, err := features.NewCache(filepath.Join(cfg.CacheDir, "features"), log); err != nil {
		log.Warn().Err(err).Msg("Feature cache unavailable, computing frames every scan")
	} else {
		engine.WithCache(featCache)
	}

	generator := signals.NewGenerator(
		fabric,
		engine,
		registry,
		tracker,
		ensemble.NewCombiner(tradingCfg.QuantEnsembleMethod, log),
		strategy.NewFilter(log),
		mtf.NewAggregator(log),
		hours,
		tradingCfg,
		log,
	)

	jrnl, err := journal.Open(filepath.Join(cfg.DataDir, "journal.db"), hours.Location(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open trade journal")
	}
	defer jrnl.Close()

	paper, err := executor.NewPaperLedger(filepath.Join(cfg.DataDir, "paper_trading.json"), cfg.PaperBalance, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open paper ledger")
	}

	exec := executor.NewExecutor(broker, master, cfg.Mode, paper, tracker, jrnl, log)

	plans, err := planner.NewStore(filepath.Join(cfg.DataDir, "trade_plans.json"), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open trade plan store")
	}
	cooldowns, err := autotrader.NewCooldowns(filepath.Join(cfg.DataDir, "ticker_cooldowns.json"), tradingCfg.CooldownHoursAfterLoss, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cooldown store")
	}

	marks := newMarkCache()
	portfolio := snapshotFunc(cfg.Mode, paper, broker, fabric, jrnl, plans, hours, marks)

	trader := autotrader.New(
		generator,
		planner.NewPlanner(tradingCfg, log),
		plans,
		risk.NewManager(tradingCfg, log),
		exec,
		autotrader.NewCircuitBreaker(tradingCfg, log),
		cooldowns,
		tracker,
		hours,
		portfolio,
		tradingCfg,
		log,
	)
	exec.OnPnL(trader.UpdatePnL)

	universe := loadUniverse(cfg.WatchlistFile, log)
	trader.SetWatchlist(universe)
	trader.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backupSvc := buildBackup(ctx, cfg, log)

	sched := scheduler.New(hours.Location(), log)
	workflow := scheduler.NewWorkflow(scheduler.WorkflowDeps{
		Trader:    trader,
		Generator: generator,
		Executor:  exec,
		Journal:   jrnl,
		Portfolio: portfolio,
		Hours:     hours,
		Backup:    backupSvc.Run,
		Purge: func() error {
			cache.Purge(cachePurgeAge)
			return nil
		},
		ExportPath: filepath.Join(cfg.DataDir, "trade_journal.json"),
		Universe:   universe,
		TopN:       focusListSize,
	}, log)
	if err := workflow.Register(sched); err != nil {
		log.Fatal().Err(err).Msg("Failed to register daily workflow")
	}
	if err := sched.AddDaily(maintenanceSpec, reliability.NewMaintenance(jrnl, cfg.DataDir, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule maintenance")
	}
	sched.Start()
	log.Info().Int("universe", len(universe)).Msg("Scheduler started")

	if cfg.Mode == config.ModeLive {
		go streamMarks(ctx, broker, master, universe, marks, log)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")
	cancel()
	trader.Stop()
	sched.Stop()
	log.Info().Msg("Stopped")
}

// loadUniverse reads the newline-delimited watchlist file, falling back to
// the builtin universe.
func loadUniverse(path string, log zerolog.Logger) []string {
	if path == "" {
		return defaultUniverse
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to read watchlist, using default universe")
		return defaultUniverse
	}

	var tickers []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tickers = append(tickers, line)
	}
	if len(tickers) == 0 {
		log.Warn().Str("path", path).Msg("Watchlist is empty, using default universe")
		return defaultUniverse
	}
	return tickers
}

// markCache holds the latest streamed price per symbol.
type markCache struct {
	mu    sync.RWMutex
	price map[string]float64
}

func newMarkCache() *markCache {
	return &markCache{price: make(map[string]float64)}
}

func (m *markCache) set(symbol string, price float64) {
	m.mu.Lock()
	m.price[symbol] = price
	m.mu.Unlock()
}

func (m *markCache) get(symbol string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.price[symbol]
	return p, ok
}

// snapshotFunc builds the portfolio snapshot the risk manager and the scan
// loop consume. Paper mode reads the paper ledger; live mode reads the
// broker and recovers stop/target levels from the executed plan that opened
// each position. Position marks come from the streamed feed when available,
// a fabric quote otherwise.
func snapshotFunc(
	mode config.TradingMode,
	paper *executor.PaperLedger,
	broker *upstox.Client,
	fabric *datafabric.Fabric,
	jrnl *journal.Journal,
	plans *planner.Store,
	hours *markethours.Service,
	marks *markCache,
) autotrader.PortfolioFunc {
	return func(ctx context.Context) (risk.Snapshot, error) {
		var snap risk.Snapshot

		if mode == config.ModeLive {
			positions, err := broker.GetPositions(ctx)
			if err != nil {
				return snap, fmt.Errorf("failed to read broker positions: %w", err)
			}
			funds, err := broker.GetFunds(ctx)
			if err != nil {
				return snap, fmt.Errorf("failed to read broker funds: %w", err)
			}
			snap.Balance = funds
			for _, p := range positions {
				pos := domain.Position{
					Symbol:       p.Symbol,
					Quantity:     p.Quantity,
					AveragePrice: p.AveragePrice,
					CurrentPrice: p.LastPrice,
					Product:      p.Product,
				}
				if plan, err := plans.LatestExecuted(p.Symbol); err == nil && plan != nil {
					pos.StopLoss = plan.StopLoss
					pos.Target1 = plan.Target1
					pos.Target2 = plan.Target2
					pos.EntryTime = plan.CreatedAt
				}
				snap.Positions = append(snap.Positions, pos)
			}
		} else {
			balance, err := paper.Balance()
			if err != nil {
				return snap, err
			}
			positions, err := paper.Positions()
			if err != nil {
				return snap, err
			}
			snap.Balance = balance
			snap.Positions = positions
		}

		for i := range snap.Positions {
			pos := &snap.Positions[i]
			if price, ok := marks.get(pos.Symbol); ok {
				pos.CurrentPrice = price
				continue
			}
			if quote, err := fabric.GetQuote(ctx, pos.Symbol); err == nil {
				pos.CurrentPrice = quote.LastPrice
			}
		}

		today := time.Now().In(hours.Location())
		dayStart := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, hours.Location())
		if pnl, err := jrnl.PnLSince(ctx, dayStart); err == nil {
			snap.DailyPnL = pnl
		}
		return snap, nil
	}
}

// buildBackup returns the backup service; without a configured bucket it is
// a disabled no-op service.
func buildBackup(ctx context.Context, cfg *config.Config, log zerolog.Logger) *reliability.BackupService {
	if cfg.BackupBucket == "" {
		return reliability.NewBackupService(nil, cfg.DataDir, backupRetentionDays, log)
	}

	client, err := reliability.NewS3Client(ctx, cfg.BackupEndpoint, "", "", "", cfg.BackupBucket, log)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize backup bucket client, backups disabled")
		return reliability.NewBackupService(nil, cfg.DataDir, backupRetentionDays, log)
	}
	return reliability.NewBackupService(client, cfg.DataDir, backupRetentionDays, log)
}

// streamMarks keeps position marks fresh from the broker feed between
// scans. Reconnection is handled inside the feed client; this loop only
// restarts the subscription when the tick channel closes.
func streamMarks(
	ctx context.Context,
	broker *upstox.Client,
	master *instruments.Master,
	universe []string,
	marks *markCache,
	log zerolog.Logger,
) {
	keyToSymbol := make(map[domain.InstrumentKey]string, len(universe))
	keys := make([]domain.InstrumentKey, 0, len(universe))
	for _, ticker := range universe {
		inst, err := master.Resolve(ctx, ticker)
		if err != nil {
			log.Warn().Err(err).Str("ticker", ticker).Msg("Cannot stream unresolvable ticker")
			continue
		}
		keys = append(keys, inst.InstrumentKey)
		keyToSymbol[inst.InstrumentKey] = ticker
	}
	if len(keys) == 0 {
		return
	}

	feed := upstox.NewFeed("", broker.AccessToken, log)
	defer feed.Close()

	for ctx.Err() == nil {
		ticks, err := feed.Subscribe(ctx, keys)
		if err != nil {
			log.Warn().Err(err).Msg("Feed subscribe failed, retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(30 * time.Second):
			}
			continue
		}
		for tick := range ticks {
			if symbol, ok := keyToSymbol[tick.InstrumentKey]; ok && tick.LTP > 0 {
				marks.set(symbol, tick.LTP)
			}
		}
	}
}
