// Package main is the scan/signal CLI: generate signals for a set of
// tickers, optionally on a loop, and report component health.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/spf13/cobra"

	"github.com/niveshlabs/nivesh/internal/clients/nseapi"
	"github.com/niveshlabs/nivesh/internal/clients/upstox"
	"github.com/niveshlabs/nivesh/internal/clients/yahoo"
	"github.com/niveshlabs/nivesh/internal/config"
	"github.com/niveshlabs/nivesh/internal/datafabric"
	"github.com/niveshlabs/nivesh/internal/domain"
	"github.com/niveshlabs/nivesh/internal/ensemble"
	"github.com/niveshlabs/nivesh/internal/features"
	"github.com/niveshlabs/nivesh/internal/instruments"
	"github.com/niveshlabs/nivesh/internal/markethours"
	"github.com/niveshlabs/nivesh/internal/models"
	"github.com/niveshlabs/nivesh/internal/mtf"
	"github.com/niveshlabs/nivesh/internal/signals"
	"github.com/niveshlabs/nivesh/internal/strategy"
	"github.com/niveshlabs/nivesh/pkg/logger"
)

const exitInterrupt = 130

var (
	flagTickers    []string
	flagFile       string
	flagWatchlist  bool
	flagContinuous bool
	flagInterval   int
	flagSave       bool
	flagNoElite    bool
	flagStatus     bool
)

var (
	cfg        *config.Config
	tradingCfg config.TradingConfig
	log        zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:          "scan",
	Short:        "Generate trading signals for NSE/BSE tickers",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		tradingCfg, err = config.LoadTradingConfig(cfg.TradingConfig)
		if err != nil {
			return err
		}
		if flagNoElite {
			tradingCfg.SignalSource = config.SourceQuant
		}
		log = logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true})
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagStatus {
			return runStatus(cmd.Context())
		}
		tickers, err := selectTickers()
		if err != nil {
			return err
		}
		return runScan(cmd.Context(), tickers)
	},
}

func init() {
	rootCmd.Flags().StringSliceVar(&flagTickers, "tickers", nil, "tickers to scan (comma separated or repeated)")
	rootCmd.Flags().StringVar(&flagFile, "file", "", "newline-delimited ticker file")
	rootCmd.Flags().BoolVar(&flagWatchlist, "watchlist", false, "scan the configured watchlist")
	rootCmd.Flags().BoolVar(&flagContinuous, "continuous", false, "rescan on an interval until interrupted")
	rootCmd.Flags().IntVar(&flagInterval, "interval", 5, "minutes between continuous scans")
	rootCmd.Flags().BoolVar(&flagSave, "save", false, "write signals_<timestamp>.json to the data directory")
	rootCmd.Flags().BoolVar(&flagNoElite, "no-elite", false, "disable the multi-timeframe path, quant baseline only")
	rootCmd.Flags().BoolVar(&flagStatus, "status", false, "print component and host health instead of scanning")
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		cancel()
		// Give the in-flight scan a moment to observe cancellation.
		time.Sleep(200 * time.Millisecond)
		os.Exit(exitInterrupt)
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// selectTickers resolves the input-selection flags, in precedence order
// --tickers, --file, --watchlist.
func selectTickers() ([]string, error) {
	if len(flagTickers) > 0 {
		return flagTickers, nil
	}
	path := flagFile
	if path == "" {
		if !flagWatchlist {
			return nil, fmt.Errorf("no tickers given: use --tickers, --file, or --watchlist")
		}
		path = cfg.WatchlistFile
		if path == "" {
			return nil, fmt.Errorf("--watchlist requires NIVESH_WATCHLIST to be set")
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ticker file: %w", err)
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
		return nil, fmt.Errorf("ticker file %s is empty", path)
	}
	return tickers, nil
}

// buildPipeline wires the read-only signal pipeline the CLI uses.
func buildPipeline() (*signals.Generator, *signals.Store, *markethours.Service, error) {
	hours := markethours.NewService()
	master := instruments.NewMaster(cfg.CacheDir, nil, log)
	broker := upstox.NewClient(cfg.BrokerAPIKey, cfg.BrokerAPISecret, cfg.BrokerRedirect, log)

	var sources []datafabric.Source
	if cfg.BrokerAPIKey != "" {
		sources = append(sources, datafabric.NewBrokerSource(broker, master, log))
	}
	sources = append(sources, nseapi.NewClient(log), yahoo.NewClient(log))

	cache, err := datafabric.NewCache(cfg.CacheDir, log)
	if err != nil {
		return nil, nil, nil, err
	}
	fabric := datafabric.New(sources, cache, hours, log)

	registry, err := models.NewRegistry(filepath.Join(cfg.DataDir, "models"), log)
	if err != nil {
		return nil, nil, nil, err
	}
	tracker, err := models.NewTracker(filepath.Join(cfg.DataDir, "pending_predictions.json"), log)
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := signals.NewStore(filepath.Join(cfg.DataDir, "signals_cache.json"), log)
	if err != nil {
		return nil, nil, nil, err
	}

	engine := features.NewEngine(log)
	if featCache, err := features.NewCache(filepath.Join(cfg.CacheDir, "features"), log); err != nil {
		log.Warn().Err(err).Msg("Feature cache unavailable, computing frames every scan")
	} else {
		engine.WithCache(featCache)
	}

	gen := signals.NewGenerator(
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
	return gen, store, hours, nil
}

func runScan(ctx context.Context, tickers []string) error {
	gen, store, _, err := buildPipeline()
	if err != nil {
		return err
	}
	if flagInterval < 1 {
		flagInterval = 1
	}

	for {
		scanOnce(ctx, gen, store, tickers)
		if !flagContinuous {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Duration(flagInterval) * time.Minute):
		}
	}
}

// scanOnce generates and prints one signal per ticker.
func scanOnce(ctx context.Context, gen *signals.Generator, store *signals.Store, tickers []string) {
	results := make(map[string]domain.MultiTimeframeSignal, len(tickers))
	ok, warn, errs := 0, 0, 0

	for _, ticker := range tickers {
		if ctx.Err() != nil {
			return
		}
		sig, err := gen.Generate(ctx, ticker)
		if err != nil {
			fmt.Printf("[ERROR] %-14s %v\n", ticker, err)
			errs++
			continue
		}
		results[ticker] = *sig
		if err := store.Put(sig); err != nil {
			log.Warn().Err(err).Str("ticker", ticker).Msg("Failed to cache signal")
		}

		line := fmt.Sprintf("%-14s %-12s p=%.2f conf=%.2f entry=%.2f stop=%.2f",
			ticker, sig.ConsensusSignal, sig.Probability, sig.Confidence,
			sig.Levels.Entry, sig.Levels.StopLoss)
		switch {
		case !sig.ConsensusSignal.Directional():
			fmt.Printf("[WARN]  %s (no directional consensus)\n", line)
			warn++
		case sig.Confidence < tradingCfg.ConfidenceThreshold:
			fmt.Printf("[WARN]  %s (below execution threshold)\n", line)
			warn++
		default:
			fmt.Printf("[OK]    %s\n", line)
			ok++
		}
	}

	fmt.Printf("\nscanned %d: %d ok, %d warn, %d error\n", len(tickers), ok, warn, errs)

	if flagSave && len(results) > 0 {
		path := filepath.Join(cfg.DataDir, fmt.Sprintf("signals_%s.json", time.Now().Format("20060102_150405")))
		if err := writeJSON(path, results); err != nil {
			fmt.Fprintf(os.Stderr, "failed to save signals: %v\n", err)
		} else {
			fmt.Printf("saved %s\n", path)
		}
	}
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// runStatus prints per-component health plus host CPU, memory, and disk.
func runStatus(ctx context.Context) error {
	hours := markethours.NewService()
	now := time.Now().In(hours.Location())

	fmt.Println("nivesh component health")
	fmt.Println("-----------------------")

	statusLine("market session", true, string(hours.SessionAt(now)))

	if cfg.BrokerAPIKey == "" {
		statusLine("broker", false, "no credentials configured (paper data sources only)")
	} else {
		broker := upstox.NewClient(cfg.BrokerAPIKey, cfg.BrokerAPISecret, cfg.BrokerRedirect, log)
		if _, err := broker.GetProfile(ctx); err != nil {
			statusLine("broker", false, err.Error())
		} else {
			statusLine("broker", true, "connected")
		}
	}

	if err := checkWritable(cfg.CacheDir); err != nil {
		statusLine("cache dir", false, err.Error())
	} else {
		statusLine("cache dir", true, cfg.CacheDir)
	}

	registry, err := models.NewRegistry(filepath.Join(cfg.DataDir, "models"), log)
	if err != nil {
		statusLine("model registry", false, err.Error())
	} else if records, err := registry.Records(); err != nil {
		statusLine("model registry", false, err.Error())
	} else {
		statusLine("model registry", true, fmt.Sprintf("%d models", len(records)))
	}

	fmt.Println()
	fmt.Println("host")
	fmt.Println("----")
	if pct, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(pct) > 0 {
		fmt.Printf("  cpu    %5.1f%%\n", pct[0])
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		fmt.Printf("  memory %5.1f%% of %.1f GB\n", vm.UsedPercent, float64(vm.Total)/1e9)
	}
	if du, err := disk.Usage(cfg.DataDir); err == nil {
		fmt.Printf("  disk   %5.1f%% used, %.1f GB free\n", du.UsedPercent, float64(du.Free)/1e9)
	}
	return nil
}

func statusLine(component string, healthy bool, detail string) {
	mark := "[OK]   "
	if !healthy {
		mark = "[ERROR]"
	}
	fmt.Printf("%s %-15s %s\n", mark, component, detail)
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	probe := filepath.Join(dir, ".health")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return err
	}
	return os.Remove(probe)
}
