package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"riskdesk/internal/api"
	"riskdesk/internal/broker"
	"riskdesk/internal/config"
	"riskdesk/internal/desk"
	"riskdesk/internal/engine"
	"riskdesk/internal/gather"
	"riskdesk/internal/portfolio"
	"riskdesk/internal/quote"
	"riskdesk/internal/store"
	"riskdesk/internal/util"
)

func main() {
	cfgFlag := flag.String("config", "", "path to config file (overrides RISKDESK_CONFIG)")
	flag.Parse()

	cfgPath := "config/riskdesk.yaml"
	if p := os.Getenv("RISKDESK_CONFIG"); p != "" {
		cfgPath = p
	}
	if *cfgFlag != "" {
		cfgPath = *cfgFlag
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("riskdesk-trader starting", "config", cfgPath, "paper_mode", cfg.Trading.PaperMode)
	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("trader error: %v", err)
	}
	logger.Info("riskdesk-trader stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	journal, err := store.NewSQLiteStore(journalPath(cfg))
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer journal.Close()

	quotes := quote.NewBook()
	risk := engine.NewRiskManager(cfg.Trading.MaxPositionSize, cfg.Trading.MaxDailyLoss)
	risk.SetReferencePrices(quotes)

	var (
		b      broker.Broker
		ticks  gather.TickSink
		alpaca *broker.AlpacaBroker
	)
	seedCash := cfg.Portfolio.CashBalance
	if cfg.Trading.PaperMode {
		sim := broker.NewSimulatorBroker()
		sim.SetAutoFill(quotes)
		b, ticks = sim, sim
	} else {
		alpaca = broker.NewAlpacaBroker(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret,
			cfg.Alpaca.BaseURL, cfg.Alpaca.RatePerMin, logger)
		b, ticks = alpaca, alpaca
		if info, err := alpaca.Account(ctx); err != nil {
			logger.Warn("account snapshot unavailable, using configured cash", "error", err)
		} else {
			seedCash = info.Cash
			logger.Info("account snapshot", "account", info.AccountID,
				"cash", info.Cash, "net_liquidation", info.NetLiquidation)
		}
	}

	var md gather.MarketData
	if cfg.Alpaca.HasCredentials() {
		md = gather.NewClient(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL)
	} else {
		logger.Warn("no alpaca credentials, market data disabled")
	}

	acct := portfolio.NewAccount(seedCash)
	pm := portfolio.NewManager(cfg.Portfolio.InitialValue, logger)
	pm.SetCashSource(acct)

	var (
		bench *store.Benchmark
		bars  *gather.DailyBarGatherer
	)
	if cfg.Storage.DataDir != "" {
		ps := store.NewParquetStore(cfg.Storage.DataDir)
		bench = store.NewBenchmark(ps, cfg.Trading.BenchmarkSymbol, store.DefaultMarket, portfolio.MaxReturnWindow)
		if md != nil {
			bars = gather.NewDailyBarGatherer(md, ps, []string{cfg.Trading.BenchmarkSymbol},
				portfolio.MaxReturnWindow+1, cfg.Alpaca.DataFeed, logger)
		}
		refreshBenchmark(ctx, bench, bars, logger)
		pm.SetMarketReturns(bench)
	}

	e := engine.NewEngine(b, risk, logger)
	e.SetJournal(journal)
	d := desk.New(b, e, pm, acct, quotes, logger)

	svc := api.NewService(d, cfg.Portfolio.TargetAllocation, cfg.Trading.RebalanceThreshold, logger)
	srv := api.NewServer(cfg, svc, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.Run(ctx) })
	g.Go(func() error { return srv.ListenAndServe(ctx) })
	g.Go(func() error {
		addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
		return serveMetrics(ctx, addr, logger)
	})
	g.Go(func() error {
		return runDayClose(ctx, d, util.NewUSEquityCalendar(), bench, bars, logger)
	})
	if md != nil {
		targets := make([]string, 0, len(cfg.Portfolio.TargetAllocation))
		for sym := range cfg.Portfolio.TargetAllocation {
			targets = append(targets, sym)
		}
		poller := gather.NewQuotePoller(md, ticks, func() []string { return d.Symbols(targets...) },
			cfg.Alpaca.QuoteInterval, cfg.Alpaca.DataFeed, logger)
		g.Go(func() error {
			select {
			case <-d.Ready():
			case <-ctx.Done():
				return ctx.Err()
			}
			return poller.Run(ctx)
		})
	}
	if alpaca != nil {
		g.Go(func() error {
			select {
			case <-d.Ready():
			case <-ctx.Done():
				return ctx.Err()
			}
			if err := alpaca.Start(ctx); err != nil {
				return fmt.Errorf("starting alpaca: %w", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func journalPath(cfg *config.Config) string {
	if cfg.Storage.SQLitePath != "" {
		return cfg.Storage.SQLitePath
	}
	return filepath.Join(cfg.Storage.DataDir, "riskdesk.db")
}

// refreshBenchmark pulls the latest bars when a gatherer is configured and
// reloads the benchmark returns from the store.
func refreshBenchmark(ctx context.Context, bench *store.Benchmark, bars *gather.DailyBarGatherer, logger *slog.Logger) {
	now := time.Now()
	if bars != nil {
		n, err := bars.Run(ctx, now)
		if err != nil {
			logger.Warn("benchmark bar refresh incomplete", "symbol", bench.Symbol(), "bars", n, "error", err)
		}
	}
	n, err := bench.Load(ctx, now)
	if err != nil {
		logger.Warn("benchmark unavailable, beta defaults to 1", "symbol", bench.Symbol(), "error", err)
		return
	}
	logger.Info("benchmark loaded", "symbol", bench.Symbol(), "returns", n)
}

func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	httpServer := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics shutdown error", "error", err)
		}
	}()

	logger.Info("metrics server listening", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// runDayClose closes the session at every market close: it records the
// day's return, resets the daily PnL, and refreshes the benchmark.
func runDayClose(ctx context.Context, d *desk.Desk, cal *util.TradingCalendar, bench *store.Benchmark, bars *gather.DailyBarGatherer, logger *slog.Logger) error {
	for {
		next := cal.NextClose(time.Now().Add(time.Second))
		logger.Info("next session close", "at", next)

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		if r, ok := d.CloseDay(); ok {
			logger.Info("day closed", "return", r)
		}
		if bench != nil {
			refreshBenchmark(ctx, bench, bars, logger)
		}
	}
}
