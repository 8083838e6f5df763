package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"limitless/internal/broker"
	"limitless/internal/calendar"
	"limitless/internal/config"
	"limitless/internal/domain"
	"limitless/internal/earnings"
	"limitless/internal/engine"
	"limitless/internal/event"
	"limitless/internal/httpapi"
	"limitless/internal/ledger"
	"limitless/internal/marketdata"
	"limitless/internal/risk"
	"limitless/internal/signal"
	"limitless/internal/store"
	"limitless/internal/util"
)

func main() {
	cfgPath := "config/limitless.yaml"
	if p := os.Getenv("LIMITLESS_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	slog.SetDefault(logger)

	fmt.Printf("limitless-trader starting (paper_mode=%v, watchlist=%d symbols)\n",
		cfg.Trading.PaperMode, len(cfg.Trading.Watchlist))

	sqlStore, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening sqlite store: %v", err)
	}
	defer sqlStore.Close()

	journal := store.NewJournalArchive(cfg.Storage.DataDir)

	var auditor *util.Auditor
	if cfg.Storage.AuditPath != "" {
		auditor = util.NewAuditor(cfg.Storage.AuditPath)
	}

	cal, err := calendar.New(calendar.Windows{
		MorningStart:  cfg.Windows.MorningStart,
		MorningEnd:    cfg.Windows.MorningEnd,
		PowerStart:    cfg.Windows.PowerStart,
		PowerEnd:      cfg.Windows.PowerEnd,
		FridayFlatten: cfg.Windows.FridayFlatten,
	})
	if err != nil {
		log.Fatalf("building trading calendar: %v", err)
	}
	if cfg.Alpaca.APIKey != "" {
		ac := alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    cfg.Alpaca.APIKey,
			APISecret: cfg.Alpaca.APISecret,
			BaseURL:   cfg.Alpaca.BaseURL,
		})
		now := time.Now()
		if err := cal.LoadHolidays(ac, now, now.AddDate(0, 3, 0)); err != nil {
			logger.Warn("loading exchange holidays, weekends only", "error", err)
		}
	}

	led, err := ledger.New(cfg.Trading.InitialCash, cal.SettlementDate, sqlStore, logger)
	if err != nil {
		log.Fatalf("initializing settlement ledger: %v", err)
	}
	caps := risk.NewTracker(risk.Caps(cfg.Caps), sqlStore, logger)

	var brokerClient broker.Client
	if cfg.Trading.PaperMode {
		sim := broker.NewSimulator()
		sim.SetAccount(domain.AccountInfo{
			Equity: cfg.Trading.InitialCash,
			Cash:   cfg.Trading.InitialCash,
		})
		brokerClient = sim
	} else {
		brokerClient = broker.NewAlpaca(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL, logger)
	}
	logger.Info("broker selected", "name", brokerClient.Name())

	feed := marketdata.SelectFeed(cfg.Alpaca.Feed, cfg.Alpaca.BaseURL)
	md := marketdata.NewClient(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, feed, logger)
	signals := signal.NewIndicators(md, cfg.Strategy, cal.Location())

	var earningsGate engine.EarningsGate
	if cfg.Finnhub.SkipEarningsDay {
		earningsGate = earnings.New(cfg.Finnhub.APIKey, cfg.Finnhub.SkipNextDay, logger)
	}

	bridge := event.NewBridge(logger)
	go bridge.Run()

	eng := engine.New(engine.Deps{
		Config:   cfg,
		Broker:   brokerClient,
		Signals:  signals,
		Prices:   md,
		Ledger:   led,
		Caps:     caps,
		Calendar: cal,
		Earnings: earningsGate,
		Bridge:   bridge,
		Audit:    sqlStore,
		Journal:  journal,
		Auditor:  auditor,
		Log:      logger,
	})

	ctx, cancel := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eng.Start(ctx)

	api := httpapi.NewServer(eng, led, caps, bridge, sqlStore, cfg.Server.ControlToken, logger)
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: api.Handler(),
	}
	go func() {
		logger.Info("status API listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("status API", "error", err)
		}
	}()

	<-ctx.Done()
	fmt.Println("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}

	eng.Stop()
	bridge.Close()
	if err := journal.Flush(); err != nil {
		logger.Warn("flushing fill journal", "error", err)
	}
}
