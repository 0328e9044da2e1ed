package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	stdlog "log"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/username/coinfolio/src/config"
	"github.com/username/coinfolio/src/database"
	"github.com/username/coinfolio/src/engine"
	"github.com/username/coinfolio/src/logger"
	"github.com/username/coinfolio/src/parsers"
	"github.com/username/coinfolio/src/portfolio"
	"github.com/username/coinfolio/src/pricing"
	"github.com/username/coinfolio/src/reconciler"
	"github.com/username/coinfolio/src/storage"
)

func main() {
	source := flag.String("source", "binance", "transaction history source format")
	session := flag.String("session", "default", "session name; scopes the database, logs and snapshot")
	seed := flag.String("seed", "", "optional portfolio snapshot holding pre-history balances")
	flag.Parse()

	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)
	logger.L.Info("Coinfolio starting...", "session", *session, "source", *source)

	if err := os.MkdirAll(config.Cfg.DataDir, 0o755); err != nil {
		logger.L.Error("Failed to create data directory", "dir", config.Cfg.DataDir, "error", err)
		os.Exit(1)
	}

	dbPath := filepath.Join(config.Cfg.DataDir, *session+".db")
	logger.L.Info("Initializing database...", "path", dbPath)
	database.InitDB(dbPath)
	logger.L.Info("Database initialized successfully.")

	priceStore := pricing.NewStore(database.DB)
	var priceClient *pricing.Client
	if config.Cfg.PriceAPIBaseURL != "" {
		priceClient = pricing.NewClient(config.Cfg.PriceAPIBaseURL,
			config.Cfg.PriceFetchPerSec, config.Cfg.PriceFetchBurst)
		logger.L.Info("Remote price fetching enabled", "baseURL", config.Cfg.PriceAPIBaseURL)
	} else {
		logger.L.Info("Remote price fetching disabled; using stored quotes only")
	}
	oracle := pricing.NewService(priceStore, priceClient)

	operationStore := storage.NewOperationStore(database.DB)

	if files := flag.Args(); len(files) > 0 {
		parser, err := parsers.GetParser(*source)
		if err != nil {
			logger.L.Error("Unknown history source", "source", *source, "error", err)
			os.Exit(1)
		}
		rec := reconciler.New(oracle, operationStore, reconciler.Config{
			PriceDeviationLimit: config.Cfg.PriceDeviationLimit,
			FeeErrorWeight:      config.Cfg.FeeErrorWeight,
			MaxCombinationError: config.Cfg.MaxCombinationError,
		})
		for _, file := range files {
			if err := reconcileFile(rec, parser, file); err != nil {
				logger.L.Error("Failed to reconcile history file", "file", file, "error", err)
				stdlog.Fatalf("Failed to reconcile %s: %v", file, err)
			}
		}
	}

	operations, err := operationStore.AllOperations()
	if err != nil {
		logger.L.Error("Failed to load operations", "error", err)
		os.Exit(1)
	}
	logger.L.Info("Operations loaded", "count", len(operations))

	pf, err := seedPortfolio(*seed)
	if err != nil {
		logger.L.Error("Failed to seed portfolio", "snapshot", *seed, "error", err)
		os.Exit(1)
	}

	gainsLog, gainsClose, err := fileLogger(filepath.Join(config.Cfg.DataDir, *session+".gains.log"))
	if err != nil {
		logger.L.Error("Failed to open gains log", "error", err)
		os.Exit(1)
	}
	defer gainsClose()
	flowsLog, flowsClose, err := fileLogger(filepath.Join(config.Cfg.DataDir, *session+".movements.log"))
	if err != nil {
		logger.L.Error("Failed to open movements log", "error", err)
		os.Exit(1)
	}
	defer flowsClose()

	eng := engine.New(pf, oracle, engine.Options{
		IncludeFeeInCostBasis:  config.Cfg.IncludeFeeInCostBasis,
		FeePriceDayGranularity: config.Cfg.FeePriceDayGranularity,
		Gains:                  engine.SlogGainObserver{Log: gainsLog},
		Flows:                  engine.SlogFlowObserver{Log: flowsLog},
	})
	if err := eng.ProcessOperations(operations); err != nil {
		logger.L.Error("Processing failed", "error", err)
		stdlog.Fatalf("Processing failed: %v", err)
	}

	reportResults(eng)

	snapshotPath := filepath.Join(config.Cfg.DataDir, *session+".portfolio.json")
	if err := portfolio.SaveSnapshot(snapshotPath, pf.Export()); err != nil {
		logger.L.Error("Failed to write portfolio snapshot", "path", snapshotPath, "error", err)
		os.Exit(1)
	}
	logger.L.Info("Portfolio snapshot written", "path", snapshotPath)
}

func reconcileFile(rec *reconciler.Reconciler, parser parsers.Parser, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	records, err := parser.Parse(f)
	if err != nil {
		return fmt.Errorf("parse history file: %w", err)
	}
	logger.L.Info("History file parsed", "file", file, "records", len(records))

	ops, err := rec.Reconcile(records, filepath.Base(file))
	if err != nil {
		return err
	}
	logger.L.Info("History file reconciled", "file", file, "operations", len(ops))
	return nil
}

func seedPortfolio(path string) (*portfolio.Portfolio, error) {
	if path == "" {
		return portfolio.New(config.Cfg.ReferenceCurrency, nil)
	}
	snap, err := portfolio.LoadSnapshot(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.L.Warn("Seed snapshot not found, starting empty", "path", path)
			return portfolio.New(config.Cfg.ReferenceCurrency, nil)
		}
		return nil, err
	}
	logger.L.Info("Portfolio seeded from snapshot", "path", path, "positions", len(snap.Positions))
	return portfolio.FromSnapshot(snap)
}

func fileLogger(path string) (*slog.Logger, func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	l := slog.New(slog.NewJSONHandler(f, nil))
	return l, func() { f.Close() }, nil
}

func reportResults(eng *engine.Engine) {
	pf := eng.Portfolio()
	fmt.Printf("Operations processed: %d\n", eng.OperationsCount())
	fmt.Printf("Capital gain (%s):    %.2f\n", pf.Currency(), eng.CapitalGain())
	fmt.Printf("Fees paid (%s):       %.2f\n", pf.Currency(), eng.FeePaid())
	fmt.Printf("Balance (%s):         %.2f\n", pf.Currency(), pf.Total(pf.Currency()))
	fmt.Println("Holdings:")
	for _, pos := range pf.Positions(0) {
		if pos.Symbol != pf.Currency() && math.Abs(pos.Amount) <= 1e-3 {
			continue
		}
		fmt.Printf("  %-10s %14.8f  (cost %.2f)\n", pos.Symbol, pos.Amount, pos.Value())
	}
}
