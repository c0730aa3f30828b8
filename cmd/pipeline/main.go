package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"stockpipe/config"
	"stockpipe/internal/pipeline"
	"stockpipe/internal/stream"
	"stockpipe/logger"
	"stockpipe/pkg/provider"
	"stockpipe/pkg/rawstore"
	"stockpipe/pkg/storage/postgres"

	"go.uber.org/zap"
)

func main() {
	// viper config
	cfg := config.Load()

	// zap logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Warehouse (Postgres via gorm)
	pg, err := postgres.Initialize(cfg.Postgres, cfg.Log.Environment, true)
	if err != nil {
		log.Fatal("failed to initialize warehouse", zap.Error(err))
	}
	defer pg.Close()

	// Raw store (MinIO / S3)
	raw, err := rawstore.NewS3Store(ctx, cfg.S3)
	if err != nil {
		log.Fatal("failed to initialize raw store", zap.Error(err))
	}

	// Upstream provider
	rest := provider.NewRESTClient(cfg.Provider.REST.BaseURL, cfg.Provider.APIKey, cfg.Provider.REST.Timeout)

	specs, err := symbolSpecs(cfg.Pipeline.Symbols)
	if err != nil {
		log.Fatal("invalid symbol configuration", zap.Error(err))
	}

	coord := pipeline.New(rest, raw, pg, pg, pg, log, pipeline.Options{
		Symbols: specs,
		Workers: cfg.Pipeline.Workers,
		Retry: pipeline.RetryPolicy{
			MaxAttempts: cfg.Pipeline.Retry.MaxAttempts,
			BaseDelay:   cfg.Pipeline.Retry.BaseDelay,
			MaxDelay:    cfg.Pipeline.Retry.MaxDelay,
		},
		GapPolicy:    pipeline.GapPolicy(cfg.Pipeline.GapPolicy),
		CycleTimeout: cfg.Pipeline.CycleTimeout,
	})
	if err := coord.Start(ctx, cfg.Pipeline.TickSpec); err != nil {
		log.Fatal("failed to start coordinator", zap.Error(err))
	}
	defer coord.Stop()

	// Optional live quote stream, staged to the raw store for audit.
	var ws *provider.WSClient
	if cfg.Provider.WS.Enabled {
		var topics []string
		for _, s := range cfg.Pipeline.Symbols {
			if s.Enabled {
				topics = append(topics, "quote."+s.Symbol)
			}
		}
		ws = provider.NewWSClient(cfg.Provider.WS.URL, topics, log)
		ws.SetMessageHandler(stream.MakeQuoteHandler(log, raw))
		if err := ws.Connect(); err != nil {
			log.Fatal("failed to connect live stream", zap.Error(err))
		}
		go ws.Listen()
	}

	log.Info("stockpipe is running")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, stopping...")
	if ws != nil {
		ws.Close()
	}
	cancel()
}

// symbolSpecs converts configured symbols into coordinator specs, parsing
// each backfill start.
func symbolSpecs(symbols []config.SymbolConfig) ([]pipeline.SymbolSpec, error) {
	specs := make([]pipeline.SymbolSpec, 0, len(symbols))
	for _, s := range symbols {
		if s.Symbol == "" || s.Timeframe == "" {
			return nil, fmt.Errorf("symbol entry missing symbol or timeframe: %+v", s)
		}
		if s.Cadence <= 0 {
			return nil, fmt.Errorf("symbol %s: cadence must be positive", s.Symbol)
		}
		start, err := s.StartTime()
		if err != nil {
			return nil, err
		}
		specs = append(specs, pipeline.SymbolSpec{
			Symbol:    s.Symbol,
			Timeframe: s.Timeframe,
			Cadence:   s.Cadence,
			Enabled:   s.Enabled,
			Start:     start,
		})
	}
	return specs, nil
}
