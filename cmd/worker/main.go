package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/openoverheid/docpipe/config"
	"github.com/openoverheid/docpipe/internal/app"
	"github.com/openoverheid/docpipe/internal/broker/memq"
	"github.com/openoverheid/docpipe/internal/broker/redisq"
	"github.com/openoverheid/docpipe/internal/ledger"
	"github.com/openoverheid/docpipe/internal/pipeline"
	"github.com/openoverheid/docpipe/pkg/logger"
	"github.com/openoverheid/docpipe/pkg/storage"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to config file")
		stageFlag  = flag.String("stage", "all", "comma-separated stage names, or 'all'")
		local      = flag.Bool("local", false, "run on the in-memory broker and ledger")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	log, err := logger.NewLogger(
		logger.WithLevel(cfg.Log.Level),
		logger.WithEncoding(cfg.Log.Encoding),
		logger.WithOutputPaths(cfg.Log.OutputPaths),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	stageNames := pipeline.StageNames()
	if *stageFlag != "all" {
		stageNames = strings.Split(*stageFlag, ",")
		for i := range stageNames {
			stageNames[i] = strings.TrimSpace(stageNames[i])
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		b   app.Broker
		led ledger.Ledger
	)
	if *local {
		b = memq.New(memq.WithMaxDeliveries(cfg.Broker.MaxDeliveries))
		led = ledger.NewMemory()
		log.Info("Running on in-memory broker and ledger")
	} else {
		rb, err := redisq.New(ctx, cfg.Broker)
		if err != nil {
			log.Error("Failed to connect broker", logger.Error(err))
			os.Exit(1)
		}
		b = rb

		rl, err := ledger.NewRedis(ctx, cfg.Ledger)
		if err != nil {
			log.Error("Failed to connect status ledger", logger.Error(err))
			os.Exit(1)
		}
		defer rl.Close()
		led = rl
	}
	defer b.Close()

	var store storage.Storage
	if !*local && includes(stageNames, pipeline.StageIngestion) {
		store, err = storage.New(ctx, cfg.Storage, log)
		if err != nil {
			log.Error("Failed to connect object storage", logger.Error(err))
			os.Exit(1)
		}
	}

	a, err := app.New(cfg, b, led, store, log, stageNames...)
	if err != nil {
		log.Error("Failed to build pipeline", logger.Error(err))
		os.Exit(1)
	}
	defer a.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	log.Info("Worker started", logger.Strings("stages", stageNames))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info("Shutting down worker...")
		a.Stop()
		<-errCh
	case err := <-errCh:
		if err != nil {
			log.Error("Pipeline stopped with error", logger.Error(err))
			os.Exit(1)
		}
	}
	log.Info("Worker stopped")
}

func includes(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
