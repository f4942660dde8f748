package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openoverheid/docpipe/api/handlers"
	"github.com/openoverheid/docpipe/api/routes"
	"github.com/openoverheid/docpipe/config"
	"github.com/openoverheid/docpipe/internal/broker/redisq"
	"github.com/openoverheid/docpipe/internal/ledger"
	"github.com/openoverheid/docpipe/internal/pipeline"
	"github.com/openoverheid/docpipe/internal/stages/searchindex"
	"github.com/openoverheid/docpipe/pkg/logger"
	"github.com/openoverheid/docpipe/pkg/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := redisq.New(ctx, cfg.Broker)
	if err != nil {
		log.Error("Failed to connect broker", logger.Error(err))
		os.Exit(1)
	}
	defer b.Close()

	led, err := ledger.NewRedis(ctx, cfg.Ledger)
	if err != nil {
		log.Error("Failed to connect status ledger", logger.Error(err))
		os.Exit(1)
	}
	defer led.Close()

	store, err := storage.New(ctx, cfg.Storage, log)
	if err != nil {
		log.Error("Failed to connect object storage", logger.Error(err))
		os.Exit(1)
	}

	h := handlers.NewHandlers(b.Publisher(pipeline.StageIngestion), store, led, searchindex.NewClient(cfg.Solr), log)
	r := gin.New()
	r.Use(gin.Recovery())
	routes.SetupRoutes(r, h)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}

	go func() {
		log.Info("Server starting", logger.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logger.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Forced shutdown", logger.Error(err))
	}
	log.Info("Server stopped")
}
