package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coursepay/internal/config"
	"coursepay/internal/handler"
	"coursepay/internal/infrastructure/cache"
	"coursepay/internal/infrastructure/database"
	"coursepay/internal/infrastructure/mq"
	"coursepay/internal/job"
	"coursepay/internal/logging"
	"coursepay/internal/metrics"
	"coursepay/pkg/idgen"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	nodeID := flag.Int64("node", 1, "snowflake node id of this instance")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log)

	if err := idgen.Init(*nodeID); err != nil {
		logger.Fatal().Err(err).Msg("init id generator")
	}

	db, err := database.Open(&cfg.Database, cfg.Server.Mode == "debug")
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("open database")
	}

	rdb, err := cache.NewRedis(&cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect redis")
	}
	if rdb == nil {
		logger.Warn().Msg("redis disabled, grant lock falls back to database constraints")
	} else {
		defer rdb.Close()
	}

	metrics.MustRegister()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := mq.NewKafkaPublisher(&cfg.Kafka)
		if err != nil {
			logger.Fatal().Err(err).Strs("brokers", cfg.Kafka.Brokers).Msg("connect kafka")
		}
		defer publisher.Close()

		outboxSender := job.NewOutboxSender(db, publisher, cfg, logger)
		go outboxSender.Start(ctx)
	} else {
		logger.Info().Msg("kafka brokers not configured, ledger events are not relayed")
	}

	checkoutTimeout := job.NewCheckoutTimeoutJob(db, logger)
	go checkoutTimeout.Start(ctx)

	checkoutReconcile := job.NewCheckoutReconcileJob(db, cfg, logger)
	go checkoutReconcile.Start(ctx)

	router := handler.SetupRouter(db, rdb, cfg, logger)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
	logger.Info().Msg("server stopped")
}
