package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/finsight/internal/app"
	"github.com/dvloznov/finsight/internal/config"
	jobsamqp "github.com/dvloznov/finsight/internal/jobs/amqp"
	"github.com/dvloznov/finsight/internal/logger"
)

func main() {
	cfg := config.Load()
	log := logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	if err := cfg.Validate(config.RoleWorker); err != nil {
		log.Fatal().Err(err).Msg("Refusing to start")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer a.Close()

	queue, err := jobsamqp.Dial(cfg.Queue.BrokerURL, cfg.Queue.Name, log)
	if err != nil {
		a.Close()
		log.Fatal().Err(err).Msg("Failed to connect to broker")
	}
	defer queue.Close()

	log.Info().Str("queue", cfg.Queue.Name).Msg("Starting worker service")

	// Start consuming jobs
	if err := queue.Start(ctx, a.Service.ProcessJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	log.Info().Msg("Worker service started, waiting for jobs...")

	// Wait for interrupt signal or a lost broker connection
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	exitCode := 0
	select {
	case <-quit:
		log.Info().Msg("Shutting down worker service...")
	case err := <-queue.Err():
		log.Error().Err(err).Msg("Broker connection lost")
		exitCode = 1
	}

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop the queue and wait for in-flight jobs
	if err := queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}
	cancel()

	log.Info().Msg("Worker service exited")
	if exitCode != 0 {
		queue.Close()
		a.Close()
		os.Exit(exitCode)
	}
}
