package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/finsight/internal/api"
	"github.com/dvloznov/finsight/internal/api/handlers"
	"github.com/dvloznov/finsight/internal/app"
	"github.com/dvloznov/finsight/internal/config"
	"github.com/dvloznov/finsight/internal/export"
	"github.com/dvloznov/finsight/internal/jobs"
	jobsamqp "github.com/dvloznov/finsight/internal/jobs/amqp"
	"github.com/dvloznov/finsight/internal/jobs/inmemory"
	"github.com/dvloznov/finsight/internal/logger"
	"github.com/dvloznov/finsight/internal/notify"
)

func main() {
	cfg := config.Load()
	log := logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	if err := cfg.Validate(config.RoleAPI); err != nil {
		log.Fatal().Err(err).Msg("Refusing to start")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer a.Close()

	if n, err := a.Store.Migrate(ctx, "api"); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	} else if n > 0 {
		log.Info().Int("applied", n).Msg("Applied migrations")
	}

	g, gctx := errgroup.WithContext(ctx)

	// Initialize job infrastructure
	var publisher jobs.Publisher
	var consumer jobs.Consumer
	switch cfg.Queue.Backend {
	case config.QueueMemory:
		q := inmemory.NewQueue(cfg.Queue.Buffer, 1, log)
		publisher, consumer = q, q
		log.Info().Msg("Using in-process job queue")
	default:
		q, err := jobsamqp.Dial(cfg.Queue.BrokerURL, cfg.Queue.Name, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to broker")
		}
		publisher = q
		g.Go(func() error {
			select {
			case err, ok := <-q.Err():
				if ok && err != nil {
					return err
				}
				return errors.New("broker connection closed")
			case <-gctx.Done():
				return nil
			}
		})
	}
	defer publisher.Close()

	if consumer != nil {
		if err := consumer.Start(gctx, a.Service.ProcessJob); err != nil {
			log.Fatal().Err(err).Msg("Failed to start in-process worker")
		}
	}

	statements := handlers.NewStatementsHandler(handlers.StatementsDeps{
		Store:          a.Store,
		Files:          a.Files,
		Publisher:      publisher,
		Ingestor:       a.Service,
		Exporter:       export.NewService(a.Store, log),
		Mirror:         mirror(a),
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	}, log)
	notifications := handlers.NewNotificationsHandler(
		a.Store,
		notify.NewStreamer(a.Store, cfg.Notify.PollInterval, log),
		log,
	)

	server := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: api.NewRouter(api.Handlers{
			Statements:    statements,
			Notifications: notifications,
			DB:            a.Store,
		}, log),
		ReadTimeout: 60 * time.Second,
		// Synchronous uploads run the whole pipeline inside the request.
		WriteTimeout: cfg.Ingest.JobTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g.Go(func() error {
		log.Info().Str("port", cfg.Server.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		if consumer != nil {
			if err := consumer.Stop(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Error stopping job queue")
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
		a.Close()
		os.Exit(1)
	}
	log.Info().Msg("Server exited")
}

// mirror returns the analytics mirror as a handler dependency, keeping a
// nil mirror a nil interface.
func mirror(a *app.App) handlers.StatementMirror {
	if a.Mirror == nil {
		return nil
	}
	return a.Mirror
}
