// Package app assembles the collaborators shared by the API server, the
// worker and the CLI from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finsight/internal/blob"
	"github.com/dvloznov/finsight/internal/config"
	infraBQ "github.com/dvloznov/finsight/internal/infra/bigquery"
	"github.com/dvloznov/finsight/internal/llm"
	"github.com/dvloznov/finsight/internal/llm/gemini"
	"github.com/dvloznov/finsight/internal/llm/openai"
	"github.com/dvloznov/finsight/internal/notify"
	"github.com/dvloznov/finsight/internal/pdf"
	"github.com/dvloznov/finsight/internal/pipeline"
	"github.com/dvloznov/finsight/internal/store"
)

// App holds the wired dependencies of a process.
type App struct {
	Store    *store.Store
	Files    blob.FileStore
	Notifier *notify.Emitter
	Service  *pipeline.Service
	// Mirror is nil when analytics is disabled.
	Mirror *infraBQ.Mirror

	closers []func() error
	log     zerolog.Logger
}

// OpenStore connects to the configured database.
func OpenStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*store.Store, error) {
	return store.Open(ctx, store.Config{
		Dialect:     store.Dialect(cfg.Database.Driver),
		URL:         cfg.Database.URL,
		MaxConns:    cfg.Database.MaxConns,
		DialTimeout: 10 * time.Second,
	}, log)
}

// OpenFiles returns Cloud Storage when a bucket is configured and the local
// upload directory otherwise.
func OpenFiles(ctx context.Context, cfg *config.Config) (blob.FileStore, func() error, error) {
	if cfg.Storage.Bucket != "" {
		g, err := blob.NewGCS(ctx, cfg.Storage.Bucket, "uploads")
		if err != nil {
			return nil, nil, err
		}
		return g, g.Close, nil
	}
	l, err := blob.NewLocal(cfg.Storage.UploadDir)
	if err != nil {
		return nil, nil, err
	}
	return l, func() error { return nil }, nil
}

// NewParser creates the configured extraction model client.
func NewParser(ctx context.Context, cfg *config.Config, log zerolog.Logger) (llm.StatementParser, error) {
	switch cfg.LLM.Provider {
	case config.ProviderGemini:
		return gemini.New(ctx, gemini.Config{
			APIKey:  cfg.LLM.GeminiAPIKey,
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLM.Timeout,
		}, log)
	case config.ProviderOpenAI:
		return openai.NewClient(openai.Config{
			APIKey:  cfg.LLM.OpenAIAPIKey,
			BaseURL: cfg.LLM.OpenAIBaseURL,
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLM.Timeout,
		}, log), nil
	default:
		return nil, fmt.Errorf("NewParser: unsupported provider %q", cfg.LLM.Provider)
	}
}

// New wires the store, file storage, extraction model, notifications, the
// optional analytics mirror and the ingestion service.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{log: log}

	s, err := OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("app.New: open store: %w", err)
	}
	a.Store = s
	a.closers = append(a.closers, s.Close)

	files, closeFiles, err := OpenFiles(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app.New: open file storage: %w", err)
	}
	a.Files = files
	a.closers = append(a.closers, closeFiles)

	parser, err := NewParser(ctx, cfg, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app.New: %w", err)
	}

	deps := pipeline.Deps{
		Store: s,
		Files: files,
		Text:  pdf.NewTextExtractor(),
		Pages: pdf.NewRasterizer(pdf.RasterizerConfig{
			Pdftoppm: cfg.Ingest.PdftoppmPath,
			DPI:      cfg.Ingest.RenderDPI,
			MaxPages: cfg.Ingest.MaxPages,
		}, nil, log),
		Parser: parser,
	}

	a.Notifier = notify.NewEmitter(s, log)
	deps.Notifier = a.Notifier

	if cfg.Analytics.Project != "" {
		m, err := infraBQ.NewMirror(ctx, cfg.Analytics.Project, cfg.Analytics.Dataset, log)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app.New: open analytics mirror: %w", err)
		}
		a.Mirror = m
		a.closers = append(a.closers, m.Close)
		deps.Sink = m
	}

	a.Service = pipeline.NewService(deps, pipeline.Config{
		MinTextLength: cfg.Ingest.MinTextLength,
		MaxTextChars:  cfg.Ingest.MaxTextChars,
		JobTimeout:    cfg.Ingest.JobTimeout,
	}, log)
	return a, nil
}

// Close releases everything New opened, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.log.Error().Err(err).Msg("Failed to close resources")
		return err
	}
	return nil
}
