package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finsight/internal/domain"
	"github.com/dvloznov/finsight/internal/jobs"
	"github.com/dvloznov/finsight/internal/llm"
	"github.com/dvloznov/finsight/internal/logger"
	"github.com/dvloznov/finsight/internal/store"
)

// Config tunes the ingestion service. Zero values mean the defaults.
type Config struct {
	MinTextLength int
	MaxTextChars  int
	JobTimeout    time.Duration
}

// Deps are the collaborators of the ingestion service. Sink is optional.
type Deps struct {
	Store    Store
	Files    FileReader
	Text     TextExtractor
	Pages    PageSource
	Parser   llm.StatementParser
	Notifier Notifier
	Sink     TransactionSink
}

// Result describes a completed ingestion.
type Result struct {
	Statement        *domain.Statement
	TransactionCount int
	Dropped          int
	Path             ExtractionPath
}

// Service runs statement ingestion for both the synchronous upload path
// and queued jobs.
type Service struct {
	deps     Deps
	cfg      Config
	pipeline *Pipeline
	log      zerolog.Logger
}

// NewService creates a new ingestion service.
func NewService(deps Deps, cfg Config, log zerolog.Logger) *Service {
	if cfg.MinTextLength <= 0 {
		cfg.MinTextLength = DefaultMinTextLength
	}
	if cfg.MaxTextChars <= 0 {
		cfg.MaxTextChars = llm.DefaultMaxTextChars
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	return &Service{
		deps:     deps,
		cfg:      cfg,
		pipeline: NewIngestionPipeline(deps, cfg, log),
		log:      log,
	}
}

// NewIngestionPipeline creates the standard four-step ingestion pipeline.
func NewIngestionPipeline(deps Deps, cfg Config, log zerolog.Logger) *Pipeline {
	return NewPipeline(
		&SelectExtractionPathStep{
			Text:          deps.Text,
			Pages:         deps.Pages,
			MinTextLength: cfg.MinTextLength,
			MaxTextChars:  cfg.MaxTextChars,
			Log:           log,
		},
		&ParseStatementStep{Parser: deps.Parser},
		&NormalizeTransactionsStep{Log: log},
		&PersistResultsStep{Store: deps.Store},
	)
}

// Ingest extracts, persists and announces the transactions of st from the
// PDF content. On failure the statement is marked failed, a failure
// notification is created and the error is returned.
func (s *Service) Ingest(ctx context.Context, st *domain.Statement, content []byte) (*Result, error) {
	log := logger.ForStatement(s.log, st.ID, st.UserID)
	ctx = logger.WithContext(ctx, log)
	start := time.Now()

	state := &PipelineState{Statement: st, PDF: content}
	if err := s.pipeline.Execute(ctx, state); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Warn().Err(err).Msg("Statement deleted during processing, dropping result")
			return nil, err
		}
		log.Error().Err(err).Str("path", string(state.Path)).Msg("Statement ingestion failed")
		s.fail(ctx, st, err)
		return nil, err
	}

	count := len(state.Transactions)
	log.Info().
		Str("path", string(state.Path)).
		Int("transactions", count).
		Int("dropped", state.Dropped).
		Dur("duration", time.Since(start)).
		Msg("Statement ingested")

	completed := s.reload(ctx, st, state.Parsed.Metadata)

	if err := s.deps.Notifier.StatementProcessed(ctx, completed, count); err != nil {
		log.Error().Err(err).Msg("Failed to create processed notification")
	}
	if s.deps.Sink != nil && count > 0 {
		if err := s.deps.Sink.MirrorTransactions(ctx, completed, state.Transactions); err != nil {
			log.Warn().Err(err).Msg("Failed to mirror transactions")
		}
	}

	return &Result{
		Statement:        completed,
		TransactionCount: count,
		Dropped:          state.Dropped,
		Path:             state.Path,
	}, nil
}

// reload returns the stored statement after completion, or an in-memory
// copy with the same changes applied if it cannot be read back.
func (s *Service) reload(ctx context.Context, st *domain.Statement, meta domain.StatementMetadata) *domain.Statement {
	if fresh, err := s.deps.Store.GetStatement(ctx, st.ID); err == nil {
		return fresh
	}
	out := *st
	out.Status = domain.StatusCompleted
	out.ProcessingError = nil
	if meta.BankName != nil {
		out.BankName = meta.BankName
	}
	if meta.PeriodStart != nil {
		out.PeriodStart = meta.PeriodStart
	}
	if meta.PeriodEnd != nil {
		out.PeriodEnd = meta.PeriodEnd
	}
	return &out
}

// fail records cause on st. It runs on a context detached from ctx so a job
// that hit its deadline is still marked failed.
func (s *Service) fail(ctx context.Context, st *domain.Statement, cause error) {
	log := logger.FromContext(ctx)
	msg := FailureMessage(cause)

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	if err := s.deps.Store.FailStatement(fctx, st.ID, msg); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Warn().Msg("Statement deleted before failure could be recorded")
			return
		}
		log.Error().Err(err).Msg("Failed to mark statement failed")
	}
	st.Status = domain.StatusFailed
	st.ProcessingError = &msg

	if err := s.deps.Notifier.StatementFailed(fctx, st, msg); err != nil {
		log.Error().Err(err).Msg("Failed to create failure notification")
	}
}

// IngestUpload is the synchronous path: it creates the statement in the
// processing state and ingests content before returning. On an ingestion
// failure the failed statement is returned along with the error.
func (s *Service) IngestUpload(ctx context.Context, userID, filename string, content []byte) (*Result, *domain.Statement, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	st, err := s.deps.Store.CreateStatement(ctx, store.NewStatement{
		UserID:   userID,
		Filename: filename,
		Status:   domain.StatusProcessing,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("IngestUpload: %w", err)
	}

	res, err := s.Ingest(ctx, st, content)
	if err != nil {
		return nil, st, fmt.Errorf("IngestUpload: %w", err)
	}
	return res, res.Statement, nil
}

// ProcessJob is the queue handler for the asynchronous path. Extraction
// failures are recorded on the statement and not returned; the uploaded
// file is deleted on every exit path. Jobs for statements that are already
// completed or failed are dropped, so a redelivery is harmless.
func (s *Service) ProcessJob(ctx context.Context, job *jobs.ProcessStatementJob) error {
	log := logger.ForStatement(s.log, job.StatementID, job.UserID)
	defer s.releaseFile(ctx, job.FilePath, log)

	st, err := s.deps.Store.GetStatement(ctx, job.StatementID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn().Msg("Statement no longer exists, dropping job")
		return nil
	}
	if err != nil {
		return fmt.Errorf("ProcessJob: load statement: %w", err)
	}
	if st.UserID != job.UserID {
		log.Warn().Str("owner", st.UserID).Msg("Job owner does not match statement, dropping job")
		return nil
	}
	// A redelivered job for a finished statement must not touch it again.
	if st.Status.IsTerminal() {
		log.Info().Str("status", string(st.Status)).Msg("Statement already processed, dropping redelivered job")
		return nil
	}

	if err := s.deps.Store.MarkProcessing(ctx, st.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Warn().Msg("Statement deleted before processing, dropping job")
			return nil
		}
		return fmt.Errorf("ProcessJob: mark processing: %w", err)
	}
	st.Status = domain.StatusProcessing
	log.Info().Str("filename", st.Filename).Msg("Processing statement")

	jobCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	content, err := s.deps.Files.Read(jobCtx, job.FilePath)
	if err != nil {
		log.Error().Err(err).Str("file", job.FilePath).Msg("Failed to read uploaded file")
		s.fail(logger.WithContext(jobCtx, log), st, fmt.Errorf("read upload: %w", err))
		return nil
	}

	// Ingest records its own failures.
	_, _ = s.Ingest(jobCtx, st, content)
	return nil
}

func (s *Service) releaseFile(ctx context.Context, uri string, log zerolog.Logger) {
	if uri == "" || s.deps.Files == nil {
		return
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()
	if err := s.deps.Files.Delete(dctx, uri); err != nil {
		log.Warn().Err(err).Str("file", uri).Msg("Failed to delete uploaded file")
	}
}
