package pipeline

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finsight/internal/domain"
	"github.com/dvloznov/finsight/internal/llm"
)

// SelectExtractionPathStep reads the text layer and falls back to page
// images when it is too short to hold a statement.
type SelectExtractionPathStep struct {
	Text          TextExtractor
	Pages         PageSource
	MinTextLength int
	MaxTextChars  int
	Log           zerolog.Logger
}

func (s *SelectExtractionPathStep) Name() string { return "select extraction path" }

func (s *SelectExtractionPathStep) Execute(ctx context.Context, state *PipelineState) error {
	text, err := s.Text.ExtractText(state.PDF)
	if err != nil {
		s.Log.Warn().Err(err).Msg("Text layer unreadable, rendering pages instead")
		text = ""
	}
	text = strings.TrimSpace(text)

	if utf8.RuneCountInString(text) >= s.MinTextLength {
		state.Path = PathText
		state.Input = llm.Input{
			Text:     llm.TruncateText(text, s.MaxTextChars),
			Filename: state.Statement.Filename,
		}
		s.Log.Debug().Int("text_runes", utf8.RuneCountInString(text)).Msg("Using text extraction")
		return nil
	}

	images := slices.Collect(s.Pages.Pages(ctx, state.PDF))
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(images) == 0 {
		return ErrUnrenderable
	}
	state.Path = PathVision
	state.Input = llm.Input{Images: images, Filename: state.Statement.Filename}
	s.Log.Debug().Int("pages", len(images)).Msg("Using vision extraction")
	return nil
}

// ParseStatementStep sends the selected input to the structured-data extractor.
type ParseStatementStep struct {
	Parser llm.StatementParser
}

func (s *ParseStatementStep) Name() string { return "parse statement" }

func (s *ParseStatementStep) Execute(ctx context.Context, state *PipelineState) error {
	parsed, err := s.Parser.ParseStatement(ctx, state.Input)
	if err != nil {
		return fmt.Errorf("extract transactions: %w", err)
	}
	if parsed == nil {
		parsed = &domain.ParsedStatement{}
	}
	state.Parsed = parsed
	return nil
}

// NormalizeTransactionsStep binds parsed rows to the statement and drops
// any that break the stored-transaction invariants.
type NormalizeTransactionsStep struct {
	NewID func() string
	Log   zerolog.Logger
}

func (s *NormalizeTransactionsStep) Name() string { return "normalize transactions" }

func (s *NormalizeTransactionsStep) Execute(ctx context.Context, state *PipelineState) error {
	newID := s.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	st := state.Statement

	txs := make([]domain.Transaction, 0, len(state.Parsed.Transactions))
	dropped := state.Parsed.Dropped
	for _, p := range state.Parsed.Transactions {
		tx := domain.Transaction{
			ID:          newID(),
			UserID:      st.UserID,
			StatementID: st.ID,
			Date:        p.Date,
			Description: strings.TrimSpace(p.Description),
			Amount:      domain.NormalizeAmount(p.Amount),
			Type:        p.Type,
			Category:    domain.NormalizeCategory(string(p.Category)),
		}
		if err := tx.Validate(); err != nil {
			s.Log.Debug().Err(err).Msg("Dropping transaction")
			dropped++
			continue
		}
		txs = append(txs, tx)
	}

	state.Transactions = txs
	state.Dropped = dropped
	return nil
}

// PersistResultsStep stores metadata and transactions and marks the
// statement completed in one database transaction.
type PersistResultsStep struct {
	Store Store
}

func (s *PersistResultsStep) Name() string { return "persist results" }

func (s *PersistResultsStep) Execute(ctx context.Context, state *PipelineState) error {
	return s.Store.CompleteStatement(ctx, state.Statement.ID, state.Parsed.Metadata, state.Transactions)
}
