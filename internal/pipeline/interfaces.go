package pipeline

import (
	"context"
	"iter"

	"github.com/dvloznov/finsight/internal/domain"
	"github.com/dvloznov/finsight/internal/pdf"
	"github.com/dvloznov/finsight/internal/store"
)

// Store is the statement persistence the pipeline drives.
type Store interface {
	CreateStatement(ctx context.Context, in store.NewStatement) (*domain.Statement, error)
	GetStatement(ctx context.Context, id string) (*domain.Statement, error)
	MarkProcessing(ctx context.Context, id string) error
	CompleteStatement(ctx context.Context, id string, meta domain.StatementMetadata, txs []domain.Transaction) error
	FailStatement(ctx context.Context, id, message string) error
}

// TextExtractor reads the embedded text layer of a PDF.
type TextExtractor interface {
	ExtractText(content []byte) (string, error)
}

// PageSource renders PDF pages to images. An empty sequence means nothing
// could be rendered.
type PageSource interface {
	Pages(ctx context.Context, content []byte) iter.Seq[pdf.PageImage]
}

// Notifier records terminal outcomes for the statement owner.
type Notifier interface {
	StatementProcessed(ctx context.Context, st *domain.Statement, transactionCount int) error
	StatementFailed(ctx context.Context, st *domain.Statement, message string) error
}

// TransactionSink receives a copy of every completed statement's
// transactions. Sink errors never fail the statement.
type TransactionSink interface {
	MirrorTransactions(ctx context.Context, st *domain.Statement, txs []domain.Transaction) error
}

// FileReader loads and releases uploaded files referenced by jobs.
type FileReader interface {
	Read(ctx context.Context, uri string) ([]byte, error)
	Delete(ctx context.Context, uri string) error
}
