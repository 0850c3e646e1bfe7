package pipeline

import (
	"context"
	"iter"
	"sync"

	"github.com/dvloznov/finsight/internal/domain"
	"github.com/dvloznov/finsight/internal/llm"
	"github.com/dvloznov/finsight/internal/pdf"
	"github.com/dvloznov/finsight/internal/store"
)

// mockStore is an in-memory Store that records every call.
type mockStore struct {
	mu         sync.Mutex
	statements map[string]*domain.Statement
	txs        map[string][]domain.Transaction
	calls      []string

	CompleteStatementFunc func(ctx context.Context, id string, meta domain.StatementMetadata, txs []domain.Transaction) error
	FailStatementFunc     func(ctx context.Context, id, message string) error
}

func newMockStore(statements ...*domain.Statement) *mockStore {
	m := &mockStore{
		statements: make(map[string]*domain.Statement),
		txs:        make(map[string][]domain.Transaction),
	}
	for _, st := range statements {
		cp := *st
		m.statements[st.ID] = &cp
	}
	return m
}

func (m *mockStore) record(call string) {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
}

func (m *mockStore) CreateStatement(ctx context.Context, in store.NewStatement) (*domain.Statement, error) {
	m.record("create")
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &domain.Statement{ID: "created-1", UserID: in.UserID, Filename: in.Filename, Status: in.Status}
	m.statements[st.ID] = st
	cp := *st
	return &cp, nil
}

func (m *mockStore) GetStatement(ctx context.Context, id string) (*domain.Statement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.statements[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (m *mockStore) MarkProcessing(ctx context.Context, id string) error {
	m.record("processing:" + id)
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.statements[id]
	if !ok {
		return store.ErrNotFound
	}
	st.Status = domain.StatusProcessing
	return nil
}

func (m *mockStore) CompleteStatement(ctx context.Context, id string, meta domain.StatementMetadata, txs []domain.Transaction) error {
	m.record("complete:" + id)
	if m.CompleteStatementFunc != nil {
		return m.CompleteStatementFunc(ctx, id, meta, txs)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.statements[id]
	if !ok {
		return store.ErrNotFound
	}
	st.Status = domain.StatusCompleted
	st.ProcessingError = nil
	if meta.BankName != nil {
		st.BankName = meta.BankName
	}
	m.txs[id] = append([]domain.Transaction(nil), txs...)
	return nil
}

func (m *mockStore) FailStatement(ctx context.Context, id, message string) error {
	m.record("fail:" + id)
	if m.FailStatementFunc != nil {
		return m.FailStatementFunc(ctx, id, message)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.statements[id]
	if !ok {
		return store.ErrNotFound
	}
	st.Status = domain.StatusFailed
	st.ProcessingError = &message
	return nil
}

func (m *mockStore) statement(id string) *domain.Statement {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statements[id]
}

// mockText is a mock TextExtractor.
type mockText struct {
	ExtractTextFunc func(content []byte) (string, error)
}

func (m *mockText) ExtractText(content []byte) (string, error) {
	if m.ExtractTextFunc != nil {
		return m.ExtractTextFunc(content)
	}
	return string(content), nil
}

// mockPages is a mock PageSource yielding a fixed number of pages.
type mockPages struct {
	count int
	calls int
}

func (m *mockPages) Pages(ctx context.Context, content []byte) iter.Seq[pdf.PageImage] {
	m.calls++
	return func(yield func(pdf.PageImage) bool) {
		for i := 1; i <= m.count; i++ {
			if !yield(pdf.PageImage{Page: i, MIMEType: "image/png", Data: []byte{byte(i)}}) {
				return
			}
		}
	}
}

// mockParser is a mock llm.StatementParser.
type mockParser struct {
	mu     sync.Mutex
	inputs []llm.Input

	ParseStatementFunc func(ctx context.Context, in llm.Input) (*domain.ParsedStatement, error)
}

func (m *mockParser) ParseStatement(ctx context.Context, in llm.Input) (*domain.ParsedStatement, error) {
	m.mu.Lock()
	m.inputs = append(m.inputs, in)
	m.mu.Unlock()
	if m.ParseStatementFunc != nil {
		return m.ParseStatementFunc(ctx, in)
	}
	return &domain.ParsedStatement{}, nil
}

type notification struct {
	typ         domain.NotificationType
	statementID string
	count       int
	message     string
}

func (m *mockParser) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inputs)
}

// mockNotifier records emitted notifications.
type mockNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (m *mockNotifier) StatementProcessed(ctx context.Context, st *domain.Statement, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, notification{typ: domain.NotificationStatementProcessed, statementID: st.ID, count: n})
	return nil
}

func (m *mockNotifier) StatementFailed(ctx context.Context, st *domain.Statement, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, notification{typ: domain.NotificationStatementFailed, statementID: st.ID, message: message})
	return nil
}

func (m *mockNotifier) all() []notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notification(nil), m.sent...)
}

// mockFiles is a mock FileReader.
type mockFiles struct {
	mu      sync.Mutex
	content map[string][]byte
	deleted []string
}

func (m *mockFiles) Read(ctx context.Context, uri string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.content[uri]
	if !ok {
		return nil, store.ErrNotFound
	}
	return b, nil
}

func (m *mockFiles) Delete(ctx context.Context, uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, uri)
	delete(m.content, uri)
	return nil
}

// mockSink is a mock TransactionSink.
type mockSink struct {
	MirrorTransactionsFunc func(ctx context.Context, st *domain.Statement, txs []domain.Transaction) error
	mirrored               int
}

func (m *mockSink) MirrorTransactions(ctx context.Context, st *domain.Statement, txs []domain.Transaction) error {
	m.mirrored += len(txs)
	if m.MirrorTransactionsFunc != nil {
		return m.MirrorTransactionsFunc(ctx, st, txs)
	}
	return nil
}
