package bigquery

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finsight/internal/domain"
)

// mockInserter is a mock implementation of rowInserter for testing.
type mockInserter struct {
	PutFunc func(ctx context.Context, src interface{}) error
	got     []*bigquery.StructSaver
}

func (m *mockInserter) Put(ctx context.Context, src interface{}) error {
	if savers, ok := src.([]*bigquery.StructSaver); ok {
		m.got = append(m.got, savers...)
	}
	if m.PutFunc != nil {
		return m.PutFunc(ctx, src)
	}
	return nil
}

func sample() (*domain.Statement, []domain.Transaction) {
	bank := "Monzo"
	tax := "deductible"
	st := &domain.Statement{ID: "st-1", UserID: "u-1", Filename: "may.pdf", BankName: &bank}
	txs := []domain.Transaction{
		{
			ID: "tx-1", UserID: "u-1", StatementID: "st-1",
			Date:        time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC),
			Description: "Pret A Manger",
			Amount:      decimal.RequireFromString("4.35"),
			Type:        domain.TypeDebit,
			Category:    domain.CategoryFoodDining,
		},
		{
			ID: "tx-2", UserID: "u-1", StatementID: "st-1",
			Date:        time.Date(2024, 5, 28, 0, 0, 0, 0, time.UTC),
			Description: "Salary",
			Amount:      decimal.RequireFromString("3100.00"),
			Type:        domain.TypeCredit,
			Category:    domain.CategoryIncome,
			TaxCategory: &tax,
		},
	}
	return st, txs
}

func TestToRows(t *testing.T) {
	st, txs := sample()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	rows := ToRows(st, txs, now)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	first := rows[0]
	if first.TransactionDate != (civil.Date{Year: 2024, Month: time.May, Day: 3}) {
		t.Errorf("TransactionDate = %v", first.TransactionDate)
	}
	if first.Amount.FloatString(2) != "4.35" {
		t.Errorf("Amount = %s, want 4.35", first.Amount.FloatString(2))
	}
	if first.Direction != "debit" || first.CategoryName != "food_dining" {
		t.Errorf("unexpected row %+v", first)
	}
	if !first.BankName.Valid || first.BankName.StringVal != "Monzo" {
		t.Errorf("BankName = %+v", first.BankName)
	}
	if first.TaxCategory.Valid {
		t.Error("TaxCategory should be NULL when unset")
	}
	if !rows[1].TaxCategory.Valid || rows[1].StatementLineNo != 1 {
		t.Errorf("unexpected second row %+v", rows[1])
	}
	if first.CreatedTS != now || first.SourceFilename != "may.pdf" {
		t.Errorf("unexpected bookkeeping fields %+v", first)
	}
}

func TestMirrorTransactions(t *testing.T) {
	ins := &mockInserter{}
	m, err := newMirror("proj", "finance", ins, zerolog.Nop())
	if err != nil {
		t.Fatalf("newMirror: %v", err)
	}
	st, txs := sample()

	if err := m.MirrorTransactions(context.Background(), st, txs); err != nil {
		t.Fatalf("MirrorTransactions: %v", err)
	}
	if len(ins.got) != 2 {
		t.Fatalf("expected 2 savers, got %d", len(ins.got))
	}
	if ins.got[0].InsertID != "st-1-0" || ins.got[1].InsertID != "st-1-1" {
		t.Errorf("unexpected insert ids %q, %q", ins.got[0].InsertID, ins.got[1].InsertID)
	}
	if len(ins.got[0].Schema) == 0 {
		t.Error("saver schema is empty")
	}
}

func TestMirrorTransactions_EmptyAndError(t *testing.T) {
	ins := &mockInserter{PutFunc: func(ctx context.Context, src interface{}) error {
		return errors.New("quota exceeded")
	}}
	m, err := newMirror("proj", "finance", ins, zerolog.Nop())
	if err != nil {
		t.Fatalf("newMirror: %v", err)
	}
	st, txs := sample()

	if err := m.MirrorTransactions(context.Background(), st, nil); err != nil {
		t.Errorf("empty batch should be a no-op, got %v", err)
	}
	if err := m.MirrorTransactions(context.Background(), st, txs); err == nil {
		t.Error("expected inserter error")
	}
}

func TestDeleteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantBuffer bool
	}{
		{
			name:       "streaming buffer",
			err:        errors.New("UPDATE or DELETE statement over table p.d.transactions would affect rows in the streaming buffer, which is not supported"),
			wantBuffer: true,
		},
		{
			name: "other failure",
			err:  errors.New("Access Denied: Table p:d.transactions"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := deleteError("job error", tt.err)
			if got := errors.Is(err, ErrStreamingBuffer); got != tt.wantBuffer {
				t.Errorf("errors.Is(ErrStreamingBuffer) = %v, want %v (%v)", got, tt.wantBuffer, err)
			}
			if !tt.wantBuffer && !errors.Is(err, tt.err) {
				t.Errorf("expected the cause to be wrapped, got %v", err)
			}
		})
	}
}

func TestByDateRangeQuery_OneRowPerTransaction(t *testing.T) {
	q := byDateRangeQuery("`p.d.transactions`")
	for _, want := range []string{
		"FROM `p.d.transactions`",
		"PARTITION BY transaction_id",
		"@user_id",
	} {
		if !strings.Contains(q, want) {
			t.Errorf("query missing %q", want)
		}
	}
}
