package export

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/dvloznov/finsight/internal/domain"
)

// mockStore is a mock implementation of Store for testing.
type mockStore struct {
	GetStatementForUserFunc func(ctx context.Context, userID, id string) (*domain.Statement, error)
	ListTransactionsFunc    func(ctx context.Context, userID, statementID string) ([]domain.Transaction, error)
}

func (m *mockStore) GetStatementForUser(ctx context.Context, userID, id string) (*domain.Statement, error) {
	return m.GetStatementForUserFunc(ctx, userID, id)
}

func (m *mockStore) ListTransactions(ctx context.Context, userID, statementID string) ([]domain.Transaction, error) {
	return m.ListTransactionsFunc(ctx, userID, statementID)
}

func sampleTransactions() []domain.Transaction {
	return []domain.Transaction{
		{Date: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), Description: "Coffee", Amount: decimal.RequireFromString("3.20"), Type: domain.TypeDebit, Category: domain.CategoryFoodDining},
		{Date: time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC), Description: "Lunch", Amount: decimal.RequireFromString("11.80"), Type: domain.TypeDebit, Category: domain.CategoryFoodDining},
		{Date: time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC), Description: "Salary", Amount: decimal.RequireFromString("2000.00"), Type: domain.TypeCredit, Category: domain.CategoryIncome},
	}
}

func TestWorkbook(t *testing.T) {
	bank := "HSBC"
	st := &domain.Statement{ID: "s1", Filename: "feb.pdf", BankName: &bank}

	data, err := Workbook(st, sampleTransactions())
	if err != nil {
		t.Fatalf("Workbook: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(transactionsSheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected header + 3 rows, got %d", len(rows))
	}
	if rows[0][0] != "Date" || rows[1][0] != "2024-02-01" || rows[1][1] != "Coffee" {
		t.Errorf("unexpected transaction rows: %v", rows[:2])
	}
	if rows[3][3] != "credit" || rows[3][4] != "income" {
		t.Errorf("unexpected last row: %v", rows[3])
	}

	bankCell, _ := f.GetCellValue(summarySheet, "B2")
	if bankCell != "HSBC" {
		t.Errorf("summary bank = %q", bankCell)
	}
	food, _ := f.GetCellValue(summarySheet, "A6")
	debit, _ := f.GetCellValue(summarySheet, "B6", excelize.Options{RawCellValue: true})
	if food != "food_dining" || debit != "15" {
		t.Errorf("food_dining total row = %q, %q", food, debit)
	}
	total, _ := f.GetCellValue(summarySheet, "C8", excelize.Options{RawCellValue: true})
	if total != "2000" {
		t.Errorf("total credits = %q, want 2000", total)
	}
}

func TestStatementXLSX(t *testing.T) {
	ms := &mockStore{
		GetStatementForUserFunc: func(ctx context.Context, userID, id string) (*domain.Statement, error) {
			return &domain.Statement{ID: id, UserID: userID, Filename: "uploads/Jan 2024.pdf"}, nil
		},
		ListTransactionsFunc: func(ctx context.Context, userID, statementID string) ([]domain.Transaction, error) {
			return sampleTransactions(), nil
		},
	}
	svc := NewService(ms, zerolog.Nop())

	data, name, err := svc.StatementXLSX(context.Background(), "u1", "s1")
	if err != nil {
		t.Fatalf("StatementXLSX: %v", err)
	}
	if name != "Jan 2024.xlsx" {
		t.Errorf("filename = %q", name)
	}
	if len(data) == 0 {
		t.Error("empty workbook")
	}
}

func TestStatementXLSX_NotFound(t *testing.T) {
	notFound := errors.New("not found")
	ms := &mockStore{
		GetStatementForUserFunc: func(ctx context.Context, userID, id string) (*domain.Statement, error) {
			return nil, notFound
		},
	}
	_, _, err := NewService(ms, zerolog.Nop()).StatementXLSX(context.Background(), "u1", "s1")
	if !errors.Is(err, notFound) {
		t.Errorf("expected wrapped not found, got %v", err)
	}
}
