package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/finsight/internal/domain"
)

// ListTransactions returns the transactions of one statement owned by
// userID in statement order.
func (s *Store) ListTransactions(ctx context.Context, userID, statementID string) ([]domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, user_id, statement_id, date, description, amount, type, category, tax_category
		FROM transactions
		WHERE statement_id = ? AND user_id = ?
		ORDER BY date ASC, seq ASC`), statementID, userID)
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: %w", err)
	}
	defer rows.Close()

	out := []domain.Transaction{}
	for rows.Next() {
		var (
			t        domain.Transaction
			date     nullTime
			amount   decimal.Decimal
			txType   string
			category string
			taxCat   sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.StatementID, &date, &t.Description,
			&amount, &txType, &category, &taxCat); err != nil {
			return nil, fmt.Errorf("ListTransactions: scan: %w", err)
		}
		t.Date = date.Time
		t.Amount = amount
		t.Type = domain.TransactionType(txType)
		t.Category = domain.Category(category)
		t.TaxCategory = stringPtr(taxCat)
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountTransactions returns how many transactions a statement has.
func (s *Store) CountTransactions(ctx context.Context, statementID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT COUNT(*) FROM transactions WHERE statement_id = ?`), statementID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("CountTransactions: %w", err)
	}
	return n, nil
}
