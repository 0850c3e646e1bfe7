// Package bigquery mirrors completed statements' transactions into a
// BigQuery table for ad-hoc analysis.
package bigquery

import (
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/dvloznov/finsight/internal/domain"
)

// TransactionRow is one row of <dataset>.transactions.
type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED
	UserID        string `bigquery:"user_id"`        // REQUIRED
	StatementID   string `bigquery:"statement_id"`   // REQUIRED

	TransactionDate civil.Date `bigquery:"transaction_date"` // REQUIRED

	Amount    *big.Rat `bigquery:"amount"`    // REQUIRED NUMERIC
	Direction string   `bigquery:"direction"` // debit or credit

	RawDescription string              `bigquery:"raw_description"`
	CategoryName   string              `bigquery:"category_name"`
	TaxCategory    bigquery.NullString `bigquery:"tax_category"`

	BankName        bigquery.NullString `bigquery:"bank_name"`
	StatementLineNo int64               `bigquery:"statement_line_no"`
	SourceFilename  string              `bigquery:"source_filename"`

	CreatedTS time.Time `bigquery:"created_ts"`
}

// ToRows maps a completed statement's transactions onto mirror rows.
func ToRows(st *domain.Statement, txs []domain.Transaction, now time.Time) []*TransactionRow {
	rows := make([]*TransactionRow, 0, len(txs))
	for i, tx := range txs {
		row := &TransactionRow{
			TransactionID:   tx.ID,
			UserID:          tx.UserID,
			StatementID:     tx.StatementID,
			TransactionDate: civil.DateOf(tx.Date),
			Amount:          tx.Amount.Rat(),
			Direction:       string(tx.Type),
			RawDescription:  tx.Description,
			CategoryName:    string(tx.Category),
			StatementLineNo: int64(i),
			SourceFilename:  st.Filename,
			CreatedTS:       now,
		}
		if tx.TaxCategory != nil {
			row.TaxCategory = bigquery.NullString{StringVal: *tx.TaxCategory, Valid: true}
		}
		if st.BankName != nil {
			row.BankName = bigquery.NullString{StringVal: *st.BankName, Valid: true}
		}
		rows = append(rows, row)
	}
	return rows
}

// insertID lets BigQuery drop rows re-sent for the same statement line
// within its deduplication window.
func (r *TransactionRow) insertID() string {
	return fmt.Sprintf("%s-%d", r.StatementID, r.StatementLineNo)
}
