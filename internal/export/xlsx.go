// Package export renders a statement's transactions as an XLSX workbook.
package export

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/dvloznov/finsight/internal/domain"
)

const (
	transactionsSheet = "Transactions"
	summarySheet      = "Summary"

	// numFmtAmount is excelize's built-in "#,##0.00".
	numFmtAmount = 4
)

// Store is the read access the exporter needs.
type Store interface {
	GetStatementForUser(ctx context.Context, userID, id string) (*domain.Statement, error)
	ListTransactions(ctx context.Context, userID, statementID string) ([]domain.Transaction, error)
}

// Service produces XLSX bytes for exports.
type Service struct {
	store Store
	log   zerolog.Logger
}

// NewService creates a new export service.
func NewService(s Store, log zerolog.Logger) *Service {
	return &Service{store: s, log: log}
}

// StatementXLSX returns the workbook for one statement of userID and a
// suggested download filename.
func (s *Service) StatementXLSX(ctx context.Context, userID, statementID string) ([]byte, string, error) {
	start := time.Now()

	st, err := s.store.GetStatementForUser(ctx, userID, statementID)
	if err != nil {
		return nil, "", fmt.Errorf("StatementXLSX: %w", err)
	}
	txs, err := s.store.ListTransactions(ctx, userID, statementID)
	if err != nil {
		return nil, "", fmt.Errorf("StatementXLSX: %w", err)
	}

	data, err := Workbook(st, txs)
	if err != nil {
		return nil, "", fmt.Errorf("StatementXLSX: %w", err)
	}

	s.log.Info().
		Str("statement_id", statementID).
		Int("rows", len(txs)).
		Dur("elapsed", time.Since(start)).
		Msg("Statement exported")
	return data, Filename(st), nil
}

// Filename derives the download name from the uploaded file's name.
func Filename(st *domain.Statement) string {
	base := strings.TrimSuffix(path.Base(st.Filename), path.Ext(st.Filename))
	if base == "" || base == "." || base == "/" {
		base = "statement"
	}
	return base + ".xlsx"
}

// Workbook builds the XLSX document: a Transactions sheet with one row per
// transaction and a Summary sheet with per-category totals.
func Workbook(st *domain.Statement, txs []domain.Transaction) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", transactionsSheet); err != nil {
		return nil, err
	}
	amountStyle, err := f.NewStyle(&excelize.Style{NumFmt: numFmtAmount})
	if err != nil {
		return nil, err
	}
	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}

	headers := []any{"Date", "Description", "Amount", "Type", "Category", "Tax Category"}
	if err := writeRow(f, transactionsSheet, 1, headers...); err != nil {
		return nil, err
	}
	_ = f.SetRowStyle(transactionsSheet, 1, 1, headerStyle)

	for i, tx := range txs {
		row := i + 2
		tax := ""
		if tx.TaxCategory != nil {
			tax = *tx.TaxCategory
		}
		if err := writeRow(f, transactionsSheet, row,
			tx.Date.Format("2006-01-02"),
			tx.Description,
			tx.Amount.InexactFloat64(),
			string(tx.Type),
			string(tx.Category),
			tax,
		); err != nil {
			return nil, err
		}
	}
	if len(txs) > 0 {
		_ = f.SetCellStyle(transactionsSheet, "C2", fmt.Sprintf("C%d", len(txs)+1), amountStyle)
	}

	_ = f.SetColWidth(transactionsSheet, "A", "A", 12)
	_ = f.SetColWidth(transactionsSheet, "B", "B", 48)
	_ = f.SetColWidth(transactionsSheet, "C", "C", 14)
	_ = f.SetColWidth(transactionsSheet, "D", "F", 18)

	if err := writeSummary(f, st, txs, headerStyle, amountStyle); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

type categoryTotal struct {
	debit  decimal.Decimal
	credit decimal.Decimal
}

func writeSummary(f *excelize.File, st *domain.Statement, txs []domain.Transaction, headerStyle, amountStyle int) error {
	if _, err := f.NewSheet(summarySheet); err != nil {
		return err
	}

	bank := ""
	if st.BankName != nil {
		bank = *st.BankName
	}
	period := ""
	if st.PeriodStart != nil && st.PeriodEnd != nil {
		period = st.PeriodStart.Format("2006-01-02") + " to " + st.PeriodEnd.Format("2006-01-02")
	}
	if err := writeRow(f, summarySheet, 1, "File", st.Filename); err != nil {
		return err
	}
	if err := writeRow(f, summarySheet, 2, "Bank", bank); err != nil {
		return err
	}
	if err := writeRow(f, summarySheet, 3, "Period", period); err != nil {
		return err
	}

	totals := make(map[domain.Category]*categoryTotal)
	for _, tx := range txs {
		t, ok := totals[tx.Category]
		if !ok {
			t = &categoryTotal{}
			totals[tx.Category] = t
		}
		if tx.Type == domain.TypeCredit {
			t.credit = t.credit.Add(tx.Amount)
		} else {
			t.debit = t.debit.Add(tx.Amount)
		}
	}
	cats := make([]domain.Category, 0, len(totals))
	for c := range totals {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })

	if err := writeRow(f, summarySheet, 5, "Category", "Debits", "Credits"); err != nil {
		return err
	}
	_ = f.SetRowStyle(summarySheet, 5, 5, headerStyle)

	row := 6
	var allDebit, allCredit decimal.Decimal
	for _, c := range cats {
		t := totals[c]
		allDebit = allDebit.Add(t.debit)
		allCredit = allCredit.Add(t.credit)
		if err := writeRow(f, summarySheet, row, string(c), t.debit.InexactFloat64(), t.credit.InexactFloat64()); err != nil {
			return err
		}
		row++
	}
	if err := writeRow(f, summarySheet, row, "Total", allDebit.InexactFloat64(), allCredit.InexactFloat64()); err != nil {
		return err
	}
	_ = f.SetCellStyle(summarySheet, "B6", fmt.Sprintf("C%d", row), amountStyle)
	_ = f.SetColWidth(summarySheet, "A", "A", 18)
	_ = f.SetColWidth(summarySheet, "B", "C", 14)
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values ...any) error {
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
	}
	return nil
}
