package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the direction of a money movement.
type TransactionType string

const (
	TypeDebit  TransactionType = "debit"
	TypeCredit TransactionType = "credit"
)

// Valid reports whether t is debit or credit.
func (t TransactionType) Valid() bool {
	return t == TypeDebit || t == TypeCredit
}

// ParseTransactionType normalizes a model-produced type string.
func ParseTransactionType(s string) (TransactionType, bool) {
	t := TransactionType(strings.ToLower(strings.TrimSpace(s)))
	return t, t.Valid()
}

// Transaction is one persisted financial movement. It belongs to exactly one
// statement and is deleted with it.
type Transaction struct {
	ID          string          `json:"id"`
	UserID      string          `json:"-"`
	StatementID string          `json:"statement_id"`
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Type        TransactionType `json:"type"`
	Category    Category        `json:"category"`
	TaxCategory *string         `json:"tax_category"`
}

// AmountPlaces is the number of decimal places stored for an amount.
const AmountPlaces = 2

// NormalizeAmount returns the stored form of a model-produced amount:
// absolute and rounded to cents. Sub-cent amounts become zero.
func NormalizeAmount(d decimal.Decimal) decimal.Decimal {
	return d.Abs().Round(AmountPlaces)
}

var (
	ErrNonPositiveAmount = errors.New("amount must be greater than zero")
	ErrAmountPrecision   = errors.New("amount has more than two decimal places")
	ErrInvalidType       = errors.New("type must be debit or credit")
	ErrInvalidCategory   = errors.New("category is not in the allowed set")
)

// Validate checks the invariants every stored transaction must satisfy.
func (t *Transaction) Validate() error {
	if !t.Amount.IsPositive() {
		return fmt.Errorf("transaction %q: %w", t.Description, ErrNonPositiveAmount)
	}
	if !t.Amount.Equal(t.Amount.Round(AmountPlaces)) {
		return fmt.Errorf("transaction %q: %w (got %s)", t.Description, ErrAmountPrecision, t.Amount)
	}
	if !t.Type.Valid() {
		return fmt.Errorf("transaction %q: %w (got %q)", t.Description, ErrInvalidType, t.Type)
	}
	if !t.Category.Valid() {
		return fmt.Errorf("transaction %q: %w (got %q)", t.Description, ErrInvalidCategory, t.Category)
	}
	return nil
}

// ParsedTransaction is a transaction as returned by the extraction model,
// after schema validation but before it is bound to a statement.
type ParsedTransaction struct {
	Date        time.Time
	Description string
	Amount      decimal.Decimal
	Type        TransactionType
	Category    Category
}

// ParsedStatement is the structured result of one extraction call.
type ParsedStatement struct {
	Transactions []ParsedTransaction
	Metadata     StatementMetadata

	// Dropped counts model items rejected by schema or invariant checks.
	Dropped int
}
