package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/finsight/internal/domain"
)

const dateLayout = "2006-01-02"

type rawResponse struct {
	Transactions []json.RawMessage `json:"transactions"`
	BankName     *string           `json:"bankName"`
	PeriodStart  *string           `json:"periodStart"`
	PeriodEnd    *string           `json:"periodEnd"`
}

type rawTransaction struct {
	Date        string      `json:"date"`
	Description string      `json:"description"`
	Amount      json.Number `json:"amount"`
	Type        string      `json:"type"`
	Category    string      `json:"category"`
}

// DecodeResponse turns raw model output into a ParsedStatement.
// Malformed output yields an empty statement. Items that fail the schema
// or the transaction invariants are dropped and counted in Dropped.
func DecodeResponse(raw string) *domain.ParsedStatement {
	out := &domain.ParsedStatement{Transactions: []domain.ParsedTransaction{}}

	clean := CleanModelJSON(raw)
	var resp rawResponse
	if err := json.Unmarshal([]byte(clean), &resp); err != nil {
		// Some models answer with a bare array of transactions.
		var items []json.RawMessage
		if err2 := json.Unmarshal([]byte(clean), &items); err2 != nil {
			return out
		}
		resp.Transactions = items
	}

	out.Metadata = domain.StatementMetadata{
		BankName:    nonEmpty(resp.BankName),
		PeriodStart: parseDatePtr(resp.PeriodStart),
		PeriodEnd:   parseDatePtr(resp.PeriodEnd),
	}

	schema, err := compiledItemSchema()
	for _, item := range resp.Transactions {
		if err == nil {
			var v any
			if jerr := json.Unmarshal(item, &v); jerr != nil || schema.Validate(v) != nil {
				out.Dropped++
				continue
			}
		}
		tx, ok := normalizeItem(item)
		if !ok {
			out.Dropped++
			continue
		}
		out.Transactions = append(out.Transactions, tx)
	}
	return out
}

func normalizeItem(item json.RawMessage) (domain.ParsedTransaction, bool) {
	var rt rawTransaction
	if err := json.Unmarshal(item, &rt); err != nil {
		return domain.ParsedTransaction{}, false
	}

	date, err := time.Parse(dateLayout, strings.TrimSpace(rt.Date))
	if err != nil {
		return domain.ParsedTransaction{}, false
	}
	amount, err := decimal.NewFromString(rt.Amount.String())
	if err != nil {
		return domain.ParsedTransaction{}, false
	}
	amount = domain.NormalizeAmount(amount)
	if amount.IsZero() {
		return domain.ParsedTransaction{}, false
	}
	txType, ok := domain.ParseTransactionType(rt.Type)
	if !ok {
		return domain.ParsedTransaction{}, false
	}
	desc := strings.TrimSpace(rt.Description)
	if desc == "" {
		return domain.ParsedTransaction{}, false
	}

	return domain.ParsedTransaction{
		Date:        date,
		Description: desc,
		Amount:      amount,
		Type:        txType,
		Category:    domain.NormalizeCategory(rt.Category),
	}, true
}

// CleanModelJSON strips Markdown fences and any chatter around the JSON value.
func CleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	first, last := "{", "}"
	if strings.HasPrefix(s, "[") || (!strings.Contains(s, "{") && strings.Contains(s, "[")) {
		first, last = "[", "]"
	}
	if start := strings.Index(s, first); start != -1 {
		if end := strings.LastIndex(s, last); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func parseDatePtr(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse(dateLayout, strings.TrimSpace(*s))
	if err != nil {
		return nil
	}
	return &t
}

// APIError is a non-2xx answer from a model provider.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s status %d: %s", e.Provider, e.StatusCode, e.Body)
}
