package domain

import (
	"time"
)

// ProcessingStatus is the lifecycle state of an uploaded statement.
type ProcessingStatus string

const (
	// StatusPending means the statement is queued and no worker has picked it up yet.
	StatusPending ProcessingStatus = "pending"
	// StatusProcessing means extraction is in progress.
	StatusProcessing ProcessingStatus = "processing"
	// StatusCompleted means extraction finished and transactions were stored.
	StatusCompleted ProcessingStatus = "completed"
	// StatusFailed means extraction failed; ProcessingError holds the reason.
	StatusFailed ProcessingStatus = "failed"
)

// IsTerminal reports whether no further automatic transition will happen.
func (s ProcessingStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s ProcessingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Statement represents one uploaded bank-statement document.
type Statement struct {
	ID              string           `json:"id"`
	UserID          string           `json:"-"`
	Filename        string           `json:"filename"`
	BankName        *string          `json:"bank_name"`
	PeriodStart     *time.Time       `json:"statement_period_start"`
	PeriodEnd       *time.Time       `json:"statement_period_end"`
	UploadedAt      time.Time        `json:"uploaded_at"`
	IsDefault       bool             `json:"is_default"`
	Status          ProcessingStatus `json:"processing_status"`
	ProcessingError *string          `json:"processing_error"`
}

// StatementMetadata is the header information read from a statement.
type StatementMetadata struct {
	BankName    *string
	PeriodStart *time.Time
	PeriodEnd   *time.Time
}
