package domain

import (
	"encoding/json"
	"time"
)

// NotificationType identifies what a notification reports.
type NotificationType string

const (
	NotificationStatementProcessed NotificationType = "statement_processed"
	NotificationStatementFailed    NotificationType = "statement_failed"
)

// Notification is a user-facing message about a terminal pipeline outcome.
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"-"`
	Type      NotificationType `json:"type"`
	Payload   json.RawMessage  `json:"payload"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"created_at"`
}

// StatementProcessedPayload is the payload of a statement_processed notification.
type StatementProcessedPayload struct {
	StatementID      string `json:"statementId"`
	Filename         string `json:"filename"`
	TransactionCount int    `json:"transactionCount"`
}

// StatementFailedPayload is the payload of a statement_failed notification.
type StatementFailedPayload struct {
	StatementID string `json:"statementId"`
	Filename    string `json:"filename"`
	Error       string `json:"error"`
}
