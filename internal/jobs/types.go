package jobs

import (
	"context"
	"errors"
	"fmt"
)

// ErrQueueClosed is returned when publishing to a closed queue.
var ErrQueueClosed = errors.New("queue is closed")

// ProcessStatementJob asks a worker to extract one uploaded statement.
// Field names are the wire format shared by every queue backend.
type ProcessStatementJob struct {
	// StatementID is the statement row to update.
	StatementID string `json:"statementId"`

	// UserID owns the statement and receives the notification.
	UserID string `json:"userId"`

	// FilePath is the blob URI of the uploaded PDF.
	FilePath string `json:"filePath"`

	// Filename is the name the user uploaded, used in notifications.
	Filename string `json:"filename"`
}

// Validate checks that every field needed by the worker is present.
func (j *ProcessStatementJob) Validate() error {
	switch {
	case j.StatementID == "":
		return fmt.Errorf("job: missing statementId")
	case j.UserID == "":
		return fmt.Errorf("job: missing userId")
	case j.FilePath == "":
		return fmt.Errorf("job: missing filePath")
	}
	return nil
}

// Publisher defines the interface for publishing jobs to a queue.
// This abstraction allows for different queue implementations (in-memory, AMQP broker).
type Publisher interface {
	// PublishStatement publishes a statement processing job.
	PublishStatement(ctx context.Context, job *ProcessStatementJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a job. Every job is acknowledged once the handler
// returns, whatever the result: failures are recorded on the statement,
// not retried by the queue.
type JobHandler func(ctx context.Context, job *ProcessStatementJob) error
