package bigquery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/finsight/internal/domain"
)

const (
	transactionsTable = "transactions"
	dateFormat        = "2006-01-02"
)

// ErrStreamingBuffer is returned by DeleteStatement when the rows were
// streamed too recently for DML. BigQuery flushes the buffer within about
// 90 minutes; the delete can be retried after that.
var ErrStreamingBuffer = errors.New("rows are still in the streaming buffer")

func isStreamingBufferError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "streaming buffer")
}

// rowInserter is the part of *bigquery.Inserter the mirror uses.
type rowInserter interface {
	Put(ctx context.Context, src interface{}) error
}

// Mirror streams transactions into BigQuery.
type Mirror struct {
	client   *bigquery.Client
	project  string
	dataset  string
	inserter rowInserter
	schema   bigquery.Schema
	now      func() time.Time
	log      zerolog.Logger
}

// NewMirror creates a mirror writing to project.dataset.transactions.
func NewMirror(ctx context.Context, project, dataset string, log zerolog.Logger) (*Mirror, error) {
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("NewMirror: bigquery client: %w", err)
	}
	m, err := newMirror(project, dataset, client.DatasetInProject(project, dataset).Table(transactionsTable).Inserter(), log)
	if err != nil {
		client.Close()
		return nil, err
	}
	m.client = client
	return m, nil
}

func newMirror(project, dataset string, inserter rowInserter, log zerolog.Logger) (*Mirror, error) {
	schema, err := bigquery.InferSchema(TransactionRow{})
	if err != nil {
		return nil, fmt.Errorf("NewMirror: infer schema: %w", err)
	}
	return &Mirror{
		project:  project,
		dataset:  dataset,
		inserter: inserter,
		schema:   schema,
		now:      time.Now,
		log:      log,
	}, nil
}

// Close closes the BigQuery client connection.
func (m *Mirror) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// MirrorTransactions inserts txs of st into the transactions table.
func (m *Mirror) MirrorTransactions(ctx context.Context, st *domain.Statement, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	rows := ToRows(st, txs, m.now().UTC())
	savers := make([]*bigquery.StructSaver, len(rows))
	for i, row := range rows {
		savers[i] = &bigquery.StructSaver{Struct: row, Schema: m.schema, InsertID: row.insertID()}
	}
	if err := m.inserter.Put(ctx, savers); err != nil {
		return fmt.Errorf("MirrorTransactions: inserting rows: %w", err)
	}
	m.log.Debug().Str("statement_id", st.ID).Int("rows", len(rows)).Msg("Transactions mirrored")
	return nil
}

func (m *Mirror) table() string {
	return "`" + m.project + "." + m.dataset + "." + transactionsTable + "`"
}

// DeleteStatement removes a deleted statement's rows from the mirror.
func (m *Mirror) DeleteStatement(ctx context.Context, statementID string) error {
	q := m.client.Query(`DELETE FROM ` + m.table() + ` WHERE statement_id = @statement_id`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "statement_id", Value: statementID},
	}

	job, err := q.Run(ctx)
	if err != nil {
		return deleteError("run query", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return deleteError("wait for job", err)
	}
	if err := status.Err(); err != nil {
		return deleteError("job error", err)
	}
	return nil
}

func deleteError(stage string, err error) error {
	if isStreamingBufferError(err) {
		return fmt.Errorf("DeleteStatement: %w: %v", ErrStreamingBuffer, err)
	}
	return fmt.Errorf("DeleteStatement: %s: %w", stage, err)
}

// byDateRangeQuery selects a user's rows, keeping one row per transaction
// so rows streamed twice outside the insert-id window are read once.
func byDateRangeQuery(table string) string {
	return `
		SELECT
			transaction_id,
			user_id,
			statement_id,
			transaction_date,
			amount,
			direction,
			raw_description,
			category_name,
			tax_category,
			bank_name,
			statement_line_no,
			source_filename,
			created_ts
		FROM ` + table + `
		WHERE user_id = @user_id
		  AND transaction_date >= @start_date
		  AND transaction_date <= @end_date
		QUALIFY ROW_NUMBER() OVER (PARTITION BY transaction_id ORDER BY created_ts DESC) = 1
		ORDER BY transaction_date, statement_id, statement_line_no
	`
}

// QueryTransactionsByDateRange reads a user's mirrored transactions dated
// within [startDate, endDate].
func (m *Mirror) QueryTransactionsByDateRange(ctx context.Context, userID string, startDate, endDate time.Time) ([]*TransactionRow, error) {
	q := m.client.Query(byDateRangeQuery(m.table()))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "start_date", Value: startDate.Format(dateFormat)},
		{Name: "end_date", Value: endDate.Format(dateFormat)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("QueryTransactionsByDateRange: query read: %w", err)
	}

	var rows []*TransactionRow
	for {
		var r TransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("QueryTransactionsByDateRange: iter next: %w", err)
		}
		rows = append(rows, &r)
	}
	return rows, nil
}
