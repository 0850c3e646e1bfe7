// Package amqp implements the job queue on a durable RabbitMQ queue.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finsight/internal/jobs"
)

// channel is the subset of *amqp.Channel the queue uses.
type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Close() error
}

// Queue publishes and consumes ProcessStatementJob messages. Messages are
// persistent, the consumer takes one unacknowledged message at a time, and
// every message is acknowledged after the handler returns.
type Queue struct {
	conn       *amqp.Connection
	newChannel func() (channel, error)
	name       string
	tag        string
	log        zerolog.Logger

	pubMu sync.Mutex
	pubCh channel

	consMu sync.Mutex
	consCh channel
	wg     sync.WaitGroup

	errCh chan error
}

// Dial connects to the broker at url and declares the durable queue name.
func Dial(url, name string, log zerolog.Logger) (*Queue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp.Dial: %w", err)
	}

	q := newQueue(name, func() (channel, error) { return conn.Channel() }, log)
	q.conn = conn

	notify := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if amqpErr, ok := <-notify; ok && amqpErr != nil {
			log.Error().Err(amqpErr).Msg("Broker connection lost")
			q.errCh <- amqpErr
		}
		close(q.errCh)
	}()

	if err := q.openPublisher(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	log.Info().Str("queue", name).Msg("Connected to broker")
	return q, nil
}

func newQueue(name string, newChannel func() (channel, error), log zerolog.Logger) *Queue {
	return &Queue{
		newChannel: newChannel,
		name:       name,
		tag:        "finsight-worker-" + uuid.New().String()[:8],
		log:        log,
		errCh:      make(chan error, 1),
	}
}

func (q *Queue) openPublisher() error {
	ch, err := q.newChannel()
	if err != nil {
		return fmt.Errorf("open publish channel: %w", err)
	}
	if _, err := ch.QueueDeclare(q.name, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return fmt.Errorf("declare queue %q: %w", q.name, err)
	}
	q.pubCh = ch
	return nil
}

// Err is closed when the broker connection ends and receives the cause
// when it ended abnormally. Workers exit on it and rely on their
// supervisor to restart them.
func (q *Queue) Err() <-chan error {
	return q.errCh
}

// PublishStatement implements jobs.Publisher.
func (q *Queue) PublishStatement(ctx context.Context, job *jobs.ProcessStatementJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("PublishStatement: %w", err)
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("PublishStatement: marshal: %w", err)
	}

	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	if q.pubCh == nil {
		return jobs.ErrQueueClosed
	}
	err = q.pubCh.PublishWithContext(ctx, "", q.name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.StatementID,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("PublishStatement: %w", err)
	}
	return nil
}

// Start implements jobs.Consumer. It returns once the consumer is
// registered; messages are handled on a background goroutine.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.consMu.Lock()
	defer q.consMu.Unlock()
	if q.consCh != nil {
		return fmt.Errorf("Start: consumer already running")
	}

	ch, err := q.newChannel()
	if err != nil {
		return fmt.Errorf("Start: open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(q.name, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return fmt.Errorf("Start: declare queue: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("Start: set prefetch: %w", err)
	}
	deliveries, err := ch.Consume(q.name, q.tag, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("Start: consume: %w", err)
	}
	q.consCh = ch

	q.wg.Add(1)
	go q.consume(ctx, deliveries, handler)
	return nil
}

func (q *Queue) consume(ctx context.Context, deliveries <-chan amqp.Delivery, handler jobs.JobHandler) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			q.handle(ctx, d, handler)
		}
	}
}

func (q *Queue) handle(ctx context.Context, d amqp.Delivery, handler jobs.JobHandler) {
	var job jobs.ProcessStatementJob
	if err := json.Unmarshal(d.Body, &job); err != nil || job.Validate() != nil {
		q.log.Error().
			Err(err).
			Str("body", truncate(string(d.Body), 256)).
			Msg("Rejecting undecodable job")
		if rerr := d.Reject(false); rerr != nil {
			q.log.Error().Err(rerr).Msg("Reject failed")
		}
		return
	}

	q.runHandler(ctx, &job, handler)

	if err := d.Ack(false); err != nil {
		q.log.Error().Err(err).Str("statement_id", job.StatementID).Msg("Ack failed")
	}
}

func (q *Queue) runHandler(ctx context.Context, job *jobs.ProcessStatementJob, handler jobs.JobHandler) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Interface("panic", r).Str("statement_id", job.StatementID).Msg("Job handler panicked")
		}
	}()
	if err := handler(ctx, job); err != nil {
		q.log.Error().Err(err).Str("statement_id", job.StatementID).Msg("Job handler returned error")
	}
}

// Stop implements jobs.Consumer. The in-flight message is finished and
// acknowledged before Stop returns.
func (q *Queue) Stop(ctx context.Context) error {
	q.consMu.Lock()
	ch := q.consCh
	q.consMu.Unlock()
	if ch != nil {
		if err := ch.Cancel(q.tag, false); err != nil {
			q.log.Warn().Err(err).Msg("Cancel consumer failed")
		}
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements jobs.Publisher. It stops consuming and closes the connection.
func (q *Queue) Close() error {
	_ = q.Stop(context.Background())

	q.consMu.Lock()
	if q.consCh != nil {
		_ = q.consCh.Close()
		q.consCh = nil
	}
	q.consMu.Unlock()

	q.pubMu.Lock()
	if q.pubCh != nil {
		_ = q.pubCh.Close()
		q.pubCh = nil
	}
	q.pubMu.Unlock()

	if q.conn != nil && !q.conn.IsClosed() {
		return q.conn.Close()
	}
	return nil
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "...(truncated)"
}

var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
