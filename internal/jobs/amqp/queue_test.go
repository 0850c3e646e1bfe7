package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finsight/internal/jobs"
)

// fakeChannel mocks an AMQP channel for testing.
type fakeChannel struct {
	mu         sync.Mutex
	published  []amqp.Publishing
	declared   []string
	prefetch   int
	deliveries chan amqp.Delivery
	cancelled  bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{deliveries: make(chan amqp.Delivery, 10)}
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !durable {
		return amqp.Queue{}, errors.New("queue must be durable")
	}
	f.declared = append(f.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	f.prefetch = prefetchCount
	return nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	if autoAck {
		return nil, errors.New("auto-ack not allowed")
	}
	return f.deliveries, nil
}

func (f *fakeChannel) Cancel(consumer string, noWait bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.cancelled {
		f.cancelled = true
		close(f.deliveries)
	}
	return nil
}

func (f *fakeChannel) Close() error { return nil }

// fakeAcker records acknowledgements.
type fakeAcker struct {
	mu       sync.Mutex
	acked    []uint64
	rejected []uint64
	done     chan struct{}
}

func (a *fakeAcker) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	a.acked = append(a.acked, tag)
	a.mu.Unlock()
	a.done <- struct{}{}
	return nil
}

func (a *fakeAcker) Nack(tag uint64, multiple, requeue bool) error { return nil }

func (a *fakeAcker) Reject(tag uint64, requeue bool) error {
	a.mu.Lock()
	a.rejected = append(a.rejected, tag)
	a.mu.Unlock()
	a.done <- struct{}{}
	return nil
}

func newTestQueue(ch *fakeChannel) *Queue {
	q := newQueue("statement-processing", func() (channel, error) { return ch, nil }, zerolog.Nop())
	_ = q.openPublisher()
	return q
}

func TestPublishStatement_PersistentJSON(t *testing.T) {
	ch := newFakeChannel()
	q := newTestQueue(ch)

	job := &jobs.ProcessStatementJob{StatementID: "s1", UserID: "u1", FilePath: "/uploads/s1.pdf", Filename: "jan.pdf"}
	if err := q.PublishStatement(context.Background(), job); err != nil {
		t.Fatalf("PublishStatement: %v", err)
	}

	if len(ch.published) != 1 {
		t.Fatalf("expected 1 message, got %d", len(ch.published))
	}
	msg := ch.published[0]
	if msg.DeliveryMode != amqp.Persistent {
		t.Errorf("DeliveryMode = %d, want persistent", msg.DeliveryMode)
	}
	var decoded map[string]string
	if err := json.Unmarshal(msg.Body, &decoded); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if decoded["statementId"] != "s1" || decoded["filePath"] != "/uploads/s1.pdf" {
		t.Errorf("unexpected body %s", msg.Body)
	}
}

func TestConsume_AcksAfterHandlerEvenOnError(t *testing.T) {
	ch := newFakeChannel()
	q := newTestQueue(ch)
	acker := &fakeAcker{done: make(chan struct{}, 4)}

	var handled []string
	var mu sync.Mutex
	err := q.Start(context.Background(), func(ctx context.Context, job *jobs.ProcessStatementJob) error {
		mu.Lock()
		handled = append(handled, job.StatementID)
		mu.Unlock()
		if job.StatementID == "bad" {
			return errors.New("extraction failed")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if ch.prefetch != 1 {
		t.Errorf("prefetch = %d, want 1", ch.prefetch)
	}

	ch.deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 1, Body: []byte(`{"statementId":"ok","userId":"u","filePath":"f","filename":"a.pdf"}`)}
	ch.deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 2, Body: []byte(`{"statementId":"bad","userId":"u","filePath":"f","filename":"b.pdf"}`)}
	ch.deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 3, Body: []byte(`not json`)}

	for i := 0; i < 3; i++ {
		select {
		case <-acker.done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for acknowledgements")
		}
	}

	acker.mu.Lock()
	defer acker.mu.Unlock()
	if len(acker.acked) != 2 || acker.acked[0] != 1 || acker.acked[1] != 2 {
		t.Errorf("acked = %v, want [1 2]", acker.acked)
	}
	if len(acker.rejected) != 1 || acker.rejected[0] != 3 {
		t.Errorf("rejected = %v, want [3]", acker.rejected)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(handled) != 2 {
		t.Errorf("handled = %v", handled)
	}
}

func TestStop_EndsConsumer(t *testing.T) {
	ch := newFakeChannel()
	q := newTestQueue(ch)

	if err := q.Start(context.Background(), func(ctx context.Context, job *jobs.ProcessStatementJob) error { return nil }); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := q.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !ch.cancelled {
		t.Error("consumer was not cancelled")
	}
}

func TestClose_RejectsFurtherPublishes(t *testing.T) {
	q := newTestQueue(newFakeChannel())
	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	job := &jobs.ProcessStatementJob{StatementID: "s", UserID: "u", FilePath: "f"}
	if err := q.PublishStatement(context.Background(), job); !errors.Is(err, jobs.ErrQueueClosed) {
		t.Errorf("expected ErrQueueClosed, got %v", err)
	}
}
