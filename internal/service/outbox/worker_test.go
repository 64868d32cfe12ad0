package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/shopfront/internal/domain"
)

func pendingMessage(id string) domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            id,
		AggregateType: "order",
		AggregateID:   "order-" + id,
		EventType:     "order.committed",
		Payload:       []byte(`{"order_id":"` + id + `"}`),
	}
}

func TestWorker_ProcessOnce_MarkSent(t *testing.T) {
	t.Parallel()

	repo := &fakeOutboxRepo{pending: []domain.OutboxMessage{pendingMessage("msg-1")}}
	publisher := &fakePublisher{}

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(0), WithMaxAttempts(3))
	worker.ProcessOnce(context.Background())

	if got := publisher.calls(); got != 1 {
		t.Fatalf("expected 1 publish call, got %d", got)
	}
	if len(repo.sentIDs) != 1 || repo.sentIDs[0] != "msg-1" {
		t.Fatalf("unexpected sent marks: %v", repo.sentIDs)
	}
	if len(repo.failedIDs) != 0 {
		t.Fatalf("unexpected failed marks: %v", repo.failedIDs)
	}
}

func TestWorker_ProcessOnce_MarkFailedAndDLQAfterRetries(t *testing.T) {
	t.Parallel()

	repo := &fakeOutboxRepo{pending: []domain.OutboxMessage{pendingMessage("msg-2")}}
	publisher := &fakePublisher{err: errors.New("publish failed")}
	dlq := &fakePublisher{}

	worker := NewWorker(
		repo,
		publisher,
		WithDLQPublisher(dlq),
		WithRetryBaseDelay(0),
		WithMaxAttempts(3),
	)
	worker.ProcessOnce(context.Background())

	if got := publisher.calls(); got != 3 {
		t.Fatalf("expected 3 publish attempts, got %d", got)
	}
	if len(repo.sentIDs) != 0 {
		t.Fatalf("unexpected sent marks: %v", repo.sentIDs)
	}
	if len(repo.failedIDs) != 1 || repo.failedIDs[0] != "msg-2" {
		t.Fatalf("unexpected failed marks: %v", repo.failedIDs)
	}
	if got := dlq.calls(); got != 1 {
		t.Fatalf("expected 1 DLQ publish, got %d", got)
	}

	// Конверт для DLQ обязан нести исходный payload и текст ошибки.
	var envelope struct {
		OutboxID     string          `json:"outbox_id"`
		Payload      json.RawMessage `json:"payload"`
		PublishError string          `json:"publish_error"`
	}
	if err := json.Unmarshal(dlq.last().Payload, &envelope); err != nil {
		t.Fatalf("decode dlq envelope: %v", err)
	}
	if envelope.OutboxID != "msg-2" {
		t.Fatalf("unexpected outbox_id in dlq envelope: %s", envelope.OutboxID)
	}
	if envelope.PublishError == "" {
		t.Fatal("expected publish_error in dlq envelope")
	}
	if string(envelope.Payload) != `{"order_id":"msg-2"}` {
		t.Fatalf("unexpected original payload in dlq envelope: %s", string(envelope.Payload))
	}
}

func TestWorker_ProcessOnce_SuccessAfterRetry(t *testing.T) {
	t.Parallel()

	repo := &fakeOutboxRepo{pending: []domain.OutboxMessage{pendingMessage("msg-3")}}
	publisher := &fakePublisher{
		sequenceErrors: []error{errors.New("attempt 1"), errors.New("attempt 2"), nil},
	}

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(0), WithMaxAttempts(3))
	worker.ProcessOnce(context.Background())

	if got := publisher.calls(); got != 3 {
		t.Fatalf("expected 3 publish attempts, got %d", got)
	}
	if len(repo.sentIDs) != 1 {
		t.Fatalf("expected 1 sent mark, got %v", repo.sentIDs)
	}
	if len(repo.failedIDs) != 0 {
		t.Fatalf("unexpected failed marks: %v", repo.failedIDs)
	}
}

func TestWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	worker := NewWorker(
		&fakeOutboxRepo{},
		&fakePublisher{},
		WithPollInterval(5*time.Millisecond),
		WithRetryBaseDelay(0),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	if got := backoffDelay(0, 3); got != 0 {
		t.Fatalf("zero base must disable backoff, got %s", got)
	}
	if got := backoffDelay(50*time.Millisecond, 1); got != 50*time.Millisecond {
		t.Fatalf("attempt 1: got %s", got)
	}
	if got := backoffDelay(50*time.Millisecond, 3); got != 200*time.Millisecond {
		t.Fatalf("attempt 3: got %s", got)
	}
	const maxDuration = time.Duration(1<<63 - 1)
	if got := backoffDelay(time.Hour, 100); got != maxDuration {
		t.Fatalf("expected saturation at max duration, got %s", got)
	}
}

type fakeOutboxRepo struct {
	pending   []domain.OutboxMessage
	sentIDs   []string
	failedIDs []string
}

var _ domain.OutboxRepository = (*fakeOutboxRepo)(nil)

func (f *fakeOutboxRepo) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	return msg, nil
}

func (f *fakeOutboxRepo) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit > 0 && limit < len(f.pending) {
		return append([]domain.OutboxMessage(nil), f.pending[:limit]...), nil
	}
	return append([]domain.OutboxMessage(nil), f.pending...), nil
}

func (f *fakeOutboxRepo) Stats() (domain.OutboxStats, error) {
	stats := domain.OutboxStats{PendingCount: len(f.pending)}
	if len(f.pending) > 0 {
		stats.OldestPendingAt = time.Now().UTC().Add(-time.Second)
	}
	return stats, nil
}

func (f *fakeOutboxRepo) MarkSent(id string) error {
	f.sentIDs = append(f.sentIDs, id)
	return nil
}

func (f *fakeOutboxRepo) MarkFailed(id string) error {
	f.failedIDs = append(f.failedIDs, id)
	return nil
}

type fakePublisher struct {
	mu             sync.Mutex
	err            error
	sequenceErrors []error
	published      []domain.OutboxMessage
}

var _ domain.OutboxPublisher = (*fakePublisher)(nil)

func (f *fakePublisher) Publish(msg domain.OutboxMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.published = append(f.published, msg)
	if len(f.sequenceErrors) > 0 {
		err := f.sequenceErrors[0]
		f.sequenceErrors = f.sequenceErrors[1:]
		return err
	}
	return f.err
}

func (f *fakePublisher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func (f *fakePublisher) last() domain.OutboxMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.published) == 0 {
		return domain.OutboxMessage{}
	}
	return f.published[len(f.published)-1]
}
