package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/shopfront/internal/domain"
)

func enqueueOutboxForTest(t *testing.T, repo domain.OutboxRepository, id, aggregateID string) domain.OutboxMessage {
	t.Helper()

	stored, err := repo.Enqueue(domain.OutboxMessage{
		ID:            id,
		AggregateType: "order",
		AggregateID:   aggregateID,
		EventType:     "order.committed",
		Payload:       []byte(`{"order_id":"` + aggregateID + `"}`),
	})
	if err != nil {
		t.Fatalf("enqueue %s: %v", aggregateID, err)
	}
	return stored
}

// pullPendingForTest достаёт pending-записи и проверяет их количество.
func pullPendingForTest(t *testing.T, repo domain.OutboxRepository, limit, want int) []domain.OutboxMessage {
	t.Helper()

	pending, err := repo.PullPending(limit)
	if err != nil {
		t.Fatalf("pull pending (limit=%d): %v", limit, err)
	}
	if len(pending) != want {
		t.Fatalf("expected %d pending messages, got %d", want, len(pending))
	}
	return pending
}

// outboxStatsForTest сверяет размер backlog на указанном шаге теста.
func outboxStatsForTest(t *testing.T, repo domain.OutboxRepository, stage string, wantPending int) domain.OutboxStats {
	t.Helper()

	stats, err := repo.Stats()
	if err != nil {
		t.Fatalf("stats %s: %v", stage, err)
	}
	if stats.PendingCount != wantPending {
		t.Fatalf("%s: expected pending=%d, got %d", stage, wantPending, stats.PendingCount)
	}
	return stats
}

func TestOutboxRepository_PostgresFlow(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)

	first := enqueueOutboxForTest(t, repo, "", "order-1")
	if first.ID == "" {
		t.Fatal("expected generated id for outbox message")
	}

	second := enqueueOutboxForTest(t, repo, "outbox-fixed-id", "order-2")
	if second.ID != "outbox-fixed-id" {
		t.Fatalf("expected fixed id, got %q", second.ID)
	}

	// limit <= 0 подставляет дефолтный лимит.
	pullPendingForTest(t, repo, 0, 2)

	stats := outboxStatsForTest(t, repo, "before marks", 2)
	if stats.OldestPendingAt.IsZero() {
		t.Fatal("expected oldest pending timestamp")
	}

	if err := repo.MarkSent(first.ID); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := repo.MarkFailed(second.ID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	pullPendingForTest(t, repo, 10, 0)
	outboxStatsForTest(t, repo, "after marks", 0)
}

func TestOutboxRepository_PostgresPullOrder(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)

	first := enqueueOutboxForTest(t, repo, "", "order-old")
	time.Sleep(5 * time.Millisecond)
	second := enqueueOutboxForTest(t, repo, "", "order-new")

	pending := pullPendingForTest(t, repo, 10, 2)
	if pending[0].ID != first.ID || pending[1].ID != second.ID {
		t.Fatalf("expected creation order %s,%s, got %s,%s",
			first.ID, second.ID, pending[0].ID, pending[1].ID)
	}

	stats := outboxStatsForTest(t, repo, "pull order", 2)
	if stats.OldestPendingAt.IsZero() {
		t.Fatal("expected non-zero oldest pending time")
	}
}

func TestOutboxRepository_PostgresMissingRows(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)

	marks := map[string]func(string) error{
		"mark sent":   repo.MarkSent,
		"mark failed": repo.MarkFailed,
	}
	for name, mark := range marks {
		if err := mark("missing-outbox"); !errors.Is(err, domain.ErrOutboxPublish) {
			t.Fatalf("expected ErrOutboxPublish on %s for missing id, got %v", name, err)
		}
	}
}
