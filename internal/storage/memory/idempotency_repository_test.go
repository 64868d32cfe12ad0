package memory

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/shopfront/internal/domain"
)

func TestIdempotencyRepository_CreateProcessing(t *testing.T) {
	repo := NewIdempotencyRepository()

	record, err := repo.CreateProcessing("key-1", "hash-1", time.Time{})
	if err != nil {
		t.Fatalf("create processing: %v", err)
	}
	if record.Status != domain.IdempotencyStatusProcessing {
		t.Fatalf("expected processing status, got %q", record.Status)
	}
	if record.ExpiresAt.IsZero() {
		t.Fatal("expected default ttl to be assigned")
	}

	// Повтор с тем же ключом и хешом: ключ уже существует.
	existing, err := repo.CreateProcessing("key-1", "hash-1", time.Time{})
	if !errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
		t.Fatalf("expected ErrIdempotencyKeyAlreadyExists, got %v", err)
	}
	if existing.Key != "key-1" {
		t.Fatalf("expected existing record, got %+v", existing)
	}

	// Тот же ключ с другим телом запроса: конфликт.
	if _, err := repo.CreateProcessing("key-1", "hash-2", time.Time{}); !errors.Is(err, domain.ErrIdempotencyHashMismatch) {
		t.Fatalf("expected ErrIdempotencyHashMismatch, got %v", err)
	}
}

func TestIdempotencyRepository_CreateValidation(t *testing.T) {
	repo := NewIdempotencyRepository()

	if _, err := repo.CreateProcessing("   ", "hash-1", time.Time{}); !errors.Is(err, domain.ErrIdempotencyKeyRequired) {
		t.Fatalf("expected ErrIdempotencyKeyRequired, got %v", err)
	}
	if _, err := repo.CreateProcessing("key-1", "", time.Time{}); !errors.Is(err, domain.ErrIdempotencyRequestHashRequired) {
		t.Fatalf("expected ErrIdempotencyRequestHashRequired, got %v", err)
	}
}

func TestIdempotencyRepository_MarkDoneAndGet(t *testing.T) {
	repo := NewIdempotencyRepository()

	if _, err := repo.CreateProcessing("key-1", "hash-1", time.Time{}); err != nil {
		t.Fatalf("create processing: %v", err)
	}
	if err := repo.MarkDone("key-1", []byte(`{"orderId":"order-1"}`), 200); err != nil {
		t.Fatalf("mark done: %v", err)
	}

	record, err := repo.Get("key-1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if record.Status != domain.IdempotencyStatusDone {
		t.Fatalf("expected done status, got %q", record.Status)
	}
	if record.HTTPStatus != 200 {
		t.Fatalf("expected saved http status 200, got %d", record.HTTPStatus)
	}
	if string(record.ResponseBody) != `{"orderId":"order-1"}` {
		t.Fatalf("unexpected response body: %s", record.ResponseBody)
	}

	if _, err := repo.Get("missing"); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("expected ErrIdempotencyKeyNotFound, got %v", err)
	}
}

func TestIdempotencyRepository_DeleteExpired(t *testing.T) {
	repo := NewIdempotencyRepository()

	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)

	if _, err := repo.CreateProcessing("key-old", "hash-1", past); err != nil {
		t.Fatalf("create processing: %v", err)
	}
	if _, err := repo.CreateProcessing("key-new", "hash-2", future); err != nil {
		t.Fatalf("create processing: %v", err)
	}

	removed, err := repo.DeleteExpired(time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed record, got %d", removed)
	}
	if _, err := repo.Get("key-new"); err != nil {
		t.Fatalf("live record must survive cleanup: %v", err)
	}
}
