package domain

import (
	"context"
	"time"
)

// ProductStore описывает хранилище товаров с поддержкой условных обновлений.
// Остаток меняется только через CompareAndSwapStock/AdjustStock —
// это единственный механизм корректности при конкурентных заказах.
type ProductStore interface {
	// Get возвращает товар или ErrProductNotFound.
	Get(ctx context.Context, id string) (Product, error)
	// List возвращает все товары (для каталога и агрегации).
	List(ctx context.Context) ([]Product, error)
	// CompareAndSwapStock записывает next, только если текущий остаток равен
	// expected. Возвращает ErrStockConflict при конкурентной модификации и
	// ErrProductNotFound, если товар пропал или остаток не отслеживается.
	CompareAndSwapStock(ctx context.Context, id string, expected, next int64) error
	// AdjustStock безусловно прибавляет delta к отслеживаемому остатку.
	// Используется движком коммита для компенсации уже применённых декрементов.
	AdjustStock(ctx context.Context, id string, delta int64) error
}

// AccountStore описывает хранилище аккаунтов с append-only историей покупок.
type AccountStore interface {
	// Get возвращает аккаунт или ErrAccountNotFound.
	Get(ctx context.Context, id string) (CustomerAccount, error)
	// List возвращает все аккаунты (для агрегации и админ-списков).
	List(ctx context.Context) ([]CustomerAccount, error)
	// Create сохраняет новый аккаунт; ErrDuplicateAccount, если ID занят.
	Create(ctx context.Context, account CustomerAccount) error
	// AppendPurchases дописывает записи в историю клиента одним блоком,
	// сохраняя порядок. Идемпотентна по orderID: повтор с тем же nonce —
	// no-op, поэтому retry-петля коммита не порождает дубликатов.
	AppendPurchases(ctx context.Context, customerID, orderID string, records []PurchaseRecord) error
	// SetPrivacy обновляет клиентский opt-in видимости покупок.
	SetPrivacy(ctx context.Context, customerID string, allow bool) error
}

// OutboxMessage — событие, записанное в transactional outbox вместе
// с изменением агрегата и публикуемое отдельным воркером.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats — срез backlog-а outbox для метрик и health-проверок.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// OutboxPublisher доставляет событие во внешний транспорт.
// Publish обязан быть идемпотентным: воркер повторяет его при сбоях.
type OutboxPublisher interface {
	Publish(event OutboxMessage) error
}

// OutboxRepository хранит события до подтверждённой публикации.
type OutboxRepository interface {
	// Enqueue сохраняет событие; пустой ID заменяется сгенерированным.
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	// PullPending отдаёт до limit неопубликованных событий в порядке записи.
	PullPending(limit int) ([]OutboxMessage, error)
	// Stats возвращает размер и возраст backlog-а.
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	// CreateProcessing регистрирует новый ключ в статусе processing;
	// ErrIdempotencyKeyAlreadyExists, если ключ уже занят.
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	// DeleteExpired удаляет до limit записей с истёкшим TTL (limit<=0 — без лимита).
	DeleteExpired(before time.Time, limit int) (int, error)
}
