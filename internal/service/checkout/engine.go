package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopfront/internal/domain"
	"github.com/vladislavdragonenkov/shopfront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shopfront/internal/metrics"
)

// CommitResult описывает успешно зафиксированный заказ.
type CommitResult struct {
	OrderID     string
	CustomerID  string
	Records     []domain.PurchaseRecord
	TotalMinor  int64
	CompletedAt time.Time
}

// Engine описывает интерфейс движка коммита заказа.
type Engine interface {
	PlaceOrder(ctx context.Context, customerID string, snapshot domain.CartSnapshot) (CommitResult, error)
}

// CacheInvalidator сбрасывает производные от истории покупок представления.
// Вызывается после каждого успешного коммита.
type CacheInvalidator interface {
	InvalidateSoldTotals(ctx context.Context) error
}

// engine реализует протокол коммита: чтение остатков, проверка достаточности,
// условные декременты с retry, батчевый append истории как точка фиксации.
type engine struct {
	products domain.ProductStore
	accounts domain.AccountStore
	outbox   domain.OutboxRepository
	cache    CacheInvalidator
	logger   *log.Entry
	metrics  *metrics.CheckoutMetrics
	retry    RetryConfig
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option настраивает engine.
type Option func(*engine)

// WithOutbox подключает transactional outbox для событий order.committed.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(e *engine) {
		e.outbox = outbox
	}
}

// WithCacheInvalidator подключает сброс кэша агрегатов после коммита.
func WithCacheInvalidator(cache CacheInvalidator) Option {
	return func(e *engine) {
		e.cache = cache
	}
}

// WithMetrics подключает метрики коммита.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(e *engine) {
		e.metrics = m
	}
}

// WithRetryConfig заменяет retry-политику условных декрементов.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(e *engine) {
		e.retry = cfg
	}
}

// NewEngine создаёт движок коммита заказа.
func NewEngine(products domain.ProductStore, accounts domain.AccountStore, logger *log.Entry, opts ...Option) Engine {
	if logger == nil {
		logger = log.New().WithField("component", "checkout")
	}
	e := &engine{
		products: products,
		accounts: accounts,
		logger:   logger,
		retry:    DefaultRetryConfig(),
		sleep:    sleepWithContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// appliedDecrement фиксирует уже применённый декремент для компенсации.
type appliedDecrement struct {
	productID string
	quantity  int64
}

// PlaceOrder фиксирует заказ целиком или не меняет состояние вовсе.
func (e *engine) PlaceOrder(ctx context.Context, customerID string, snapshot domain.CartSnapshot) (CommitResult, error) {
	start := time.Now()
	if e.metrics != nil {
		e.metrics.RecordCommitStarted()
	}
	defer func() {
		if e.metrics != nil {
			e.metrics.RecordCommitFinished()
			e.metrics.RecordCommitDuration(time.Since(start))
		}
	}()

	if errs := snapshot.Validate(); len(errs) > 0 {
		e.recordFailure("invalid_cart")
		return CommitResult{}, errs[0]
	}
	if customerID == "" {
		e.recordFailure("invalid_customer")
		return CommitResult{}, domain.ErrCustomerRequired
	}
	account, err := e.accounts.Get(ctx, customerID)
	if err != nil {
		e.recordFailure("unknown_customer")
		return CommitResult{}, err
	}

	orderID := uuid.NewString()
	logger := e.logger.WithFields(log.Fields{
		"order_id":    orderID,
		"customer_id": customerID,
	})

	productOrder, quantities := snapshot.QuantityByProduct()

	attempts := 0
	for attempt := 1; attempt <= e.retry.MaxAttempts; attempt++ {
		attempts = attempt

		if err := ctx.Err(); err != nil {
			e.recordFailure("timeout")
			return CommitResult{}, commitDeadlineError(err)
		}

		retry, err := e.tryDecrements(ctx, productOrder, quantities)
		if err != nil {
			e.recordDecrementFailure(err)
			return CommitResult{}, err
		}
		if !retry {
			break
		}

		// Конкурентная модификация остатка: откатились, ждём и читаем заново.
		if e.metrics != nil {
			e.metrics.RecordCASRetry()
		}
		if attempt == e.retry.MaxAttempts {
			logger.WithField("attempts", attempts).Warn("stock contention exhausted retry budget")
			e.recordFailure("conflict")
			return CommitResult{}, fmt.Errorf("place order %s: %w", orderID, domain.ErrCommitConflict)
		}

		delay := e.retry.DelayFor(attempt)
		logger.WithFields(log.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Debug("stock cas conflict, retrying")
		if err := e.sleep(ctx, delay); err != nil {
			e.recordFailure("timeout")
			return CommitResult{}, commitDeadlineError(err)
		}
	}
	if e.metrics != nil {
		e.metrics.RecordCASAttempts(attempts)
	}

	// Точка фиксации: батчевый append истории. Выполняется на отвязанном
	// контексте, отмена вызывающей стороны здесь уже не может прервать заказ.
	records := buildRecords(orderID, snapshot, time.Now().UTC())
	commitCtx := context.WithoutCancel(ctx)
	if err := e.accounts.AppendPurchases(commitCtx, customerID, orderID, records); err != nil {
		logger.WithError(err).Error("history append failed, compensating decrements")
		e.compensate(commitCtx, decrementsOf(productOrder, quantities))
		e.recordFailure("append_failed")
		return CommitResult{}, fmt.Errorf("append purchase history: %w", err)
	}

	e.publishCommitted(commitCtx, orderID, account, snapshot)
	e.invalidateCaches(commitCtx)

	if e.metrics != nil {
		e.metrics.RecordCommitCompleted()
	}
	logger.WithFields(log.Fields{
		"lines":    len(records),
		"attempts": attempts,
	}).Info("order committed")

	return CommitResult{
		OrderID:     orderID,
		CustomerID:  customerID,
		Records:     records,
		TotalMinor:  snapshot.TotalMinor(),
		CompletedAt: records[0].Timestamp,
	}, nil
}

// tryDecrements выполняет одну попытку протокола: чтение, проверка
// достаточности, условные декременты. Возвращает retry=true при CAS-конфликте;
// любые применённые декременты к этому моменту уже компенсированы.
func (e *engine) tryDecrements(ctx context.Context, productOrder []string, quantities map[string]int64) (bool, error) {
	type decrementPlan struct {
		productID string
		expected  int64
		quantity  int64
	}

	// Фаза чтения и проверки достаточности. Товары без отслеживаемого
	// остатка не участвуют в декрементах.
	plan := make([]decrementPlan, 0, len(productOrder))
	for _, productID := range productOrder {
		product, err := e.products.Get(ctx, productID)
		if err != nil {
			return false, err
		}
		stock, tracked := product.Stock()
		if !tracked {
			continue
		}
		requested := quantities[productID]
		if stock < requested {
			return false, &domain.OutOfStockError{
				ProductID: productID,
				Requested: requested,
				Available: stock,
			}
		}
		plan = append(plan, decrementPlan{productID: productID, expected: stock, quantity: requested})
	}

	// Фаза условных декрементов.
	applied := make([]appliedDecrement, 0, len(plan))
	for _, step := range plan {
		err := e.products.CompareAndSwapStock(ctx, step.productID, step.expected, step.expected-step.quantity)
		if err == nil {
			applied = append(applied, appliedDecrement{productID: step.productID, quantity: step.quantity})
			continue
		}

		// Частичный прогон откатывается всегда, дальше решаем retry или abort.
		e.compensate(context.WithoutCancel(ctx), applied)
		if errors.Is(err, domain.ErrStockConflict) {
			return true, nil
		}
		return false, err
	}

	return false, nil
}

// compensate возвращает уже списанные количества обратно.
// Работает на отвязанном контексте: отмена вызова не должна
// оставить частично применённые декременты.
func (e *engine) compensate(ctx context.Context, applied []appliedDecrement) {
	for i := len(applied) - 1; i >= 0; i-- {
		step := applied[i]
		if err := e.products.AdjustStock(ctx, step.productID, step.quantity); err != nil {
			e.logger.WithError(err).WithField("product_id", step.productID).Error("stock compensation failed")
		}
	}
}

func (e *engine) publishCommitted(ctx context.Context, orderID string, account domain.CustomerAccount, snapshot domain.CartSnapshot) {
	if e.outbox == nil {
		return
	}

	lines := make([]kafka.OrderLine, 0, len(snapshot))
	for _, line := range snapshot {
		lines = append(lines, kafka.OrderLine{
			ProductID:    line.ProductID,
			ProductTitle: line.TitleSnapshot,
			Quantity:     line.Quantity,
			PriceMinor:   line.PriceMinor,
		})
	}
	event := kafka.NewOrderCommittedEvent(orderID, account.ID, lines, snapshot.TotalMinor())

	payload, err := json.Marshal(event)
	if err != nil {
		e.logger.WithError(err).Error("failed to marshal order.committed event")
		return
	}
	if _, err := e.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   orderID,
		EventType:     string(kafka.EventTypeOrderCommitted),
		Payload:       payload,
	}); err != nil {
		// Заказ уже зафиксирован, событие теряем только с логом.
		e.logger.WithError(err).WithField("order_id", orderID).Error("failed to enqueue outbox event")
		return
	}
	if e.metrics != nil {
		e.metrics.RecordOutboxEvent()
	}
}

func (e *engine) invalidateCaches(ctx context.Context) {
	if e.cache == nil {
		return
	}
	if err := e.cache.InvalidateSoldTotals(ctx); err != nil {
		e.logger.WithError(err).Warn("failed to invalidate sold totals cache")
	}
}

func (e *engine) recordFailure(reason string) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordCommitFailed(reason)
}

func (e *engine) recordDecrementFailure(err error) {
	if e.metrics == nil {
		return
	}
	switch {
	case domain.IsOutOfStock(err):
		e.metrics.RecordOversellRejected()
		e.metrics.RecordCommitFailed("out_of_stock")
	case domain.IsNotFound(err):
		e.metrics.RecordCommitFailed("not_found")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		e.metrics.RecordCommitFailed("timeout")
	default:
		e.metrics.RecordCommitFailed("store_error")
	}
}

// buildRecords превращает строки корзины в записи истории, сохраняя порядок строк.
func buildRecords(orderID string, snapshot domain.CartSnapshot, at time.Time) []domain.PurchaseRecord {
	records := make([]domain.PurchaseRecord, 0, len(snapshot))
	for _, line := range snapshot {
		records = append(records, domain.PurchaseRecord{
			OrderID:      orderID,
			ProductTitle: line.TitleSnapshot,
			Quantity:     line.Quantity,
			Timestamp:    at,
		})
	}
	return records
}

func decrementsOf(productOrder []string, quantities map[string]int64) []appliedDecrement {
	applied := make([]appliedDecrement, 0, len(productOrder))
	for _, productID := range productOrder {
		applied = append(applied, appliedDecrement{productID: productID, quantity: quantities[productID]})
	}
	return applied
}

func commitDeadlineError(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrCommitTimeout, err)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
