package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopfront/internal/domain"
	"github.com/vladislavdragonenkov/shopfront/internal/storage/memory"
)

type productSeed struct {
	id    string
	stock *int64
}

func newTestStores(t *testing.T, products ...productSeed) (*memory.ProductStore, *memory.AccountStore) {
	t.Helper()

	productStore := memory.NewProductStore()
	now := time.Now().UTC()
	for _, seed := range products {
		productStore.Seed(domain.Product{
			ID:         seed.id,
			Title:      "Title " + seed.id,
			PriceMinor: 500,
			Category:   "test",
			StockQty:   seed.stock,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	accountStore := memory.NewAccountStore()
	accountStore.Seed(domain.CustomerAccount{
		ID:       "cust-1",
		Name:     "Alice",
		Role:     domain.RoleCustomer,
		JoinedAt: now,
	})

	return productStore, accountStore
}

func newTestEngine(products domain.ProductStore, accounts domain.AccountStore, opts ...Option) *engine {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)

	e := NewEngine(products, accounts, logger.WithField("component", "checkout-test"), opts...).(*engine)
	e.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return e
}

func cartOf(lines ...domain.CartLine) domain.CartSnapshot {
	return domain.CartSnapshot(lines)
}

func line(productID string, qty int64) domain.CartLine {
	return domain.CartLine{
		ProductID:     productID,
		TitleSnapshot: "Title " + productID,
		PriceMinor:    500,
		Quantity:      qty,
	}
}

func TestPlaceOrder_Success(t *testing.T) {
	products, accounts := newTestStores(t,
		productSeed{id: "prod-1", stock: domain.StockOf(5)},
		productSeed{id: "prod-2", stock: domain.StockOf(2)},
	)
	eng := newTestEngine(products, accounts)

	result, err := eng.PlaceOrder(context.Background(), "cust-1", cartOf(
		line("prod-1", 3),
		line("prod-2", 1),
	))
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if result.OrderID == "" {
		t.Fatal("expected generated order id")
	}
	if len(result.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(result.Records))
	}
	if result.TotalMinor != 4*500 {
		t.Fatalf("expected total 2000, got %d", result.TotalMinor)
	}

	p1, _ := products.Get(context.Background(), "prod-1")
	if qty, _ := p1.Stock(); qty != 2 {
		t.Fatalf("expected stock 2 after commit, got %d", qty)
	}
	p2, _ := products.Get(context.Background(), "prod-2")
	if qty, _ := p2.Stock(); qty != 1 {
		t.Fatalf("expected stock 1 after commit, got %d", qty)
	}

	account, _ := accounts.Get(context.Background(), "cust-1")
	if len(account.Purchases) != 2 {
		t.Fatalf("expected 2 history records, got %d", len(account.Purchases))
	}
	// Записи идут в порядке строк корзины.
	if account.Purchases[0].ProductTitle != "Title prod-1" || account.Purchases[1].ProductTitle != "Title prod-2" {
		t.Fatalf("history order broken: %+v", account.Purchases)
	}
	if account.Purchases[0].OrderID != result.OrderID {
		t.Fatal("history record must carry the commit nonce")
	}
}

func TestPlaceOrder_OutOfStockNoSideEffects(t *testing.T) {
	products, accounts := newTestStores(t,
		productSeed{id: "prod-1", stock: domain.StockOf(5)},
		productSeed{id: "prod-2", stock: domain.StockOf(1)},
	)
	eng := newTestEngine(products, accounts)

	_, err := eng.PlaceOrder(context.Background(), "cust-1", cartOf(
		line("prod-1", 2),
		line("prod-2", 3),
	))
	if !domain.IsOutOfStock(err) {
		t.Fatalf("expected out of stock, got %v", err)
	}

	var oos *domain.OutOfStockError
	if !errors.As(err, &oos) || oos.ProductID != "prod-2" {
		t.Fatalf("expected failing product id prod-2, got %v", err)
	}

	// Никаких следов: остатки и история не тронуты.
	p1, _ := products.Get(context.Background(), "prod-1")
	if qty, _ := p1.Stock(); qty != 5 {
		t.Fatalf("expected untouched stock 5, got %d", qty)
	}
	account, _ := accounts.Get(context.Background(), "cust-1")
	if len(account.Purchases) != 0 {
		t.Fatalf("expected empty history, got %d records", len(account.Purchases))
	}
}

func TestPlaceOrder_UntrackedStockNeverFails(t *testing.T) {
	products, accounts := newTestStores(t, productSeed{id: "prod-1", stock: nil})
	eng := newTestEngine(products, accounts)

	result, err := eng.PlaceOrder(context.Background(), "cust-1", cartOf(line("prod-1", 1000)))
	if err != nil {
		t.Fatalf("untracked stock must not fail checkout: %v", err)
	}
	if len(result.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(result.Records))
	}
}

func TestPlaceOrder_UnknownProductAborts(t *testing.T) {
	products, accounts := newTestStores(t, productSeed{id: "prod-1", stock: domain.StockOf(5)})
	eng := newTestEngine(products, accounts)

	_, err := eng.PlaceOrder(context.Background(), "cust-1", cartOf(
		line("prod-1", 1),
		line("prod-missing", 1),
	))
	if !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	p1, _ := products.Get(context.Background(), "prod-1")
	if qty, _ := p1.Stock(); qty != 5 {
		t.Fatalf("expected untouched stock 5, got %d", qty)
	}
}

func TestPlaceOrder_EmptyCart(t *testing.T) {
	products, accounts := newTestStores(t)
	eng := newTestEngine(products, accounts)

	_, err := eng.PlaceOrder(context.Background(), "cust-1", nil)
	if !errors.Is(err, domain.ErrCartEmpty) {
		t.Fatalf("expected ErrCartEmpty, got %v", err)
	}
}

func TestPlaceOrder_UnknownCustomer(t *testing.T) {
	products, accounts := newTestStores(t, productSeed{id: "prod-1", stock: domain.StockOf(5)})
	eng := newTestEngine(products, accounts)

	_, err := eng.PlaceOrder(context.Background(), "cust-missing", cartOf(line("prod-1", 1)))
	if !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestPlaceOrder_LastUnitRace(t *testing.T) {
	products, accounts := newTestStores(t, productSeed{id: "prod-1", stock: domain.StockOf(1)})

	const racers = 4
	var wg sync.WaitGroup
	var mu sync.Mutex
	var successes, oversells int

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			eng := newTestEngine(products, accounts)
			_, err := eng.PlaceOrder(context.Background(), "cust-1", cartOf(line("prod-1", 1)))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case domain.IsOutOfStock(err) || errors.Is(err, domain.ErrCommitConflict):
				oversells++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one winner for the last unit, got %d", successes)
	}
	if oversells != racers-1 {
		t.Fatalf("expected %d rejections, got %d", racers-1, oversells)
	}

	p1, _ := products.Get(context.Background(), "prod-1")
	if qty, _ := p1.Stock(); qty != 0 {
		t.Fatalf("stock must never go below zero, got %d", qty)
	}
	account, _ := accounts.Get(context.Background(), "cust-1")
	if len(account.Purchases) != 1 {
		t.Fatalf("expected single history record, got %d", len(account.Purchases))
	}
}

// conflictingProductStore всегда отвечает конфликтом на условный декремент.
type conflictingProductStore struct {
	domain.ProductStore

	mu         sync.Mutex
	casCnt     int
	adjustCnt  int
	adjustQtys map[string]int64
}

func (s *conflictingProductStore) CompareAndSwapStock(ctx context.Context, id string, expected, next int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.casCnt++
	return domain.ErrStockConflict
}

func (s *conflictingProductStore) AdjustStock(ctx context.Context, id string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adjustCnt++
	if s.adjustQtys == nil {
		s.adjustQtys = make(map[string]int64)
	}
	s.adjustQtys[id] += delta
	return nil
}

func TestPlaceOrder_ConflictExhaustsRetries(t *testing.T) {
	inner, accounts := newTestStores(t, productSeed{id: "prod-1", stock: domain.StockOf(5)})
	products := &conflictingProductStore{ProductStore: inner}
	eng := newTestEngine(products, accounts)

	_, err := eng.PlaceOrder(context.Background(), "cust-1", cartOf(line("prod-1", 1)))
	if !errors.Is(err, domain.ErrCommitConflict) {
		t.Fatalf("expected ErrCommitConflict, got %v", err)
	}
	if products.casCnt != DefaultRetryConfig().MaxAttempts {
		t.Fatalf("expected %d cas attempts, got %d", DefaultRetryConfig().MaxAttempts, products.casCnt)
	}

	account, _ := accounts.Get(context.Background(), "cust-1")
	if len(account.Purchases) != 0 {
		t.Fatalf("expected empty history after conflict, got %d records", len(account.Purchases))
	}
}

// failingAccountStore ломает append истории для проверки компенсации.
type failingAccountStore struct {
	domain.AccountStore
}

func (s *failingAccountStore) AppendPurchases(ctx context.Context, customerID, orderID string, records []domain.PurchaseRecord) error {
	return errors.New("history store unavailable")
}

func TestPlaceOrder_AppendFailureCompensatesDecrements(t *testing.T) {
	products, inner := newTestStores(t, productSeed{id: "prod-1", stock: domain.StockOf(5)})
	accounts := &failingAccountStore{AccountStore: inner}
	eng := newTestEngine(products, accounts)

	_, err := eng.PlaceOrder(context.Background(), "cust-1", cartOf(line("prod-1", 2)))
	if err == nil {
		t.Fatal("expected append failure to surface")
	}

	// Декременты откатились, остаток вернулся к исходному.
	p1, _ := products.Get(context.Background(), "prod-1")
	if qty, _ := p1.Stock(); qty != 5 {
		t.Fatalf("expected compensated stock 5, got %d", qty)
	}
}

func TestPlaceOrder_CanceledContext(t *testing.T) {
	products, accounts := newTestStores(t, productSeed{id: "prod-1", stock: domain.StockOf(5)})
	eng := newTestEngine(products, accounts)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := eng.PlaceOrder(ctx, "cust-1", cartOf(line("prod-1", 1)))
	if err == nil {
		t.Fatal("expected error for canceled context")
	}

	p1, _ := products.Get(context.Background(), "prod-1")
	if qty, _ := p1.Stock(); qty != 5 {
		t.Fatalf("expected untouched stock 5, got %d", qty)
	}
}

func TestPlaceOrder_OutboxEventEnqueued(t *testing.T) {
	products, accounts := newTestStores(t, productSeed{id: "prod-1", stock: domain.StockOf(5)})
	outbox := memory.NewOutboxRepository()
	eng := newTestEngine(products, accounts, WithOutbox(outbox))

	result, err := eng.PlaceOrder(context.Background(), "cust-1", cartOf(line("prod-1", 1)))
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	pending := outbox.AllPending()
	if len(pending) != 1 {
		t.Fatalf("expected one pending outbox event, got %d", len(pending))
	}
	if pending[0].EventType != "order.committed" {
		t.Fatalf("unexpected event type %q", pending[0].EventType)
	}
	if pending[0].AggregateID != result.OrderID {
		t.Fatal("outbox event must reference the committed order")
	}
}

type recordingInvalidator struct {
	mu  sync.Mutex
	cnt int
}

func (r *recordingInvalidator) InvalidateSoldTotals(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cnt++
	return nil
}

func TestPlaceOrder_InvalidatesCache(t *testing.T) {
	products, accounts := newTestStores(t, productSeed{id: "prod-1", stock: domain.StockOf(5)})
	invalidator := &recordingInvalidator{}
	eng := newTestEngine(products, accounts, WithCacheInvalidator(invalidator))

	if _, err := eng.PlaceOrder(context.Background(), "cust-1", cartOf(line("prod-1", 1))); err != nil {
		t.Fatalf("place order: %v", err)
	}
	if invalidator.cnt != 1 {
		t.Fatalf("expected one cache invalidation, got %d", invalidator.cnt)
	}
}
