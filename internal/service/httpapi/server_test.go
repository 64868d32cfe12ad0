package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shopfront/internal/domain"
	"github.com/vladislavdragonenkov/shopfront/internal/service/cart"
	"github.com/vladislavdragonenkov/shopfront/internal/service/checkout"
	"github.com/vladislavdragonenkov/shopfront/internal/service/stats"
	"github.com/vladislavdragonenkov/shopfront/internal/storage/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return log.NewEntry(logger)
}

type testEnv struct {
	router   *gin.Engine
	products *memory.ProductStore
	accounts *memory.AccountStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := newTestLogger()

	products := memory.NewProductStore()
	products.Seed(
		domain.Product{ID: "prod-1", Title: "Widget", PriceMinor: 500, StockQty: domain.StockOf(10)},
		domain.Product{ID: "prod-2", Title: "Gadget", PriceMinor: 900, StockQty: domain.StockOf(1)},
		domain.Product{ID: "prod-3", Title: "Ebook", PriceMinor: 300},
	)

	accounts := memory.NewAccountStore()
	accounts.Seed(
		domain.CustomerAccount{ID: "cust-1", Name: "Alice", Role: domain.RoleCustomer, PrivacyFlag: true},
		domain.CustomerAccount{ID: "cust-2", Name: "Bob", Role: domain.RoleCustomer},
		domain.CustomerAccount{ID: "admin-1", Name: "Root", Role: domain.RoleAdmin},
	)

	carts := cart.NewService(products, logger)
	engine := checkout.NewEngine(products, accounts, logger)
	aggregator := stats.NewAggregator(accounts, logger)

	server := NewServer(products, accounts, carts, engine, aggregator, logger,
		WithIdempotency(memory.NewIdempotencyRepository()))

	return &testEnv{
		router:   server.Router(),
		products: products,
		accounts: accounts,
	}
}

func (e *testEnv) do(t *testing.T, method, path, customerID string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if customerID != "" {
		req.Header.Set(customerHeader, customerID)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst))
}

func TestCartEndpoints_AddSetAndClear(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/cart/items", "cust-1", gin.H{"product_id": "prod-1"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPatch, "/api/v1/cart/items/prod-1", "cust-1", gin.H{"quantity": 3}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp cartResponse
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Lines, 1)
	assert.Equal(t, int64(3), resp.Lines[0].Quantity)
	assert.Equal(t, int64(1500), resp.TotalMinor)

	// Нулевое количество удаляет строку.
	rec = env.do(t, http.MethodPatch, "/api/v1/cart/items/prod-1", "cust-1", gin.H{"quantity": 0}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &resp)
	assert.Empty(t, resp.Lines)

	rec = env.do(t, http.MethodDelete, "/api/v1/cart", "cust-1", nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCartEndpoints_RequireCustomerHeader(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/cart", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCartEndpoints_UnknownProduct(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/cart/items", "cust-1", gin.H{"product_id": "missing"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckout_HappyPath(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/cart/items", "cust-1", gin.H{"product_id": "prod-1"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPatch, "/api/v1/cart/items/prod-1", "cust-1", gin.H{"quantity": 2}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/checkout", "cust-1", nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp checkoutResponse
	decodeBody(t, rec, &resp)
	assert.NotEmpty(t, resp.OrderID)
	assert.Equal(t, "cust-1", resp.CustomerID)
	require.Len(t, resp.Lines, 1)
	assert.Equal(t, "Widget", resp.Lines[0].ProductTitle)
	assert.Equal(t, int64(1000), resp.TotalMinor)

	// Корзина очищена, повторный чекаут без товаров отклоняется.
	rec = env.do(t, http.MethodPost, "/api/v1/checkout", "cust-1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckout_OutOfStockConflict(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/cart/items", "cust-1", gin.H{"product_id": "prod-2"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	// Остаток prod-2 равен 1, корзина просит 5.
	rec = env.do(t, http.MethodPatch, "/api/v1/cart/items/prod-2", "cust-1", gin.H{"quantity": 5}, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestCheckout_IdempotencyReplay(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/cart/items", "cust-1", gin.H{"product_id": "prod-1"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	headers := map[string]string{idempotencyHeader: "key-1"}
	first := env.do(t, http.MethodPost, "/api/v1/checkout", "cust-1", nil, headers)
	require.Equal(t, http.StatusCreated, first.Code)

	var firstResp checkoutResponse
	decodeBody(t, first, &firstResp)

	// Корзина после первого чекаута пуста, но повтор с тем же ключом
	// возвращает сохранённый ответ, а не ошибку пустой корзины.
	second := env.do(t, http.MethodPost, "/api/v1/checkout", "cust-1", nil, headers)
	require.Equal(t, http.StatusCreated, second.Code)

	var secondResp checkoutResponse
	decodeBody(t, second, &secondResp)
	assert.Equal(t, firstResp.OrderID, secondResp.OrderID)

	// Остаток списан ровно один раз.
	got, err := env.products.Get(t.Context(), "prod-1")
	require.NoError(t, err)
	qty, _ := got.Stock()
	assert.Equal(t, int64(9), qty)
}

func TestAccountEndpoints_PrivacyAndPurchases(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/api/v1/account/privacy", "cust-2", gin.H{"public": true}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := env.accounts.Get(t.Context(), "cust-2")
	require.NoError(t, err)
	assert.True(t, got.PrivacyFlag)

	rec = env.do(t, http.MethodPost, "/api/v1/cart/items", "cust-2", gin.H{"product_id": "prod-1"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/v1/checkout", "cust-2", nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/account/purchases", "cust-2", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Purchases []purchaseResponse `json:"purchases"`
	}
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Purchases, 1)
	assert.Equal(t, "Widget", resp.Purchases[0].ProductTitle)
}

func TestAccountEndpoints_CreateAndDuplicate(t *testing.T) {
	env := newTestEnv(t)

	body := gin.H{"id": "cust-new", "name": "Newcomer", "email": "new@example.com"}
	rec := env.do(t, http.MethodPost, "/api/v1/accounts", "", body, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp accountResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "customer", resp.Role)

	rec = env.do(t, http.MethodPost, "/api/v1/accounts", "", body, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/accounts", "", gin.H{"id": "x", "name": "y", "role": "superuser"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsEndpoints_PublicFiltersPrivacy(t *testing.T) {
	env := newTestEnv(t)

	now := time.Now().UTC()
	seedPurchase := func(customerID, orderID string, qty int64) {
		t.Helper()
		err := env.accounts.AppendPurchases(t.Context(), customerID, orderID, []domain.PurchaseRecord{
			{OrderID: orderID, ProductTitle: "Widget", Quantity: qty, Timestamp: now},
		})
		require.NoError(t, err)
	}
	seedPurchase("cust-1", "order-a", 2) // Alice публична
	seedPurchase("cust-2", "order-b", 5) // Bob приватен

	rec := env.do(t, http.MethodGet, "/api/v1/stats/sold", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var public struct {
		Totals map[string]int64 `json:"totals"`
	}
	decodeBody(t, rec, &public)
	assert.Equal(t, int64(2), public.Totals["Widget"])

	rec = env.do(t, http.MethodGet, "/api/v1/stats/admin/sold", "admin-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var admin struct {
		Totals map[string]int64 `json:"totals"`
	}
	decodeBody(t, rec, &admin)
	assert.Equal(t, int64(7), admin.Totals["Widget"])
}

func TestStatsEndpoints_AdminGate(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/stats/admin/sold", "cust-1", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/stats/admin/sold", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/admin/customers", "admin-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Customers []accountResponse `json:"customers"`
	}
	decodeBody(t, rec, &resp)
	assert.Len(t, resp.Customers, 3)
}

func TestStatsEndpoints_CustomerTotalsVisibility(t *testing.T) {
	env := newTestEnv(t)

	err := env.accounts.AppendPurchases(t.Context(), "cust-2", "order-z", []domain.PurchaseRecord{
		{OrderID: "order-z", ProductTitle: "Gadget", Quantity: 3, Timestamp: time.Now().UTC()},
	})
	require.NoError(t, err)

	// Свои данные видны.
	rec := env.do(t, http.MethodGet, "/api/v1/stats/customers/cust-2/totals", "cust-2", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Totals map[string]int64 `json:"totals"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, int64(3), resp.Totals["Gadget"])

	// Чужие — только администратору.
	rec = env.do(t, http.MethodGet, "/api/v1/stats/customers/cust-2/totals", "cust-1", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/stats/customers/cust-2/totals", "admin-1", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCatalog_IncludesPublicSoldCounts(t *testing.T) {
	env := newTestEnv(t)

	err := env.accounts.AppendPurchases(t.Context(), "cust-1", "order-c", []domain.PurchaseRecord{
		{OrderID: "order-c", ProductTitle: "Widget", Quantity: 4, Timestamp: time.Now().UTC()},
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/v1/catalog", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Items []catalogItemResponse `json:"items"`
	}
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Items, 3)

	byTitle := map[string]catalogItemResponse{}
	for _, item := range resp.Items {
		byTitle[item.Title] = item
	}
	assert.Equal(t, int64(4), byTitle["Widget"].SoldCount)
	assert.Equal(t, int64(0), byTitle["Gadget"].SoldCount)
	assert.Nil(t, byTitle["Ebook"].StockQty)
}
