package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopfront/internal/domain"
	"github.com/vladislavdragonenkov/shopfront/internal/service/cart"
	"github.com/vladislavdragonenkov/shopfront/internal/service/checkout"
	"github.com/vladislavdragonenkov/shopfront/internal/service/stats"
)

// customerHeader несёт идентификатор клиента. Аутентификацию выполняет
// внешний слой (reverse proxy), сюда приходит уже проверенный ID.
const customerHeader = "X-Customer-ID"

// StatsProvider — витрина агрегатов продаж для HTTP-слоя.
// Ему удовлетворяют и прямой агрегатор, и вариант с Redis-кешем.
type StatsProvider interface {
	PublicSoldTotals(ctx context.Context) (map[string]int64, error)
	AdminSoldTotals(ctx context.Context) (map[string]int64, error)
	AdminSoldDetail(ctx context.Context, productTitle string) ([]stats.SoldDetailRow, error)
	PerCustomerTotals(ctx context.Context, customerID string) (map[string]int64, error)
}

var (
	_ StatsProvider = (*stats.Aggregator)(nil)
	_ StatsProvider = (*stats.CachedAggregator)(nil)
)

// Server собирает HTTP-поверхность магазина поверх доменных сервисов.
type Server struct {
	products    domain.ProductStore
	accounts    domain.AccountStore
	carts       *cart.Service
	engine      checkout.Engine
	stats       StatsProvider
	idempotency domain.IdempotencyRepository
	logger      *log.Entry
}

// Option настраивает необязательные зависимости сервера.
type Option func(*Server)

// WithIdempotency включает защиту POST /checkout по заголовку Idempotency-Key.
func WithIdempotency(repo domain.IdempotencyRepository) Option {
	return func(s *Server) {
		s.idempotency = repo
	}
}

// NewServer создаёт HTTP-слой. Все обязательные зависимости передаются явно.
func NewServer(
	products domain.ProductStore,
	accounts domain.AccountStore,
	carts *cart.Service,
	engine checkout.Engine,
	statsProvider StatsProvider,
	logger *log.Entry,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = log.WithField("component", "httpapi")
	}

	s := &Server{
		products: products,
		accounts: accounts,
		carts:    carts,
		engine:   engine,
		stats:    statsProvider,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router строит gin-маршрутизатор со всеми эндпоинтами API.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api/v1")

	customer := api.Group("")
	customer.Use(s.requireCustomer())
	{
		customer.GET("/cart", s.getCart)
		customer.POST("/cart/items", s.addCartItem)
		customer.PATCH("/cart/items/:productId", s.setCartItemQuantity)
		customer.DELETE("/cart", s.clearCart)
		customer.POST("/checkout", s.checkout)
		customer.GET("/account/purchases", s.getOwnPurchases)
		customer.PUT("/account/privacy", s.setPrivacy)
		customer.GET("/stats/customers/:id/totals", s.getCustomerTotals)
	}

	api.GET("/catalog", s.getCatalog)
	api.GET("/stats/sold", s.getPublicSoldTotals)
	api.POST("/accounts", s.createAccount)

	admin := api.Group("")
	admin.Use(s.requireCustomer(), s.requireAdmin())
	{
		admin.GET("/stats/admin/sold", s.getAdminSoldTotals)
		admin.GET("/stats/admin/products/:title/buyers", s.getAdminSoldDetail)
		admin.GET("/admin/customers", s.listCustomers)
	}

	return router
}

// requireCustomer проверяет наличие идентификатора клиента в заголовке.
func (s *Server) requireCustomer() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(customerHeader) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("customer id header is required"))
			return
		}
		c.Next()
	}
}

// requireAdmin пускает дальше только аккаунты с административной ролью.
func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		account, err := s.accounts.Get(c.Request.Context(), c.GetHeader(customerHeader))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("unknown account"))
			return
		}
		if !account.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, errorBody("admin role required"))
			return
		}
		c.Next()
	}
}

func (s *Server) customerID(c *gin.Context) string {
	return c.GetHeader(customerHeader)
}
