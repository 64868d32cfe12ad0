package cart

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopfront/internal/domain"
)

// Service хранит корзины клиентов в памяти до момента коммита.
// Корзина не переживает рестарт процесса, это осознанное ограничение:
// до коммита строки не имеют самостоятельной ценности.
type Service struct {
	products domain.ProductStore
	logger   *log.Entry

	mu    sync.RWMutex
	carts map[string]domain.CartSnapshot
}

// NewService создаёт сервис корзин поверх хранилища товаров.
func NewService(products domain.ProductStore, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "cart")
	}
	return &Service{
		products: products,
		logger:   logger,
		carts:    make(map[string]domain.CartSnapshot),
	}
}

// Add добавляет одну единицу товара в корзину клиента.
// Для отслеживаемого остатка корзина не может запросить больше, чем есть.
func (s *Service) Add(ctx context.Context, customerID, productID string) error {
	if customerID == "" {
		return domain.ErrCustomerRequired
	}

	product, err := s.products.Get(ctx, productID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lines := s.carts[customerID]
	idx := indexOf(lines, productID)

	current := int64(0)
	if idx >= 0 {
		current = lines[idx].Quantity
	}
	if stock, tracked := product.Stock(); tracked && current+1 > stock {
		return &domain.OutOfStockError{
			ProductID: productID,
			Requested: current + 1,
			Available: stock,
		}
	}

	if idx >= 0 {
		lines[idx].Quantity++
	} else {
		lines = append(lines, domain.CartLine{
			ProductID:     product.ID,
			TitleSnapshot: product.Title,
			PriceMinor:    product.PriceMinor,
			Quantity:      1,
		})
	}
	s.carts[customerID] = lines
	return nil
}

// SetQuantity выставляет точное количество строки.
// Количество ≤ 0 удаляет строку из корзины.
func (s *Service) SetQuantity(ctx context.Context, customerID, productID string, quantity int64) error {
	if customerID == "" {
		return domain.ErrCustomerRequired
	}

	if quantity <= 0 {
		s.Remove(customerID, productID)
		return nil
	}

	product, err := s.products.Get(ctx, productID)
	if err != nil {
		return err
	}
	if stock, tracked := product.Stock(); tracked && quantity > stock {
		return &domain.OutOfStockError{
			ProductID: productID,
			Requested: quantity,
			Available: stock,
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lines := s.carts[customerID]
	if idx := indexOf(lines, productID); idx >= 0 {
		lines[idx].Quantity = quantity
	} else {
		lines = append(lines, domain.CartLine{
			ProductID:     product.ID,
			TitleSnapshot: product.Title,
			PriceMinor:    product.PriceMinor,
			Quantity:      quantity,
		})
	}
	s.carts[customerID] = lines
	return nil
}

// Remove убирает строку товара из корзины.
func (s *Service) Remove(customerID, productID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := s.carts[customerID]
	idx := indexOf(lines, productID)
	if idx < 0 {
		return
	}
	s.carts[customerID] = append(lines[:idx], lines[idx+1:]...)
}

// Clear опустошает корзину клиента. Вызывается после успешного коммита
// и по явному действию клиента.
func (s *Service) Clear(customerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, customerID)
}

// Snapshot возвращает копию текущей корзины для передачи в движок коммита.
func (s *Service) Snapshot(customerID string) domain.CartSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines := s.carts[customerID]
	if len(lines) == 0 {
		return nil
	}
	snapshot := make(domain.CartSnapshot, len(lines))
	copy(snapshot, lines)
	return snapshot
}

func indexOf(lines domain.CartSnapshot, productID string) int {
	for i, line := range lines {
		if line.ProductID == productID {
			return i
		}
	}
	return -1
}
