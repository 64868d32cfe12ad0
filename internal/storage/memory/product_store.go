package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/shopfront/internal/domain"
)

// ProductStore — in-memory реализация ProductStore для локальной
// разработки и тестов. CAS-семантика идентична postgres-реализации.
type ProductStore struct {
	mu    sync.RWMutex
	items map[string]domain.Product
}

// NewProductStore возвращает пустое in-memory хранилище товаров.
func NewProductStore() *ProductStore {
	return &ProductStore{
		items: make(map[string]domain.Product),
	}
}

// Seed сохраняет товар, перезаписывая существующий (для тестов и демо-данных).
func (s *ProductStore) Seed(products ...domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range products {
		s.items[p.ID] = cloneProduct(p)
	}
}

// Get возвращает товар или ErrProductNotFound.
func (s *ProductStore) Get(ctx context.Context, id string) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.items[id]
	if !ok {
		return domain.Product{}, &domain.ProductNotFoundError{ProductID: id}
	}
	return cloneProduct(p), nil
}

// List возвращает все товары, отсортированные по названию для стабильного вывода.
func (s *ProductStore) List(ctx context.Context) ([]domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Product, 0, len(s.items))
	for _, p := range s.items {
		result = append(result, cloneProduct(p))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Title != result[j].Title {
			return result[i].Title < result[j].Title
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// CompareAndSwapStock записывает next только при совпадении текущего остатка
// с expected. Единственная точка мутации остатка вместе с AdjustStock.
func (s *ProductStore) CompareAndSwapStock(ctx context.Context, id string, expected, next int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.items[id]
	if !ok || p.StockQty == nil {
		return &domain.ProductNotFoundError{ProductID: id}
	}
	if *p.StockQty != expected {
		return domain.ErrStockConflict
	}

	p.StockQty = domain.StockOf(next)
	s.items[id] = p
	return nil
}

// AdjustStock безусловно прибавляет delta к отслеживаемому остатку.
func (s *ProductStore) AdjustStock(ctx context.Context, id string, delta int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.items[id]
	if !ok {
		return &domain.ProductNotFoundError{ProductID: id}
	}
	if p.StockQty == nil {
		return nil
	}

	p.StockQty = domain.StockOf(*p.StockQty + delta)
	s.items[id] = p
	return nil
}

// cloneProduct копирует товар вместе с указателем остатка,
// чтобы вызывающая сторона не могла мутировать хранилище напрямую.
func cloneProduct(p domain.Product) domain.Product {
	if p.StockQty != nil {
		p.StockQty = domain.StockOf(*p.StockQty)
	}
	return p
}

var _ domain.ProductStore = (*ProductStore)(nil)
