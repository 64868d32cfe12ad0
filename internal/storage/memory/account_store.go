package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/shopfront/internal/domain"
)

// accountRecord хранит аккаунт и множество применённых nonce заказов
// для идемпотентности AppendPurchases.
type accountRecord struct {
	account       domain.CustomerAccount
	appliedOrders map[string]struct{}
}

// AccountStore — in-memory реализация AccountStore.
// История покупок append-only: записи никогда не редактируются и не удаляются.
type AccountStore struct {
	mu    sync.RWMutex
	items map[string]*accountRecord
}

// NewAccountStore возвращает пустое in-memory хранилище аккаунтов.
func NewAccountStore() *AccountStore {
	return &AccountStore{
		items: make(map[string]*accountRecord),
	}
}

// Seed сохраняет аккаунты, перезаписывая существующие (для тестов и демо-данных).
func (s *AccountStore) Seed(accounts ...domain.CustomerAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acc := range accounts {
		s.items[acc.ID] = &accountRecord{
			account:       cloneAccount(acc),
			appliedOrders: make(map[string]struct{}),
		}
	}
}

// Get возвращает аккаунт или ErrAccountNotFound.
func (s *AccountStore) Get(ctx context.Context, id string) (domain.CustomerAccount, error) {
	if err := ctx.Err(); err != nil {
		return domain.CustomerAccount{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.items[id]
	if !ok {
		return domain.CustomerAccount{}, domain.ErrAccountNotFound
	}
	return cloneAccount(rec.account), nil
}

// List возвращает все аккаунты, отсортированные по дате регистрации.
func (s *AccountStore) List(ctx context.Context) ([]domain.CustomerAccount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CustomerAccount, 0, len(s.items))
	for _, rec := range s.items {
		result = append(result, cloneAccount(rec.account))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].JoinedAt.Equal(result[j].JoinedAt) {
			return result[i].JoinedAt.Before(result[j].JoinedAt)
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// Create сохраняет новый аккаунт, если ID ещё не занят.
func (s *AccountStore) Create(ctx context.Context, account domain.CustomerAccount) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[account.ID]; exists {
		return domain.ErrDuplicateAccount
	}
	s.items[account.ID] = &accountRecord{
		account:       cloneAccount(account),
		appliedOrders: make(map[string]struct{}),
	}
	return nil
}

// AppendPurchases дописывает записи в историю одним блоком, сохраняя порядок.
// Повтор с уже применённым orderID — no-op: retry-петля коммита после
// конфликта не должна порождать дубликатов.
func (s *AccountStore) AppendPurchases(ctx context.Context, customerID, orderID string, records []domain.PurchaseRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.items[customerID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	if _, applied := rec.appliedOrders[orderID]; applied {
		return nil
	}

	rec.account.Purchases = append(rec.account.Purchases, records...)
	rec.appliedOrders[orderID] = struct{}{}
	return nil
}

// SetPrivacy обновляет клиентский opt-in видимости покупок.
func (s *AccountStore) SetPrivacy(ctx context.Context, customerID string, allow bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.items[customerID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	rec.account.PrivacyFlag = allow
	return nil
}

func cloneAccount(acc domain.CustomerAccount) domain.CustomerAccount {
	acc.Purchases = append([]domain.PurchaseRecord(nil), acc.Purchases...)
	return acc
}

var _ domain.AccountStore = (*AccountStore)(nil)
