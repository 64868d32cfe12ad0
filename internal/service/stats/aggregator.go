package stats

import (
	"context"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopfront/internal/domain"
)

// SoldDetailRow — одна строка админской детализации продаж товара.
type SoldDetailRow struct {
	CustomerName string    `json:"customer_name"`
	Quantity     int64     `json:"quantity"`
	Timestamp    time.Time `json:"timestamp"`
}

// Aggregator считает производные представления истории покупок.
// Stateless: каждый вызов читает текущее состояние хранилища,
// никаких денормализованных счётчиков не ведётся.
type Aggregator struct {
	accounts domain.AccountStore
	logger   *log.Entry
}

// NewAggregator создаёт aggregation engine поверх хранилища аккаунтов.
func NewAggregator(accounts domain.AccountStore, logger *log.Entry) *Aggregator {
	if logger == nil {
		logger = log.New().WithField("component", "stats")
	}
	return &Aggregator{
		accounts: accounts,
		logger:   logger,
	}
}

// PublicSoldTotals возвращает продажи по названию товара только по клиентам,
// явно разрешившим показывать свои покупки. Кто не дал opt-in, не виден
// в публичном счётчике, хотя его покупки существуют в хранилище.
func (a *Aggregator) PublicSoldTotals(ctx context.Context) (map[string]int64, error) {
	accounts, err := a.accounts.List(ctx)
	if err != nil {
		return nil, err
	}

	var pairs []groupedPair
	for _, account := range accounts {
		if !account.PrivacyFlag {
			continue
		}
		pairs = appendRecordPairs(pairs, account.Purchases)
	}

	return groupedSum(pairs), nil
}

// AdminSoldTotals возвращает продажи по названию товара без фильтрации.
// Админская видимость не ограничена privacy flag.
func (a *Aggregator) AdminSoldTotals(ctx context.Context) (map[string]int64, error) {
	accounts, err := a.accounts.List(ctx)
	if err != nil {
		return nil, err
	}

	var pairs []groupedPair
	for _, account := range accounts {
		pairs = appendRecordPairs(pairs, account.Purchases)
	}

	return groupedSum(pairs), nil
}

// AdminSoldDetail возвращает покупателей товара с количеством и временем,
// отсортированных по времени покупки (при равенстве — по имени клиента).
func (a *Aggregator) AdminSoldDetail(ctx context.Context, productTitle string) ([]SoldDetailRow, error) {
	if productTitle == "" {
		return nil, nil
	}

	accounts, err := a.accounts.List(ctx)
	if err != nil {
		return nil, err
	}

	var rows []SoldDetailRow
	for _, account := range accounts {
		for _, record := range account.Purchases {
			if !record.WellFormed() || record.ProductTitle != productTitle {
				continue
			}
			rows = append(rows, SoldDetailRow{
				CustomerName: account.Name,
				Quantity:     record.Quantity,
				Timestamp:    record.Timestamp,
			})
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].Timestamp.Equal(rows[j].Timestamp) {
			return rows[i].Timestamp.Before(rows[j].Timestamp)
		}
		return rows[i].CustomerName < rows[j].CustomerName
	})

	return rows, nil
}

// PerCustomerTotals возвращает покупки одного клиента, сгруппированные
// по названию товара. Privacy flag на собственную историю не действует.
func (a *Aggregator) PerCustomerTotals(ctx context.Context, customerID string) (map[string]int64, error) {
	account, err := a.accounts.Get(ctx, customerID)
	if err != nil {
		return nil, err
	}

	return groupedSum(appendRecordPairs(nil, account.Purchases)), nil
}

// groupedPair — входная пара для grouped-sum.
type groupedPair struct {
	key      string
	quantity int64
}

// groupedSum суммирует количества по ключу. Пустые ключи и
// неположительные количества считаются за 0 и в результат не попадают.
func groupedSum(pairs []groupedPair) map[string]int64 {
	totals := make(map[string]int64, len(pairs))
	for _, pair := range pairs {
		if pair.key == "" || pair.quantity <= 0 {
			continue
		}
		totals[pair.key] += pair.quantity
	}
	return totals
}

// appendRecordPairs отбрасывает кривые записи молча: битые данные
// в хранилище не должны ронять агрегацию целиком.
func appendRecordPairs(pairs []groupedPair, records []domain.PurchaseRecord) []groupedPair {
	for _, record := range records {
		if !record.WellFormed() {
			continue
		}
		pairs = append(pairs, groupedPair{key: record.ProductTitle, quantity: record.Quantity})
	}
	return pairs
}
