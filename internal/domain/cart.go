package domain

// CartLine представляет одну позицию корзины на момент оформления.
// Title и цена — снимки на момент добавления, а не живые ссылки на товар.
type CartLine struct {
	ProductID     string
	TitleSnapshot string
	PriceMinor    int64
	Quantity      int64
}

// CartSnapshot — финализированный набор строк, передаваемый движку коммита
// одним блоком. Порядок строк определяет порядок записей в истории покупок.
type CartSnapshot []CartLine

// Validate проверяет предусловия коммита: корзина не пуста,
// каждая строка ссылается на товар и запрашивает положительное количество.
func (c CartSnapshot) Validate() []error {
	var errs []error

	if len(c) == 0 {
		errs = append(errs, ErrCartEmpty)
	}
	for _, line := range c {
		if line.ProductID == "" {
			errs = append(errs, ErrCartProductRequired)
		}
		if line.Quantity <= 0 {
			errs = append(errs, ErrCartQtyInvalid)
		}
	}

	return errs
}

// TotalMinor возвращает стоимость корзины по снимкам цен.
func (c CartSnapshot) TotalMinor() int64 {
	var total int64
	for _, line := range c {
		total += line.PriceMinor * line.Quantity
	}
	return total
}

// QuantityByProduct агрегирует запрошенные количества по товару,
// сохраняя порядок первого появления — его использует CAS-цикл коммита.
func (c CartSnapshot) QuantityByProduct() ([]string, map[string]int64) {
	order := make([]string, 0, len(c))
	totals := make(map[string]int64, len(c))
	for _, line := range c {
		if _, seen := totals[line.ProductID]; !seen {
			order = append(order, line.ProductID)
		}
		totals[line.ProductID] += line.Quantity
	}
	return order, totals
}
