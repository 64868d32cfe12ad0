package domain

import "time"

// Product описывает товар каталога.
//
// StockQty — указатель намеренно: nil означает "остаток не отслеживается",
// такой товар никогда не отклоняется по остатку и не участвует в CAS-протоколе.
type Product struct {
	ID          string
	Title       string
	PriceMinor  int64 // цена за единицу в минимальных денежных единицах
	Category    string
	StockQty    *int64
	Description string
	ImageRef    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Tracked сообщает, отслеживается ли остаток товара.
func (p *Product) Tracked() bool {
	return p.StockQty != nil
}

// Stock возвращает текущий остаток; для неотслеживаемых товаров — 0 и false.
func (p *Product) Stock() (int64, bool) {
	if p.StockQty == nil {
		return 0, false
	}
	return *p.StockQty, true
}

// ValidateInvariants проверяет базовые инварианты товара и возвращает список замечаний.
func (p *Product) ValidateInvariants() []error {
	var errs []error

	if p.Title == "" {
		errs = append(errs, ErrProductTitleRequired)
	}
	if p.PriceMinor < 0 {
		errs = append(errs, ErrProductPriceNegative)
	}
	if p.StockQty != nil && *p.StockQty < 0 {
		errs = append(errs, ErrProductStockNegative)
	}

	return errs
}

// StockOf — удобный конструктор для отслеживаемого остатка в тестах и сидировании.
func StockOf(qty int64) *int64 {
	return &qty
}
