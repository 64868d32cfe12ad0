package domain

import "time"

// Role определяет роль аккаунта в магазине.
type Role string

const (
	// RoleCustomer — обычный покупатель.
	RoleCustomer Role = "customer"
	// RoleAdmin — администратор с безусловной видимостью покупок.
	RoleAdmin Role = "admin"
)

// Valid проверяет, что роль относится к поддерживаемым значениям.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleAdmin:
		return true
	default:
		return false
	}
}

// PurchaseRecord — неизменяемая запись о покупке в истории клиента.
//
// ProductTitle — денормализованный снимок названия на момент покупки, не живая
// ссылка на товар. OrderID служит nonce коммита: по нему AppendPurchases
// распознаёт повторную попытку и не дублирует записи.
type PurchaseRecord struct {
	OrderID      string
	ProductTitle string
	Quantity     int64
	Timestamp    time.Time
}

// WellFormed сообщает, пригодна ли запись для агрегации.
// Статистика деградирует мягко: кривые записи просто не попадают в суммы.
func (r *PurchaseRecord) WellFormed() bool {
	return r.ProductTitle != "" && r.Quantity > 0
}

// CustomerAccount агрегирует данные клиента и его append-only историю покупок.
type CustomerAccount struct {
	ID    string
	Name  string
	Email string
	Role  Role
	// PrivacyFlag — управляемый клиентом opt-in: true означает
	// "другие покупатели могут видеть мои покупки в публичных счётчиках".
	// На видимость для администраторов флаг не влияет.
	PrivacyFlag bool
	JoinedAt    time.Time
	Purchases   []PurchaseRecord
}

// IsAdmin сообщает, обладает ли аккаунт административной видимостью.
func (a *CustomerAccount) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// ValidateInvariants проверяет базовые инварианты аккаунта.
func (a *CustomerAccount) ValidateInvariants() []error {
	var errs []error

	if a.ID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if a.Name == "" {
		errs = append(errs, ErrAccountNameRequired)
	}
	if !a.Role.Valid() {
		errs = append(errs, ErrAccountRoleInvalid)
	}

	return errs
}
