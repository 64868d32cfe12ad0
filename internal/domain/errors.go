package domain

import (
	"errors"
	"fmt"
)

var (
	// Ошибка пустой корзины при оформлении заказа.
	ErrCartEmpty = errors.New("cart snapshot must contain at least one line")
	// Ошибка при некорректном количестве в строке корзины (<= 0).
	ErrCartQtyInvalid = errors.New("cart line quantity must be greater than zero")
	// Ошибка отсутствующего идентификатора товара в строке корзины.
	ErrCartProductRequired = errors.New("cart line product_id is required")
	// Ошибка отсутствующего названия товара.
	ErrProductTitleRequired = errors.New("product title is required")
	// Ошибка отрицательной цены товара.
	ErrProductPriceNegative = errors.New("product price must be non-negative")
	// Ошибка отрицательного остатка отслеживаемого товара.
	ErrProductStockNegative = errors.New("product stock must be non-negative when tracked")
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// Ошибка отсутствующего имени клиента.
	ErrAccountNameRequired = errors.New("account name is required")
	// Ошибка при неизвестной роли аккаунта.
	ErrAccountRoleInvalid = errors.New("account role must be customer or admin")

	// ErrProductNotFound возвращается, если товар не найден в хранилище.
	ErrProductNotFound = errors.New("product not found")
	// ErrAccountNotFound возвращается, если аккаунт клиента не найден.
	ErrAccountNotFound = errors.New("account not found")
	// ErrDuplicateAccount возвращается при попытке создать аккаунт с занятым ID.
	ErrDuplicateAccount = errors.New("account already exists")
	// ErrOutOfStock — бизнес-ошибка: отслеживаемого остатка недостаточно для заказа.
	ErrOutOfStock = errors.New("insufficient stock")
	// ErrStockConflict сигнализирует, что CAS-обновление остатка не прошло
	// из-за конкурентной модификации; одиночная операция, повторяемая движком.
	ErrStockConflict = errors.New("stock compare-and-swap conflict")
	// ErrCommitConflict возвращается, когда бюджет повторов коммита исчерпан.
	ErrCommitConflict = errors.New("commit retry budget exhausted")
	// ErrCommitTimeout возвращается, если хранилище не ответило в срок вызова.
	ErrCommitTimeout = errors.New("commit deadline exceeded")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// ErrIdempotencyKeyRequired — пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой хеш запроса для ключа.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — ключ уже зарегистрирован (возможен повтор запроса).
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — тот же ключ прислан с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency request hash mismatch")
	// ErrIdempotencyKeyNotFound — ключ не найден в хранилище.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

// OutOfStockError уточняет ErrOutOfStock идентификатором товара,
// чтобы UI мог показать, какой именно строки не хватило.
type OutOfStockError struct {
	ProductID string
	Requested int64
	Available int64
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// Is позволяет errors.Is(err, ErrOutOfStock) работать для типизированной ошибки.
func (e *OutOfStockError) Is(target error) bool {
	return target == ErrOutOfStock
}

// ProductNotFoundError уточняет ErrProductNotFound идентификатором пропавшего товара.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

func (e *ProductNotFoundError) Is(target error) bool {
	return target == ErrProductNotFound
}

// IsOutOfStock проверяет, является ли ошибка нехваткой остатка.
func IsOutOfStock(err error) bool {
	return errors.Is(err, ErrOutOfStock)
}

// IsStockConflict проверяет, является ли ошибка CAS-конфликтом остатка.
func IsStockConflict(err error) bool {
	return errors.Is(err, ErrStockConflict)
}

// IsNotFound проверяет, что ошибка вызвана пропажей товара или аккаунта.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound) || errors.Is(err, ErrAccountNotFound)
}

// IsCommitTimeout проверяет, что коммит был прерван по дедлайну.
func IsCommitTimeout(err error) bool {
	return errors.Is(err, ErrCommitTimeout)
}
