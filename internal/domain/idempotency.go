package domain

import "time"

// IdempotencyStatus описывает жизненный цикл ключа идемпотентности:
// processing -> done/failed, после истечения TTL запись удаляется.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing — запрос принят и ещё обрабатывается.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone — запрос завершён успешно и ответ сохранён.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed — обработка завершилась ошибкой.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	return s == IdempotencyStatusProcessing || s == IdempotencyStatusDone || s == IdempotencyStatusFailed
}

// IdempotencyRecord хранит состояние обработки запроса с idempotency-key.
// Для чекаута это второй слой защиты поверх nonce заказа: клиент, повторивший
// POST после сетевого сбоя, получает сохранённый ответ вместо нового заказа.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	Status       IdempotencyStatus
	ResponseBody []byte
	HTTPStatus   int
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
