package kafka

import "time"

// EventType определяет тип события
type EventType string

const (
	// Order события
	EventTypeOrderCommitted EventType = "order.committed"
	EventTypeOrderRejected  EventType = "order.rejected"

	// Inventory события
	EventTypeStockDepleted EventType = "stock.depleted"

	// Account события
	EventTypeAccountCreated EventType = "account.created"
	EventTypePrivacyChanged EventType = "privacy.changed"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "shopfront.order.events"
	TopicAccountEvents   = "shopfront.account.events"
	TopicDeadLetterQueue = "shopfront.dlq" // сюда уходят сообщения после исчерпания ретраев
)

// Заголовки, которыми consumer сопровождает повторы и записи в DLQ.
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// OrderLine описывает одну позицию зафиксированного заказа.
type OrderLine struct {
	ProductID    string `json:"product_id"`
	ProductTitle string `json:"product_title"`
	Quantity     int64  `json:"quantity"`
	PriceMinor   int64  `json:"price_minor"`
}

// OrderCommittedEvent публикуется после успешного коммита заказа.
type OrderCommittedEvent struct {
	EventType  EventType   `json:"event_type"`
	OrderID    string      `json:"order_id"`
	CustomerID string      `json:"customer_id"`
	Lines      []OrderLine `json:"lines"`
	TotalMinor int64       `json:"total_minor"`
	Timestamp  time.Time   `json:"timestamp"`
}

// AccountEvent описывает изменение аккаунта (создание, смена privacy flag).
type AccountEvent struct {
	EventType  EventType `json:"event_type"`
	CustomerID string    `json:"customer_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewOrderCommittedEvent создает событие успешного коммита заказа.
func NewOrderCommittedEvent(orderID, customerID string, lines []OrderLine, totalMinor int64) *OrderCommittedEvent {
	return &OrderCommittedEvent{
		EventType:  EventTypeOrderCommitted,
		OrderID:    orderID,
		CustomerID: customerID,
		Lines:      lines,
		TotalMinor: totalMinor,
		Timestamp:  time.Now().UTC(),
	}
}

// NewAccountEvent создает событие изменения аккаунта.
func NewAccountEvent(eventType EventType, customerID string) *AccountEvent {
	return &AccountEvent{
		EventType:  eventType,
		CustomerID: customerID,
		Timestamp:  time.Now().UTC(),
	}
}
