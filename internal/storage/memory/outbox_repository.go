package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/shopfront/internal/domain"
)

// queuedMessage — запись in-memory outbox вместе со служебными полями.
type queuedMessage struct {
	msg       domain.OutboxMessage
	status    string
	attempts  int
	createdAt time.Time
	updatedAt time.Time
}

// OutboxRepository — in-memory transactional outbox для dev-режима и тестов.
type OutboxRepository struct {
	mu    sync.RWMutex
	queue map[string]*queuedMessage
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)

// NewOutboxRepository создаёт in-memory реализацию outbox.
func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{queue: make(map[string]*queuedMessage)}
}

// Enqueue сохраняет событие со статусом pending, генерируя id при необходимости.
func (r *OutboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.queue[msg.ID] = &queuedMessage{
		msg:       msg,
		status:    "pending",
		createdAt: now,
		updatedAt: now,
	}
	return msg, nil
}

// pendingSorted возвращает pending-записи в порядке создания; тай-брейк по id
// даёт детерминированный порядок при одинаковых timestamp.
func (r *OutboxRepository) pendingSorted() []*queuedMessage {
	pending := make([]*queuedMessage, 0, len(r.queue))
	for _, rec := range r.queue {
		if rec.status == "pending" {
			pending = append(pending, rec)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].createdAt.Equal(pending[j].createdAt) {
			return pending[i].createdAt.Before(pending[j].createdAt)
		}
		return pending[i].msg.ID < pending[j].msg.ID
	})
	return pending
}

// PullPending возвращает до limit pending-сообщений в порядке постановки.
func (r *OutboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	pending := r.pendingSorted()
	if len(pending) > limit {
		pending = pending[:limit]
	}

	batch := make([]domain.OutboxMessage, 0, len(pending))
	for _, rec := range pending {
		batch = append(batch, rec.msg)
	}
	return batch, nil
}

// Stats возвращает размер backlog и возраст самой старой pending-записи.
func (r *OutboxRepository) Stats() (domain.OutboxStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OutboxStats
	for _, rec := range r.queue {
		if rec.status != "pending" {
			continue
		}
		stats.PendingCount++
		if stats.OldestPendingAt.IsZero() || rec.createdAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = rec.createdAt
		}
	}
	return stats, nil
}

// MarkSent переводит запись в статус sent после успешной публикации.
func (r *OutboxRepository) MarkSent(id string) error {
	return r.setStatus(id, "sent")
}

// MarkFailed фиксирует неудачную публикацию.
func (r *OutboxRepository) MarkFailed(id string) error {
	return r.setStatus(id, "failed")
}

func (r *OutboxRepository) setStatus(id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.queue[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	rec.status = status
	rec.attempts++
	rec.updatedAt = time.Now().UTC()
	return nil
}

// AllPending возвращает все pending-сообщения без лимита (для тестов).
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pending := r.pendingSorted()
	batch := make([]domain.OutboxMessage, 0, len(pending))
	for _, rec := range pending {
		batch = append(batch, rec.msg)
	}
	return batch
}
