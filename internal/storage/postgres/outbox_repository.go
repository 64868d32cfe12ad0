package postgres

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/shopfront/internal/domain"
)

const (
	sqlInsertOutboxMessage = `
		INSERT INTO outbox_messages (
			id, aggregate_type, aggregate_id, event_type, payload,
			status, attempt_count, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,'pending',0,$6,$7)`

	sqlSelectPendingOutbox = `
		SELECT id, aggregate_type, aggregate_id, event_type, payload
		FROM outbox_messages
		WHERE status = 'pending'
		ORDER BY created_at, id
		LIMIT $1`

	sqlOutboxBacklogStats = `
		SELECT COUNT(*), MIN(created_at)
		FROM outbox_messages
		WHERE status = 'pending'`

	sqlUpdateOutboxStatus = `
		UPDATE outbox_messages
		SET status = $2,
		    attempt_count = attempt_count + 1,
		    updated_at = $3
		WHERE id = $1`
)

// outboxRepository хранит transactional outbox в таблице outbox_messages.
type outboxRepository struct {
	db *sql.DB
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)

// NewOutboxRepository создаёт PostgreSQL-реализацию OutboxRepository.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{db: store.DB()}
}

func (r *outboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	ctx, cancel := opContext()
	defer cancel()

	_, err := r.db.ExecContext(ctx, sqlInsertOutboxMessage,
		msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, now, now,
	)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue outbox message: %w", err)
	}
	return msg, nil
}

// PullPending возвращает pending-записи в порядке создания, чтобы события
// одного агрегата уходили в брокер в том же порядке, в каком были записаны.
func (r *outboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	ctx, cancel := opContext()
	defer cancel()

	rows, err := r.db.QueryContext(ctx, sqlSelectPendingOutbox, limit)
	if err != nil {
		return nil, fmt.Errorf("pull pending outbox messages: %w", err)
	}
	defer rows.Close()

	batch := make([]domain.OutboxMessage, 0, limit)
	for rows.Next() {
		var msg domain.OutboxMessage
		err := rows.Scan(&msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Payload)
		if err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		batch = append(batch, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}

	return batch, nil
}

func (r *outboxRepository) Stats() (domain.OutboxStats, error) {
	ctx, cancel := opContext()
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	if err := r.db.QueryRowContext(ctx, sqlOutboxBacklogStats).Scan(&stats.PendingCount, &oldest); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox stats query failed: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}

	return stats, nil
}

func (r *outboxRepository) MarkSent(id string) error {
	return r.setStatus(id, "sent")
}

func (r *outboxRepository) MarkFailed(id string) error {
	return r.setStatus(id, "failed")
}

func (r *outboxRepository) setStatus(id, status string) error {
	ctx, cancel := opContext()
	defer cancel()

	res, err := r.db.ExecContext(ctx, sqlUpdateOutboxStatus, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark outbox message as %s: %w", status, err)
	}

	switch affected, err := res.RowsAffected(); {
	case err != nil:
		return fmt.Errorf("rows affected for outbox %s: %w", status, err)
	case affected == 0:
		return domain.ErrOutboxPublish
	}
	return nil
}
