package memory

import (
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/shopfront/internal/domain"
)

// idempotencyStore держит idempotency-ключи в map под RWMutex. Используется
// в dev-режиме и в unit-тестах вместо Postgres.
type idempotencyStore struct {
	mu      sync.RWMutex
	records map[string]domain.IdempotencyRecord
}

var _ domain.IdempotencyRepository = (*idempotencyStore)(nil)

// NewIdempotencyRepository создаёт in-memory реализацию IdempotencyRepository.
func NewIdempotencyRepository() domain.IdempotencyRepository {
	return &idempotencyStore{records: make(map[string]domain.IdempotencyRecord)}
}

// copyRecord отвязывает ResponseBody от внутреннего состояния.
func copyRecord(src domain.IdempotencyRecord) domain.IdempotencyRecord {
	dst := src
	dst.ResponseBody = append([]byte(nil), src.ResponseBody...)
	return dst
}

func validateKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", domain.ErrIdempotencyKeyRequired
	}
	return key, nil
}

func (s *idempotencyStore) CreateProcessing(key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key, err := validateKey(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	requestHash = strings.TrimSpace(requestHash)
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(24 * time.Hour)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[key]; ok {
		if existing.RequestHash != requestHash {
			return copyRecord(existing), domain.ErrIdempotencyHashMismatch
		}
		return copyRecord(existing), domain.ErrIdempotencyKeyAlreadyExists
	}

	record := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		ExpiresAt:   ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.records[key] = record

	return copyRecord(record), nil
}

func (s *idempotencyStore) Get(key string) (domain.IdempotencyRecord, error) {
	key, err := validateKey(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[key]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return copyRecord(record), nil
}

func (s *idempotencyStore) MarkDone(key string, responseBody []byte, httpStatus int) error {
	return s.setStatus(key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (s *idempotencyStore) MarkFailed(key string, responseBody []byte, httpStatus int) error {
	return s.setStatus(key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

func (s *idempotencyStore) setStatus(key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key, err := validateKey(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}

	record.Status = status
	record.ResponseBody = append([]byte(nil), responseBody...)
	record.HTTPStatus = httpStatus
	record.UpdatedAt = time.Now().UTC()
	s.records[key] = record

	return nil
}

func (s *idempotencyStore) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, record := range s.records {
		if record.ExpiresAt.After(before) {
			continue
		}
		delete(s.records, key)
		removed++
		if limit > 0 && removed >= limit {
			break
		}
	}
	return removed, nil
}
