package checkout

import (
	"math/rand"
	"time"
)

// RetryConfig конфигурация retry-петли условных декрементов.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   5,
		InitialDelay:  20 * time.Millisecond,
		MaxDelay:      500 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

// DelayFor возвращает задержку перед следующей попыткой: экспоненциальный
// рост с ограничением и jitter, чтобы конкуренты за один товар не
// просыпались синхронно.
func (c RetryConfig) DelayFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(c.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= c.BackoffFactor
		if delay >= float64(c.MaxDelay) {
			delay = float64(c.MaxDelay)
			break
		}
	}

	// Jitter в пределах половины базовой задержки.
	jitter := rand.Int63n(int64(delay)/2 + 1)
	result := time.Duration(int64(delay) + jitter)
	if result > c.MaxDelay {
		result = c.MaxDelay
	}
	return result
}
