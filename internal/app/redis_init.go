package app

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// initRedisClient подключается к Redis для кеша публичной статистики.
// Пустой адрес или неудачный ping означают работу без кеша.
func initRedisClient(ctx context.Context, addr string, logger *log.Entry) *redis.Client {
	if addr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.WithError(err).Warn("redis is unreachable, continuing without stats cache")
		_ = client.Close()
		return nil
	}

	logger.WithField("addr", addr).Info("redis stats cache initialized")
	return client
}

// closeRedis закрывает клиент Redis если он не nil.
func closeRedis(client *redis.Client, logger *log.Entry) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		logger.WithError(err).Warn("failed to close redis client")
	}
}
