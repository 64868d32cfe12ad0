package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/shopfront/internal/health"
	"github.com/vladislavdragonenkov/shopfront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shopfront/internal/metrics"
	"github.com/vladislavdragonenkov/shopfront/internal/service/cart"
	"github.com/vladislavdragonenkov/shopfront/internal/service/checkout"
	"github.com/vladislavdragonenkov/shopfront/internal/service/httpapi"
	"github.com/vladislavdragonenkov/shopfront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/shopfront/internal/service/outbox"
	"github.com/vladislavdragonenkov/shopfront/internal/service/stats"
	"github.com/vladislavdragonenkov/shopfront/internal/version"
)

// Run собирает зависимости и держит HTTP-сервер магазина до отмены контекста.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafka(kafkaProducer, logger)

	redisClient := initRedisClient(ctx, cfg.RedisAddr, logger)
	defer closeRedis(redisClient, logger)

	checkoutMetrics := metrics.NewCheckoutMetrics()

	aggregator := stats.NewAggregator(deps.Accounts, logger.WithField("layer", "stats"))
	var statsProvider httpapi.StatsProvider = aggregator
	var soldCache *stats.SoldTotalsCache
	if redisClient != nil {
		soldCache = stats.NewSoldTotalsCache(redisClient, logger.WithField("layer", "stats"))
		statsProvider = stats.NewCachedAggregator(aggregator, soldCache, logger.WithField("layer", "stats"))
	}

	engineOpts := []checkout.Option{
		checkout.WithOutbox(deps.Outbox),
		checkout.WithMetrics(checkoutMetrics),
	}
	if soldCache != nil {
		engineOpts = append(engineOpts, checkout.WithCacheInvalidator(soldCache))
	}
	engine := checkout.NewEngine(deps.Products, deps.Accounts, logger.WithField("layer", "checkout"), engineOpts...)

	carts := cart.NewService(deps.Products, logger.WithField("layer", "cart"))

	server := httpapi.NewServer(
		deps.Products,
		deps.Accounts,
		carts,
		engine,
		statsProvider,
		logger.WithField("layer", "httpapi"),
		httpapi.WithIdempotency(deps.Idempotency),
	)

	// Фоновые воркеры: публикация outbox (только при наличии Kafka)
	// и очистка протухших idempotency-ключей.
	if kafkaProducer != nil {
		worker := outbox.NewWorker(
			deps.Outbox,
			kafka.NewOutboxPublisher(kafkaProducer, kafka.TopicOrderEvents),
			outbox.WithLogger(logger.WithField("layer", "outbox")),
			outbox.WithDLQPublisher(kafka.NewOutboxPublisher(kafkaProducer, kafka.TopicDeadLetterQueue)),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		go worker.Run(ctx)
	}

	// Инвалидация кэша витрины по событиям заказов от соседних инстансов.
	if kafkaProducer != nil && soldCache != nil {
		cache := soldCache
		consumer, consumerErr := kafka.NewConsumer(
			strings.Split(cfg.KafkaBrokers, ","),
			"shopfront-cache-invalidator",
			[]string{kafka.TopicOrderEvents},
			func(msgCtx context.Context, message *sarama.ConsumerMessage) error {
				if _, parseErr := kafka.ParseOrderCommittedEvent(message); parseErr != nil {
					return parseErr
				}
				return cache.InvalidateSoldTotals(msgCtx)
			},
		)
		if consumerErr != nil {
			logger.WithError(consumerErr).Warn("не удалось создать Kafka consumer, пропускаем кросс-инстансную инвалидацию кэша")
		} else {
			if startErr := consumer.Start(ctx); startErr != nil {
				logger.WithError(startErr).Warn("не удалось запустить Kafka consumer")
			} else {
				defer func() {
					if stopErr := consumer.Stop(); stopErr != nil {
						logger.WithError(stopErr).Warn("ошибка остановки Kafka consumer")
					}
				}()
			}
		}
	}

	cleanup := idempotency.NewCleanupWorker(
		deps.Idempotency,
		idempotency.WithLogger(logger.WithField("layer", "idempotency")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	go cleanup.Run(ctx)

	healthHandler := healthcheck.NewHandler(version.String())
	if deps.Store != nil {
		store := deps.Store
		healthHandler.RegisterChecker("postgres", healthcheck.NewSimpleChecker("postgres", func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return store.Ping(pingCtx)
		}))
	}
	if redisClient != nil {
		client := redisClient
		healthHandler.RegisterChecker("redis", healthcheck.NewSimpleChecker("redis", func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return client.Ping(pingCtx).Err()
		}))
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	apiSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: server.Router()}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		errCh <- apiSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP-сервер")
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(metricsSrv, logger)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	srv := &http.Server{Addr: addr, Handler: newMetricsMux(healthHandler)}

	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()
	return srv
}

// newMetricsMux собирает маршруты сервисного HTTP-сервера.
func newMetricsMux(healthHandler *healthcheck.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	return mux
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
