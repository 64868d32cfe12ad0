package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// MessageHandler обрабатывает одно сообщение из Kafka.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// Consumer — group consumer с отправкой безнадёжных сообщений в DLQ.
// В приложении им подписываются на события заказов: инвалидация кэша
// витрины в соседних инстансах и подобные проекции.
type Consumer struct {
	group       sarama.ConsumerGroup
	topics      []string
	handler     MessageHandler
	logger      *log.Entry
	wg          sync.WaitGroup
	dlqProducer *Producer
	maxRetries  int
}

func newConsumerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = "shopfront"
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true
	return config
}

// NewConsumer создаёт consumer без DLQ с тремя попытками доставки.
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler) (*Consumer, error) {
	return NewConsumerWithDLQ(brokers, groupID, topics, handler, nil, 3)
}

// NewConsumerWithDLQ создаёт consumer, который после maxRetries неудачных
// доставок пересылает сообщение в dead letter topic.
func NewConsumerWithDLQ(brokers []string, groupID string, topics []string, handler MessageHandler, dlqProducer *Producer, maxRetries int) (*Consumer, error) {
	group, err := sarama.NewConsumerGroup(brokers, groupID, newConsumerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return &Consumer{
		group:       group,
		topics:      topics,
		handler:     handler,
		logger:      log.WithField("component", "kafka-consumer"),
		dlqProducer: dlqProducer,
		maxRetries:  maxRetries,
	}, nil
}

// Start запускает фоновые горутины consumer-а. Останавливается через Stop.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(2)
	go c.consumeLoop(ctx)
	go c.drainGroupErrors()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// consumeLoop перезапускает Consume: он завершается при каждом rebalance.
func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()
	for ctx.Err() == nil {
		if err := c.group.Consume(ctx, c.topics, c); err != nil {
			c.logger.WithError(err).Error("error from consumer")
		}
	}
}

func (c *Consumer) drainGroupErrors() {
	defer c.wg.Done()
	for err := range c.group.Errors() {
		c.logger.WithError(err).Error("consumer error")
	}
}

// Stop закрывает consumer и дожидается завершения горутин.
func (c *Consumer) Stop() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

// Setup реализует sarama.ConsumerGroupHandler.
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup реализует sarama.ConsumerGroupHandler.
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func messageFields(message *sarama.ConsumerMessage) log.Fields {
	return log.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
	}
}

// ConsumeClaim вычитывает партицию до закрытия канала или завершения session.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}
			c.logger.WithFields(messageFields(message)).Debug("received message")

			if err := c.handleMessageWithRetry(session.Context(), message); err != nil {
				c.logger.WithError(err).WithFields(messageFields(message)).
					Error("message processing failed after all retries")
				// Без MarkMessage: брокер доставит сообщение повторно.
				continue
			}

			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// handleMessageWithRetry выполняет одну попытку обработки. Пока счётчик
// доставок меньше maxRetries, ошибка отдаётся наверх и сообщение не
// маркируется; после исчерпания попыток оно уходит в DLQ.
func (c *Consumer) handleMessageWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	err := c.handler(ctx, message)
	if err == nil {
		return nil
	}

	retryCount := c.getRetryCount(message)
	if retryCount < c.maxRetries {
		c.logger.WithFields(log.Fields{
			"topic":       message.Topic,
			"retry_count": retryCount,
			"max_retries": c.maxRetries,
		}).Warn("message processing failed, will retry")
		return err
	}

	if c.dlqProducer == nil {
		return err
	}

	if dlqErr := c.sendToDLQ(message, err); dlqErr != nil {
		c.logger.WithError(dlqErr).Error("failed to send message to DLQ")
		return fmt.Errorf("failed to send to DLQ: %w", dlqErr)
	}
	c.logger.WithFields(log.Fields{
		"topic":       message.Topic,
		"retry_count": retryCount,
	}).Info("message sent to DLQ after max retries")
	return nil
}

// getRetryCount читает счётчик доставок из header сообщения.
func (c *Consumer) getRetryCount(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if string(header.Key) != HeaderRetryCount {
			continue
		}
		if count, err := strconv.Atoi(string(header.Value)); err == nil {
			return count
		}
	}
	return 0
}

// sendToDLQ публикует сообщение в dead letter topic вместе с контекстом сбоя.
// Формат записи разбирает cmd/dlq-reprocess.
func (c *Consumer) sendToDLQ(message *sarama.ConsumerMessage, processingErr error) error {
	record := map[string]interface{}{
		"original_topic":     message.Topic,
		"original_partition": message.Partition,
		"original_offset":    message.Offset,
		"original_key":       string(message.Key),
		"original_value":     string(message.Value),
		"error_message":      processingErr.Error(),
		"failed_at":          time.Now().UTC().Format(time.RFC3339),
		"retry_count":        c.getRetryCount(message),
	}

	return c.dlqProducer.PublishEvent(TopicDeadLetterQueue, string(message.Key), record)
}

// ParseOrderCommittedEvent декодирует OrderCommittedEvent из сообщения.
func ParseOrderCommittedEvent(message *sarama.ConsumerMessage) (*OrderCommittedEvent, error) {
	var event OrderCommittedEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order event: %w", err)
	}
	return &event, nil
}

// ParseAccountEvent декодирует AccountEvent из сообщения.
func ParseAccountEvent(message *sarama.ConsumerMessage) (*AccountEvent, error) {
	var event AccountEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account event: %w", err)
	}
	return &event, nil
}
