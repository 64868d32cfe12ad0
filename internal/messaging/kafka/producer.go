package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// Producer публикует события магазина в Kafka через sync producer.
type Producer struct {
	producer sarama.SyncProducer
	logger   *log.Entry
}

// newProducerConfig включает идемпотентную публикацию: acks от всех ISR,
// одна in-flight запись и retry на стороне sarama.
func newProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = "shopfront"
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	return config
}

// NewProducer подключается к брокерам и возвращает готовый Producer.
func NewProducer(brokers []string) (*Producer, error) {
	sp, err := sarama.NewSyncProducer(brokers, newProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return &Producer{producer: sp, logger: log.WithField("component", "kafka-producer")}, nil
}

// PublishEvent сериализует событие в JSON и отправляет его в topic.
// Ключ определяет партицию, поэтому события одного заказа сохраняют порядок.
func (p *Producer) PublishEvent(topic string, key string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(payload),
		Timestamp: time.Now(),
	})
	fields := log.Fields{"topic": topic, "key": key}
	if err != nil {
		p.logger.WithError(err).WithFields(fields).Error("failed to send message to kafka")
		return fmt.Errorf("failed to send message: %w", err)
	}

	fields["partition"] = partition
	fields["offset"] = offset
	p.logger.WithFields(fields).Debug("message sent to kafka")
	return nil
}

// Close закрывает соединение с брокерами.
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}
