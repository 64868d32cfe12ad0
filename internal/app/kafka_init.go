package app

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopfront/internal/messaging/kafka"
)

// initKafkaProducer поднимает producer по списку брокеров из конфигурации.
// Пустой список означает работу без Kafka, это не ошибка.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	brokerList := splitBrokers(brokers)
	if len(brokerList) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokerList)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}
	logger.WithField("brokers", brokerList).Info("kafka producer initialized")

	return producer, nil
}

// splitBrokers разбирает перечисленные через запятую адреса,
// отбрасывая пустые элементы.
func splitBrokers(raw string) []string {
	var list []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			list = append(list, b)
		}
	}
	return list
}

// closeKafka закрывает producer, если Kafka была сконфигурирована.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
		return
	}
	logger.Info("kafka producer closed")
}
