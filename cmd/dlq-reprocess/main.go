// dlq-reprocess — утилита для ручного разбора shopfront.dlq: сканирует
// скопившиеся сообщения и (в режиме -execute) возвращает их в исходный topic.
// По умолчанию работает как dry-run и только печатает кандидатов.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopfront/internal/messaging/kafka"
)

const (
	defaultScanLimit   = 100
	defaultIdleTimeout = 2 * time.Second
)

type config struct {
	brokers     []string
	dlqTopic    string
	replayTopic string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

// replayMessage — сообщение, готовое к возврату в рабочий topic.
type replayMessage struct {
	topic string
	key   string
	value []byte
}

// failedConsumerRecord — формат, в котором consumer кладёт сообщения в DLQ
// (см. internal/messaging/kafka sendToDLQ).
type failedConsumerRecord struct {
	OriginalTopic string `json:"original_topic"`
	OriginalKey   string `json:"original_key"`
	OriginalValue string `json:"original_value"`
}

// dlqEnvelope — конверт outbox-паблишера, каким он попадает в DLQ.
type dlqEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

// failedOutboxRecord — вложенный payload DLQ-конверта outbox-воркера.
type failedOutboxRecord struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

// republishEnvelope — то, что уходит обратно в рабочий topic.
type republishEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// Узкие интерфейсы вокруг sarama, чтобы тестировать разбор без брокера.

type offsetLookup interface {
	GetOffset(topic string, partition int32, marker int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionStream interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionOpener interface {
	OpenPartition(topic string, partition int32, offset int64) (partitionStream, error)
	Close() error
}

type replayProducer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

// replayDeps собирает kafka-зависимости утилиты в один узел.
type replayDeps struct {
	offsets  offsetLookup
	opener   partitionOpener
	producer replayProducer
}

func (d replayDeps) closeAll() {
	if d.producer != nil {
		_ = d.producer.Close()
	}
	if d.opener != nil {
		_ = d.opener.Close()
	}
	if d.offsets != nil {
		_ = d.offsets.Close()
	}
}

type consumerAdapter struct {
	consumer sarama.Consumer
}

func (a consumerAdapter) OpenPartition(topic string, partition int32, offset int64) (partitionStream, error) {
	pc, err := a.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (a consumerAdapter) Close() error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Close()
}

func replayProducerConfig() *sarama.Config {
	pc := sarama.NewConfig()
	pc.Producer.RequiredAcks = sarama.WaitForAll
	pc.Producer.Retry.Max = 5
	pc.Producer.Return.Successes = true
	pc.Producer.Compression = sarama.CompressionSnappy
	pc.Producer.Idempotent = true
	pc.Net.MaxOpenRequests = 1
	return pc
}

// connectKafka подменяется в тестах стабами.
var connectKafka = func(cfg config) (replayDeps, error) {
	clientConfig := sarama.NewConfig()
	clientConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, clientConfig)
	if err != nil {
		return replayDeps{}, fmt.Errorf("create kafka client: %w", err)
	}

	rawConsumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return replayDeps{}, fmt.Errorf("create kafka consumer: %w", err)
	}

	deps := replayDeps{offsets: client, opener: consumerAdapter{consumer: rawConsumer}}

	// Producer нужен только когда реально перекладываем сообщения.
	if !cfg.execute {
		return deps, nil
	}

	producer, err := sarama.NewSyncProducer(cfg.brokers, replayProducerConfig())
	if err != nil {
		deps.closeAll()
		return replayDeps{}, fmt.Errorf("create kafka producer: %w", err)
	}
	deps.producer = producer

	return deps, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := parseFlags()
	if err != nil {
		fail("%v", err)
	}

	if err := run(context.Background(), cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func parseFlags() (config, error) {
	var (
		brokersRaw string
		cfg        config
	)

	flag.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: KAFKA_BROKERS)")
	flag.StringVar(&cfg.dlqTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ source topic")
	flag.StringVar(&cfg.replayTopic, "target-topic", kafka.TopicOrderEvents, "target topic for replay")
	flag.IntVar(&cfg.limit, "limit", defaultScanLimit, "max number of messages to scan/replay")
	flag.BoolVar(&cfg.execute, "execute", false, "execute replay; default is dry-run")
	flag.BoolVar(&cfg.fromNewest, "from-newest", false, "scan latest messages first (bounded by limit)")
	flag.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	flag.Parse()

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = os.Getenv("KAFKA_BROKERS")
	}
	cfg.brokers = parseBrokers(brokersRaw)

	switch {
	case len(cfg.brokers) == 0:
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or KAFKA_BROKERS)")
	case strings.TrimSpace(cfg.dlqTopic) == "":
		return config{}, fmt.Errorf("source-topic is required")
	case strings.TrimSpace(cfg.replayTopic) == "":
		return config{}, fmt.Errorf("target-topic is required")
	case cfg.limit <= 0:
		return config{}, fmt.Errorf("limit must be > 0")
	case cfg.idleTimeout <= 0:
		return config{}, fmt.Errorf("idle-timeout must be > 0")
	}

	return cfg, nil
}

func parseBrokers(raw string) []string {
	var brokers []string
	for _, chunk := range strings.Split(raw, ",") {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func run(ctx context.Context, cfg config) error {
	log.WithFields(log.Fields{
		"source_topic": cfg.dlqTopic,
		"target_topic": cfg.replayTopic,
		"limit":        cfg.limit,
		"execute":      cfg.execute,
		"from_newest":  cfg.fromNewest,
	}).Info("starting dlq replay")

	deps, err := connectKafka(cfg)
	if err != nil {
		return err
	}
	defer deps.closeAll()

	return replay(ctx, cfg, deps)
}

func replay(ctx context.Context, cfg config, deps replayDeps) error {
	if deps.offsets == nil || deps.opener == nil {
		return fmt.Errorf("kafka client and consumer are required")
	}
	if cfg.execute && deps.producer == nil {
		return fmt.Errorf("producer is required in execute mode")
	}

	partitions, err := deps.offsets.Partitions(cfg.dlqTopic)
	if err != nil {
		return fmt.Errorf("get partitions for topic %s: %w", cfg.dlqTopic, err)
	}
	if len(partitions) == 0 {
		log.WithField("topic", cfg.dlqTopic).Warn("source topic has no partitions")
		return nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	var total replayTally
	for _, partition := range partitions {
		budget := cfg.limit - total.scanned
		if budget <= 0 {
			break
		}

		tally, err := drainPartition(ctx, cfg, deps, partition, budget)
		total.add(tally)
		if err != nil {
			return err
		}
	}

	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}
	log.WithFields(log.Fields{
		"mode":      mode,
		"processed": total.scanned,
		"replayed":  total.replayed,
		"skipped":   total.skipped,
	}).Info("dlq replay finished")

	return nil
}

type replayTally struct {
	scanned  int
	replayed int
	skipped  int
}

func (t *replayTally) add(other replayTally) {
	t.scanned += other.scanned
	t.replayed += other.replayed
	t.skipped += other.skipped
}

// startOffsetFor выбирает стартовый offset: с начала партиции либо
// последние limit сообщений при -from-newest.
func startOffsetFor(oldest, newest int64, limit int, fromNewest bool) int64 {
	if !fromNewest {
		return oldest
	}
	if start := newest - int64(limit); start > oldest {
		return start
	}
	return oldest
}

func drainPartition(ctx context.Context, cfg config, deps replayDeps, partition int32, budget int) (replayTally, error) {
	var tally replayTally
	if budget <= 0 {
		return tally, nil
	}

	oldest, err := deps.offsets.GetOffset(cfg.dlqTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return tally, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := deps.offsets.GetOffset(cfg.dlqTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return tally, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return tally, nil
	}

	stream, err := deps.opener.OpenPartition(cfg.dlqTopic, partition, startOffsetFor(oldest, newest, budget, cfg.fromNewest))
	if err != nil {
		return tally, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = stream.Close() }()

	idle := time.NewTimer(cfg.idleTimeout)
	defer idle.Stop()

	for tally.scanned < budget {
		select {
		case <-ctx.Done():
			return tally, ctx.Err()
		case err := <-stream.Errors():
			if err != nil {
				return tally, fmt.Errorf("partition %d consumer error: %w", partition, err)
			}
		case msg, ok := <-stream.Messages():
			if !ok || msg == nil {
				return tally, nil
			}
			rearmTimer(idle, cfg.idleTimeout)

			// Ограничиваемся сообщениями, существовавшими на момент запуска.
			if msg.Offset >= newest {
				return tally, nil
			}
			if err := processRecord(cfg, deps.producer, msg, &tally); err != nil {
				return tally, err
			}
			if msg.Offset+1 >= newest {
				return tally, nil
			}
		case <-idle.C:
			return tally, nil
		}
	}

	return tally, nil
}

func rearmTimer(timer *time.Timer, d time.Duration) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(d)
}

// processRecord разбирает одно DLQ-сообщение и либо перекладывает его
// в рабочий topic (-execute), либо печатает кандидата.
func processRecord(cfg config, producer replayProducer, msg *sarama.ConsumerMessage, tally *replayTally) error {
	tally.scanned++

	replayMsg, ok, err := decodeRecord(msg, cfg.replayTopic)
	switch {
	case err != nil:
		tally.skipped++
		log.WithError(err).WithFields(log.Fields{
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}).Warn("skip unsupported dlq message")
		return nil
	case !ok:
		tally.skipped++
		return nil
	}

	if cfg.execute {
		if err := publish(producer, replayMsg); err != nil {
			return fmt.Errorf("publish replay message: %w", err)
		}
	} else {
		log.WithFields(log.Fields{
			"partition":    msg.Partition,
			"offset":       msg.Offset,
			"target_topic": replayMsg.topic,
			"key":          replayMsg.key,
		}).Info("dlq replay candidate")
	}
	tally.replayed++

	return nil
}

func publish(producer replayProducer, msg replayMessage) error {
	if producer == nil {
		return fmt.Errorf("producer is nil")
	}

	_, _, err := producer.SendMessage(&sarama.ProducerMessage{
		Topic:     msg.topic,
		Key:       sarama.StringEncoder(msg.key),
		Value:     sarama.ByteEncoder(msg.value),
		Timestamp: time.Now().UTC(),
	})
	return err
}

// decodeRecord распознаёт оба формата DLQ-сообщений: запись consumer-а
// (original_topic/original_value) и конверт outbox-воркера.
func decodeRecord(msg *sarama.ConsumerMessage, defaultTopic string) (replayMessage, bool, error) {
	var consumerRecord failedConsumerRecord
	if err := json.Unmarshal(msg.Value, &consumerRecord); err == nil && consumerRecord.OriginalValue != "" {
		topic := strings.TrimSpace(consumerRecord.OriginalTopic)
		if topic == "" {
			topic = defaultTopic
		}
		return replayMessage{
			topic: topic,
			key:   consumerRecord.OriginalKey,
			value: []byte(consumerRecord.OriginalValue),
		}, true, nil
	}

	var envelope dlqEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return replayMessage{}, false, nil
	}
	if len(envelope.Payload) == 0 {
		return replayMessage{}, false, nil
	}

	var outboxRecord failedOutboxRecord
	if err := json.Unmarshal(envelope.Payload, &outboxRecord); err != nil {
		return replayMessage{}, false, fmt.Errorf("decode outbox dlq payload: %w", err)
	}
	if len(outboxRecord.Payload) == 0 {
		return replayMessage{}, false, fmt.Errorf("outbox dlq payload does not contain original event payload")
	}

	out := republishEnvelope{
		ID:            coalesce(outboxRecord.OutboxID, envelope.ID),
		AggregateType: coalesce(outboxRecord.AggregateType, envelope.AggregateType),
		AggregateID:   coalesce(outboxRecord.AggregateID, envelope.AggregateID),
		EventType:     coalesce(outboxRecord.EventType, envelope.EventType),
		Payload:       outboxRecord.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return replayMessage{}, false, fmt.Errorf("encode replay envelope: %w", err)
	}

	return replayMessage{
		topic: defaultTopic,
		key:   coalesce(out.AggregateID, out.ID),
		value: encoded,
	}, true, nil
}

// coalesce возвращает первый непустой (после TrimSpace) аргумент.
func coalesce(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		return v
	}
	return ""
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
