package bus

import (
	"encoding/json"
	"time"

	"github.com/IBM/sarama"

	apperrors "github.com/memsearch/mem-search/internal/pkg/errors"
)

// KafkaConfig holds connection settings for the status publisher.
type KafkaConfig struct {
	// Brokers are the Kafka broker addresses.
	Brokers []string

	// Topic is the status topic to publish to.
	Topic string

	// ClientID identifies this producer to the broker.
	ClientID string

	// Version is the Kafka protocol version (e.g. "2.8.0").
	Version string

	// Timeout bounds broker requests (default 10s).
	Timeout time.Duration
}

// KafkaStatusBus publishes status records through a synchronous Kafka
// producer.
type KafkaStatusBus struct {
	topic    string
	producer sarama.SyncProducer
}

// NewKafkaStatusBus creates a Kafka-backed status publisher.
func NewKafkaStatusBus(cfg KafkaConfig) (*KafkaStatusBus, error) {
	if len(cfg.Brokers) == 0 {
		return nil, apperrors.ValidationError("kafka brokers cannot be empty")
	}
	if cfg.Topic == "" {
		return nil, apperrors.ValidationError("status topic cannot be empty")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "mem-search-status"
	}
	if cfg.Version == "" {
		cfg.Version = "2.8.0"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	version, err := sarama.ParseKafkaVersion(cfg.Version)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "invalid kafka version", err)
	}

	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Version = version
	kafkaConfig.ClientID = cfg.ClientID
	kafkaConfig.Producer.Return.Successes = true
	kafkaConfig.Producer.Return.Errors = true
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll
	kafkaConfig.Net.DialTimeout = cfg.Timeout
	kafkaConfig.Net.ReadTimeout = cfg.Timeout
	kafkaConfig.Net.WriteTimeout = cfg.Timeout

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnavailable, "failed to create kafka producer", err)
	}

	return &KafkaStatusBus{topic: cfg.Topic, producer: producer}, nil
}

// PublishStatus sends one status record, keyed by group id so records
// for a group stay ordered within a partition.
func (b *KafkaStatusBus) PublishStatus(status Status) error {
	data, err := json.Marshal(status)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "failed to marshal status", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: b.topic,
		Key:   sarama.StringEncoder(status.GroupID),
		Value: sarama.ByteEncoder(data),
	}

	if _, _, err := b.producer.SendMessage(msg); err != nil {
		return apperrors.Wrap(apperrors.CodeUnavailable, "failed to publish status", err)
	}
	return nil
}

// Close shuts down the producer.
func (b *KafkaStatusBus) Close() error {
	return b.producer.Close()
}
