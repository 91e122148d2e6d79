package messaging

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/rl1809/order-pipeline/internal/config"
)

const clientID = "order-pipeline"

// NewSaramaConfig is shared by publisher and subscribers. Consumers start from the
// oldest offset so messages published before the group first joined are not skipped.
func NewSaramaConfig(useTLS bool) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Version = sarama.V3_7_0_0
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 10
	cfg.Net.MaxOpenRequests = 1
	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Metadata.Retry.Max = 5
	cfg.Metadata.Retry.Backoff = 2 * time.Second
	if useTLS {
		cfg.Net.TLS.Enable = true
		cfg.Net.TLS.Config = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return cfg
}

// partitionMarshaler keys Kafka records by the partition_key metadata so every
// message for one order lands on the same partition.
func partitionMarshaler() kafka.MarshalerUnmarshaler {
	return kafka.NewWithPartitioningMarshaler(func(_ string, msg *message.Message) (string, error) {
		return msg.Metadata.Get(MetadataPartitionKey), nil
	})
}

func NewKafkaPublisher(cfg config.QueueConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	pub, err := kafka.NewPublisher(kafka.PublisherConfig{
		Brokers:               cfg.Brokers,
		Marshaler:             partitionMarshaler(),
		OverwriteSaramaConfig: NewSaramaConfig(cfg.TLS),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("kafka publisher: %w", err)
	}
	return pub, nil
}

// NewKafkaSubscriber joins cfg.ConsumerGroup. Every subscriber in the group shares
// the partitions of a topic.
func NewKafkaSubscriber(cfg config.QueueConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	sub, err := kafka.NewSubscriber(kafka.SubscriberConfig{
		Brokers:               cfg.Brokers,
		Unmarshaler:           partitionMarshaler(),
		OverwriteSaramaConfig: NewSaramaConfig(cfg.TLS),
		ConsumerGroup:         cfg.ConsumerGroup,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("kafka subscriber: %w", err)
	}
	return sub, nil
}
