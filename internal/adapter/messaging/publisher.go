// Package messaging moves order and stock notifications through watermill,
// backed by Kafka in production and an in-process channel otherwise.
package messaging

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/rl1809/order-pipeline/internal/core/domain"
)

const (
	MetadataType         = "type"
	MetadataPartitionKey = "partition_key"
)

// Publisher adapts a watermill publisher to the service's EventPublisher.
type Publisher struct {
	pub message.Publisher
}

func NewPublisher(pub message.Publisher) *Publisher {
	return &Publisher{pub: pub}
}

// Publish sends msgs one by one and stops at the first failure.
func (p *Publisher) Publish(ctx context.Context, msgs ...domain.Message) error {
	for _, m := range msgs {
		id := m.MessageID
		if id == "" {
			id = watermill.NewUUID()
		}
		wm := message.NewMessage(id, m.Payload)
		wm.Metadata.Set(MetadataType, m.Type)
		wm.Metadata.Set(MetadataPartitionKey, m.Key)
		wm.SetContext(ctx)

		if err := p.pub.Publish(m.Topic, wm); err != nil {
			return domain.Transient(fmt.Errorf("publish %s to %s: %w", m.Type, m.Topic, err))
		}
	}
	return nil
}
