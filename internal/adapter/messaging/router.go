package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/rl1809/order-pipeline/internal/config"
)

const routerCloseTimeout = 30 * time.Second

// Handler consumes one payload. A returned error asks for redelivery.
type Handler func(ctx context.Context, payload []byte) error

// PoisonRecorder receives messages that used up their delivery budget.
type PoisonRecorder interface {
	Handle(ctx context.Context, topic, handler, reason string, payload []byte) error
}

type Consumers struct {
	Orders Handler
	Stock  Handler
	Poison PoisonRecorder
}

// NewRouter wires the order and stock consumers. Each delivery is attempted
// MaxDeliveryCount times before the message moves to the topic's poison queue,
// where it is handed to the PoisonRecorder and acknowledged.
func NewRouter(cfg config.QueueConfig, t *Transport, c Consumers, logger watermill.LoggerAdapter) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: routerCloseTimeout}, logger)
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}

	retry := middleware.Retry{
		MaxRetries:      max(cfg.MaxDeliveryCount-1, 0),
		InitialInterval: cfg.RetryInterval,
		MaxInterval:     cfg.RetryInterval * 10,
		Multiplier:      2,
		Logger:          logger,
	}

	consumers := []struct {
		name    string
		topic   string
		handler Handler
	}{
		{"materializer", cfg.OrderNotifications, c.Orders},
		{"stock-notifier", cfg.StockNotifications, c.Stock},
	}
	for _, consumer := range consumers {
		poisonTopic := cfg.PoisonTopic(consumer.topic)
		poison, err := middleware.PoisonQueue(t.Publisher, poisonTopic)
		if err != nil {
			return nil, fmt.Errorf("poison queue for %s: %w", consumer.topic, err)
		}

		for i := 1; i <= t.Workers; i++ {
			sub, err := t.NewSubscriber()
			if err != nil {
				return nil, fmt.Errorf("subscribe %s: %w", consumer.topic, err)
			}
			h := router.AddNoPublisherHandler(fmt.Sprintf("%s-%d", consumer.name, i), consumer.topic, sub, payloadHandler(consumer.handler))
			// outermost first: panics become errors, errors are retried, exhausted retries are poisoned
			h.AddMiddleware(poison, retry.Middleware, middleware.Recoverer)
		}

		if c.Poison == nil {
			continue
		}
		sub, err := t.NewSubscriber()
		if err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", poisonTopic, err)
		}
		h := router.AddNoPublisherHandler(consumer.name+"-poison", poisonTopic, sub, poisonHandler(c.Poison))
		h.AddMiddleware(giveUp(logger), retry.Middleware, middleware.Recoverer)
	}

	return router, nil
}

func payloadHandler(h Handler) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		return h(msg.Context(), msg.Payload)
	}
}

func poisonHandler(p PoisonRecorder) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		return p.Handle(msg.Context(),
			msg.Metadata.Get(middleware.PoisonedTopicKey),
			msg.Metadata.Get(middleware.PoisonedHandlerKey),
			msg.Metadata.Get(middleware.ReasonForPoisonedKey),
			msg.Payload,
		)
	}
}

// giveUp acknowledges a poison message whose archiving kept failing. There is no
// queue behind the poison queue.
func giveUp(logger watermill.LoggerAdapter) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			msgs, err := h(msg)
			if err != nil {
				logger.Error("dropping poison message after failed archive", err, watermill.LogFields{
					"message_uuid": msg.UUID,
					"topic":        msg.Metadata.Get(middleware.PoisonedTopicKey),
				})
				return nil, nil
			}
			return msgs, nil
		}
	}
}
