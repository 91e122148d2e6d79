package messaging

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/rl1809/order-pipeline/internal/config"
)

const memoryBufferSize = 1024

// Transport is one queue backend: a shared publisher and a factory for subscribers.
type Transport struct {
	Publisher message.Publisher
	// Workers is how many subscribers may share a topic. The in-process channel
	// fans out instead of load-balancing, so it is pinned to one.
	Workers int

	newSubscriber func() (message.Subscriber, error)
	shared        bool

	mu      sync.Mutex
	closers []func() error
}

func NewTransport(cfg config.QueueConfig, logger watermill.LoggerAdapter) (*Transport, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		// Not persistent: messages published to a topic nobody subscribes to are
		// dropped, so the router must be running before anything publishes.
		ch := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: memoryBufferSize,
		}, logger)
		t := &Transport{Publisher: ch, Workers: 1, shared: true}
		t.newSubscriber = func() (message.Subscriber, error) { return ch, nil }
		t.closers = append(t.closers, ch.Close)
		return t, nil

	case config.DriverKafka:
		pub, err := NewKafkaPublisher(cfg, logger)
		if err != nil {
			return nil, err
		}
		t := &Transport{Publisher: pub, Workers: max(cfg.Workers, 1)}
		t.newSubscriber = func() (message.Subscriber, error) { return NewKafkaSubscriber(cfg, logger) }
		t.closers = append(t.closers, pub.Close)
		return t, nil
	}
	return nil, fmt.Errorf("unknown queue driver %q", cfg.Driver)
}

// NewSubscriber returns a subscriber that is closed along with the transport.
func (t *Transport) NewSubscriber() (message.Subscriber, error) {
	sub, err := t.newSubscriber()
	if err != nil {
		return nil, err
	}
	if !t.shared {
		t.mu.Lock()
		t.closers = append(t.closers, sub.Close)
		t.mu.Unlock()
	}
	return sub, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var errs []error
	for i := len(t.closers) - 1; i >= 0; i-- {
		if err := t.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	t.closers = nil
	return errors.Join(errs...)
}
