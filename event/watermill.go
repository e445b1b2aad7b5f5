package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	stan "github.com/nats-io/stan.go"

	"github.com/awantoch/beemflow/pkg/errors"
)

// WatermillBus adapts a Watermill publisher/subscriber pair to Bus.
type WatermillBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
}

// NewInMemoryBus returns the in-process gochannel bus.
func NewInMemoryBus() *WatermillBus {
	logger := watermill.NewStdLogger(false, false)
	ps := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 100}, logger)
	return &WatermillBus{publisher: ps, subscriber: ps}
}

// NewNATSBus returns a NATS-streaming-backed bus.
func NewNATSBus(clusterID, clientID, url string) (*WatermillBus, error) {
	logger := watermill.NewStdLogger(false, false)
	if clientID == "" {
		clientID = "beemflow-" + watermill.NewShortUUID()
	}
	pub, err := wmnats.NewStreamingPublisher(wmnats.StreamingPublisherConfig{
		ClusterID:   clusterID,
		ClientID:    clientID + "-pub",
		StanOptions: []stan.Option{stan.NatsURL(url)},
	}, logger)
	if err != nil {
		return nil, errors.Adapter("connect nats publisher: %v", err)
	}
	sub, err := wmnats.NewStreamingSubscriber(wmnats.StreamingSubscriberConfig{
		ClusterID:      clusterID,
		ClientID:       clientID + "-sub",
		StanOptions:    []stan.Option{stan.NatsURL(url)},
		CloseTimeout:   30 * time.Second,
		AckWaitTimeout: 30 * time.Second,
	}, logger)
	if err != nil {
		pub.Close()
		return nil, errors.Adapter("connect nats subscriber: %v", err)
	}
	return &WatermillBus{publisher: pub, subscriber: sub}, nil
}

// Publish marshals the payload to JSON and publishes it on topic.
func (b *WatermillBus) Publish(topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Validation("marshal event payload: %v", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	if err := b.publisher.Publish(topic, msg); err != nil {
		return errors.Adapter("publish %s: %v", topic, err)
	}
	return nil
}

// Subscribe delivers each message's decoded JSON payload to handler on a
// dedicated goroutine until ctx is canceled.
func (b *WatermillBus) Subscribe(ctx context.Context, topic string, handler func(payload any)) error {
	ch, err := b.subscriber.Subscribe(ctx, topic)
	if err != nil {
		return errors.Adapter("subscribe %s: %v", topic, err)
	}
	go func() {
		for msg := range ch {
			var payload any
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				payload = string(msg.Payload)
			}
			handler(payload)
			msg.Ack()
		}
	}()
	return nil
}

func (b *WatermillBus) Close() error {
	err := b.publisher.Close()
	// The gochannel bus is one object serving both roles.
	if any(b.subscriber) != any(b.publisher) {
		if serr := b.subscriber.Close(); err == nil {
			err = serr
		}
	}
	return err
}
