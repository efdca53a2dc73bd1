// Package notifier implements the downstream notifier: an in-process
// publish of invoice-creation events on a watermill gochannel topic
// (one topic, one background consumer loop that logs what it sees),
// plus a per-invoice goroutine that POSTs the event to the configured
// accounting-sync endpoint.
package notifier

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const invoiceCreatedTopic = "invoice.created"

// PubSub is the narrow publish/subscribe seam the notifier is built on,
// kept separate from the Notifier interface so a Kafka-backed
// implementation could replace the in-process one without touching
// callers.
type PubSub interface {
	Publish(ctx context.Context, topic string, msg *message.Message) error
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
	Close() error
}

type memoryPubSub struct {
	gc *gochannel.GoChannel
}

// NewMemoryPubSub builds the in-process transport backing this core's
// notifier: no external broker, messages are dropped if nothing is
// subscribed (there is exactly one, long-lived subscriber: the
// notifier's own consumer loop).
func NewMemoryPubSub() PubSub {
	gc := gochannel.NewGoChannel(
		gochannel.Config{
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
			OutputChannelBuffer:             256,
		},
		watermill.NewStdLogger(false, false),
	)
	return &memoryPubSub{gc: gc}
}

func (p *memoryPubSub) Publish(_ context.Context, topic string, msg *message.Message) error {
	return p.gc.Publish(topic, msg)
}

func (p *memoryPubSub) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return p.gc.Subscribe(ctx, topic)
}

func (p *memoryPubSub) Close() error {
	return p.gc.Close()
}
