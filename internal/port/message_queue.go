package port

import "context"

// Message is one delivery from the queue. Exactly one of Ack or Nack must be
// called per message.
type Message struct {
	ID          string
	Body        []byte
	Redelivered bool

	// DeliveryCount is the number of earlier deliveries reported by the
	// broker, 0 when the queue does not track it
	DeliveryCount int

	AckFunc  func() error
	NackFunc func(requeue bool) error
}

func (m Message) Ack() error {
	if m.AckFunc == nil {
		return nil
	}
	return m.AckFunc()
}

func (m Message) Nack(requeue bool) error {
	if m.NackFunc == nil {
		return nil
	}
	return m.NackFunc(requeue)
}

// Subscription stops handing out messages once its context is done, but stays
// open until Close so that a message already handed out can still be acked.
type Subscription interface {
	// Messages is closed when the context is done or the connection is lost
	Messages() <-chan Message
	Close() error
}

type MessageQueue interface {
	// Consume opens a subscription on its own channel
	Consume(ctx context.Context, queue string) (Subscription, error)

	// Get pulls a single message, ok is false when the queue is empty
	Get(ctx context.Context, queue string) (msg Message, ok bool, err error)

	// Publish sends body to queue. headers may be nil.
	Publish(ctx context.Context, queue string, messageID string, body []byte, headers map[string]string) error

	Close() error
}
