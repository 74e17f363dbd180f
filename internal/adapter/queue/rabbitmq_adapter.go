package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/rl1809/inventory-sync/internal/port"
)

var ErrClosed = errors.New("rabbitmq adapter closed")

type QueueOptions struct {
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Prefetch   int

	// Quorum declares quorum queues, which count deliveries in the
	// x-delivery-count header. Requires Durable.
	Quorum bool
}

type RabbitMQAdapter struct {
	url  string
	opts QueueOptions
	dial func(url string) (*amqp.Connection, error)

	mu       sync.Mutex
	conn     *amqp.Connection
	pullCh   *amqp.Channel
	pubCh    *amqp.Channel
	declared map[*amqp.Channel]map[string]bool
	closed   bool
}

func NewRabbitMQAdapter(url string, opts QueueOptions) *RabbitMQAdapter {
	return &RabbitMQAdapter{
		url:      url,
		opts:     opts,
		dial:     amqp.Dial,
		declared: make(map[*amqp.Channel]map[string]bool),
	}
}

// URL builds an AMQP URL from a bare host as well as a full amqp:// URL.
func URL(host, user, password string) string {
	if u, err := amqp.ParseURI(host); err == nil {
		return u.String()
	}
	u := amqp.URI{
		Scheme:   "amqp",
		Host:     host,
		Port:     5672,
		Username: user,
		Password: password,
		Vhost:    "/",
	}
	return u.String()
}

// connection redials when the previous connection was lost.
func (r *RabbitMQAdapter) connection() (*amqp.Connection, error) {
	if r.closed {
		return nil, ErrClosed
	}
	if r.conn != nil && !r.conn.IsClosed() {
		return r.conn, nil
	}
	conn, err := r.dial(r.url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	r.conn = conn
	r.pullCh = nil
	r.pubCh = nil
	r.declared = make(map[*amqp.Channel]map[string]bool)
	return conn, nil
}

func (r *RabbitMQAdapter) openChannel() (*amqp.Channel, error) {
	conn, err := r.connection()
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return ch, nil
}

func (r *RabbitMQAdapter) declare(ch *amqp.Channel, queue string) error {
	if r.declared[ch][queue] {
		return nil
	}
	var args amqp.Table
	if r.opts.Quorum {
		args = amqp.Table{amqp.QueueTypeArg: amqp.QueueTypeQuorum}
	}
	_, err := ch.QueueDeclare(queue, r.opts.Durable, r.opts.AutoDelete, r.opts.Exclusive, false, args)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if r.declared[ch] == nil {
		r.declared[ch] = make(map[string]bool)
	}
	r.declared[ch][queue] = true
	return nil
}

func (r *RabbitMQAdapter) Consume(ctx context.Context, queue string) (port.Subscription, error) {
	r.mu.Lock()
	ch, err := r.openChannel()
	if err == nil {
		err = r.declare(ch, queue)
	}
	r.mu.Unlock()
	if err != nil {
		if ch != nil {
			ch.Close()
		}
		return nil, err
	}

	if r.opts.Prefetch > 0 {
		if err := ch.Qos(r.opts.Prefetch, 0, false); err != nil {
			ch.Close()
			return nil, fmt.Errorf("set qos: %w", err)
		}
	}

	tag := "stock-consumer-" + uuid.NewString()
	deliveries, err := ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("consume %s: %w", queue, err)
	}

	sub := &subscription{
		adapter: r,
		ch:      ch,
		tag:     tag,
		out:     make(chan port.Message),
	}
	go sub.forward(ctx, deliveries)
	return sub, nil
}

func (r *RabbitMQAdapter) Get(ctx context.Context, queue string) (port.Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return port.Message{}, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pullCh == nil || r.pullCh.IsClosed() {
		ch, err := r.openChannel()
		if err != nil {
			return port.Message{}, false, err
		}
		r.pullCh = ch
	}
	if err := r.declare(r.pullCh, queue); err != nil {
		return port.Message{}, false, err
	}

	d, ok, err := r.pullCh.Get(queue, false)
	if err != nil {
		return port.Message{}, false, fmt.Errorf("get %s: %w", queue, err)
	}
	if !ok {
		return port.Message{}, false, nil
	}
	return toMessage(d), true, nil
}

func (r *RabbitMQAdapter) Publish(ctx context.Context, queue string, messageID string, body []byte, headers map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pubCh == nil || r.pubCh.IsClosed() {
		ch, err := r.openChannel()
		if err != nil {
			return err
		}
		r.pubCh = ch
	}
	if err := r.declare(r.pubCh, queue); err != nil {
		return err
	}

	var table amqp.Table
	if len(headers) > 0 {
		table = make(amqp.Table, len(headers))
		for k, v := range headers {
			table[k] = v
		}
	}

	mode := amqp.Transient
	if r.opts.Durable {
		mode = amqp.Persistent
	}

	err := r.pubCh.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: mode,
		MessageId:    messageID,
		Headers:      table,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", queue, err)
	}
	return nil
}

func (r *RabbitMQAdapter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	if r.conn == nil || r.conn.IsClosed() {
		return nil
	}
	return r.conn.Close()
}

func toMessage(d amqp.Delivery) port.Message {
	return port.Message{
		ID:            d.MessageId,
		Body:          d.Body,
		Redelivered:   d.Redelivered,
		DeliveryCount: deliveryCount(d.Headers),
		AckFunc:     func() error { return d.Ack(false) },
		NackFunc:    func(requeue bool) error { return d.Nack(false, requeue) },
	}
}

// deliveryCount reads the quorum queue delivery counter. Classic queues do
// not set it.
func deliveryCount(headers amqp.Table) int {
	switch v := headers["x-delivery-count"].(type) {
	case int64:
		return int(v)
	case int32:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

type subscription struct {
	adapter *RabbitMQAdapter
	ch      *amqp.Channel
	tag     string
	out     chan port.Message

	closeOnce sync.Once
}

func (s *subscription) Messages() <-chan port.Message {
	return s.out
}

// forward stops the broker consumer when ctx is done. Deliveries that were
// prefetched but never handed out are requeued by the broker on Close.
func (s *subscription) forward(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer close(s.out)
	for {
		select {
		case <-ctx.Done():
			_ = s.ch.Cancel(s.tag, false)
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			select {
			case s.out <- toMessage(d):
			case <-ctx.Done():
				_ = s.ch.Cancel(s.tag, false)
				return
			}
		}
	}
}

func (s *subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.adapter.mu.Lock()
		delete(s.adapter.declared, s.ch)
		s.adapter.mu.Unlock()
		if !s.ch.IsClosed() {
			err = s.ch.Close()
		}
	})
	return err
}
