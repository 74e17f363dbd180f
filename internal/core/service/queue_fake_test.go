package service

import (
	"context"
	"errors"
	"sync"

	"github.com/rl1809/inventory-sync/internal/port"
)

type settledMessage struct {
	body    string
	acked   bool
	nacked  bool
	requeue bool
}

type published struct {
	queue   string
	id      string
	body    string
	headers map[string]string
}

// fakeQueue is an in-memory port.MessageQueue. Messages pushed with push are
// served by Get; subscriptions are fed through subs.
type fakeQueue struct {
	mu        sync.Mutex
	pending   []port.Message
	settled   []*settledMessage
	published []published
	subs      chan chan port.Message
	consumes  int
	getErr    error
	gets      int
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{subs: make(chan chan port.Message, 8)}
}

func (q *fakeQueue) message(id, body string) (port.Message, *settledMessage) {
	s := &settledMessage{body: body}
	q.mu.Lock()
	q.settled = append(q.settled, s)
	q.mu.Unlock()
	return port.Message{
		ID:   id,
		Body: []byte(body),
		AckFunc: func() error {
			q.mu.Lock()
			defer q.mu.Unlock()
			s.acked = true
			return nil
		},
		NackFunc: func(requeue bool) error {
			q.mu.Lock()
			defer q.mu.Unlock()
			s.nacked = true
			s.requeue = requeue
			return nil
		},
	}, s
}

func (q *fakeQueue) push(id, body string) *settledMessage {
	msg, s := q.message(id, body)
	q.mu.Lock()
	q.pending = append(q.pending, msg)
	q.mu.Unlock()
	return s
}

type fakeSubscription struct {
	ch     chan port.Message
	closed chan struct{}
	once   sync.Once
}

func (s *fakeSubscription) Messages() <-chan port.Message { return s.ch }

func (s *fakeSubscription) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (q *fakeQueue) Consume(ctx context.Context, queue string) (port.Subscription, error) {
	q.mu.Lock()
	q.consumes++
	q.mu.Unlock()
	select {
	case ch := <-q.subs:
		return &fakeSubscription{ch: ch, closed: make(chan struct{})}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *fakeQueue) Get(ctx context.Context, queue string) (port.Message, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.gets++
	if q.getErr != nil {
		return port.Message{}, false, q.getErr
	}
	if len(q.pending) == 0 {
		return port.Message{}, false, nil
	}
	msg := q.pending[0]
	q.pending = q.pending[1:]
	return msg, true, nil
}

func (q *fakeQueue) Publish(ctx context.Context, queue string, messageID string, body []byte, headers map[string]string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, published{queue: queue, id: messageID, body: string(body), headers: headers})
	return nil
}

func (q *fakeQueue) Close() error { return nil }

func (q *fakeQueue) deadLettered() []published {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]published(nil), q.published...)
}

func (q *fakeQueue) consumeCalls() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.consumes
}

var errStoreDown = errors.New("store unavailable")
