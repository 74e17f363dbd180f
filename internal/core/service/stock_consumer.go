package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-sync/internal/core/domain"
	"github.com/rl1809/inventory-sync/internal/port"
)

const tracerName = "github.com/rl1809/inventory-sync/stock-consumer"

const (
	OutcomeApplied         = "applied"
	OutcomeMalformed       = "malformed"
	OutcomeNotFound        = "not_found"
	OutcomeInvalidQuantity = "invalid_quantity"
	OutcomeDuplicate       = "duplicate"
	OutcomeRequeued        = "requeued"
	OutcomeDeadLettered    = "dead_lettered"
)

const (
	HeaderFailureReason = "x-failure-reason"
	HeaderSourceQueue   = "x-source-queue"
)

// IsRetryable reports whether err may go away on redelivery. Malformed input,
// business rule violations and already applied changes never do.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, domain.ErrMalformedMessage) &&
		!errors.Is(err, domain.ErrNotFound) &&
		!errors.Is(err, domain.ErrInvalidQuantity) &&
		!errors.Is(err, domain.ErrAlreadyApplied)
}

// MessageHandler processes one delivery and settles it with Ack or Nack.
// A non-nil error means the message was handed back to the queue.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg port.Message) error
}

type ConsumerConfig struct {
	Queue           string
	DeadLetterQueue string
	Workers         int

	ApplyAttempts      int
	ApplyTimeout       time.Duration
	RetryInitialDelay  time.Duration
	MaxDeliveries      int
	ReconnectInitial   time.Duration
	ReconnectMax       time.Duration
	ValidateAttempts   int
	ValidateBudget     time.Duration
	ValidateDrainLimit int
}

func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Queue:              "stock",
		DeadLetterQueue:    "stock.dlq",
		Workers:            1,
		ApplyAttempts:      3,
		ApplyTimeout:       5 * time.Second,
		RetryInitialDelay:  100 * time.Millisecond,
		MaxDeliveries:      5,
		ReconnectInitial:   500 * time.Millisecond,
		ReconnectMax:       30 * time.Second,
		ValidateAttempts:   2,
		ValidateBudget:     5 * time.Second,
		ValidateDrainLimit: 1000,
	}
}

type WorkerState string

const (
	StateStopped     WorkerState = "stopped"
	StateSubscribing WorkerState = "subscribing"
	StateListening   WorkerState = "listening"
	StateProcessing  WorkerState = "processing"
	StateFailed      WorkerState = "failed"
)

// ConsumerState lives as long as the process and is never persisted.
type ConsumerState struct {
	mu       sync.Mutex
	workers  map[int]WorkerState
	failures map[string]int
}

func newConsumerState() *ConsumerState {
	return &ConsumerState{
		workers:  make(map[int]WorkerState),
		failures: make(map[string]int),
	}
}

func (s *ConsumerState) set(worker int, state WorkerState) {
	s.mu.Lock()
	s.workers[worker] = state
	s.mu.Unlock()
}

func (s *ConsumerState) recordFailure(messageID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[messageID]++
	return s.failures[messageID]
}

func (s *ConsumerState) forget(messageID string) {
	s.mu.Lock()
	delete(s.failures, messageID)
	s.mu.Unlock()
}

// Workers returns a copy of every worker's current state.
func (s *ConsumerState) Workers() map[int]WorkerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]WorkerState, len(s.workers))
	for k, v := range s.workers {
		out[k] = v
	}
	return out
}

// StockConsumer applies stock messages from the queue to the inventory store.
type StockConsumer struct {
	queue   port.MessageQueue
	store   port.InventoryStore
	parser  StockMessageParser
	cfg     ConsumerConfig
	log     *zap.Logger
	metrics port.StockMetrics
	tracer  trace.Tracer
	state   *ConsumerState
}

var _ MessageHandler = (*StockConsumer)(nil)

// NewStockConsumer builds a consumer. metrics and logger may be nil.
func NewStockConsumer(
	queue port.MessageQueue,
	store port.InventoryStore,
	cfg ConsumerConfig,
	logger *zap.Logger,
	metrics port.StockMetrics,
) *StockConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = port.NopStockMetrics{}
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.ApplyAttempts < 1 {
		cfg.ApplyAttempts = 1
	}
	if cfg.ValidateAttempts < 1 {
		cfg.ValidateAttempts = 1
	}
	return &StockConsumer{
		queue:   queue,
		store:   store,
		cfg:     cfg,
		log:     logger.With(zap.String("component", "stock_consumer"), zap.String("queue", cfg.Queue)),
		metrics: metrics,
		tracer:  otel.Tracer(tracerName),
		state:   newConsumerState(),
	}
}

func (c *StockConsumer) State() *ConsumerState {
	return c.state
}

// Run starts the configured number of workers and blocks until ctx is done
// and every worker finished its in-flight message.
func (c *StockConsumer) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Workers; i++ {
		c.state.set(i, StateStopped)
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			c.runWorker(ctx, id)
		}(i)
	}
	c.log.Info("stock_consumer_started", zap.Int("workers", c.cfg.Workers))
	wg.Wait()
	c.log.Info("stock_consumer_stopped")
}

func (c *StockConsumer) runWorker(ctx context.Context, id int) {
	log := c.log.With(zap.Int("worker", id))
	reconnect := c.newBackOff(c.cfg.ReconnectInitial, c.cfg.ReconnectMax)
	defer c.state.set(id, StateStopped)

	for {
		c.state.set(id, StateSubscribing)
		sub, err := c.queue.Consume(ctx, c.cfg.Queue)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.state.set(id, StateFailed)
			wait := reconnect.NextBackOff()
			log.Warn("stock_consumer_subscribe_failed", zap.Error(err), zap.Duration("retry_in", wait))
			if !sleep(ctx, wait) {
				return
			}
			continue
		}

		reconnect.Reset()
		c.state.set(id, StateListening)
		log.Info("stock_consumer_listening")

		lost := c.listen(ctx, id, sub)
		if err := sub.Close(); err != nil {
			log.Debug("stock_subscription_close_failed", zap.Error(err))
		}
		if !lost {
			return
		}

		c.state.set(id, StateFailed)
		wait := reconnect.NextBackOff()
		log.Warn("stock_consumer_connection_lost", zap.Duration("retry_in", wait))
		if !sleep(ctx, wait) {
			return
		}
	}
}

// listen returns true when the subscription ended without ctx being done.
func (c *StockConsumer) listen(ctx context.Context, id int, sub port.Subscription) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-sub.Messages():
			if !ok {
				return ctx.Err() == nil
			}
			c.state.set(id, StateProcessing)
			// in-flight updates finish even when shutdown starts
			_ = c.HandleMessage(context.WithoutCancel(ctx), msg)
			c.state.set(id, StateListening)
		}
	}
}

func (c *StockConsumer) HandleMessage(ctx context.Context, msg port.Message) (err error) {
	ctx, span := c.tracer.Start(ctx, "stock.HandleMessage",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", c.cfg.Queue),
			attribute.String("messaging.message.id", msg.ID),
		),
	)
	start := time.Now()
	outcome := OutcomeApplied
	log := c.log.With(zap.String("message_id", msg.ID), zap.Bool("redelivered", msg.Redelivered))

	defer func() {
		c.metrics.ObserveMessage(outcome, time.Since(start))
		span.SetAttributes(attribute.String("stock.outcome", outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		} else {
			span.SetStatus(codes.Ok, outcome)
		}
		span.End()
	}()

	update, perr := c.parser.Parse(msg.Body)
	if perr != nil {
		outcome = OutcomeMalformed
		log.Warn("stock_message_malformed", zap.ByteString("body", msg.Body), zap.Error(perr))
		return c.reject(ctx, msg, OutcomeMalformed, log)
	}
	update.SourceMessageID = msg.ID
	log = log.With(zap.Int64("item_id", update.ItemID), zap.Int("quantity", update.Quantity))
	span.SetAttributes(
		attribute.Int64("inventory.item_id", update.ItemID),
		attribute.Int("inventory.quantity", update.Quantity),
	)

	item, aerr := c.apply(ctx, update)
	switch {
	case aerr == nil:
		c.state.forget(msg.ID)
		log.Info("stock_update_applied", zap.Int("stock", item.Stock))
		return c.ack(msg, log)

	case errors.Is(aerr, domain.ErrAlreadyApplied):
		c.state.forget(msg.ID)
		outcome = OutcomeDuplicate
		log.Info("stock_message_duplicate")
		return c.ack(msg, log)

	case errors.Is(aerr, domain.ErrNotFound):
		outcome = OutcomeNotFound
		log.Warn("stock_update_rejected", zap.Error(aerr))
		return c.reject(ctx, msg, OutcomeNotFound, log)

	case errors.Is(aerr, domain.ErrInvalidQuantity):
		outcome = OutcomeInvalidQuantity
		log.Warn("stock_update_rejected", zap.Error(aerr))
		return c.reject(ctx, msg, OutcomeInvalidQuantity, log)

	default:
		outcome, err = c.retryLater(ctx, msg, aerr, log)
		return err
	}
}

// apply retries transient store failures in-process before giving up. The
// store records the message ID with the change, so a retry after a change
// that did land reports ErrAlreadyApplied instead of applying it twice.
func (c *StockConsumer) apply(ctx context.Context, update domain.StockUpdate) (*domain.InventoryItem, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ApplyTimeout)
	defer cancel()

	b := backoff.WithContext(
		backoff.WithMaxRetries(c.newBackOff(c.cfg.RetryInitialDelay, c.cfg.ApplyTimeout), uint64(c.cfg.ApplyAttempts-1)),
		ctx,
	)

	var item *domain.InventoryItem
	err := backoff.Retry(func() error {
		var err error
		item, err = c.store.ApplyStockChange(ctx, update.ItemID, update.Quantity, update.SourceMessageID)
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
	return item, err
}

// retryLater requeues a transiently failed message, or dead-letters it once it
// failed MaxDeliveries times. The broker's delivery count survives restarts
// and is shared by every consumer; the local count covers queues without one.
func (c *StockConsumer) retryLater(ctx context.Context, msg port.Message, cause error, log *zap.Logger) (string, error) {
	if c.cfg.MaxDeliveries > 0 {
		n := msg.DeliveryCount + 1
		if msg.ID != "" {
			n = max(n, c.state.recordFailure(msg.ID))
		}
		if n >= c.cfg.MaxDeliveries {
			c.state.forget(msg.ID)
			log.Error("stock_message_retries_exhausted", zap.Int("deliveries", n), zap.Error(cause))
			if err := c.reject(ctx, msg, OutcomeDeadLettered, log); err != nil {
				return OutcomeDeadLettered, err
			}
			return OutcomeDeadLettered, nil
		}
	}

	log.Warn("stock_update_requeued", zap.Error(cause))
	if err := msg.Nack(true); err != nil {
		log.Error("stock_message_nack_failed", zap.Error(err))
	}
	return OutcomeRequeued, fmt.Errorf("stock update requeued: %w", cause)
}

// reject settles a message that can never succeed: dead-letter it when a
// dead-letter queue is configured, then ack it so it cannot block the queue.
func (c *StockConsumer) reject(ctx context.Context, msg port.Message, reason string, log *zap.Logger) error {
	if c.cfg.DeadLetterQueue != "" {
		id := msg.ID
		if id == "" {
			id = uuid.NewString()
		}
		headers := map[string]string{
			HeaderFailureReason: reason,
			HeaderSourceQueue:   c.cfg.Queue,
		}
		if err := c.queue.Publish(ctx, c.cfg.DeadLetterQueue, id, msg.Body, headers); err != nil {
			log.Error("stock_message_dead_letter_failed", zap.String("reason", reason), zap.Error(err))
		} else {
			log.Info("stock_message_dead_lettered", zap.String("reason", reason), zap.String("dead_letter_queue", c.cfg.DeadLetterQueue))
		}
	}
	return c.ack(msg, log)
}

func (c *StockConsumer) ack(msg port.Message, log *zap.Logger) error {
	if err := msg.Ack(); err != nil {
		log.Error("stock_message_ack_failed", zap.Error(err))
		return fmt.Errorf("ack message: %w", err)
	}
	return nil
}

// ValidateStock runs one consume cycle: it pulls and handles messages until
// the queue is empty. The whole call is limited to ValidateAttempts attempts
// within ValidateBudget.
func (c *StockConsumer) ValidateStock(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ValidateBudget)
	defer cancel()

	b := backoff.WithContext(
		backoff.WithMaxRetries(c.newBackOff(c.cfg.RetryInitialDelay, c.cfg.ValidateBudget), uint64(c.cfg.ValidateAttempts-1)),
		ctx,
	)

	handled := 0
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		n, err := c.drain(ctx)
		handled += n
		return err
	}, b, func(err error, wait time.Duration) {
		c.log.Warn("stock_validation_retry", zap.Int("attempt", attempt), zap.Duration("retry_in", wait), zap.Error(err))
	})
	if err != nil {
		c.log.Error("stock_validation_failed", zap.Int("attempts", attempt), zap.Int("handled", handled), zap.Error(err))
		return handled, fmt.Errorf("validate stock: %w", err)
	}

	c.log.Info("stock_validated", zap.Int("handled", handled))
	return handled, nil
}

func (c *StockConsumer) drain(ctx context.Context) (int, error) {
	handled := 0
	for c.cfg.ValidateDrainLimit <= 0 || handled < c.cfg.ValidateDrainLimit {
		msg, ok, err := c.queue.Get(ctx, c.cfg.Queue)
		if err != nil {
			return handled, err
		}
		if !ok {
			return handled, nil
		}
		handled++
		if err := c.HandleMessage(context.WithoutCancel(ctx), msg); err != nil {
			return handled, err
		}
	}
	return handled, nil
}

func (c *StockConsumer) newBackOff(initial, maxInterval time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if initial > 0 {
		b.InitialInterval = initial
	}
	if maxInterval > 0 {
		b.MaxInterval = maxInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
