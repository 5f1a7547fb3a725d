package nats_exchange_flow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// BusConsumer subscribes to the endpoint address and keeps inbound messages
// in a Queue until a test receives them.
type BusConsumer struct {
	nc     *nats.Conn
	config *EndpointConfig
	name   string
	queue  *Queue

	mu     sync.Mutex
	sub    *nats.Subscription
	closed *atomic.Bool
}

func NewBusConsumer(nc *nats.Conn, config *EndpointConfig) (*BusConsumer, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection is required")
	}
	if config == nil {
		return nil, fmt.Errorf("endpoint config is required")
	}
	name := config.Name() + ":consumer"
	queue, err := NewQueue(config.pollingOptions(name)...)
	if err != nil {
		return nil, err
	}
	return &BusConsumer{
		nc:     nc,
		config: config,
		name:   name,
		queue:  queue,
		closed: atomic.NewBool(false),
	}, nil
}

func (c *BusConsumer) Name() string {
	return c.name
}

func (c *BusConsumer) Queue() *Queue {
	return c.queue
}

// Run subscribes to the address, in the configured queue group if any.
func (c *BusConsumer) Run(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return ErrEndpointClosed
	}
	if c.sub != nil {
		return nil
	}

	var err error
	if group := c.config.QueueGroup(); group != "" {
		c.sub, err = c.nc.QueueSubscribe(c.config.Address(), group, c.handle)
	} else {
		c.sub, err = c.nc.Subscribe(c.config.Address(), c.handle)
	}
	if err != nil {
		return SetLogError(ctx, "cannot subscribe bus consumer", newTransportError("subscribe", c.config.Address(), err), c.config.logger)
	}
	c.config.logger.Ctx(ctx).Debug("bus consumer subscribed",
		zap.String("consumer", c.name), zap.String("address", c.config.Address()), zap.String("queue_group", c.config.QueueGroup()))
	return nil
}

func (c *BusConsumer) handle(natsMsg *nats.Msg) {
	if c.closed.Load() {
		return
	}
	msg, err := LoadNatsMessage(natsMsg)
	if err != nil {
		c.config.logger.Error("cannot read bus message",
			zap.String("consumer", c.name), zap.String("subject", natsMsg.Subject), zap.Error(err))
		return
	}

	_, span := msg.StartConsumerSpan(context.Background(), tracerName, "bus.consumer.enqueue")
	span.SetAttributes(
		attribute.String("bus.endpoint", c.config.Name()),
		attribute.String("bus.message.id", msg.ID()),
	)
	c.queue.Send(msg)
	span.End()
}

// Receive waits for a message the selector accepts. A nil selector accepts any message.
func (c *BusConsumer) Receive(tctx *TestContext, sel MessageSelector, timeout time.Duration) (*Message, error) {
	td := c.config.timeoutOrDefault(timeout)
	ctx, span := c.config.tracer.Start(tctx.Context(), "bus.consumer.receive", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	msg, ok := c.queue.ReceiveTimeout(sel, td)
	if !ok {
		return nil, &ReplyTimeoutError{
			Message:     "action timeout while receiving message",
			Timeout:     td,
			Destination: c.config.Address(),
		}
	}
	span.SetAttributes(attribute.String("bus.message.id", msg.ID()))
	c.config.logger.Ctx(ctx).Debug("received bus message",
		zap.String("consumer", c.name), zap.String("message_id", msg.ID()))
	return msg, nil
}

func (c *BusConsumer) Purge(sel MessageSelector) int {
	return c.queue.Purge(sel)
}

func (c *BusConsumer) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	if sub == nil {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed {
		return SetLogError(ctx, "cannot unsubscribe bus consumer", newTransportError("unsubscribe", c.config.Address(), err), c.config.logger)
	}
	return nil
}

var _ SelectiveConsumer = (*BusConsumer)(nil)
