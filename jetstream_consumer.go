package nats_exchange_flow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const defaultPoolReleaseTimeout = 5 * time.Second

// JetStreamConsumer reads a stream through a pull consumer. Workers decode
// each message, put it into the consumer queue and ack it; undecodable
// messages are terminated so they are not redelivered.
type JetStreamConsumer struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed *atomic.Bool

	name       string
	config     *EndpointConfig
	streamCfg  *JetStreamConfig
	stream     jetstream.Stream
	consumer   jetstream.Consumer
	consumeCtx jetstream.ConsumeContext
	pool       *ants.MultiPoolWithFunc
	queue      *Queue
}

func NewJetStreamConsumer(ctx context.Context, js jetstream.JetStream, config *EndpointConfig, streamCfg *JetStreamConfig) (*JetStreamConsumer, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream context is required")
	}
	if config == nil || streamCfg == nil {
		return nil, fmt.Errorf("endpoint and stream config are required")
	}

	var err error
	c := &JetStreamConsumer{
		closed:    atomic.NewBool(false),
		config:    config,
		streamCfg: streamCfg,
	}
	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))

	filter := streamCfg.Subjects()
	if len(streamCfg.filterSubjects) > 0 {
		filter = streamCfg.filterSubjects
	}
	c.name = fmt.Sprintf("%s:consumer on stream: [%s]; subjects: [%s]; consumer: [%s]",
		config.Name(), streamCfg.StreamName(), strings.Join(filter, ","), streamCfg.ConsumerName())

	if c.stream, err = CreateOrUpdateStream(ctx, js, streamCfg); err != nil {
		c.cancel()
		return nil, err
	}
	if c.consumer, err = CreateOrUpdateConsumer(ctx, js, streamCfg); err != nil {
		c.cancel()
		return nil, err
	}
	if c.queue, err = NewQueue(config.pollingOptions(config.Name() + ":consumer")...); err != nil {
		c.cancel()
		return nil, err
	}

	c.pool, err = ants.NewMultiPoolWithFunc(streamCfg.poolSize, streamCfg.poolSizePerPool, c.work, ants.RoundRobin)
	if err != nil {
		c.cancel()
		return nil, fmt.Errorf("cannot create jetstream worker pool: %w", err)
	}
	return c, nil
}

func (c *JetStreamConsumer) Name() string {
	return c.name
}

func (c *JetStreamConsumer) Queue() *Queue {
	return c.queue
}

func (c *JetStreamConsumer) work(im any) {
	defer c.wg.Done()

	jsMsg, ok := im.(jetstream.Msg)
	if !ok {
		c.config.logger.Ctx(c.ctx).Sugar().Errorf("jetstream consumer invalid job type %T", im)
		return
	}

	msg, err := LoadJetStreamMessage(jsMsg)
	if err != nil {
		c.config.logger.Ctx(c.ctx).Error("cannot decode jetstream message", zap.Error(err), zap.String("jetstream_consumer", c.name))
		if err := jsMsg.Term(); err != nil {
			c.config.logger.Ctx(c.ctx).Error("failed to terminate undecodable message", zap.Error(err), zap.String("jetstream_consumer", c.name))
		}
		return
	}

	msgCtx, span := c.config.tracer.Start(msg.Context(), "jetstream.consumer.enqueue", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	sequence, delivered := StreamPosition(msg)
	span.SetAttributes(
		attribute.String("jetstream_consumer", c.name),
		attribute.String("jetstream_consumer.message.id", msg.ID()),
		attribute.Int64("jetstream_consumer.message.sequence", int64(sequence)),
		attribute.Int64("jetstream_consumer.message.delivered", int64(delivered)),
	)
	msg.SetContext(msgCtx)

	if c.closed.Load() {
		c.config.logger.Ctx(msgCtx).Debug("closed, message left for redelivery", zap.String("jetstream_consumer", c.name))
		_ = jsMsg.Nak()
		return
	}

	c.queue.Send(msg)
	if err := jsMsg.Ack(); err != nil {
		c.config.logger.Ctx(msgCtx).Error("cannot send JetStream Ack", zap.Error(err), zap.String("jetstream_consumer", c.name))
		return
	}
	c.config.logger.Ctx(msgCtx).Debug("jetstream message queued", zap.String("jetstream_consumer", c.name), zap.String("message_id", msg.ID()))
}

// Run starts consuming in the background.
func (c *JetStreamConsumer) Run(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return ErrEndpointClosed
	}
	if c.consumeCtx != nil {
		return nil
	}

	consumeCtx, err := c.consumer.Consume(func(jsMsg jetstream.Msg) {
		c.wg.Add(1)
		if err := c.pool.Invoke(jsMsg); err != nil {
			c.wg.Done()
			c.config.logger.Ctx(c.ctx).Error("failed to process message", zap.Error(err), zap.String("jetstream_consumer", c.name))
			if err := jsMsg.Nak(); err != nil {
				c.config.logger.Ctx(c.ctx).Error("failed to NAK unprocessable message", zap.Error(err), zap.String("jetstream_consumer", c.name))
			}
		}
	}, c.streamCfg.pullOptions...)
	if err != nil {
		return SetLogError(ctx, "failed to consume from jetstream consumer", newTransportError("consume", c.streamCfg.StreamName(), err), c.config.logger)
	}
	c.consumeCtx = consumeCtx
	c.config.logger.Ctx(ctx).Debug("jetstream consumer started", zap.String("jetstream_consumer", c.name))
	return nil
}

func (c *JetStreamConsumer) Receive(tctx *TestContext, sel MessageSelector, timeout time.Duration) (*Message, error) {
	td := c.config.timeoutOrDefault(timeout)
	msg, ok := c.queue.ReceiveTimeout(sel, td)
	if !ok {
		return nil, &ReplyTimeoutError{
			Message:     "action timeout while receiving stream message",
			Timeout:     td,
			Destination: c.streamCfg.StreamName(),
		}
	}
	c.config.logger.Ctx(tctx.Context()).Debug("received stream message",
		zap.String("jetstream_consumer", c.name), zap.String("message_id", msg.ID()))
	return msg, nil
}

// Purge drops queued messages the selector accepts.
func (c *JetStreamConsumer) Purge(sel MessageSelector) int {
	return c.queue.Purge(sel)
}

// PurgeStream removes every message stored in the stream.
func (c *JetStreamConsumer) PurgeStream(ctx context.Context) error {
	return c.stream.Purge(ctx)
}

// Close drains the consumer and waits for busy workers until ctx is done.
func (c *JetStreamConsumer) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	consumeCtx := c.consumeCtx
	c.mu.Unlock()
	if consumeCtx != nil {
		consumeCtx.Drain()
	}
	defer c.cancel()

	waitChan := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(waitChan)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-waitChan:
	}
	if err := c.pool.ReleaseTimeout(defaultPoolReleaseTimeout); err != nil {
		c.config.logger.Ctx(ctx).Warn("worker pool release timed out", zap.Error(err), zap.String("jetstream_consumer", c.name))
	}
	return nil
}

var _ SelectiveConsumer = (*JetStreamConsumer)(nil)
