package nats_exchange_flow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pnvasko/nats-exchange-flow/common"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// BusSyncProducer sends a request with a one-shot reply inbox. The reply is
// stored by the subscription callback and picked up by Receive.
type BusSyncProducer struct {
	nc           *nats.Conn
	config       *EndpointConfig
	name         string
	consumerName string

	mu      sync.Mutex
	pending map[string]*nats.Subscription
	closed  *atomic.Bool
}

func NewBusSyncProducer(nc *nats.Conn, config *EndpointConfig) (*BusSyncProducer, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection is required")
	}
	if config == nil {
		return nil, fmt.Errorf("endpoint config is required")
	}
	return &BusSyncProducer{
		nc:           nc,
		config:       config,
		name:         config.Name() + ":producer",
		consumerName: config.Name() + ":consumer",
		pending:      make(map[string]*nats.Subscription),
		closed:       atomic.NewBool(false),
	}, nil
}

func (p *BusSyncProducer) Name() string {
	return p.name
}

func (p *BusSyncProducer) CorrelationKeyName() string {
	return p.config.correlator.CorrelationKeyName(p.consumerName)
}

func (p *BusSyncProducer) Send(tctx *TestContext, msg *Message) error {
	if p.closed.Load() {
		return ErrEndpointClosed
	}

	key := p.config.correlator.CorrelationKey(msg)
	p.config.correlationManager.SaveCorrelationKey(p.CorrelationKeyName(), key, tctx)

	inbox := p.nc.NewInbox()
	sub, err := p.nc.Subscribe(inbox, func(reply *nats.Msg) {
		p.onReply(key, reply)
	})
	if err != nil {
		return SetLogError(tctx.Context(), "cannot subscribe reply inbox", newTransportError("subscribe", inbox, err), p.config.logger)
	}
	if err := sub.AutoUnsubscribe(1); err != nil {
		_ = sub.Unsubscribe()
		return SetLogError(tctx.Context(), "cannot limit reply inbox", newTransportError("subscribe", inbox, err), p.config.logger)
	}
	p.track(key, sub)

	p.config.logger.Ctx(tctx.Context()).Debug("sending synchronous bus message",
		zap.String("producer", p.name), zap.String("address", p.config.Address()),
		zap.String("correlation_key", key), zap.String("reply_inbox", inbox))

	err = publishBus(tctx, p.nc, p.config, "bus.sync_producer.send", msg, func(ctx context.Context) *nats.Msg {
		out := natsMessageWithTrace(ctx, p.config.Address(), msg)
		out.Reply = inbox
		return out
	})
	if err != nil {
		p.untrack(key)
		_ = sub.Unsubscribe()
		return err
	}
	return nil
}

func (p *BusSyncProducer) onReply(key string, reply *nats.Msg) {
	p.untrack(key)

	if reply.Header.Get(busStatusHeader) == busNoRespondersCode && len(reply.Data) == 0 {
		p.config.logger.Warn("no responders for synchronous bus message",
			zap.String("producer", p.name), zap.String("address", p.config.Address()), zap.String("correlation_key", key))
		return
	}

	msg, err := LoadNatsMessage(reply)
	if err != nil {
		p.config.logger.Error("cannot read synchronous reply",
			zap.String("producer", p.name), zap.String("correlation_key", key), zap.Error(err))
		return
	}
	p.config.correlationManager.Store(key, msg)
}

// Receive waits for the reply to the last message this producer sent in tctx.
func (p *BusSyncProducer) Receive(tctx *TestContext, timeout time.Duration) (*Message, error) {
	key, err := p.config.correlationManager.CorrelationKey(p.CorrelationKeyName(), tctx)
	if err != nil {
		return nil, err
	}
	return p.ReceiveByKey(tctx, key, timeout)
}

func (p *BusSyncProducer) ReceiveByKey(tctx *TestContext, key string, timeout time.Duration) (*Message, error) {
	td := p.config.timeoutOrDefault(timeout)
	msg, ok := p.config.correlationManager.Find(key, td)
	if !ok {
		return nil, &ReplyTimeoutError{
			Message:     "action timeout while receiving synchronous reply",
			Timeout:     td,
			Destination: p.config.Address(),
		}
	}
	p.config.logger.Ctx(tctx.Context()).Debug("received synchronous reply",
		zap.String("producer", p.name), zap.String("correlation_key", key), zap.String("message_id", msg.ID()))
	return msg, nil
}

// Pending is the number of reply inboxes still waiting.
func (p *BusSyncProducer) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *BusSyncProducer) Close(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	p.mu.Lock()
	subs := p.pending
	p.pending = make(map[string]*nats.Subscription)
	p.mu.Unlock()

	var errs []error
	for key, sub := range subs {
		if err := sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed && err != nats.ErrBadSubscription {
			errs = append(errs, fmt.Errorf("unsubscribe reply inbox for %s: %w", key, err))
		}
	}
	p.config.logger.Ctx(ctx).Debug("synchronous producer closed",
		zap.String("producer", p.name), zap.Int("abandoned_replies", len(subs)))
	return common.JoinErrors(errs...)
}

func (p *BusSyncProducer) track(key string, sub *nats.Subscription) {
	p.mu.Lock()
	p.pending[key] = sub
	p.mu.Unlock()
}

func (p *BusSyncProducer) untrack(key string) {
	p.mu.Lock()
	delete(p.pending, key)
	p.mu.Unlock()
}

var (
	_ Producer      = (*BusSyncProducer)(nil)
	_ ReplyConsumer = (*BusSyncProducer)(nil)
)
