package nats_exchange_flow

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// BusProducer publishes messages to a subject and does not wait for replies.
type BusProducer struct {
	nc     *nats.Conn
	config *EndpointConfig
	name   string
}

func NewBusProducer(nc *nats.Conn, config *EndpointConfig) (*BusProducer, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection is required")
	}
	if config == nil {
		return nil, fmt.Errorf("endpoint config is required")
	}
	return &BusProducer{
		nc:     nc,
		config: config,
		name:   config.Name() + ":producer",
	}, nil
}

func (p *BusProducer) Name() string {
	return p.name
}

func (p *BusProducer) Send(tctx *TestContext, msg *Message) error {
	p.config.logger.Ctx(tctx.Context()).Debug("sending bus message",
		zap.String("producer", p.name), zap.String("address", p.config.Address()), zap.String("message_id", msg.ID()))

	return publishBus(tctx, p.nc, p.config, "bus.producer.send", msg, func(ctx context.Context) *nats.Msg {
		return natsMessageWithTrace(ctx, p.config.Address(), msg)
	})
}

var _ Producer = (*BusProducer)(nil)
