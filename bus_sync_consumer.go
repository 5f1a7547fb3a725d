package nats_exchange_flow

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// BusSyncConsumer is the serving side of a request/reply exchange. Receive
// records where the reply has to go; Send looks that address up again.
type BusSyncConsumer struct {
	*BusConsumer
	replyAddresses CorrelationManager[string]
}

func NewBusSyncConsumer(nc *nats.Conn, config *EndpointConfig) (*BusSyncConsumer, error) {
	consumer, err := NewBusConsumer(nc, config)
	if err != nil {
		return nil, err
	}
	addresses, err := NewPollingCorrelationManager[string](config.pollingOptions(consumer.Name() + ".reply_addresses")...)
	if err != nil {
		return nil, err
	}
	return &BusSyncConsumer{
		BusConsumer:    consumer,
		replyAddresses: addresses,
	}, nil
}

func (c *BusSyncConsumer) CorrelationKeyName() string {
	return c.config.correlator.CorrelationKeyName(c.name)
}

func (c *BusSyncConsumer) Receive(tctx *TestContext, sel MessageSelector, timeout time.Duration) (*Message, error) {
	msg, err := c.BusConsumer.Receive(tctx, sel, timeout)
	if err != nil {
		return nil, err
	}

	replyTo := msg.HeaderString(ReplyAddressHeader)
	if replyTo == "" {
		// Nothing to answer: a later Send fails at once instead of polling.
		tctx.RemoveVariable(c.CorrelationKeyName())
		c.config.logger.Ctx(tctx.Context()).Warn("inbound message has no reply address",
			zap.String("consumer", c.name), zap.String("message_id", msg.ID()))
		return msg, nil
	}

	key := c.config.correlator.CorrelationKey(msg)
	c.replyAddresses.SaveCorrelationKey(c.CorrelationKeyName(), key, tctx)
	c.replyAddresses.Store(key, replyTo)
	return msg, nil
}

// Send publishes reply to the address of the message last received in tctx.
func (c *BusSyncConsumer) Send(tctx *TestContext, reply *Message) error {
	key, err := c.replyAddresses.CorrelationKey(c.CorrelationKeyName(), tctx)
	if err != nil {
		return err
	}
	address, ok := c.replyAddresses.Find(key, c.config.Timeout())
	if !ok {
		return fmt.Errorf("%w: %s", ErrReplyAddressNotFound, key)
	}

	c.config.logger.Ctx(tctx.Context()).Debug("sending synchronous reply",
		zap.String("consumer", c.name), zap.String("reply_address", address), zap.String("correlation_key", key))

	return publishBus(tctx, c.nc, c.config, "bus.sync_consumer.reply", reply, func(ctx context.Context) *nats.Msg {
		return natsMessageWithTrace(ctx, address, reply)
	})
}

var (
	_ SelectiveConsumer = (*BusSyncConsumer)(nil)
	_ Producer          = (*BusSyncConsumer)(nil)
)
