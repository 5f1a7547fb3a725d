package nats_exchange_flow

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Producer sends a message to the endpoint address.
type Producer interface {
	Send(tctx *TestContext, msg *Message) error
}

// ReplyConsumer waits for the reply to the last message sent in tctx.
type ReplyConsumer interface {
	Receive(tctx *TestContext, timeout time.Duration) (*Message, error)
	ReceiveByKey(tctx *TestContext, key string, timeout time.Duration) (*Message, error)
}

// SelectiveConsumer waits for a message matching a selector.
type SelectiveConsumer interface {
	Receive(tctx *TestContext, sel MessageSelector, timeout time.Duration) (*Message, error)
}

// publishBus publishes natsMsg on the configured connection with the
// transient failure retry, inside a producer span.
func publishBus(tctx *TestContext, nc *nats.Conn, config *EndpointConfig, spanName string, msg *Message, natsMsg func(ctx context.Context) *nats.Msg) error {
	ctx, span := config.tracer.Start(tctx.Context(), spanName, trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	out := natsMsg(ctx)
	span.SetAttributes(
		attribute.String("bus.endpoint", config.Name()),
		attribute.String("bus.destination", out.Subject),
		attribute.String("bus.message.id", msg.ID()),
		attribute.Int("bus.message.len", len(out.Data)),
	)

	err := publishWithRetry(ctx, out.Subject, func() error {
		return nc.PublishMsg(out)
	}, config.retryDelay(), config.clock, config.logger)
	if err != nil {
		return SetLogError(ctx, "cannot publish bus message", err, config.logger,
			attribute.String("bus.destination", out.Subject))
	}
	return nil
}

// natsMessageWithTrace converts msg after moving it into the span context.
func natsMessageWithTrace(ctx context.Context, subject string, msg *Message) *nats.Msg {
	traced := NewMessageFrom(msg, false)
	traced.SetContext(ctx)
	return NewNatsMessage(subject, traced)
}
