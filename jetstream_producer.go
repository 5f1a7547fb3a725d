package nats_exchange_flow

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/pnvasko/nats-exchange-flow/flow"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// JetStreamProducer publishes full message envelopes into a stream. The
// message ID is the JetStream dedup ID, so a resend of the same message is
// dropped by the server within the duplicate window.
type JetStreamProducer struct {
	js     jetstream.JetStream
	config *EndpointConfig
	stream *JetStreamConfig
	name   string
}

func NewJetStreamProducer(ctx context.Context, js jetstream.JetStream, config *EndpointConfig, stream *JetStreamConfig) (*JetStreamProducer, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream context is required")
	}
	if config == nil || stream == nil {
		return nil, fmt.Errorf("endpoint and stream config are required")
	}
	if _, err := CreateOrUpdateStream(ctx, js, stream); err != nil {
		return nil, err
	}
	return &JetStreamProducer{
		js:     js,
		config: config,
		stream: stream,
		name:   fmt.Sprintf("%s:producer on stream [%s]", config.Name(), stream.StreamName()),
	}, nil
}

func (p *JetStreamProducer) Name() string {
	return p.name
}

func (p *JetStreamProducer) natsMessage(ctx context.Context, msg *Message) (*nats.Msg, error) {
	data, err := msg.Marshal()
	if err != nil {
		return nil, err
	}
	headers := make(nats.Header)
	headers.Set(nats.MsgIdHdr, msg.ID())
	headers.Set(IDHeader, msg.ID())
	carrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(ctx, carrier)
	for k, v := range carrier {
		headers.Set(k, v)
	}
	return &nats.Msg{Subject: p.config.Address(), Data: data, Header: headers}, nil
}

// Send publishes msg and waits for the stream ack. The stream sequence is
// recorded on msg under StreamSequenceKey.
func (p *JetStreamProducer) Send(tctx *TestContext, msg *Message) error {
	ctx, span := p.config.tracer.Start(tctx.Context(), "jetstream.producer.send", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	out, err := p.natsMessage(ctx, msg)
	if err != nil {
		return SetLogError(ctx, "cannot encode jetstream message", err, p.config.logger)
	}

	var ack *jetstream.PubAck
	err = publishWithRetry(ctx, out.Subject, func() error {
		var pubErr error
		ack, pubErr = p.js.PublishMsg(ctx, out)
		return pubErr
	}, p.config.retryDelay(), p.config.clock, p.config.logger)
	if err != nil {
		return SetLogError(ctx, "cannot publish jetstream message", err, p.config.logger,
			attribute.String("jetstream.subject", out.Subject))
	}

	p.acked(ctx, msg, ack)
	span.SetAttributes(
		attribute.String("jetstream.stream", ack.Stream),
		attribute.Int64("jetstream.sequence", int64(ack.Sequence)),
		attribute.Bool("jetstream.duplicate", ack.Duplicate),
	)
	return nil
}

// SendAsync publishes without waiting; the future resolves with msg once the
// stream acked it.
func (p *JetStreamProducer) SendAsync(tctx *TestContext, msg *Message) (*flow.Future[*Message], error) {
	ctx := tctx.Context()
	out, err := p.natsMessage(ctx, msg)
	if err != nil {
		return nil, SetLogError(ctx, "cannot encode jetstream message", err, p.config.logger)
	}
	paf, err := p.js.PublishMsgAsync(out)
	if err != nil {
		return nil, SetLogError(ctx, "cannot publish jetstream message", newTransportError("publish", out.Subject, err), p.config.logger)
	}

	future := flow.NewFuture[*Message](ctx, msg)
	go func() {
		select {
		case ack := <-paf.Ok():
			p.acked(ctx, msg, ack)
			future.SetValue(msg)
		case err := <-paf.Err():
			future.SetError(newTransportError("publish", out.Subject, err))
		case <-ctx.Done():
			future.SetError(ctx.Err())
		}
	}()
	return future, nil
}

func (p *JetStreamProducer) acked(ctx context.Context, msg *Message, ack *jetstream.PubAck) {
	_ = msg.SetHeader(StreamKey, ack.Stream)
	_ = msg.SetHeader(StreamSequenceKey, Int64ToString(int64(ack.Sequence)))
	p.config.logger.Ctx(ctx).Debug("jetstream message acked",
		zap.String("producer", p.name), zap.String("message_id", msg.ID()),
		zap.Uint64("sequence", ack.Sequence), zap.Bool("duplicate", ack.Duplicate))
}

var _ Producer = (*JetStreamProducer)(nil)
