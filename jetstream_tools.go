package nats_exchange_flow

import (
	"context"

	"github.com/nats-io/nats.go/jetstream"
)

func CreateOrUpdateStream(ctx context.Context, js jetstream.JetStream, config *JetStreamConfig) (jetstream.Stream, error) {
	stream, err := js.CreateOrUpdateStream(ctx, config.streamConfig())
	if err != nil {
		return nil, newTransportError("create stream", config.StreamName(), err)
	}
	return stream, nil
}

func CreateOrUpdateConsumer(ctx context.Context, js jetstream.JetStream, config *JetStreamConfig) (jetstream.Consumer, error) {
	consumer, err := js.CreateOrUpdateConsumer(ctx, config.StreamName(), config.consumerConfig())
	if err != nil {
		return nil, newTransportError("create consumer", config.ConsumerName(), err)
	}
	return consumer, nil
}

// LoadJetStreamMessage decodes a message published by JetStreamProducer and
// adds the stream metadata as headers.
func LoadJetStreamMessage(jsMsg jetstream.Msg) (*Message, error) {
	msg, err := UnmarshalMessage(jsMsg.Data())
	if err != nil {
		return nil, err
	}

	msg.headers[SubjectHeader] = jsMsg.Subject()
	if reply := jsMsg.Headers().Get(ReplyAddressHeader); reply != "" {
		msg.headers[ReplyAddressHeader] = reply
	}
	metadata, err := jsMsg.Metadata()
	if err != nil {
		return nil, err
	}
	msg.headers[StreamKey] = metadata.Stream
	msg.headers[StreamSequenceKey] = Int64ToString(int64(metadata.Sequence.Stream))
	msg.headers[NumDeliveredKey] = Int64ToString(int64(metadata.NumDelivered))
	msg.ctx = ExtractContext(jsMsg.Headers())

	return msg, nil
}

// StreamPosition returns the stream sequence and the delivery count recorded on
// a stream message, zero for a value that was never recorded.
func StreamPosition(msg *Message) (sequence, delivered uint64) {
	return ParseStringToUInt64(msg.HeaderString(StreamSequenceKey)), ParseStringToUInt64(msg.HeaderString(NumDeliveredKey))
}
