package nats_exchange_flow

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/pnvasko/nats-exchange-flow/flow"
	"github.com/pnvasko/nats-exchange-flow/natstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJetStreamPair(t *testing.T, js jetstream.JetStream, stream string, subject string) (*JetStreamProducer, *JetStreamConsumer) {
	t.Helper()
	ctx := context.Background()

	streamCfg, err := NewJetStreamConfig(stream, []string{subject}, WithWorkerPool(2, 4))
	require.NoError(t, err)

	producer, err := NewJetStreamProducer(ctx, js, newTestEndpointConfig(t, subject), streamCfg)
	require.NoError(t, err)

	consumer, err := NewJetStreamConsumer(ctx, js, newTestEndpointConfig(t, subject), streamCfg)
	require.NoError(t, err)
	require.NoError(t, consumer.Run(ctx))
	t.Cleanup(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = consumer.Close(closeCtx)
	})
	return producer, consumer
}

func TestJetStreamExchange(t *testing.T) {
	_, js := natstest.ConnectJetStream(t)
	tctx := NewTestContext(context.Background())

	t.Run("SendReceive", func(t *testing.T) {
		producer, consumer := newJetStreamPair(t, js, "ORDERS", "orders.created")

		msg := mustMessage(t, `{"id":5}`, WithName("order"), WithHeader("operation", "create"))
		require.NoError(t, producer.Send(tctx, msg))
		assert.Equal(t, "ORDERS", msg.HeaderString(StreamKey))
		assert.Equal(t, "1", msg.HeaderString(StreamSequenceKey))

		received, err := consumer.Receive(tctx, headerSelector(t, "operation = 'create'"), 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, msg.ID(), received.ID())
		assert.Equal(t, "order", received.Name())
		assert.Equal(t, `{"id":5}`, received.PayloadString())
		assert.Equal(t, "orders.created", received.HeaderString(SubjectHeader))
		assert.Equal(t, "ORDERS", received.HeaderString(StreamKey))
		assert.Equal(t, "1", received.HeaderString(StreamSequenceKey))
		assert.Equal(t, "1", received.HeaderString(NumDeliveredKey))

		sequence, delivered := StreamPosition(received)
		assert.Equal(t, uint64(1), sequence)
		assert.Equal(t, uint64(1), delivered)
	})

	t.Run("DuplicateIsDropped", func(t *testing.T) {
		producer, consumer := newJetStreamPair(t, js, "DEDUP", "dedup.events")

		msg := mustMessage(t, "once")
		require.NoError(t, producer.Send(tctx, msg))
		require.NoError(t, producer.Send(tctx, NewMessageFrom(msg, false)))

		_, err := consumer.Receive(tctx, nil, 2*time.Second)
		require.NoError(t, err)
		_, err = consumer.Receive(tctx, nil, 300*time.Millisecond)
		assert.True(t, IsReplyTimeout(err))
	})

	t.Run("SendAsync", func(t *testing.T) {
		producer, consumer := newJetStreamPair(t, js, "ASYNC", "async.events")

		var futures flow.Futures[*Message]
		for i := 0; i < 3; i++ {
			future, err := producer.SendAsync(tctx, mustMessage(t, i))
			require.NoError(t, err)
			futures = append(futures, future)
		}
		assert.Empty(t, futures.Await())
		for _, f := range futures {
			assert.Equal(t, "ASYNC", f.Original().HeaderString(StreamKey))
		}

		for i := 0; i < 3; i++ {
			_, err := consumer.Receive(tctx, nil, 2*time.Second)
			require.NoError(t, err)
		}
	})

	t.Run("UndecodableMessageIsSkipped", func(t *testing.T) {
		producer, consumer := newJetStreamPair(t, js, "RAW", "raw.events")

		_, err := js.Publish(context.Background(), "raw.events", []byte("not an envelope"))
		require.NoError(t, err)
		require.NoError(t, producer.Send(tctx, mustMessage(t, "valid")))

		received, err := consumer.Receive(tctx, nil, 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, "valid", received.PayloadString())
		_, err = consumer.Receive(tctx, nil, 200*time.Millisecond)
		assert.True(t, IsReplyTimeout(err))
	})

	t.Run("PurgeStream", func(t *testing.T) {
		producer, consumer := newJetStreamPair(t, js, "PURGE", "purge.events")
		require.NoError(t, producer.Send(tctx, mustMessage(t, "x")))
		require.NoError(t, consumer.PurgeStream(context.Background()))

		stream, err := js.Stream(context.Background(), "PURGE")
		require.NoError(t, err)
		info, err := stream.Info(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(0), info.State.Msgs)
	})
}

func TestStreamPosition(t *testing.T) {
	msg := mustMessage(t, "x", WithHeader(StreamSequenceKey, "42"), WithHeader(NumDeliveredKey, "3"))
	sequence, delivered := StreamPosition(msg)
	assert.Equal(t, uint64(42), sequence)
	assert.Equal(t, uint64(3), delivered)

	sequence, delivered = StreamPosition(mustMessage(t, "x", WithHeader(StreamSequenceKey, "-1")))
	assert.Zero(t, sequence)
	assert.Zero(t, delivered)
}

func TestJetStreamConfig(t *testing.T) {
	_, err := NewJetStreamConfig("", []string{"a"})
	assert.Error(t, err)
	_, err = NewJetStreamConfig("S", nil)
	assert.Error(t, err)
	_, err = NewJetStreamConfig("S", []string{"a"}, WithCleanupTtl(50*time.Millisecond))
	assert.Error(t, err)

	cfg, err := NewJetStreamConfig("S", []string{"a"}, WithDurableName("durable"))
	require.NoError(t, err)
	assert.Equal(t, "durable", cfg.ConsumerName())
	assert.Equal(t, jetstream.MemoryStorage, cfg.streamConfig().Storage)
	assert.Equal(t, jetstream.AckExplicitPolicy, cfg.consumerConfig().AckPolicy)

	ephemeral, err := NewJetStreamConfig("S", []string{"a"})
	require.NoError(t, err)
	assert.NotEmpty(t, ephemeral.ConsumerName())
	assert.Empty(t, ephemeral.DurableName())
}
