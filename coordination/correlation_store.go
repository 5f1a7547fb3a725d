package coordination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go/jetstream"
	exchange "github.com/pnvasko/nats-exchange-flow"
	"github.com/pnvasko/nats-exchange-flow/common"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Codec turns stored values into KV bytes and back.
type Codec[T any] interface {
	Encode(value T) ([]byte, error)
	Decode(data []byte) (T, error)
}

type MessageCodec struct{}

func (MessageCodec) Encode(msg *exchange.Message) ([]byte, error) {
	return msg.Marshal()
}

func (MessageCodec) Decode(data []byte) (*exchange.Message, error) {
	return exchange.UnmarshalMessage(data)
}

type StringCodec struct{}

func (StringCodec) Encode(s string) ([]byte, error) {
	return []byte(s), nil
}

func (StringCodec) Decode(data []byte) (string, error) {
	return string(data), nil
}

func WithClock[T interface{ setClock(clockwork.Clock) }](clock clockwork.Clock) StoreOption[T] {
	return func(s T) error {
		if clock == nil {
			return fmt.Errorf("clock is required")
		}
		s.setClock(clock)
		return nil
	}
}

// CorrelationStore is a CorrelationManager backed by a JetStream KV bucket,
// so a value stored by one process can be found by another. Find consumes
// with a revision checked delete: of two finders only one gets the value.
type CorrelationStore[T any] struct {
	*baseKvStore
	exchange.ContextKeyRegistry

	ctx    context.Context
	cancel context.CancelFunc

	js    jetstream.JetStream
	kv    jetstream.KeyValue
	codec Codec[T]
	clock clockwork.Clock

	tracer trace.Tracer
	logger *common.Logger
}

type MessageCorrelationStore = CorrelationStore[*exchange.Message]
type AddressCorrelationStore = CorrelationStore[string]

func NewCorrelationStore[T any](ctx context.Context, js jetstream.JetStream, codec Codec[T], tracer trace.Tracer, logger *common.Logger, opts ...StoreOption[*CorrelationStore[T]]) (*CorrelationStore[T], error) {
	if codec == nil {
		return nil, fmt.Errorf("codec is required")
	}
	s := &CorrelationStore[T]{
		baseKvStore: &baseKvStore{
			scope:            defaultCorrelationScope,
			storage:          jetstream.MemoryStorage,
			retryWait:        defaultRetryWait,
			maxRetryAttempts: defaultMaxRetryAttempts,
			cleanupTTL:       defaultCorrelationTTL,
		},
		js:     js,
		codec:  codec,
		clock:  clockwork.NewRealClock(),
		tracer: tracer,
		logger: logger,
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.cleanupTTL > 0 && s.cleanupTTL <= 100*time.Millisecond {
		return nil, fmt.Errorf("cleanup TTL must be larger than 100ms")
	}
	bucket := s.resolveBucketName(defaultCorrelationBucketPrefix)

	keyValueConfig := jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Correlated replies for " + s.scope,
		Storage:     s.storage,
	}
	if s.cleanupTTL > 0 {
		keyValueConfig.TTL = s.cleanupTTL
	}

	kv, err := js.CreateKeyValue(ctx, keyValueConfig)
	if err != nil {
		if !isJSAlreadyExistsError(err) {
			return nil, fmt.Errorf("failed to create/get KV store '%s': %w", bucket, err)
		}
		if kv, err = js.KeyValue(ctx, bucket); err != nil {
			return nil, fmt.Errorf("failed to bind to existing KV store '%s': %w", bucket, err)
		}
	}
	s.kv = kv
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	return s, nil
}

func NewMessageCorrelationStore(ctx context.Context, js jetstream.JetStream, tracer trace.Tracer, logger *common.Logger, opts ...StoreOption[*MessageCorrelationStore]) (*MessageCorrelationStore, error) {
	return NewCorrelationStore[*exchange.Message](ctx, js, MessageCodec{}, tracer, logger, opts...)
}

func (s *CorrelationStore[T]) setClock(clock clockwork.Clock) {
	s.clock = clock
}

func (s *CorrelationStore[T]) Bucket() string {
	return s.bucketName
}

func (s *CorrelationStore[T]) Scope() string {
	return s.scope
}

// Store writes value under key, replacing an unconsumed one. Failures are
// retried and then logged; the waiting Find will time out.
func (s *CorrelationStore[T]) Store(key string, value T) {
	ctx, span := s.tracer.Start(s.ctx, "correlation_store.store")
	defer span.End()
	span.SetAttributes(attribute.String("correlation_store.bucket", s.bucketName), attribute.String("correlation_store.key", key))

	data, err := s.codec.Encode(value)
	if err != nil {
		s.logger.Ctx(ctx).Error("cannot encode correlation value", zap.String("key", key), zap.Error(err))
		return
	}

	var lastErr error
	for i := 0; i < s.maxRetryAttempts; i++ {
		opCtx, cancel := context.WithTimeout(ctx, defaultOperationTimeout)
		_, lastErr = s.kv.Put(opCtx, kvKey(key), data)
		cancel()
		if lastErr == nil {
			return
		}
		s.logger.Ctx(ctx).Warn("correlation store put failed, retrying",
			zap.String("key", key), zap.Int("attempt", i+1), zap.Error(lastErr))
		s.clock.Sleep(s.retryWait)
	}
	s.logger.Ctx(ctx).Error("cannot store correlation value",
		zap.String("key", key), zap.Int("attempts", s.maxRetryAttempts), zap.Error(lastErr))
}

// Find polls the bucket every retryWait until a value for key shows up or timeout is spent.
func (s *CorrelationStore[T]) Find(key string, timeout time.Duration) (T, bool) {
	if v, ok := s.take(key); ok {
		return v, true
	}
	remaining := timeout
	for remaining > 0 {
		sleep := min(remaining, s.retryWait)
		s.clock.Sleep(sleep)
		remaining -= sleep
		if v, ok := s.take(key); ok {
			return v, true
		}
	}
	s.logger.Debug("no correlation value within timeout",
		zap.String("bucket", s.bucketName), zap.String("key", key), zap.Duration("timeout", timeout))
	var zero T
	return zero, false
}

func (s *CorrelationStore[T]) take(key string) (T, bool) {
	var zero T
	ctx, cancel := context.WithTimeout(s.ctx, defaultOperationTimeout)
	defer cancel()

	k := kvKey(key)
	entry, err := s.kv.Get(ctx, k)
	if err != nil {
		if !errors.Is(err, jetstream.ErrKeyNotFound) {
			s.logger.Ctx(ctx).Debug("correlation store get failed", zap.String("key", key), zap.Error(err))
		}
		return zero, false
	}

	if err := s.kv.Delete(ctx, k, jetstream.LastRevision(entry.Revision())); err != nil {
		if !isJSWrongLastSequence(err) {
			s.logger.Ctx(ctx).Debug("correlation store consume failed", zap.String("key", key), zap.Error(err))
		}
		// Replaced or consumed concurrently, look again on the next poll.
		return zero, false
	}

	v, err := s.codec.Decode(entry.Value())
	if err != nil {
		s.logger.Ctx(ctx).Error("cannot decode correlation value", zap.String("key", key), zap.Error(err))
		return zero, false
	}
	return v, true
}

// Pending lists the correlation keys with a stored, unconsumed value.
func (s *CorrelationStore[T]) Pending(ctx context.Context) ([]string, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lister.Stop() }()

	var keys []string
	for k := range lister.Keys() {
		key, err := correlationKeyFromKV(k)
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Destroy deletes the bucket. Other processes using it lose their values.
func (s *CorrelationStore[T]) Destroy(ctx context.Context) error {
	s.cancel()
	if err := s.js.DeleteKeyValue(ctx, s.bucketName); err != nil && !errors.Is(err, jetstream.ErrBucketNotFound) {
		return err
	}
	return nil
}

func (s *CorrelationStore[T]) Close() {
	s.cancel()
}

var (
	_ exchange.CorrelationManager[*exchange.Message] = (*MessageCorrelationStore)(nil)
	_ exchange.CorrelationManager[string]            = (*AddressCorrelationStore)(nil)
)
