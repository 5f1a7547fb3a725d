package nats_exchange_flow

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/pnvasko/nats-exchange-flow/flow"
	"github.com/rs/xid"
)

const (
	defaultRetentionPolicy = jetstream.LimitsPolicy
	defaultDiscardPolicy   = jetstream.DiscardOld
	defaultStreamStorage   = jetstream.MemoryStorage
	defaultDuplicateWindow = 2 * time.Minute
	defaultCleanupTTL      = time.Hour

	defaultAckWait       = 30 * time.Second
	defaultMaxDeliver    = 5
	defaultDeliverPolicy = jetstream.DeliverNewPolicy
)

type JetStreamOption func(*JetStreamConfig) error
type JetStreamOptions []JetStreamOption

func WithStorageType(st jetstream.StorageType) JetStreamOption {
	return func(cfg *JetStreamConfig) error {
		cfg.storage = st
		return nil
	}
}

func WithRetentionPolicy(p jetstream.RetentionPolicy) JetStreamOption {
	return func(cfg *JetStreamConfig) error {
		cfg.retention = p
		return nil
	}
}

func WithDiscardPolicy(p jetstream.DiscardPolicy) JetStreamOption {
	return func(cfg *JetStreamConfig) error {
		cfg.discard = p
		return nil
	}
}

func WithCleanupTtl(ttl time.Duration) JetStreamOption {
	return func(cfg *JetStreamConfig) error {
		cfg.cleanupTTL = ttl
		return nil
	}
}

func WithDuplicateWindow(td time.Duration) JetStreamOption {
	return func(cfg *JetStreamConfig) error {
		cfg.duplicateWindow = td
		return nil
	}
}

func WithReplicas(n int) JetStreamOption {
	return func(cfg *JetStreamConfig) error {
		cfg.replicas = n
		return nil
	}
}

func WithDurableName(name string) JetStreamOption {
	return func(cfg *JetStreamConfig) error {
		cfg.durableName = name
		return nil
	}
}

func WithConsumerName(name string) JetStreamOption {
	return func(cfg *JetStreamConfig) error {
		cfg.consumerName = name
		return nil
	}
}

func WithFilterSubjects(subjects ...string) JetStreamOption {
	return func(cfg *JetStreamConfig) error {
		cfg.filterSubjects = subjects
		return nil
	}
}

func WithDeliverPolicy(p jetstream.DeliverPolicy) JetStreamOption {
	return func(cfg *JetStreamConfig) error {
		cfg.deliverPolicy = p
		return nil
	}
}

func WithAckWait(td time.Duration) JetStreamOption {
	return func(cfg *JetStreamConfig) error {
		cfg.ackWait = td
		return nil
	}
}

func WithMaxDeliver(n int) JetStreamOption {
	return func(cfg *JetStreamConfig) error {
		cfg.maxDeliver = n
		return nil
	}
}

// WithBackOff sets the redelivery schedule in milliseconds.
func WithBackOff(nn []int) JetStreamOption {
	return func(cfg *JetStreamConfig) error {
		var boff []time.Duration
		for _, n := range nn {
			boff = append(boff, time.Duration(n)*time.Millisecond)
		}
		cfg.backOff = boff
		return nil
	}
}

func WithPullOptions(opts ...jetstream.PullConsumeOpt) JetStreamOption {
	return func(cfg *JetStreamConfig) error {
		cfg.pullOptions = append(cfg.pullOptions, opts...)
		return nil
	}
}

func WithWorkerPool(poolSize, poolSizePerPool int) JetStreamOption {
	return func(cfg *JetStreamConfig) error {
		if poolSize <= 0 || poolSizePerPool <= 0 {
			return fmt.Errorf("worker pool sizes must be positive")
		}
		cfg.poolSize = poolSize
		cfg.poolSizePerPool = poolSizePerPool
		return nil
	}
}

// JetStreamConfig describes the stream behind a JetStream endpoint and the
// pull consumer reading from it.
type JetStreamConfig struct {
	streamName      string
	subjects        []string
	storage         jetstream.StorageType
	retention       jetstream.RetentionPolicy
	discard         jetstream.DiscardPolicy
	cleanupTTL      time.Duration
	duplicateWindow time.Duration
	replicas        int

	consumerName   string
	durableName    string
	filterSubjects []string
	deliverPolicy  jetstream.DeliverPolicy
	ackWait        time.Duration
	maxDeliver     int
	backOff        []time.Duration
	pullOptions    []jetstream.PullConsumeOpt

	poolSize        int
	poolSizePerPool int
}

func NewJetStreamConfig(streamName string, subjects []string, opts ...JetStreamOption) (*JetStreamConfig, error) {
	if streamName == "" {
		return nil, fmt.Errorf("stream name is required")
	}
	if len(subjects) == 0 {
		return nil, fmt.Errorf("no subjects specified")
	}

	cfg := &JetStreamConfig{
		streamName:      streamName,
		subjects:        subjects,
		storage:         defaultStreamStorage,
		retention:       defaultRetentionPolicy,
		discard:         defaultDiscardPolicy,
		cleanupTTL:      defaultCleanupTTL,
		duplicateWindow: defaultDuplicateWindow,
		replicas:        1,
		deliverPolicy:   defaultDeliverPolicy,
		ackWait:         defaultAckWait,
		maxDeliver:      defaultMaxDeliver,
		poolSize:        flow.DefaultPoolSize,
		poolSizePerPool: flow.DefaultPoolSizePerPool,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.consumerName == "" && cfg.durableName != "" {
		cfg.consumerName = cfg.durableName
	}
	if cfg.consumerName == "" {
		cfg.consumerName = fmt.Sprintf("ephemeral_consumers_%s", xid.New())
	}
	if cfg.cleanupTTL != 0 && cfg.cleanupTTL <= 100*time.Millisecond {
		return nil, fmt.Errorf("cleanup TTL must be larger than 100ms")
	}
	if cfg.ackWait <= 0 {
		return nil, fmt.Errorf("ack wait must be positive")
	}

	return cfg, nil
}

func (cfg *JetStreamConfig) StreamName() string {
	return cfg.streamName
}

func (cfg *JetStreamConfig) Subjects() []string {
	return cfg.subjects
}

func (cfg *JetStreamConfig) ConsumerName() string {
	return cfg.consumerName
}

func (cfg *JetStreamConfig) DurableName() string {
	return cfg.durableName
}

func (cfg *JetStreamConfig) streamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:       cfg.streamName,
		Subjects:   cfg.subjects,
		MaxAge:     cfg.cleanupTTL,
		Discard:    cfg.discard,
		Retention:  cfg.retention,
		Storage:    cfg.storage,
		Replicas:   cfg.replicas,
		Duplicates: cfg.duplicateWindow,
	}
}

func (cfg *JetStreamConfig) consumerConfig() jetstream.ConsumerConfig {
	consumerConfig := jetstream.ConsumerConfig{
		Name:           cfg.consumerName,
		Durable:        cfg.durableName,
		DeliverPolicy:  cfg.deliverPolicy,
		AckPolicy:      jetstream.AckExplicitPolicy,
		AckWait:        cfg.ackWait,
		MaxDeliver:     cfg.maxDeliver,
		FilterSubjects: cfg.filterSubjects,
	}
	if len(cfg.backOff) > 0 {
		consumerConfig.BackOff = cfg.backOff
	}
	return consumerConfig
}
