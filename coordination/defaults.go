package coordination

import "time"

const (
	defaultRetryWait        = 50 * time.Millisecond
	defaultMaxRetryAttempts = 10
	defaultOperationTimeout = 2 * time.Second

	defaultCorrelationBucketPrefix = "correlation"
	defaultCorrelationScope        = "default"
	// Unconsumed values expire after this long.
	defaultCorrelationTTL = 10 * time.Minute
)
