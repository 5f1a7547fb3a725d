package coordination

import (
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

type baseKvStore struct {
	scope            string
	bucketPrefix     string
	bucketName       string
	storage          jetstream.StorageType
	retryWait        time.Duration
	cleanupTTL       time.Duration
	maxRetryAttempts int
}

func (s *baseKvStore) setScope(scope string) {
	s.scope = scope
}

func (s *baseKvStore) setBucketPrefix(bucketPrefix string) {
	s.bucketPrefix = bucketPrefix
}

func (s *baseKvStore) setBucketName(bucketName string) {
	s.bucketName = bucketName
}

func (s *baseKvStore) setStorage(st jetstream.StorageType) {
	s.storage = st
}

func (s *baseKvStore) setCleanupTTL(ttl time.Duration) {
	s.cleanupTTL = ttl
}

func (s *baseKvStore) setRetryWait(td time.Duration) {
	s.retryWait = td
}

func (s *baseKvStore) setMaxRetryAttempts(n int) {
	s.maxRetryAttempts = n
}

// resolveBucketName fills in prefix_scope when no explicit bucket was given.
func (s *baseKvStore) resolveBucketName(defaultPrefix string) string {
	if s.bucketName != "" {
		return s.bucketName
	}
	prefix := s.bucketPrefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	s.bucketName = prefix + "_" + s.scope
	return s.bucketName
}

var _ storeOptionScopable = (*baseKvStore)(nil)
