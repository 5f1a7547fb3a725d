package coordination

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

type storeOptionScopable interface {
	setScope(string)
	setBucketPrefix(string)
	setBucketName(string)
	setStorage(jetstream.StorageType)
	setRetryWait(time.Duration)
	setCleanupTTL(time.Duration)
	setMaxRetryAttempts(int)
}

type StoreOption[T any] func(T) error

func WithScope[T interface{ setScope(string) }](scope string) StoreOption[T] {
	return func(s T) error {
		if scope == "" {
			return fmt.Errorf("scope cannot be empty")
		}
		s.setScope(scope)
		return nil
	}
}

func WithBucketPrefix[T interface{ setBucketPrefix(string) }](prefix string) StoreOption[T] {
	return func(s T) error {
		s.setBucketPrefix(prefix)
		return nil
	}
}

func WithBucketName[T interface{ setBucketName(string) }](bucketName string) StoreOption[T] {
	return func(s T) error {
		s.setBucketName(bucketName)
		return nil
	}
}

func WithStorage[T interface{ setStorage(jetstream.StorageType) }](st jetstream.StorageType) StoreOption[T] {
	return func(s T) error {
		s.setStorage(st)
		return nil
	}
}

func WithRetryWait[T interface{ setRetryWait(time.Duration) }](td time.Duration) StoreOption[T] {
	return func(s T) error {
		if td <= 0 {
			return fmt.Errorf("retry wait must be positive")
		}
		s.setRetryWait(td)
		return nil
	}
}

func WithCleanupTTL[T interface{ setCleanupTTL(time.Duration) }](ttl time.Duration) StoreOption[T] {
	return func(s T) error {
		s.setCleanupTTL(ttl)
		return nil
	}
}

func WithMaxRetryAttempts[T interface{ setMaxRetryAttempts(int) }](n int) StoreOption[T] {
	return func(s T) error {
		if n <= 0 {
			return fmt.Errorf("max retry attempts must be positive")
		}
		s.setMaxRetryAttempts(n)
		return nil
	}
}
