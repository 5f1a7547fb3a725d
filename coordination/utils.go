package coordination

import (
	"encoding/base64"
	"errors"

	"github.com/nats-io/nats.go/jetstream"
)

func isJSAlreadyExistsError(err error) bool {
	if errors.Is(err, jetstream.ErrBucketExists) {
		return true
	}
	var apiErr *jetstream.APIError

	ok := errors.As(err, &apiErr)
	if !ok {
		return false
	}
	return apiErr.ErrorCode == jetstream.JSErrCodeStreamNameInUse
}

func isJSWrongLastSequence(err error) bool {
	var apiErr *jetstream.APIError

	ok := errors.As(err, &apiErr)
	if !ok {
		return false
	}
	return apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

// kvKey maps a correlation key, which may contain spaces and quotes, to the
// KV key alphabet.
func kvKey(correlationKey string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(correlationKey))
}

func correlationKeyFromKV(key string) (string, error) {
	data, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
