package nats_exchange_flow

// MessageCorrelator derives correlation keys. Keys use the selector language,
// so a key can also be used to pick the reply out of a Queue.
type MessageCorrelator interface {
	CorrelationKey(msg *Message) string
	CorrelationKeyForID(id string) string
	CorrelationKeyName(consumerName string) string
}

// DefaultMessageCorrelator correlates on the message ID.
type DefaultMessageCorrelator struct{}

func (DefaultMessageCorrelator) CorrelationKey(msg *Message) string {
	return IDHeader + " = '" + msg.ID() + "'"
}

func (DefaultMessageCorrelator) CorrelationKeyForID(id string) string {
	return IDHeader + " = '" + id + "'"
}

func (DefaultMessageCorrelator) CorrelationKeyName(consumerName string) string {
	return CorrelationKeyHeader + "_" + consumerName
}

var _ MessageCorrelator = DefaultMessageCorrelator{}

// HeaderCorrelator correlates on a business header and falls back to the
// message ID when the header is missing.
type HeaderCorrelator struct {
	Header string
}

func (c HeaderCorrelator) CorrelationKey(msg *Message) string {
	v, ok := msg.Header(c.Header)
	if !ok {
		return DefaultMessageCorrelator{}.CorrelationKey(msg)
	}
	return c.Header + " = '" + headerString(v) + "'"
}

func (c HeaderCorrelator) CorrelationKeyForID(id string) string {
	return DefaultMessageCorrelator{}.CorrelationKeyForID(id)
}

func (c HeaderCorrelator) CorrelationKeyName(consumerName string) string {
	return DefaultMessageCorrelator{}.CorrelationKeyName(consumerName)
}

var _ MessageCorrelator = HeaderCorrelator{}
