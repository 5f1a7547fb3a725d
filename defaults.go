package nats_exchange_flow

import "time"

// Reserved and framework message headers.
const (
	IDHeader             = "_exchange_message_id"
	TimestampHeader      = "_exchange_message_timestamp"
	NameHeader           = "_exchange_message_name"
	TypeHeader           = "_exchange_message_type"
	HeaderDataHeader     = "_exchange_header_data"
	ReplyAddressHeader   = "_exchange_reply_address"
	CorrelationKeyHeader = "_exchange_correlator"
	SubjectHeader        = "_exchange_subject"

	StreamKey           = "_exchange_stream"
	StreamSequenceKey   = "_exchange_stream_sequence"
	NumDeliveredKey     = "_exchange_num_delivered"
	HTTPMethodHeader    = "_http_method"
	HTTPRequestURI      = "_http_request_uri"
	HTTPRequestPath     = "_http_request_path"
	HTTPStatusCode      = "_http_status_code"
	HTTPPathVarPrefix   = "_http_path_var_"
	traceParentHeader   = "traceparent"
	traceStateHeader    = "tracestate"
	busStatusHeader     = "Status"
	busNoRespondersCode = "503"
)

const (
	DefaultTimeout         = 5 * time.Second
	DefaultPollingInterval = 500 * time.Millisecond
	DefaultRetryBackoff    = time.Second
)
