package realtime

import "errors"

var (
	// ErrDecode wraps an inbound frame that could not be decoded. Such frames are dropped.
	ErrDecode = errors.New("realtime: decode failed")

	// ErrHeartbeatTimeout is the close cause when no pong arrived in time.
	ErrHeartbeatTimeout = errors.New("realtime: heartbeat timeout")

	// ErrReconnectExhausted is delivered to OnReconnectFailed once retries run out.
	ErrReconnectExhausted = errors.New("realtime: reconnect attempts exhausted")

	// ErrConfig is returned for invalid channel options.
	ErrConfig = errors.New("realtime: invalid config")
)
