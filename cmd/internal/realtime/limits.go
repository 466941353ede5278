package realtime

import "time"

// Transport limits.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Outbound frames buffered per connection before sends are dropped.
	sendQueueSize = 64
)

const (
	// Heartbeat defaults.
	heartbeatInterval = 30 * time.Second
	pongTimeout       = 5 * time.Second

	// Reconnect defaults.
	reconnectRetries = 3
	reconnectDelay   = 1 * time.Second

	writeTimeout = 5 * time.Second

	// Window for the optional get_statuses limit.
	rateLimitWindow = 10 * time.Second
)
