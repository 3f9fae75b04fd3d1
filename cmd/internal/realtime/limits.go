package realtime

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read. Clients only ever send hello.
	maxFrameBytes = 16 << 10

	// Max access token length accepted in hello.
	maxTokenBytes = 4 << 10
)

const (
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// A client must say hello within this window after the upgrade.
	helloTimeout = 10 * time.Second

	// Per-connection rate limits (inbound frames per window).
	rateLimitEvents = 30
	rateLimitWindow = 10 * time.Second
)
