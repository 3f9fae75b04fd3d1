package realtime

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultSendQueueSize = 32
	minSendQueueSize     = 8

	defaultWriteTimeout = 5 * time.Second
	defaultReadIdle     = 2 * time.Minute

	// Origin is required by default and only localhost is allowed.
	defaultOriginRequired = true
	defaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// Config tunes the session stream. ConfigFromEnv fills it from HUB_WS_*.
type Config struct {
	// DevInsecure disables the library's own origin verification.
	DevInsecure    bool
	OriginRequired bool
	AllowedOrigins []string

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	HelloTimeout    time.Duration
	SendQueueSize   int

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	RateEvents int
	RateWindow time.Duration
}

// DefaultConfig returns the secure defaults.
func DefaultConfig() Config {
	return Config{
		OriginRequired:   defaultOriginRequired,
		AllowedOrigins:   splitCSV(defaultAllowedOrigins),
		WriteTimeout:     defaultWriteTimeout,
		ReadIdleTimeout:  defaultReadIdle,
		HelloTimeout:     helloTimeout,
		SendQueueSize:    defaultSendQueueSize,
		HeartbeatEvery:   heartbeatInterval,
		HeartbeatTimeout: heartbeatTimeout,
		RateEvents:       rateLimitEvents,
		RateWindow:       rateLimitWindow,
	}
}

func ConfigFromEnv() Config {
	c := DefaultConfig()
	c.DevInsecure = envBoolWS("HUB_WS_DEV_INSECURE", false)
	c.OriginRequired = envBoolWS("HUB_WS_ORIGIN_REQUIRED", c.OriginRequired)
	if raw := strings.TrimSpace(os.Getenv("HUB_WS_ALLOWED_ORIGINS")); raw != "" {
		c.AllowedOrigins = splitCSV(raw)
	}
	c.WriteTimeout = envDurationWS("HUB_WS_WRITE_TIMEOUT", c.WriteTimeout)
	c.ReadIdleTimeout = envDurationWS("HUB_WS_READ_IDLE_TIMEOUT", c.ReadIdleTimeout)
	c.HelloTimeout = envDurationWS("HUB_WS_HELLO_TIMEOUT", c.HelloTimeout)
	c.SendQueueSize = envIntWS("HUB_WS_SEND_QUEUE", c.SendQueueSize)
	c.HeartbeatEvery = envDurationWS("HUB_WS_HEARTBEAT_INTERVAL", c.HeartbeatEvery)
	c.HeartbeatTimeout = envDurationWS("HUB_WS_HEARTBEAT_TIMEOUT", c.HeartbeatTimeout)
	c.RateEvents = envIntWS("HUB_WS_RATE_EVENTS", c.RateEvents)
	c.RateWindow = envDurationWS("HUB_WS_RATE_WINDOW", c.RateWindow)
	return c.normalized()
}

// normalized replaces unusable values with defaults.
func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = d.ReadIdleTimeout
	}
	if c.HelloTimeout <= 0 {
		c.HelloTimeout = d.HelloTimeout
	}
	if c.SendQueueSize < minSendQueueSize {
		c.SendQueueSize = minSendQueueSize
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = d.HeartbeatEvery
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	return c
}

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
