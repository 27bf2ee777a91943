package config

// DefaultServerURL is the room server endpoint used when none is configured.
const DefaultServerURL = "ws://127.0.0.1:7070/ws"

// DefaultListenAddr is the default listen address for the reference server.
const DefaultListenAddr = "127.0.0.1:7070"

// DefaultLogLevel is used when log_level is unset.
const DefaultLogLevel = "info"

// Timing defaults in milliseconds.
const (
	DefaultConnectTimeoutMs   = 20000
	DefaultReconnectAttempts  = 5
	DefaultReconnectDelayMs   = 1000
	DefaultJoinDelayMs        = 500
	DefaultSettleDelayMs      = 1000
	DefaultDebounceMs         = 300
	DefaultEchoGuardMs        = 100
	DefaultResizeDebounceMs   = 100
	DefaultAuthRedirectMs     = 2000
	DefaultJoinFailRedirectMs = 3000
)
