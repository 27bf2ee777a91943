package auth

import (
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// ErrRateLimited is returned when too many join attempts are made.
var ErrRateLimited = errors.New("too many join attempts, try again later")

// AttemptConfig holds configuration for an AttemptLimiter.
type AttemptConfig struct {
	// MaxPerMinute is how many attempts one key may make per minute.
	// Default: 10.
	MaxPerMinute int

	// TimeNow returns the current time. Useful for testing.
	// Default: time.Now.
	TimeNow func() time.Time
}

// AttemptLimiter counts password attempts per key (room code, remote
// address) over a sliding one-minute window, so room passwords cannot be
// brute forced over one connection.
type AttemptLimiter struct {
	mu     sync.Mutex
	config AttemptConfig

	// attempts maps key -> unix second -> count.
	attempts map[string]map[int64]int

	logger *log.Logger
}

// NewAttemptLimiter creates a limiter with the given config.
func NewAttemptLimiter(config AttemptConfig) *AttemptLimiter {
	if config.MaxPerMinute == 0 {
		config.MaxPerMinute = 10
	}
	if config.TimeNow == nil {
		config.TimeNow = time.Now
	}
	return &AttemptLimiter{
		config:   config,
		attempts: make(map[string]map[int64]int),
		logger:   log.WithPrefix("auth"),
	}
}

// Allow records an attempt for key, or returns ErrRateLimited if the key
// already used its budget for the last minute. Rejected attempts are not
// counted.
func (l *AttemptLimiter) Allow(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.config.TimeNow()
	cutoff := now.Add(-time.Minute).Unix()

	window := l.attempts[key]
	var count int
	for ts, c := range window {
		if ts <= cutoff {
			delete(window, ts)
			continue
		}
		count += c
	}

	if count >= l.config.MaxPerMinute {
		l.logger.Warn("rate limit exceeded", "key", key, "attempts", count)
		return ErrRateLimited
	}

	if window == nil {
		window = make(map[int64]int)
		l.attempts[key] = window
	}
	window[now.Unix()]++
	return nil
}

// Reset forgets the attempts of key, e.g. after a successful join.
func (l *AttemptLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, key)
}
