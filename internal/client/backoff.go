package client

import "time"

// DefaultMaxRetries bounds reconnect attempts after consecutive transport drops.
const DefaultMaxRetries = 3

// Backoff returns the delay before reconnect attempt number attempt (0-based):
// 1s, 2s, 4s and so on.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	return time.Duration(1<<uint(attempt)) * time.Second
}
