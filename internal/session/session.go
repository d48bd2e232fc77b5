// Package session holds per-session key/value state such as in-progress level tests.
package session

import (
	"context"
	"fmt"
	"time"
)

// StateStore is a key/value store for per-session state.
type StateStore interface {
	// LoadState returns the value under key; ok is false when it is missing or expired.
	LoadState(ctx context.Context, key string) (value []byte, ok bool, err error)
	SaveState(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeleteState(ctx context.Context, key string) error
}

// Backend names a StateStore implementation.
type Backend string

const (
	BackendSQL    Backend = "sql"
	BackendRedis  Backend = "redis"
	BackendMemory Backend = "memory"
)

// ParseBackend validates a backend name.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(s); b {
	case BackendSQL, BackendRedis, BackendMemory:
		return b, nil
	case "":
		return BackendSQL, nil
	default:
		return "", fmt.Errorf("unknown state backend %q (want sql, redis or memory)", s)
	}
}
