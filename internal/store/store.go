// Package store defines the state-store contract the ledgers and strategies
// persist through, plus the canonical key scheme. Implementations live in
// subpackages (Redis for production, memstore for tests and replay).
package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable indicates the backing store cannot be reached. It is fatal
// for the operation in progress; there is no local fallback.
var ErrUnavailable = errors.New("state store unavailable")

// Store is the get/set contract over the external key-value store. Values are
// opaque JSON blobs keyed by ASCII string paths.
type Store interface {
	// Get returns the value at key, or (nil, nil) if the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes value at key. A ttl of 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key, reporting whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// Close releases underlying resources.
	Close() error
}

// Canonical key scheme used by this core.

func OrderKey(id string) string { return "order:" + id }

func TradeKey(id string) string { return "trade:" + id }

func PositionKey(id string) string { return "position:" + id }

func StrategyStateKey(id string) string { return "strategy:" + id + ":state" }

func MarketLatestKey(symbol string) string { return "market:" + symbol + ":latest" }
