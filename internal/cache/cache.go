package cache

import (
	"context"
	"errors"
	"time"

	"github.com/mostafaomar7/tadawi-checkout/internal/domain"
)

// SnapshotCache keeps the last known cart of a patient so a cold store can be filled
// when the cart backend is unreachable.
type SnapshotCache interface {
	Get(ctx context.Context, ownerID string) ([]domain.CartLine, error)
	Set(ctx context.Context, ownerID string, lines []domain.CartLine) error
	Delete(ctx context.Context, ownerID string) error
}

// CaptureLock guards a provider order against a second capture.
type CaptureLock interface {
	// TryLock returns false when the key was already taken.
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

var ErrCacheMiss = errors.New("cache miss")
