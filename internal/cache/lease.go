package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Leaser hands out expiring exclusive leases on keys.
type Leaser struct {
	client Client
	ttl    time.Duration
}

// Lease is a held lease. Release it once the guarded work is done.
type Lease struct {
	client Client
	key    string
	token  []byte
}

// NewLeaser creates a Leaser whose leases expire after ttl if never released.
func NewLeaser(client Client, ttl time.Duration) *Leaser {
	return &Leaser{client: client, ttl: ttl}
}

// TryAcquire attempts to take the lease on key. It returns nil and no error
// when someone else holds it.
func (l *Leaser) TryAcquire(ctx context.Context, key string) (*Lease, error) {
	token := []byte(uuid.NewString())
	ok, err := l.client.SetNX(ctx, leaseKey(key), token, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}
	return &Lease{client: l.client, key: leaseKey(key), token: token}, nil
}

// Held reports whether any holder currently owns the lease on key.
func (l *Leaser) Held(ctx context.Context, key string) (bool, error) {
	_, err := l.client.Get(ctx, leaseKey(key))
	if errors.Is(err, ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check lease %s: %w", key, err)
	}
	return true, nil
}

// Release gives the lease up. Releasing a lease that already expired
// and was taken by another holder leaves the new holder untouched.
func (l *Lease) Release(ctx context.Context) error {
	if _, err := l.client.DeleteIfValue(ctx, l.key, l.token); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

func leaseKey(key string) string {
	return CacheKey("lease", key)
}
