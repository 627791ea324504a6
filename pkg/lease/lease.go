package lease

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/paddock/pkg/types"
	"github.com/google/uuid"
)

type ownerKey struct{}

// WithOwner returns a context whose lease acquisitions belong to owner.
// Nested acquisitions by the same owner are reentrant.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// OwnerFrom returns the lease owner carried by ctx
func OwnerFrom(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(ownerKey{}).(string)
	return owner, ok && owner != ""
}

// Lease is a held per-workload lock
type Lease struct {
	Key        string
	Owner      string
	Depth      int
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// Manager hands out per-key leases with bounded acquisition
type Manager struct {
	leases  map[string]*Lease
	mu      sync.Mutex
	ttl     time.Duration
	retries int
	backoff time.Duration
}

// NewManager creates a lease manager. Acquire tries retries times, waiting
// backoff between attempts, and leases expire after ttl.
func NewManager(ttl time.Duration, retries int, backoff time.Duration) *Manager {
	if retries < 1 {
		retries = 1
	}
	return &Manager{
		leases:  make(map[string]*Lease),
		ttl:     ttl,
		retries: retries,
		backoff: backoff,
	}
}

// Acquire takes the lease for key and returns its release function. It fails
// fast with types.ErrLockContention once the retry bound is reached.
func (m *Manager) Acquire(ctx context.Context, key string) (func(), error) {
	owner, ok := OwnerFrom(ctx)
	if !ok {
		owner = uuid.New().String()
	}

	for attempt := 1; ; attempt++ {
		if m.tryAcquire(key, owner) {
			return func() { m.release(key, owner) }, nil
		}
		if attempt >= m.retries {
			holder, _ := m.Holder(key)
			return nil, fmt.Errorf("lease %s held by %s after %d attempts: %w", key, holder, attempt, types.ErrLockContention)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lease %s: %w", key, ctx.Err())
		case <-time.After(m.backoff):
		}
	}
}

func (m *Manager) tryAcquire(key, owner string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	l, exists := m.leases[key]
	if exists && l.Owner == owner {
		l.Depth++
		l.ExpiresAt = now.Add(m.ttl)
		return true
	}
	if exists && now.Before(l.ExpiresAt) {
		return false
	}

	m.leases[key] = &Lease{
		Key:        key,
		Owner:      owner,
		Depth:      1,
		AcquiredAt: now,
		ExpiresAt:  now.Add(m.ttl),
	}
	return true
}

func (m *Manager) release(key, owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, exists := m.leases[key]
	if !exists || l.Owner != owner {
		return
	}
	l.Depth--
	if l.Depth <= 0 {
		delete(m.leases, key)
	}
}

// Holder returns the current owner of key, if any
func (m *Manager) Holder(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, exists := m.leases[key]
	if !exists || time.Now().After(l.ExpiresAt) {
		return "", false
	}
	return l.Owner, true
}

// CleanupExpired removes expired leases and returns how many were removed
func (m *Manager) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, l := range m.leases {
		if now.After(l.ExpiresAt) {
			delete(m.leases, key)
			removed++
		}
	}
	return removed
}
