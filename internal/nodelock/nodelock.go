package nodelock

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrHeld is returned when a live lease already exists for the node.
// Callers should surface it as a retryable condition, not a failure.
var ErrHeld = errors.New("node lease already held")

type Lease struct {
	NodeID     string
	Token      string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// Manager hands out per-node leases so at most one sync session runs
// against a node at a time. Leases carry a TTL so a dead holder cannot
// block a node forever; an expired lease is silently taken over.
type Manager struct {
	mu     sync.Mutex
	ttl    time.Duration
	leases map[string]*Lease
}

func NewManager(ttl time.Duration) *Manager {
	return &Manager{
		ttl:    ttl,
		leases: make(map[string]*Lease),
	}
}

func (m *Manager) Acquire(nodeID string) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if existing, ok := m.leases[nodeID]; ok && now.Before(existing.ExpiresAt) {
		return nil, ErrHeld
	}

	lease := &Lease{
		NodeID:     nodeID,
		Token:      uuid.New().String(),
		AcquiredAt: now,
		ExpiresAt:  now.Add(m.ttl),
	}
	m.leases[nodeID] = lease

	return lease, nil
}

// Touch extends the lease while its holder is still working. Returns
// false when the lease already expired and was taken over.
func (m *Manager) Touch(lease *Lease) bool {
	if lease == nil {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.leases[lease.NodeID]
	if !ok || current.Token != lease.Token {
		return false
	}
	current.ExpiresAt = time.Now().Add(m.ttl)

	return true
}

// Release only removes the lease if the caller still owns it; a stale
// holder releasing after takeover must not evict the new owner.
func (m *Manager) Release(lease *Lease) {
	if lease == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.leases[lease.NodeID]
	if ok && current.Token == lease.Token {
		delete(m.leases, lease.NodeID)
	}
}

// Held reports whether a live lease exists for the node.
func (m *Manager) Held(nodeID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	lease, ok := m.leases[nodeID]
	return ok && time.Now().Before(lease.ExpiresAt)
}
