package nodelock

import (
	"testing"
	"time"
)

func TestManager_AcquireAndRelease(t *testing.T) {
	m := NewManager(time.Minute)

	lease, err := m.Acquire("node-1")
	if err != nil {
		t.Fatalf("expected acquire to succeed, got %v", err)
	}

	if _, err := m.Acquire("node-1"); err != ErrHeld {
		t.Errorf("expected ErrHeld on second acquire, got %v", err)
	}

	if _, err := m.Acquire("node-2"); err != nil {
		t.Errorf("expected acquire on different node to succeed, got %v", err)
	}

	m.Release(lease)

	if _, err := m.Acquire("node-1"); err != nil {
		t.Errorf("expected acquire after release to succeed, got %v", err)
	}
}

func TestManager_ExpiredLeaseTakeover(t *testing.T) {
	m := NewManager(10 * time.Millisecond)

	stale, err := m.Acquire("node-1")
	if err != nil {
		t.Fatalf("expected acquire to succeed, got %v", err)
	}

	time.Sleep(25 * time.Millisecond)

	fresh, err := m.Acquire("node-1")
	if err != nil {
		t.Fatalf("expected takeover of expired lease, got %v", err)
	}

	if m.Touch(stale) {
		t.Error("stale lease should not refresh after takeover")
	}

	m.Release(stale)
	if !m.Held("node-1") {
		t.Error("stale release should not evict the new lease")
	}

	if !m.Touch(fresh) {
		t.Error("fresh lease should refresh")
	}
}

func TestManager_TouchExtends(t *testing.T) {
	m := NewManager(40 * time.Millisecond)

	lease, err := m.Acquire("node-1")
	if err != nil {
		t.Fatalf("expected acquire to succeed, got %v", err)
	}

	for i := 0; i < 3; i++ {
		time.Sleep(20 * time.Millisecond)
		if !m.Touch(lease) {
			t.Fatalf("touch %d failed before TTL elapsed", i)
		}
	}

	if _, err := m.Acquire("node-1"); err != ErrHeld {
		t.Errorf("expected touched lease to still be held, got %v", err)
	}
}
