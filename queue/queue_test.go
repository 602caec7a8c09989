package queue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/VadimVDM/VisAPI-sub006/job"
)

// ---------------------------------------------------------------------------
// Lane limits
// ---------------------------------------------------------------------------

func TestNewManager_Empty(t *testing.T) {
	m := NewManager()
	if !m.Acquire(job.LaneDefault, "") {
		t.Fatal("expected Acquire to succeed for unconfigured lane")
	}
	m.Release(job.LaneDefault, "")
}

func TestManager_MaxConcurrency(t *testing.T) {
	m := NewManager(Config{Lane: job.LaneBulk, MaxConcurrency: 2})

	if !m.Acquire(job.LaneBulk, "") || !m.Acquire(job.LaneBulk, "") {
		t.Fatal("first two Acquires should succeed")
	}
	if m.Acquire(job.LaneBulk, "") {
		t.Fatal("third Acquire should fail (max concurrency 2)")
	}

	m.Release(job.LaneBulk, "")
	if !m.Acquire(job.LaneBulk, "") {
		t.Fatal("Acquire should succeed after Release")
	}
	if m.ActiveCount(job.LaneBulk) != 2 {
		t.Fatalf("expected 2 active, got %d", m.ActiveCount(job.LaneBulk))
	}
}

func TestManager_LanesAreIndependent(t *testing.T) {
	m := NewManager(
		Config{Lane: job.LaneCritical, MaxConcurrency: 1},
		Config{Lane: job.LaneBulk, MaxConcurrency: 1},
	)
	if !m.Acquire(job.LaneBulk, "") {
		t.Fatal("bulk Acquire should succeed")
	}
	if !m.Acquire(job.LaneCritical, "") {
		t.Fatal("a full bulk lane must not block critical")
	}
}

func TestManager_RateLimit_Throttles(t *testing.T) {
	m := NewManager(Config{Lane: job.LaneBulk, RateLimit: 1.0, RateBurst: 1})

	if !m.Acquire(job.LaneBulk, "") {
		t.Fatal("first Acquire should succeed (within burst)")
	}
	m.Release(job.LaneBulk, "")

	if m.Acquire(job.LaneBulk, "") {
		t.Fatal("second Acquire should fail (rate limited)")
	}

	time.Sleep(1100 * time.Millisecond)
	if !m.Acquire(job.LaneBulk, "") {
		t.Fatal("Acquire should succeed after token refill")
	}
	m.Release(job.LaneBulk, "")
}

func TestManager_RejectedByConcurrencyKeepsToken(t *testing.T) {
	m := NewManager(Config{Lane: job.LaneDefault, MaxConcurrency: 1, RateLimit: 1, RateBurst: 2})

	if !m.Acquire(job.LaneDefault, "") {
		t.Fatal("first Acquire should succeed")
	}
	for range 5 {
		if m.Acquire(job.LaneDefault, "") {
			t.Fatal("Acquire should fail while the lane is full")
		}
	}
	m.Release(job.LaneDefault, "")
	if !m.Acquire(job.LaneDefault, "") {
		t.Fatal("second burst token should still be available")
	}
}

// ---------------------------------------------------------------------------
// Keys
// ---------------------------------------------------------------------------

func TestManager_KeyIsExclusiveAcrossLanes(t *testing.T) {
	m := NewManager()
	key := "contact-sync:IL250824IN15"

	if !m.Acquire(job.LaneCritical, key) {
		t.Fatal("first Acquire should succeed")
	}
	if m.Acquire(job.LaneBulk, key) {
		t.Fatal("same key must not run twice, even in another lane")
	}
	if !m.Acquire(job.LaneBulk, "contact-sync:IL250824IN16") {
		t.Fatal("different key should not be blocked")
	}
	if !m.KeyBusy(key) {
		t.Fatal("expected key to be busy")
	}

	m.Release(job.LaneCritical, key)
	if m.KeyBusy(key) {
		t.Fatal("expected key to be free after Release")
	}
	if !m.Acquire(job.LaneBulk, key) {
		t.Fatal("Acquire should succeed after Release")
	}
}

func TestManager_KeyRejectionDoesNotTakeLaneSlot(t *testing.T) {
	m := NewManager(Config{Lane: job.LaneDefault, MaxConcurrency: 2})
	m.Acquire(job.LaneDefault, "k")
	m.Acquire(job.LaneDefault, "k")
	if m.ActiveCount(job.LaneDefault) != 1 {
		t.Fatalf("expected 1 active, got %d", m.ActiveCount(job.LaneDefault))
	}
}

// ---------------------------------------------------------------------------
// Concurrency safety
// ---------------------------------------------------------------------------

func TestManager_ConcurrentAccess(t *testing.T) {
	m := NewManager(Config{Lane: job.LaneDefault, MaxConcurrency: 50})

	var acquired atomic.Int64
	var wg sync.WaitGroup

	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Acquire(job.LaneDefault, "") {
				acquired.Add(1)
				time.Sleep(time.Millisecond)
				m.Release(job.LaneDefault, "")
			}
		}()
	}
	wg.Wait()

	if acquired.Load() == 0 {
		t.Fatal("expected some Acquires to succeed")
	}
	if m.ActiveCount(job.LaneDefault) != 0 {
		t.Fatalf("expected 0 active, got %d", m.ActiveCount(job.LaneDefault))
	}
}

func TestManager_ReleaseUnderflow(t *testing.T) {
	m := NewManager(Config{Lane: job.LaneDefault, MaxConcurrency: 5})
	m.Release(job.LaneDefault, "")
	if m.ActiveCount(job.LaneDefault) != 0 {
		t.Fatal("active count should not go below 0")
	}
}

func TestManager_SetLaneConfigKeepsActive(t *testing.T) {
	m := NewManager(Config{Lane: job.LaneDefault, MaxConcurrency: 5})
	m.Acquire(job.LaneDefault, "")
	m.SetLaneConfig(Config{Lane: job.LaneDefault, MaxConcurrency: 1})
	if m.Acquire(job.LaneDefault, "") {
		t.Fatal("reconfigured limit of 1 should already be reached")
	}
}
