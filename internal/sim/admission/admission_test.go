package admission

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCooldownRejectsRapidRepeat(t *testing.T) {
	c := New(50*time.Millisecond, 1)

	if !c.AllowNow("u1") {
		t.Fatalf("first action should pass")
	}
	if c.AllowNow("u1") {
		t.Fatalf("immediate repeat should be rejected")
	}
	// Another client is unaffected.
	if !c.AllowNow("u2") {
		t.Fatalf("other client should pass")
	}

	time.Sleep(60 * time.Millisecond)
	if !c.AllowNow("u1") {
		t.Fatalf("action after cooldown should pass")
	}

	c.Forget("u1")
	if !c.AllowNow("u1") {
		t.Fatalf("forgotten client starts fresh")
	}
}

func TestPermitPoolNeverExceedsCapacity(t *testing.T) {
	const n = 5
	c := New(0, n)

	var inFlight, peak int64
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := c.Acquire(context.Background(), nil)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			defer release()
			cur := atomic.AddInt64(&inFlight, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if cur <= p || atomic.CompareAndSwapInt64(&peak, p, cur) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt64(&inFlight, -1)
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&peak); got > n {
		t.Fatalf("peak concurrency %d exceeds pool size %d", got, n)
	}
	if c.InUse() != 0 {
		t.Fatalf("permits leaked: %d in use", c.InUse())
	}
}

func TestQueuedNoticeFiresExactlyOnceForOverflow(t *testing.T) {
	const n = 5
	c := New(0, n)

	// Saturate the pool.
	releases := make([]func(), 0, n)
	for i := 0; i < n; i++ {
		r, err := c.Acquire(context.Background(), func() { t.Errorf("no queue notice expected while pool has room") })
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		releases = append(releases, r)
	}

	var notices int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		r, err := c.Acquire(context.Background(), func() { atomic.AddInt64(&notices, 1) })
		if err != nil {
			t.Errorf("overflow acquire: %v", err)
			return
		}
		r()
	}()

	// The overflow submitter must be parked with exactly one notice.
	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatalf("overflow acquire completed before a permit freed")
	default:
	}
	if got := atomic.LoadInt64(&notices); got != 1 {
		t.Fatalf("queue notices = %d, want 1", got)
	}

	releases[0]()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("overflow acquire did not complete after a permit freed")
	}
	for _, r := range releases[1:] {
		r()
	}
	if c.InUse() != 0 {
		t.Fatalf("permits leaked: %d in use", c.InUse())
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	c := New(0, 1)
	r, err := c.Acquire(context.Background(), nil)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	r()
	r()
	if c.InUse() != 0 {
		t.Fatalf("double release corrupted the pool: %d in use", c.InUse())
	}
	// Pool still works.
	r2, err := c.Acquire(context.Background(), nil)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	r2()
}

func TestAcquireHonorsContextCancel(t *testing.T) {
	c := New(0, 1)
	r, err := c.Acquire(context.Background(), nil)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer r()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := c.Acquire(ctx, nil); err == nil {
		t.Fatalf("expected context error while pool is full")
	}
}
