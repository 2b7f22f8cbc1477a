package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gyrelabs/gyre/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestTryAcquireAndRelease(t *testing.T) {
	db := testDB(t)
	l := New(db, Options{})

	ok, err := l.TryAcquire()
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	if !ok {
		t.Fatal("expected to acquire free lease")
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	other := New(db, Options{})
	ok, err = other.TryAcquire()
	if err != nil {
		t.Fatalf("TryAcquire after release: %v", err)
	}
	if !ok {
		t.Error("expected to acquire released lease")
	}
}

func TestTryAcquireHeldByOther(t *testing.T) {
	db := testDB(t)

	a := New(db, Options{LeaseTTL: time.Minute})
	b := New(db, Options{LeaseTTL: time.Minute})

	if ok, _ := a.TryAcquire(); !ok {
		t.Fatal("a should acquire")
	}
	ok, err := b.TryAcquire()
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	if ok {
		t.Error("b acquired a lease already held by a")
	}
}

func TestTryAcquireReentrant(t *testing.T) {
	db := testDB(t)
	l := New(db, Options{LeaseTTL: time.Minute})

	if ok, _ := l.TryAcquire(); !ok {
		t.Fatal("first acquire failed")
	}
	ok, err := l.TryAcquire()
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	if !ok {
		t.Error("re-acquiring our own lease should refresh it")
	}
}

func TestExpiredLeaseTakenOver(t *testing.T) {
	db := testDB(t)

	crashed := New(db, Options{LeaseTTL: 10 * time.Millisecond})
	if ok, _ := crashed.TryAcquire(); !ok {
		t.Fatal("crashed holder should acquire")
	}
	// Holder "crashes" without releasing; lease expires.
	time.Sleep(20 * time.Millisecond)

	next := New(db, Options{LeaseTTL: time.Minute})
	ok, err := next.TryAcquire()
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	if !ok {
		t.Error("expired lease should be taken over")
	}
}

func TestReleaseAfterTakeoverIsNoOp(t *testing.T) {
	db := testDB(t)

	old := New(db, Options{LeaseTTL: 10 * time.Millisecond})
	old.TryAcquire()
	time.Sleep(20 * time.Millisecond)

	next := New(db, Options{LeaseTTL: time.Minute})
	if ok, _ := next.TryAcquire(); !ok {
		t.Fatal("takeover failed")
	}

	// The old holder's release must not free the new holder's lease.
	if err := old.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	third := New(db, Options{LeaseTTL: time.Minute})
	if ok, _ := third.TryAcquire(); ok {
		t.Error("lease freed by a stale holder's release")
	}
}

func TestWithExclusiveAccessRunsFn(t *testing.T) {
	db := testDB(t)
	l := New(db, Options{})

	ran := false
	err := l.WithExclusiveAccess(context.Background(), func() error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("WithExclusiveAccess: %v", err)
	}
	if !ran {
		t.Error("fn did not run")
	}

	// Lease is released afterwards.
	if ok, _ := New(db, Options{}).TryAcquire(); !ok {
		t.Error("lease not released after WithExclusiveAccess")
	}
}

func TestWithExclusiveAccessPropagatesFnError(t *testing.T) {
	db := testDB(t)
	l := New(db, Options{})

	sentinel := errors.New("boom")
	if err := l.WithExclusiveAccess(context.Background(), func() error { return sentinel }); !errors.Is(err, sentinel) {
		t.Errorf("err = %v, want sentinel", err)
	}
}

func TestWithExclusiveAccessBoundedWait(t *testing.T) {
	db := testDB(t)

	holder := New(db, Options{LeaseTTL: time.Minute})
	if ok, _ := holder.TryAcquire(); !ok {
		t.Fatal("holder should acquire")
	}

	blocked := New(db, Options{
		LeaseTTL:       time.Minute,
		AcquireTimeout: 60 * time.Millisecond,
		RetryInterval:  10 * time.Millisecond,
	})
	start := time.Now()
	err := blocked.WithExclusiveAccess(context.Background(), func() error {
		t.Error("fn must not run without the lease")
		return nil
	})
	if !errors.Is(err, ErrLockUnavailable) {
		t.Errorf("err = %v, want ErrLockUnavailable", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("bounded wait took far too long")
	}
}

func TestWithExclusiveAccessContextCancel(t *testing.T) {
	db := testDB(t)

	holder := New(db, Options{LeaseTTL: time.Minute})
	holder.TryAcquire()

	blocked := New(db, Options{
		LeaseTTL:       time.Minute,
		AcquireTimeout: time.Minute,
		RetryInterval:  10 * time.Millisecond,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := blocked.WithExclusiveAccess(ctx, func() error { return nil })
	if !errors.Is(err, ErrLockUnavailable) {
		t.Errorf("err = %v, want ErrLockUnavailable", err)
	}
}

// Mutual exclusion: concurrent contenders never overlap inside fn.
func TestMutualExclusion(t *testing.T) {
	db := testDB(t)

	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := New(db, Options{
				LeaseTTL:       time.Minute,
				AcquireTimeout: 5 * time.Second,
				RetryInterval:  5 * time.Millisecond,
			})
			err := l.WithExclusiveAccess(context.Background(), func() error {
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()

				time.Sleep(10 * time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("WithExclusiveAccess: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxInside)
	}
}

// Goroutines sharing one instance must not overlap either: the lease
// alone would let them all through its re-entry clause.
func TestMutualExclusionSharedInstance(t *testing.T) {
	db := testDB(t)
	l := New(db, Options{
		LeaseTTL:       time.Minute,
		AcquireTimeout: 5 * time.Second,
		RetryInterval:  5 * time.Millisecond,
	})

	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithExclusiveAccess(context.Background(), func() error {
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()

				time.Sleep(10 * time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("WithExclusiveAccess: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("max concurrent critical sections = %d, want 1", maxInside)
	}
}

// In-process contention still honors the bounded wait rather than
// queueing forever.
func TestSharedInstanceBoundedWait(t *testing.T) {
	db := testDB(t)
	l := New(db, Options{
		LeaseTTL:       time.Minute,
		AcquireTimeout: 50 * time.Millisecond,
		RetryInterval:  5 * time.Millisecond,
	})

	release := make(chan struct{})
	started := make(chan struct{})
	go l.WithExclusiveAccess(context.Background(), func() error {
		close(started)
		<-release
		return nil
	})
	<-started
	defer close(release)

	err := l.WithExclusiveAccess(context.Background(), func() error {
		t.Error("fn must not run while the section is occupied")
		return nil
	})
	if !errors.Is(err, ErrLockUnavailable) {
		t.Errorf("err = %v, want ErrLockUnavailable", err)
	}
}
