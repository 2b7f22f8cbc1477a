// Package lock provides the single-writer lease: at most one holder
// system-wide may run mutating work against the memory store at a time.
// The lease lives in the shared database, so it excludes writers across
// process boundaries, and it expires, so a crashed holder cannot wedge
// the lock forever.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gyrelabs/gyre/internal/store"
)

// ErrLockUnavailable means the lease could not be acquired within the
// bounded wait. Callers must treat this as retryable, not fatal.
var ErrLockUnavailable = errors.New("writer lock unavailable")

const leaseName = "memory-writer"

// WriterLock acquires and releases the writer lease for one process.
type WriterLock struct {
	db     *store.DB
	holder string

	// sem serializes critical sections inside this process. The lease row
	// excludes other processes, but its re-entry clause would let every
	// goroutine sharing this instance grab the lease at once. A channel
	// rather than a mutex so in-process waiters keep the bounded-wait
	// contract.
	sem chan struct{}

	// LeaseTTL must exceed the longest job execution timeout, or a slow
	// holder can lose the lease mid-write.
	leaseTTL       time.Duration
	acquireTimeout time.Duration
	retryInterval  time.Duration
}

// Options configures lease timing. Zero values get defaults.
type Options struct {
	LeaseTTL       time.Duration
	AcquireTimeout time.Duration
	RetryInterval  time.Duration
}

// New creates a writer lock with its own holder identity.
func New(db *store.DB, opts Options) *WriterLock {
	// Default TTL is double the default job timeout so a job that uses
	// its whole budget cannot lose the lease mid-write.
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 60 * time.Second
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = 5 * time.Second
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 50 * time.Millisecond
	}
	return &WriterLock{
		db:             db,
		holder:         uuid.NewString(),
		sem:            make(chan struct{}, 1),
		leaseTTL:       opts.LeaseTTL,
		acquireTimeout: opts.AcquireTimeout,
		retryInterval:  opts.RetryInterval,
	}
}

// Holder returns this lock's holder identity.
func (l *WriterLock) Holder() string {
	return l.holder
}

// WithExclusiveAccess acquires the lease, runs fn, and releases the
// lease. Acquisition waits up to the configured timeout, then fails with
// ErrLockUnavailable. fn's error is returned as-is. Critical sections
// are exclusive across goroutines sharing this instance as well as
// across processes.
func (l *WriterLock) WithExclusiveAccess(ctx context.Context, fn func() error) error {
	select {
	case l.sem <- struct{}{}:
	case <-time.After(l.acquireTimeout):
		return fmt.Errorf("%w: not acquired within %s", ErrLockUnavailable, l.acquireTimeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrLockUnavailable, ctx.Err())
	}
	defer func() { <-l.sem }()

	if err := l.acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn()
}

func (l *WriterLock) acquire(ctx context.Context) error {
	deadline := time.Now().Add(l.acquireTimeout)
	for {
		ok, err := l.TryAcquire()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: not acquired within %s", ErrLockUnavailable, l.acquireTimeout)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrLockUnavailable, ctx.Err())
		case <-time.After(l.retryInterval):
		}
	}
}

// TryAcquire attempts a single, atomic grab of the lease. It succeeds if
// the lease is free, expired, or already ours (re-entry refreshes the
// expiry).
func (l *WriterLock) TryAcquire() (bool, error) {
	now := time.Now().UnixMilli()
	expires := now + l.leaseTTL.Milliseconds()

	res, err := l.db.Exec(`
		INSERT INTO writer_lease (name, holder, acquired_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			holder = excluded.holder,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
		WHERE writer_lease.expires_at <= excluded.acquired_at
		   OR writer_lease.holder = excluded.holder
	`, leaseName, l.holder, now, expires)
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	return n > 0, nil
}

// Release gives up the lease if we still hold it. Releasing a lease held
// by someone else (after expiry and takeover) is a no-op.
func (l *WriterLock) Release() error {
	_, err := l.db.Exec(
		"DELETE FROM writer_lease WHERE name = ? AND holder = ?",
		leaseName, l.holder,
	)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}
