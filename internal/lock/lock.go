// Package lock provides the run lock that keeps backup runs from overlapping.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLocked is returned by Acquire when the key is already held.
var ErrLocked = errors.New("lock already held")

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker acquires named locks that expire after ttl if never released.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// LocalLocker is an in-process Locker.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]localEntry
	seq  uint64
	now  func() time.Time
}

type localEntry struct {
	id      uint64
	expires time.Time
}

// NewLocalLocker creates an in-process Locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		held: make(map[string]localEntry),
		now:  time.Now,
	}
}

// Acquire takes key or returns ErrLocked when it is held and unexpired.
func (l *LocalLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.held[key]; ok && (e.expires.IsZero() || now.Before(e.expires)) {
		return nil, ErrLocked
	}

	l.seq++
	e := localEntry{id: l.seq}
	if ttl > 0 {
		e.expires = now.Add(ttl)
	}
	l.held[key] = e
	return &localLease{locker: l, key: key, id: e.id}, nil
}

type localLease struct {
	locker *LocalLocker
	key    string
	id     uint64
}

// Release frees the lock if this lease still owns it.
func (lease *localLease) Release(_ context.Context) error {
	l := lease.locker
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.held[lease.key]; ok && e.id == lease.id {
		delete(l.held, lease.key)
	}
	return nil
}
