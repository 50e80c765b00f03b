package stock

import (
	"context"
	"sync"
	"time"
)

var _ Locker = (*KeyedMutex)(nil)

// KeyedMutex is an in-process Locker with one exclusive slot per key.
// Entries are reference counted and dropped once no holder or waiter remains,
// so the map only grows with the number of concurrently contended keys.
type KeyedMutex struct {
	wait time.Duration

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	slot chan struct{}
	refs int
}

// NewKeyedMutex creates a KeyedMutex. Lock gives up with ErrLockBusy after wait.
func NewKeyedMutex(wait time.Duration) *KeyedMutex {
	return &KeyedMutex{
		wait:  wait,
		locks: make(map[string]*keyLock),
	}
}

// Lock acquires key.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	kl := m.acquireRef(key)

	timer := time.NewTimer(m.wait)
	defer timer.Stop()

	select {
	case kl.slot <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-kl.slot
				m.releaseRef(key, kl)
			})
		}, nil
	case <-timer.C:
		m.releaseRef(key, kl)
		return nil, ErrLockBusy
	case <-ctx.Done():
		m.releaseRef(key, kl)
		return nil, ctx.Err()
	}
}

// Len reports the number of keys currently held or awaited.
func (m *KeyedMutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func (m *KeyedMutex) acquireRef(key string) *keyLock {
	m.mu.Lock()
	defer m.mu.Unlock()

	kl, ok := m.locks[key]
	if !ok {
		kl = &keyLock{slot: make(chan struct{}, 1)}
		m.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (m *KeyedMutex) releaseRef(key string, kl *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kl.refs--
	if kl.refs == 0 {
		delete(m.locks, key)
	}
}
