package repository

import (
	"sync"

	"github.com/okian/ecovision/internal/domain/model"
)

// keyLocks hands out one mutex per fingerprint and drops it once nobody holds
// or waits for it.
type keyLocks struct {
	mu    sync.Mutex
	locks map[model.Fingerprint]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[model.Fingerprint]*keyLock)}
}

// lock blocks until fp is held and returns its release func.
func (k *keyLocks) lock(fp model.Fingerprint) func() {
	k.mu.Lock()
	l, ok := k.locks[fp]
	if !ok {
		l = &keyLock{}
		k.locks[fp] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, fp)
		}
		k.mu.Unlock()
	}
}

func (k *keyLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
