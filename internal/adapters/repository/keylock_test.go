package repository

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyLocksSerializeSameKey(t *testing.T) {
	locks := newKeyLocks()

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock("fp")
			n := active.Add(1)
			if n > maxActive.Load() {
				maxActive.Store(n)
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	if maxActive.Load() != 1 {
		t.Errorf("expected at most one holder, saw %d", maxActive.Load())
	}
	if locks.size() != 0 {
		t.Errorf("expected locks to be released, %d left", locks.size())
	}
}

func TestKeyLocksIndependentKeys(t *testing.T) {
	locks := newKeyLocks()
	unlockA := locks.lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := locks.lock("b")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
	unlockA()
}
