// README: Per-order mutual exclusion used to serialize transitions.
package order

import (
	"sync"

	"yisong/internal/types"
)

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// keyedMutex hands out one lock per order id and forgets it once nobody holds or waits on it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[types.ID]*keyedLock
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[types.ID]*keyedLock)}
}

func (k *keyedMutex) Lock(id types.ID) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[id]
	if !ok {
		l = &keyedLock{}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
