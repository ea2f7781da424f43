package utils

import "sync"

// KeyedMutex serializes work per key while leaving distinct keys independent.
// Entries are reference counted and dropped once no goroutine holds or waits on them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex returns an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock acquires the lock for key and returns its release func.
func (k *KeyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()

			k.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(k.locks, key)
			}
			k.mu.Unlock()
		})
	}
}

// Len reports how many keys currently have holders or waiters.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
