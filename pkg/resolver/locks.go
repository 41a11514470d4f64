package resolver

import "sync"

// keyedMutex hands out one mutex per string key. Resolution is serialized per
// normalized mention key and per canonical entity id; different keys proceed
// in parallel. Entries are never reclaimed, the key space is bounded by a
// deal's entity count.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the named lock and returns its release func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
