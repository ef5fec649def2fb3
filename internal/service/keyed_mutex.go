package service

import (
	"sync"
)

func NewKeyedMutex[K comparable]() *KeyedMutex[K] {
	return &KeyedMutex[K]{
		locks: make(map[K]*keyedLock),
	}
}

// KeyedMutex serializes work per key: registration and heartbeats per agent
// uuid, timeline placement per pipeline name. Distinct keys never contend.
type KeyedMutex[K comparable] struct {
	m     sync.Mutex
	locks map[K]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (km *KeyedMutex[K]) Lock(key K) {
	km.m.Lock()
	kl, ok := km.locks[key]
	if !ok {
		kl = &keyedLock{}
		km.locks[key] = kl
	}
	kl.refs++
	km.m.Unlock()

	kl.mu.Lock()
}

func (km *KeyedMutex[K]) Unlock(key K) {
	km.m.Lock()
	kl := km.locks[key]
	kl.refs--
	if kl.refs == 0 {
		delete(km.locks, key)
	}
	km.m.Unlock()

	kl.mu.Unlock()
}
