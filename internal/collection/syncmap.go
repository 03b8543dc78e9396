package collection

import "sync"

// SyncMap is a generic map guarded by a RWMutex.
type SyncMap[K comparable, V any] struct {
	mux sync.RWMutex
	m   map[K]V
}

// NewSyncMap creates an empty SyncMap.
func NewSyncMap[K comparable, V any]() *SyncMap[K, V] {
	return &SyncMap[K, V]{m: map[K]V{}}
}

// Get returns the value for key and whether it was present.
func (s *SyncMap[K, V]) Get(key K) (V, bool) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	v, ok := s.m[key]
	return v, ok
}

// Put stores value under key.
func (s *SyncMap[K, V]) Put(key K, value V) {
	s.mux.Lock()
	s.m[key] = value
	s.mux.Unlock()
}

// Delete removes key.
func (s *SyncMap[K, V]) Delete(key K) {
	s.mux.Lock()
	delete(s.m, key)
	s.mux.Unlock()
}

// Size returns the number of entries.
func (s *SyncMap[K, V]) Size() int {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return len(s.m)
}

// Range iterates entries until fn returns false. Iteration happens over a
// snapshot so fn may mutate the map.
func (s *SyncMap[K, V]) Range(fn func(key K, value V) bool) {
	s.mux.RLock()
	keys := make([]K, 0, len(s.m))
	for k := range s.m {
		keys = append(keys, k)
	}
	s.mux.RUnlock()
	for _, k := range keys {
		v, ok := s.Get(k)
		if !ok {
			continue
		}
		if !fn(k, v) {
			return
		}
	}
}
