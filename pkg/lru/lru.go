// Package lru implements a byte-budget LRU store for response payloads.
//
// The store keeps a map for O(1) key lookup and a doubly linked list for
// O(1) promotion and eviction. The front of the list is the most recently
// used entry, the back is the eviction candidate. It is NOT goroutine-safe;
// callers that share it across goroutines must wrap it with a lock.
package lru

import (
	"fmt"

	"github.com/skaris/proxyd/pkg/list"
)

type LRU[K comparable] struct {
	maxBytes      int64
	maxEntryBytes int64
	curBytes      int64
	onEvict       func(key K, size int)

	l *list.List[entry[K]]
	m map[K]*list.Elem[entry[K]]
}

type entry[K comparable] struct {
	key     K
	payload []byte
}

// New creates a byte-budget LRU. maxBytes bounds the sum of payload
// lengths, maxEntryBytes bounds a single payload. onEvict, if not nil, is
// called for every entry removed to reclaim space (not for updates).
func New[K comparable](maxBytes, maxEntryBytes int64, onEvict func(key K, size int)) *LRU[K] {
	if maxBytes <= 0 || maxEntryBytes <= 0 {
		panic(fmt.Sprintf("lru: invalid byte limits: total %d, per entry %d", maxBytes, maxEntryBytes))
	}

	return &LRU[K]{
		maxBytes:      maxBytes,
		maxEntryBytes: maxEntryBytes,
		onEvict:       onEvict,
		l:             list.New[entry[K]](),
		m:             make(map[K]*list.Elem[entry[K]]),
	}
}

// Put stores payload under key and makes the entry the most recently
// used. The LRU takes ownership of payload; callers must pass a private
// copy. Empty or over-limit payloads are dropped and Put reports false.
func (q *LRU[K]) Put(key K, payload []byte) bool {
	size := int64(len(payload))
	if size == 0 || size > q.maxEntryBytes {
		return false
	}

	// Update existing
	if e, ok := q.m[key]; ok {
		q.curBytes -= int64(len(e.Value.payload))
		q.curBytes += size
		e.Value.payload = payload
		q.l.MoveToFront(e)
		q.evict(0)
		return true
	}

	// Make room first. Eviction is best-effort: the list may empty out
	// and the new entry is still admitted as long as it respects the
	// per-entry limit.
	q.evict(size)

	e := list.NewElem(entry[K]{
		key:     key,
		payload: payload,
	})
	q.m[key] = e
	q.l.PushFront(e)
	q.curBytes += size
	return true
}

// Get returns the payload stored under key and promotes the entry to
// most recently used. The returned slice is owned by the LRU and must
// not be retained or modified by the caller.
func (q *LRU[K]) Get(key K) ([]byte, bool) {
	e, ok := q.m[key]
	if !ok {
		return nil, false
	}
	q.l.MoveToFront(e)
	return e.Value.payload, true
}

// Peek reports whether key is present without promoting it.
func (q *LRU[K]) Peek(key K) bool {
	_, ok := q.m[key]
	return ok
}

// Del removes key if present.
func (q *LRU[K]) Del(key K) {
	e := q.m[key]
	if e == nil {
		return
	}
	q.delElem(e)
}

// PopOldest removes and returns the least recently used entry without
// firing onEvict.
func (q *LRU[K]) PopOldest() (key K, payload []byte, ok bool) {
	e := q.l.Back()
	if e == nil {
		return
	}

	q.l.PopElem(e)
	delete(q.m, e.Value.key)
	q.curBytes -= int64(len(e.Value.payload))

	return e.Value.key, e.Value.payload, true
}

// Clear removes every entry without firing onEvict.
func (q *LRU[K]) Clear() {
	for e := q.l.Front(); e != nil; {
		next := e.Next()
		q.l.PopElem(e)
		e = next
	}
	clear(q.m)
	q.curBytes = 0
}

func (q *LRU[K]) Len() int {
	return q.l.Len()
}

// Bytes returns the sum of all stored payload lengths.
func (q *LRU[K]) Bytes() int64 {
	return q.curBytes
}

// Keys returns all keys from most to least recently used.
func (q *LRU[K]) Keys() []K {
	keys := make([]K, 0, q.l.Len())
	for e := q.l.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.key)
	}
	return keys
}

func (q *LRU[K]) evict(need int64) {
	for q.curBytes+need > q.maxBytes {
		e := q.l.Back()
		if e == nil {
			return
		}
		q.delElem(e)
	}
}

func (q *LRU[K]) delElem(e *list.Elem[entry[K]]) {
	key, size := e.Value.key, len(e.Value.payload)
	q.l.PopElem(e)
	delete(q.m, key)
	q.curBytes -= int64(size)

	if q.onEvict != nil {
		q.onEvict(key, size)
	}
}
