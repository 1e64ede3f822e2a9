// Package isolation provides the per-conversation concurrency guard,
// circuit breaker, rate limiter, and error classifier that sit between the
// orchestrator and the external adapters.
package isolation

import "sync"

// ConversationLocks hands out one mutex per conversation id, held for the
// duration of a single SendMessage call. A second concurrent caller on the
// same conversation must not block: it is rejected immediately.
type ConversationLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewConversationLocks() *ConversationLocks {
	return &ConversationLocks{locks: make(map[string]*sync.Mutex)}
}

func (c *ConversationLocks) lockFor(id string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[id]
	if !ok {
		l = &sync.Mutex{}
		c.locks[id] = l
	}
	return l
}

// TryAcquire attempts to take the lock for id without blocking. It returns
// a release function on success, or ok=false if another stream already
// holds it.
func (c *ConversationLocks) TryAcquire(id string) (release func(), ok bool) {
	l := c.lockFor(id)
	if !l.TryLock() {
		return nil, false
	}
	return l.Unlock, true
}
