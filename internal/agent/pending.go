package agent

import "sync"

// pendingKey scopes a request id to its session. Providers only guarantee
// unique ids within one transcript.
type pendingKey struct {
	session string
	id      string
}

// pending correlates externally resolved values with the requests the
// loops are waiting on. Each entry resolves at most once.
type pending[T any] struct {
	mu      sync.Mutex
	waiters map[pendingKey]chan T
}

func newPending[T any]() *pending[T] {
	return &pending[T]{waiters: make(map[pendingKey]chan T)}
}

// register opens a waiter for id within session. The returned release
// removes the waiter unless another registration has since replaced it.
func (p *pending[T]) register(session, id string) (<-chan T, func()) {
	key := pendingKey{session: session, id: id}
	ch := make(chan T, 1)
	p.mu.Lock()
	p.waiters[key] = ch
	p.mu.Unlock()

	release := func() {
		p.mu.Lock()
		if p.waiters[key] == ch {
			delete(p.waiters, key)
		}
		p.mu.Unlock()
	}
	return ch, release
}

// resolve delivers v to the waiter for id and removes it. An empty session
// matches the only waiter holding id; when several sessions wait on the
// same id it matches none. It reports false when nothing was resolved.
func (p *pending[T]) resolve(session, id string, v T) bool {
	p.mu.Lock()
	key, ok := p.lookup(session, id)
	var ch chan T
	if ok {
		ch = p.waiters[key]
		delete(p.waiters, key)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- v
	return true
}

func (p *pending[T]) lookup(session, id string) (pendingKey, bool) {
	key := pendingKey{session: session, id: id}
	if _, ok := p.waiters[key]; ok || session != "" {
		return key, ok
	}
	var found pendingKey
	matches := 0
	for k := range p.waiters {
		if k.id == id {
			found = k
			matches++
		}
	}
	return found, matches == 1
}

func (p *pending[T]) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}
