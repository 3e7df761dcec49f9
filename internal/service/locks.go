package service

import (
	"context"
	"sync"
)

// lockTable hands out one mutex per network id. Entries are created on first
// use and dropped as soon as no goroutine holds or waits for them, so an
// unregistered id leaves nothing behind.
type lockTable struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{entries: make(map[string]*lockEntry)}
}

func (t *lockTable) acquire(id string) *lockEntry {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		e = &lockEntry{}
		t.entries[id] = e
	}
	e.refs++
	t.mu.Unlock()

	e.mu.Lock()
	return e
}

func (t *lockTable) release(id string, e *lockEntry) {
	e.mu.Unlock()

	t.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(t.entries, id)
	}
	t.mu.Unlock()
}

// size reports the number of live entries.
func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

type heldLocksKey struct{}
type outboxKey struct{}

// heldLocks returns the ids locked by the calling operation.
func heldLocks(ctx context.Context) map[string]struct{} {
	held, _ := ctx.Value(heldLocksKey{}).(map[string]struct{})
	return held
}

func holdsLock(ctx context.Context, id string) bool {
	_, ok := heldLocks(ctx)[id]
	return ok
}

func withHeldLock(ctx context.Context, id string) context.Context {
	prev := heldLocks(ctx)
	next := make(map[string]struct{}, len(prev)+1)
	for k := range prev {
		next[k] = struct{}{}
	}
	next[id] = struct{}{}
	return context.WithValue(ctx, heldLocksKey{}, next)
}

// outbox buffers notifications raised while a network lock is held.
type outbox struct {
	mu     sync.Mutex
	events []Event
}

func outboxFrom(ctx context.Context) *outbox {
	ob, _ := ctx.Value(outboxKey{}).(*outbox)
	return ob
}

func (o *outbox) add(ev Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if n := len(o.events); n > 0 {
		last := o.events[n-1]
		if last.Type == ev.Type && last.NetworkID == ev.NetworkID {
			return
		}
	}
	o.events = append(o.events, ev)
}

func (o *outbox) drain() []Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.events
	o.events = nil
	return out
}
