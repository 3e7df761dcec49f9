package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"diskmesh/internal/logging"
)

// EventType defines the type of event
type EventType string

const (
	EventNetworkInvalidated    EventType = "network_invalidated"
	EventNetworkMembersChanged EventType = "network_members_changed"
)

// Event represents a change observers may need to react to
type Event struct {
	Type      EventType `json:"type"`
	NetworkID string    `json:"network_id"`
	At        time.Time `json:"at"`
}

// Observer is notified about network changes. Callbacks never run while a
// network lock is held, so an observer may call back into the engine.
type Observer interface {
	OnNetworkInvalidated(ctx context.Context, id string)
	OnNetworkMembersChanged(ctx context.Context, id string)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Invalidated    func(ctx context.Context, id string)
	MembersChanged func(ctx context.Context, id string)
}

func (f ObserverFuncs) OnNetworkInvalidated(ctx context.Context, id string) {
	if f.Invalidated != nil {
		f.Invalidated(ctx, id)
	}
}

func (f ObserverFuncs) OnNetworkMembersChanged(ctx context.Context, id string) {
	if f.MembersChanged != nil {
		f.MembersChanged(ctx, id)
	}
}

// Notifier fans network events out to observers and event channels.
type Notifier struct {
	mu          sync.RWMutex
	nextID      int
	observers   map[int]Observer
	subscribers map[int]chan<- Event
	clock       Clock
	log         logging.Logger
}

// NewNotifier creates a notifier
func NewNotifier(opts ...Option) *Notifier {
	o := buildOptions(opts)
	return &Notifier{
		observers:   make(map[int]Observer),
		subscribers: make(map[int]chan<- Event),
		clock:       o.clock,
		log:         o.log,
	}
}

// Subscribe registers an observer and returns a function that removes it.
func (n *Notifier) Subscribe(o Observer) (unsubscribe func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	n.observers[id] = o
	return func() {
		n.mu.Lock()
		delete(n.observers, id)
		n.mu.Unlock()
	}
}

// SubscribeEvents adds a channel subscriber. Delivery never blocks: a full
// channel misses the event.
func (n *Notifier) SubscribeEvents(ch chan<- Event) (unsubscribe func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	n.subscribers[id] = ch
	return func() {
		n.mu.Lock()
		delete(n.subscribers, id)
		n.mu.Unlock()
	}
}

// Invalidated announces that a network no longer exists.
func (n *Notifier) Invalidated(ctx context.Context, id string) {
	n.emit(ctx, Event{Type: EventNetworkInvalidated, NetworkID: id, At: n.clock.Now()})
}

// MembersChanged announces that a network's contents need refreshing.
func (n *Notifier) MembersChanged(ctx context.Context, id string) {
	n.emit(ctx, Event{Type: EventNetworkMembersChanged, NetworkID: id, At: n.clock.Now()})
}

// emit buffers the event when the caller holds a network lock and delivers
// it immediately otherwise.
func (n *Notifier) emit(ctx context.Context, ev Event) {
	if ob := outboxFrom(ctx); ob != nil {
		ob.add(ev)
		return
	}
	n.deliver(ctx, ev)
}

func (n *Notifier) deliver(ctx context.Context, ev Event) {
	n.mu.RLock()
	observers := make([]Observer, 0, len(n.observers))
	for _, id := range sortedIDs(n.observers) {
		observers = append(observers, n.observers[id])
	}
	subscribers := make([]chan<- Event, 0, len(n.subscribers))
	for _, ch := range n.subscribers {
		subscribers = append(subscribers, ch)
	}
	n.mu.RUnlock()

	for _, o := range observers {
		n.call(ctx, o, ev)
	}
	for _, ch := range subscribers {
		select {
		case ch <- ev:
		default:
			// Subscriber is slow, skip
		}
	}
}

func (n *Notifier) call(ctx context.Context, o Observer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Error(ctx, "observer panicked",
				logging.String("event", string(ev.Type)),
				logging.String("network_id", ev.NetworkID),
				logging.Any("panic", r))
		}
	}()
	switch ev.Type {
	case EventNetworkInvalidated:
		o.OnNetworkInvalidated(ctx, ev.NetworkID)
	case EventNetworkMembersChanged:
		o.OnNetworkMembersChanged(ctx, ev.NetworkID)
	}
}

// sortedIDs keeps observers called in subscription order.
func sortedIDs(m map[int]Observer) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
