package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifierChannelsNeverBlock(t *testing.T) {
	n := NewNotifier(WithClock(stepClock()))
	fast := make(chan Event, 4)
	slow := make(chan Event)
	n.SubscribeEvents(fast)
	n.SubscribeEvents(slow)

	n.MembersChanged(context.Background(), "net_a")
	n.Invalidated(context.Background(), "net_a")

	require.Len(t, fast, 2)
	first := <-fast
	assert.Equal(t, EventNetworkMembersChanged, first.Type)
	assert.Equal(t, "net_a", first.NetworkID)
	assert.False(t, first.At.IsZero())
	assert.Equal(t, EventNetworkInvalidated, (<-fast).Type)
}

func TestNotifierUnsubscribe(t *testing.T) {
	n := NewNotifier()
	rec := &recorder{}
	unsubscribe := n.Subscribe(rec)

	n.Invalidated(context.Background(), "net_a")
	unsubscribe()
	unsubscribe()
	n.Invalidated(context.Background(), "net_b")

	assert.Equal(t, []string{"invalidated:net_a"}, rec.snapshot())
}

func TestNotifierSurvivesPanickingObserver(t *testing.T) {
	n := NewNotifier()
	n.Subscribe(ObserverFuncs{Invalidated: func(context.Context, string) { panic("bad observer") }})
	rec := &recorder{}
	n.Subscribe(rec)

	assert.NotPanics(t, func() { n.Invalidated(context.Background(), "net_a") })
	assert.Equal(t, []string{"invalidated:net_a"}, rec.snapshot())
}

func TestOutboxCollapsesRepeats(t *testing.T) {
	ob := &outbox{}
	ob.add(Event{Type: EventNetworkMembersChanged, NetworkID: "a"})
	ob.add(Event{Type: EventNetworkMembersChanged, NetworkID: "a"})
	ob.add(Event{Type: EventNetworkInvalidated, NetworkID: "a"})

	events := ob.drain()
	require.Len(t, events, 2)
	assert.Empty(t, ob.drain())
}
