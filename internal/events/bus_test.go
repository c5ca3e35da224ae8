package events

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishFanOut(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe()
	b := bus.Subscribe()

	bus.Publish(Event{Type: TypeQuote, Data: "x"})

	require.Equal(t, TypeQuote, (<-a).Type)
	require.Equal(t, TypeQuote, (<-b).Type)
}

func TestPublishDropsWhenFull(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()
	for i := 0; i < 200; i++ {
		bus.Publish(Event{Type: TypeQuote, Data: i})
	}
	require.Len(t, ch, 100)
}

func TestUnsubscribeCloses(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()
	bus.Unsubscribe(ch)
	_, open := <-ch
	require.False(t, open)
	// double unsubscribe is a no-op
	bus.Unsubscribe(ch)
}
