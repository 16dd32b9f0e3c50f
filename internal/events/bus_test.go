package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereceipt/posbridge/internal/protocol"
)

func TestBusFanOut(t *testing.T) {
	bus := NewBus()
	a, cancelA := bus.Subscribe(4)
	b, cancelB := bus.Subscribe(4)
	defer cancelA()
	defer cancelB()

	bus.Publish(protocol.NewPrintComplete("j1"))

	for _, ch := range []<-chan protocol.Event{a, b} {
		ev := <-ch
		require.Equal(t, protocol.EventPrintComplete, ev.EventName())
		assert.Equal(t, "j1", ev.(protocol.PrintComplete).JobID)
	}
}

func TestBusWithoutSubscribersDrops(t *testing.T) {
	bus := NewBus()
	bus.Publish(protocol.NewBarcode("4006381333931", "EAN13"))

	ch, cancel := bus.Subscribe(1)
	defer cancel()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected queued event %v", ev)
	default:
	}
}

func TestBusFullSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	bus.Publish(protocol.NewPrintComplete("a"))
	bus.Publish(protocol.NewPrintComplete("b"))

	ev := <-ch
	assert.Equal(t, "a", ev.(protocol.PrintComplete).JobID)
	assert.Len(t, ch, 0)
}

func TestBusUnsubscribeAndClose(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)

	other, _ := bus.Subscribe(1)
	bus.Close()
	_, ok = <-other
	assert.False(t, ok)

	late, _ := bus.Subscribe(1)
	_, ok = <-late
	assert.False(t, ok)
	bus.Publish(protocol.NewPrintComplete("ignored"))
}
