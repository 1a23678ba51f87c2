package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	a, cancelA := bus.Subscribe(4)
	b, cancelB := bus.Subscribe(4)
	defer cancelA()
	defer cancelB()

	ev := New(TypeSignalEmitted, "BTCUSDT", map[string]any{"direction": "long"})
	bus.Publish(ev)

	got := <-a
	assert.Equal(t, ev.ID, got.ID)
	got = <-b
	assert.Equal(t, TypeSignalEmitted, got.Type)
	assert.Equal(t, "BTCUSDT", got.Symbol)
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.At.IsZero())
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	_, cancel := bus.Subscribe(1)
	defer cancel()

	// Second publish overflows the buffer; it must drop, not block.
	bus.Publish(New(TypeOrderPlaced, "BTCUSDT", nil))
	bus.Publish(New(TypeOrderFilled, "BTCUSDT", nil))
}

func TestCancelStopsDelivery(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe(4)
	cancel()
	_, open := <-ch
	assert.False(t, open)

	bus.Publish(New(TypeEngineStarted, "", nil))
}

func TestCloseClosesSubscribers(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(4)
	defer cancel()

	bus.Close()
	_, open := <-ch
	require.False(t, open)

	// Publish and Subscribe after Close are no-ops.
	bus.Publish(New(TypeEngineStopped, "", nil))
	late, lateCancel := bus.Subscribe(1)
	defer lateCancel()
	_, open = <-late
	assert.False(t, open)
}
