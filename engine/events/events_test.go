package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/99souls/zensight/engine/metrics"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := NewBus(metrics.NewNoopProvider())
	sub, err := bus.Subscribe(4)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, bus.Publish(Event{Category: CategoryHealth, Type: "snapshot"}))

	select {
	case ev := <-sub.C():
		assert.Equal(t, CategoryHealth, ev.Category)
		assert.False(t, ev.Time.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublishRejectsMissingCategory(t *testing.T) {
	bus := NewBus(metrics.NewNoopProvider())
	assert.Error(t, bus.Publish(Event{Type: "x"}))
}

func TestSlowSubscriberDropsUnderBackpressure(t *testing.T) {
	bus := NewBus(metrics.NewNoopProvider())
	sub, err := bus.Subscribe(1)
	require.NoError(t, err)
	defer sub.Close()

	for i := 0; i < 5; i++ {
		_ = bus.Publish(Event{Category: CategoryDevice, Type: "poll"})
	}

	stats := bus.Stats()
	assert.Greater(t, stats.Dropped, uint64(0))
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(metrics.NewNoopProvider())
	sub, err := bus.Subscribe(1)
	require.NoError(t, err)
	require.NoError(t, bus.Unsubscribe(sub))

	_, ok := <-sub.C()
	assert.False(t, ok)
}
