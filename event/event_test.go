package event

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awantoch/beemflow/pkg/errors"
)

func TestInMemoryBusPublishSubscribe(t *testing.T) {
	bus := NewInMemoryBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan any, 1)
	require.NoError(t, bus.Subscribe(ctx, "order.created", func(payload any) {
		got <- payload
	}))

	require.NoError(t, bus.Publish("order.created", map[string]any{"id": "42"}))

	select {
	case payload := <-got:
		m, ok := payload.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "42", m["id"])
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
}

func TestInMemoryBusTopicIsolation(t *testing.T) {
	bus := NewInMemoryBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan any, 1)
	require.NoError(t, bus.Subscribe(ctx, "topic.a", func(payload any) {
		got <- payload
	}))

	require.NoError(t, bus.Publish("topic.b", map[string]any{"n": 1}))
	select {
	case <-got:
		t.Fatal("received event from a different topic")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestInMemoryBusMultipleSubscribers(t *testing.T) {
	bus := NewInMemoryBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := make(chan any, 1)
	b := make(chan any, 1)
	require.NoError(t, bus.Subscribe(ctx, "tick", func(p any) { a <- p }))
	require.NoError(t, bus.Subscribe(ctx, "tick", func(p any) { b <- p }))

	require.NoError(t, bus.Publish("tick", map[string]any{"n": float64(1)}))

	for _, ch := range []chan any{a, b} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatal("subscriber missed the event")
		}
	}
}

func TestNewBusFromConfig(t *testing.T) {
	bus, err := NewBus(nil)
	require.NoError(t, err)
	bus.Close()

	bus, err = NewBus(&Config{Driver: "memory"})
	require.NoError(t, err)
	bus.Close()

	_, err = NewBus(&Config{Driver: "nats"})
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))

	_, err = NewBus(&Config{Driver: "carrier-pigeon"})
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}

func TestPublishNonJSONPayload(t *testing.T) {
	bus := NewInMemoryBus()
	defer bus.Close()
	err := bus.Publish("bad", func() {})
	require.Error(t, err)
}
