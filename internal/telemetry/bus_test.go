package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentdag/agentdag/internal/ports"
)

func TestBusDispatchesInSubscriptionOrder(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		_, err := bus.Subscribe(ports.EventNodeStarted, func(context.Context, ports.DomainEvent) error {
			order = append(order, i)
			return nil
		})
		require.NoError(t, err)
	}

	err := bus.Publish(context.Background(), NewEvent(ports.EventNodeStarted, "task-1", "node-1", nil))
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, order)
}

func TestBusIsolatesSubscriberErrors(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	called := false
	_, err := bus.Subscribe(ports.EventNodeStarted, func(context.Context, ports.DomainEvent) error {
		return errors.New("boom")
	})
	require.NoError(t, err)
	_, err = bus.Subscribe(ports.EventNodeStarted, func(context.Context, ports.DomainEvent) error {
		called = true
		return nil
	})
	require.NoError(t, err)

	err = bus.Publish(context.Background(), NewEvent(ports.EventNodeStarted, "task-1", "node-1", nil))
	require.NoError(t, err)
	require.True(t, called, "second subscriber must still run after the first errors")

	history := bus.History()
	require.Len(t, history, 2)
	require.Equal(t, ports.EventPluginError, history[1].Type)
}

func TestBusIsolatesSubscriberPanics(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	_, err := bus.Subscribe(ports.EventNodeStarted, func(context.Context, ports.DomainEvent) error {
		panic("subscriber exploded")
	})
	require.NoError(t, err)

	require.NotPanics(t, func() {
		err = bus.Publish(context.Background(), NewEvent(ports.EventNodeStarted, "task-1", "node-1", nil))
	})
	require.NoError(t, err)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	calls := 0
	sub, err := bus.Subscribe(ports.EventNodeStarted, func(context.Context, ports.DomainEvent) error {
		calls++
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), NewEvent(ports.EventNodeStarted, "", "", nil)))
	sub.Unsubscribe()
	require.NoError(t, bus.Publish(context.Background(), NewEvent(ports.EventNodeStarted, "", "", nil)))

	require.Equal(t, 1, calls)
}

func TestEventPayloadIsDeepCopied(t *testing.T) {
	t.Parallel()

	original := map[string]interface{}{"nested": map[string]interface{}{"value": 1}}
	event := NewEvent(ports.EventContextAssembled, "t", "n", original)

	payload := event.Payload().(map[string]interface{})
	nested := payload["nested"].(map[string]interface{})
	nested["value"] = 999

	// Mutating the returned payload must not affect the event's own copy.
	again := event.Payload().(map[string]interface{})
	require.Equal(t, 1, again["nested"].(map[string]interface{})["value"])
}
