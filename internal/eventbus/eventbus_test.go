package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInProcessEmitDeliversToSubscribers(t *testing.T) {
	bus := NewInProcess()

	var received []any
	bus.Subscribe(TopicDeviceRegistered, func(payload any) {
		received = append(received, payload)
	})

	bus.Emit(TopicDeviceRegistered, "device-1")
	bus.Emit(TopicDeviceRegistered, "device-2")

	require.Equal(t, []any{"device-1", "device-2"}, received)
}

func TestInProcessUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewInProcess()

	var count int
	unsubscribe := bus.Subscribe(TopicReplayDetected, func(payload any) {
		count++
	})

	bus.Emit(TopicReplayDetected, nil)
	unsubscribe()
	bus.Emit(TopicReplayDetected, nil)

	require.Equal(t, 1, count)
}

func TestInProcessTopicsAreIndependent(t *testing.T) {
	bus := NewInProcess()

	var a, b int
	bus.Subscribe(TopicDeviceExpired, func(payload any) { a++ })
	bus.Subscribe(TopicDeviceRevoked, func(payload any) { b++ })

	bus.Emit(TopicDeviceExpired, nil)

	require.Equal(t, 1, a)
	require.Equal(t, 0, b)
}
