package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOrderingPerDevice(t *testing.T) {
	b := New(16)
	sub := b.Subscribe()
	defer sub.Close()

	for i := 0; i < 5; i++ {
		b.Publish(Event{Kind: UpdateProgress, DeviceID: "dev-1", Payload: i})
	}

	for i := 0; i < 5; i++ {
		env := sub.Next()
		require.False(t, env.Lagged)
		require.Equal(t, i, env.Event.Payload)
	}
}

func TestDropOldestSetsLaggedOnce(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()
	defer sub.Close()

	for i := 0; i < 10; i++ {
		b.Publish(Event{Kind: UpdateProgress, DeviceID: "dev-1", Payload: i})
	}

	var envs []Envelope
	for i := 0; i < 4; i++ {
		envs = append(envs, sub.Next())
	}

	require.True(t, envs[0].Lagged)
	for _, e := range envs[1:] {
		require.False(t, e.Lagged)
	}

	last := 0
	for _, e := range envs {
		payload := e.Event.Payload.(int)
		require.GreaterOrEqual(t, payload, last)
		last = payload
	}
}

func TestMultipleSubscribersEachGetEveryEvent(t *testing.T) {
	b := New(16)
	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	defer sub1.Close()
	defer sub2.Close()

	b.Publish(Event{Kind: Connected, DeviceID: "dev-1"})

	e1 := sub1.Next()
	e2 := sub2.Next()
	require.Equal(t, Connected, e1.Event.Kind)
	require.Equal(t, Connected, e2.Event.Kind)
}

func TestClosedSubscriberStopsReceiving(t *testing.T) {
	b := New(16)
	sub := b.Subscribe()
	sub.Close()

	b.Publish(Event{Kind: Connected, DeviceID: "dev-1"})
	_, ok := sub.TryNext()
	require.False(t, ok)
}
