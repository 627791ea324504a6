package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub Subscriber) *Event {
	t.Helper()
	select {
	case ev := <-sub:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	s1 := b.Subscribe()
	s2 := b.Subscribe()
	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(&Event{Type: EventHostDown, Message: "host-1 unreachable"})

	for _, sub := range []Subscriber{s1, s2} {
		ev := receive(t, sub)
		assert.Equal(t, EventHostDown, ev.Type)
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.Timestamp.IsZero())
	}

	b.Unsubscribe(s1)
	assert.Equal(t, 1, b.SubscriberCount())
}

func TestAlerterPublishes(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()
	sub := b.Subscribe()

	NewAlerter(b).Send(AlertHAError, "vm-1", "restart retries exhausted")

	ev := receive(t, sub)
	require.Equal(t, EventAlert, ev.Type)
	assert.Equal(t, "ha_error", ev.Metadata["kind"])
	assert.Equal(t, "vm-1", ev.Metadata["scope"])
	assert.Equal(t, "restart retries exhausted", ev.Message)
}

func TestAlerterWithoutBroker(t *testing.T) {
	assert.NotPanics(t, func() {
		NewAlerter(nil).Send(AlertHostDown, "host-1", "down")
	})
}
