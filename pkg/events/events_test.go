package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, sub Subscriber) *Event {
	t.Helper()

	select {
	case e := <-sub:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	a := broker.Subscribe()
	b := broker.Subscribe()
	defer broker.Unsubscribe(a)
	defer broker.Unsubscribe(b)

	broker.Publish(&Event{
		Type:     EventTaskAssigned,
		Message:  "task assigned",
		Metadata: map[string]string{"task_id": "t1"},
	})

	for _, sub := range []Subscriber{a, b} {
		e := recv(t, sub)
		assert.Equal(t, EventTaskAssigned, e.Type)
		assert.Equal(t, "t1", e.Metadata["task_id"])
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	require.Equal(t, 1, broker.SubscriberCount())

	broker.Unsubscribe(sub)
	assert.Equal(t, 0, broker.SubscriberCount())
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	// Never read from sub; publishing far past its buffer must not
	// deadlock.
	for i := 0; i < 200; i++ {
		broker.Publish(&Event{Type: EventAgentStale, Message: "stale"})
	}
}
