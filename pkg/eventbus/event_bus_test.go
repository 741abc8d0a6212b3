package eventbus

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

type orderShipped struct {
	ID int
}

func TestPublishDeliversToMatchingSubscribers(t *testing.T) {
	bus := NewEventPublisher(logrus.New())

	var got []int
	bus.Subscribe(func(e orderShipped) {
		got = append(got, e.ID)
	})
	bus.Subscribe(func(other string) {
		t.Fatal("handler with non-matching signature must not fire")
	})

	bus.Publish(orderShipped{ID: 1})
	bus.Publish(orderShipped{ID: 2})

	assert.Equal(t, []int{1, 2}, got)
}

func TestPanickingHandlerIsIsolated(t *testing.T) {
	bus := NewEventPublisher(logrus.New())

	fired := false
	bus.Subscribe(func(e orderShipped) {
		panic("boom")
	})
	bus.Subscribe(func(e orderShipped) {
		fired = true
	})

	assert.NotPanics(t, func() {
		bus.Publish(orderShipped{ID: 1})
	})
	assert.True(t, fired)
}

func TestUnsubscribeAndClear(t *testing.T) {
	bus := NewEventPublisher(logrus.New())

	handler := func(e orderShipped) {}
	bus.Subscribe(handler)
	assert.Equal(t, 1, bus.SubscribersCount())

	bus.Unsubscribe(handler)
	assert.Equal(t, 0, bus.SubscribersCount())

	bus.Subscribe(handler)
	bus.Clear()
	assert.Equal(t, 0, bus.SubscribersCount())
}
