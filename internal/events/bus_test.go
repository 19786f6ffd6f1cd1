package events

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestEmitDispatchesInFIFOOrder(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var order []int
	bus.Subscribe(TradeExecuted, func(EventData) { order = append(order, 1) })
	bus.Subscribe(TradeExecuted, func(EventData) { order = append(order, 2) })
	bus.Subscribe(TradeExecuted, func(EventData) { order = append(order, 3) })

	bus.Emit(TradeExecuted, &TradeExecutedData{Symbol: "AAPL.US"})

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestSubscriberPanicDoesNotFailProducer(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	called := false
	bus.Subscribe(ErrorOccurred, func(EventData) { panic("boom") })
	bus.Subscribe(ErrorOccurred, func(EventData) { called = true })

	assert.NotPanics(t, func() {
		bus.Emit(ErrorOccurred, &ErrorData{Message: "BROKER DOWN"})
	})
	assert.True(t, called, "later subscribers still run after a panic")
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	count := 0
	token := bus.Subscribe(SyncComplete, func(EventData) { count++ })
	bus.Emit(SyncComplete, &GenericData{Type: SyncComplete})
	bus.Unsubscribe(SyncComplete, token)
	bus.Emit(SyncComplete, &GenericData{Type: SyncComplete})

	assert.Equal(t, 1, count)
}

func TestClearAll(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	count := 0
	bus.Subscribe(SyncStart, func(EventData) { count++ })
	bus.ClearAll()
	bus.Emit(SyncStart, &GenericData{Type: SyncStart})

	assert.Zero(t, count)
}
