// Package eventbus fans keypad events out to multiple sinks without blocking.
//
// Core Philosophy: "Drop events, never queue."
//
// The daemon has exactly one mailbox reader per keypad. Everything downstream
// of it (MQTT emitter, log sink, simulator view) subscribes here, so a slow
// sink never delays the reader:
//   - DropNew: channel subscriber; event dropped when the channel is full
//   - DropOld: latest-only receiver; an unreceived event is replaced
//
// Usage:
//
//	bus := eventbus.New()
//	defer bus.Close()
//
//	ch := make(chan eventbus.Event, 8)
//	bus.Subscribe("mqtt", ch)
//
//	latest, _ := bus.SubscribeLatest("display")
//
//	bus.Publish(eventbus.Event{Key: ev, Source: "door-panel", ReadAt: time.Now()})
package eventbus

import "github.com/e7canasta/orion-keypad/modules/eventbus/internal/bus"

// New creates a new event bus
func New() Bus {
	return bus.New()
}

// DropRate returns the bus-wide drop rate (0.0 to 1.0).
func DropRate(stats BusStats) float64 {
	total := stats.TotalSent + stats.TotalDropped
	if total == 0 {
		return 0.0
	}
	return float64(stats.TotalDropped) / float64(total)
}

// SubscriberDropRate returns the drop rate of one subscriber, 0.0 if unknown.
func SubscriberDropRate(stats BusStats, id string) float64 {
	sub, exists := stats.Subscribers[id]
	if !exists {
		return 0.0
	}
	total := sub.Sent + sub.Dropped
	if total == 0 {
		return 0.0
	}
	return float64(sub.Dropped) / float64(total)
}
