package eventbus

import "github.com/e7canasta/orion-keypad/modules/eventbus/internal/bus"

// Public API - Re-export internal types as stable contract

// DropPolicy defines how the bus handles events when a subscriber cannot keep up
type DropPolicy = bus.DropPolicy

const (
	// DropNew drops incoming events if the subscriber's channel is full
	DropNew = bus.DropNew
	// DropOld always accepts new events, replacing an unreceived one
	DropOld = bus.DropOld
)

// Event is one keypad event with its source and read time
type Event = bus.Event

// Receiver provides blocking/non-blocking access for DropOld subscribers
type Receiver = bus.Receiver

// SubscriberStats tracks event distribution metrics
type SubscriberStats = bus.SubscriberStats

// BusStats is a snapshot of bus counters
type BusStats = bus.BusStats

// Bus distributes events to multiple subscribers
type Bus = bus.Bus

// Public API errors
var (
	ErrBusClosed          = bus.ErrBusClosed
	ErrSubscriberExists   = bus.ErrSubscriberExists
	ErrSubscriberNotFound = bus.ErrSubscriberNotFound
	ErrNilChannel         = bus.ErrNilChannel
	ErrReceiverClosed     = bus.ErrReceiverClosed
)
