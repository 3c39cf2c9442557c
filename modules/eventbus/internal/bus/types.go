package bus

import (
	"context"
	"errors"
	"time"

	"github.com/e7canasta/orion-keypad/modules/matrixkeypad"
)

// Internal errors - mapped to public errors in eventbus package
var (
	ErrBusClosed          = errors.New("eventbus: bus is closed")
	ErrSubscriberExists   = errors.New("eventbus: subscriber already exists")
	ErrSubscriberNotFound = errors.New("eventbus: subscriber not found")
	ErrNilChannel         = errors.New("eventbus: nil channel provided")
	ErrReceiverClosed     = errors.New("eventbus: receiver is closed")
)

// DropPolicy defines how the bus handles events when a subscriber cannot keep up
type DropPolicy int

const (
	DropNew DropPolicy = iota
	DropOld
)

// Event is one keypad event as read from a keypad's mailbox
type Event struct {
	Key    matrixkeypad.Event
	Source string    // keypad instance id
	ReadAt time.Time // when the consumer took it from the mailbox
}

// Receiver provides blocking/non-blocking access to the latest event
type Receiver interface {
	Receive(ctx context.Context) (Event, error)
	TryReceive() (Event, bool)
	Close()
}

// SubscriberStats tracks event distribution metrics
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

// BusStats is a snapshot of bus-wide and per-subscriber counters
type BusStats struct {
	TotalPublished uint64
	TotalSent      uint64
	TotalDropped   uint64
	Subscribers    map[string]SubscriberStats
}

// Bus distributes events to multiple subscribers
type Bus interface {
	Subscribe(id string, ch chan<- Event) error
	SubscribeLatest(id string) (Receiver, error)
	Publish(ev Event)
	Unsubscribe(id string) error
	Stats() BusStats
	Close()
}
