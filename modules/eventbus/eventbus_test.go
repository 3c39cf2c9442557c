package eventbus_test

import (
	"testing"

	"github.com/e7canasta/orion-keypad/modules/eventbus"
)

func TestDropRate(t *testing.T) {
	stats := eventbus.BusStats{
		TotalSent:    3,
		TotalDropped: 1,
		Subscribers: map[string]eventbus.SubscriberStats{
			"mqtt": {Sent: 3, Dropped: 1},
			"log":  {},
		},
	}

	if got := eventbus.DropRate(stats); got != 0.25 {
		t.Errorf("DropRate() = %v, want 0.25", got)
	}
	if got := eventbus.SubscriberDropRate(stats, "mqtt"); got != 0.25 {
		t.Errorf("SubscriberDropRate(mqtt) = %v, want 0.25", got)
	}
	if got := eventbus.SubscriberDropRate(stats, "log"); got != 0 {
		t.Errorf("SubscriberDropRate(log) = %v, want 0", got)
	}
	if got := eventbus.SubscriberDropRate(stats, "missing"); got != 0 {
		t.Errorf("SubscriberDropRate(missing) = %v, want 0", got)
	}
	if got := eventbus.DropRate(eventbus.BusStats{}); got != 0 {
		t.Errorf("DropRate(empty) = %v, want 0", got)
	}
}
