package emitter

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/orion-keypad/internal/config"
	"github.com/e7canasta/orion-keypad/modules/eventbus"
	"github.com/e7canasta/orion-keypad/modules/matrixkeypad"
)

func sampleEvent() eventbus.Event {
	return eventbus.Event{
		Key: matrixkeypad.Event{
			Row: 2, Col: 1, Symbol: '8', HasSymbol: true, Pressed: true, Seq: 42,
		},
		Source: "door-panel",
		ReadAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNewEventMessage(t *testing.T) {
	msg := NewEventMessage(sampleEvent())

	if msg.TraceID == "" {
		t.Error("empty trace id")
	}
	if msg.Symbol != "8" || msg.Row != 2 || msg.Col != 1 || msg.Seq != 42 || !msg.Pressed {
		t.Errorf("message = %+v", msg)
	}
	if msg.Instance != "door-panel" {
		t.Errorf("Instance = %q", msg.Instance)
	}

	ev := sampleEvent()
	ev.Key.HasSymbol = false
	if got := NewEventMessage(ev).Symbol; got != "" {
		t.Errorf("Symbol without keymap = %q, want empty", got)
	}
}

func TestEncode_JSONFieldNames(t *testing.T) {
	payload, err := Encode(NewEventMessage(sampleEvent()), "json")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	for _, key := range []string{"trace_id", "timestamp", "instance_id", "seq", "row", "col", "symbol", "pressed"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("missing field %q in %s", key, payload)
		}
	}
}

func TestEncode_Msgpack(t *testing.T) {
	payload, err := Encode(NewEventMessage(sampleEvent()), "msgpack")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var fields map[string]any
	if err := msgpack.Unmarshal(payload, &fields); err != nil {
		t.Fatalf("payload is not msgpack: %v", err)
	}
	if fields["symbol"] != "8" {
		t.Errorf("symbol = %v, want \"8\"", fields["symbol"])
	}
}

func TestEncode_Unknown(t *testing.T) {
	if _, err := Encode(struct{}{}, "xml"); err == nil {
		t.Error("Encode(xml) succeeded")
	}
}

func TestBrokerURL(t *testing.T) {
	tests := map[string]string{
		"localhost:1883":        "tcp://localhost:1883",
		"tcp://broker:1883":     "tcp://broker:1883",
		"ssl://broker:8883":     "ssl://broker:8883",
		"ws://broker:9001/mqtt": "ws://broker:9001/mqtt",
	}
	for in, want := range tests {
		if got := BrokerURL(in); got != want {
			t.Errorf("BrokerURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPublish_NotConnectedCountsError(t *testing.T) {
	cfg, err := config.Parse([]byte("lines: {driver: sim, row_gpios: ['0'], col_gpios: ['1']}"), "yaml")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	e := NewMQTTEmitter(cfg)

	if err := e.Publish(sampleEvent()); err == nil {
		t.Error("Publish while disconnected succeeded")
	}
	if got := e.Stats().Errors; got != 1 {
		t.Errorf("Errors = %d, want 1", got)
	}
}

func TestRun_StopsOnClosedChannel(t *testing.T) {
	cfg, _ := config.Parse([]byte("lines: {driver: sim, row_gpios: ['0'], col_gpios: ['1']}"), "yaml")
	e := NewMQTTEmitter(cfg)

	ch := make(chan eventbus.Event, 1)
	ch <- sampleEvent()
	close(ch)

	done := make(chan struct{})
	go func() {
		e.Run(context.Background(), ch)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return on closed channel")
	}
	if got := e.Stats().Errors; got != 1 {
		t.Errorf("Errors = %d, want 1 (disconnected publish)", got)
	}
}
