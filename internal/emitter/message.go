package emitter

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/orion-keypad/modules/eventbus"
)

// EventMessage is the wire envelope for one keypad event
type EventMessage struct {
	TraceID   string    `json:"trace_id" msgpack:"trace_id"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
	Instance  string    `json:"instance_id" msgpack:"instance_id"`
	Seq       uint64    `json:"seq" msgpack:"seq"`
	Row       int       `json:"row" msgpack:"row"`
	Col       int       `json:"col" msgpack:"col"`
	Symbol    string    `json:"symbol,omitempty" msgpack:"symbol,omitempty"`
	Pressed   bool      `json:"pressed" msgpack:"pressed"`
}

// NewEventMessage builds the envelope for ev with a fresh trace id
func NewEventMessage(ev eventbus.Event) EventMessage {
	msg := EventMessage{
		TraceID:   uuid.NewString(),
		Timestamp: ev.ReadAt.UTC(),
		Instance:  ev.Source,
		Seq:       ev.Key.Seq,
		Row:       ev.Key.Row,
		Col:       ev.Key.Col,
		Pressed:   ev.Key.Pressed,
	}
	if ev.Key.HasSymbol {
		msg.Symbol = string(ev.Key.Symbol)
	}
	return msg
}

// Encode serializes v as "json" or "msgpack"
func Encode(v any, encoding string) ([]byte, error) {
	switch encoding {
	case "json", "":
		return json.Marshal(v)
	case "msgpack":
		return msgpack.Marshal(v)
	default:
		return nil, fmt.Errorf("unknown encoding %q", encoding)
	}
}
