// Package telemetry implements the engine's event bus: an ordered, in-memory
// log of everything the engine does, fanned out synchronously to read-only
// plugin subscribers. See the event type constants in internal/ports/events.go
// for the full taxonomy.
package telemetry

import (
	"time"

	"github.com/google/uuid"

	"github.com/agentdag/agentdag/internal/ports"
)

// Event is one immutable, timestamped observation. Payload is deep-copied
// before it is handed to Bus.Publish and again before each subscriber
// receives it, so no subscriber can observe or mutate engine state.
type Event struct {
	ID        string
	Type      string
	Timestamp time.Time
	TaskID    string
	NodeID    string
	Data      map[string]interface{}
}

// NewEvent stamps a fresh id and UTC timestamp.
func NewEvent(eventType, taskID, nodeID string, payload map[string]interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		TaskID:    taskID,
		NodeID:    nodeID,
		Data:      deepCopyPayload(payload),
	}
}

// EventType implements ports.DomainEvent.
func (e Event) EventType() string { return e.Type }

// Payload implements ports.DomainEvent. It returns a fresh copy on every
// call so callers (including subscribers) can never mutate the original.
func (e Event) Payload() interface{} { return deepCopyPayload(e.Data) }

var _ ports.DomainEvent = Event{}

func deepCopyPayload(src map[string]interface{}) map[string]interface{} {
	if src == nil {
		return nil
	}
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = deepCopyValue(v)
	}
	return dst
}

func deepCopyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return deepCopyPayload(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return val
	}
}
