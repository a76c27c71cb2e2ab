// Package events defines the lifecycle messages broadcast to observers and a
// best-effort in-process fan-out hub.
package events

import (
	"encoding/json"
	"maps"
)

// Event types.
const (
	TypePacketReceived = "packet_received"
	TypeStateChanged   = "state_changed"
	TypeAICompleted    = "ai_completed"
	TypeAIFailed       = "ai_failed"
)

// Event is one lifecycle message. It encodes as a flat JSON object:
// {"event": Type, "call_id": CallID, <Data fields>}.
type Event struct {
	Type   string
	CallID string
	Data   map[string]any
}

// MarshalJSON flattens Data next to the event and call_id keys.
func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Data)+2)
	maps.Copy(out, e.Data)
	out["event"] = e.Type
	out["call_id"] = e.CallID
	return json.Marshal(out)
}

// Publisher accepts events for fan-out. Publish must not block.
type Publisher interface {
	Publish(evt Event)
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(Event) {}

// PacketReceived reports a stored packet.
func PacketReceived(callID string, sequence, totalReceived int, missing []int) Event {
	if missing == nil {
		missing = []int{}
	}
	return Event{
		Type:   TypePacketReceived,
		CallID: callID,
		Data: map[string]any{
			"sequence":          sequence,
			"total_received":    totalReceived,
			"missing_sequences": missing,
		},
	}
}

// StateChanged reports a committed lifecycle transition.
func StateChanged(callID, from, to string) Event {
	return Event{
		Type:   TypeStateChanged,
		CallID: callID,
		Data: map[string]any{
			"from_state": from,
			"to_state":   to,
		},
	}
}

// AICompleted reports a successful enrichment.
func AICompleted(callID, transcription, sentiment string) Event {
	return Event{
		Type:   TypeAICompleted,
		CallID: callID,
		Data: map[string]any{
			"transcription": transcription,
			"sentiment":     sentiment,
		},
	}
}

// AIFailed reports that enrichment gave up.
func AIFailed(callID, reason string) Event {
	return Event{
		Type:   TypeAIFailed,
		CallID: callID,
		Data: map[string]any{
			"reason": reason,
		},
	}
}

// String returns Data[key] as a string, or "" when absent.
func (e Event) String(key string) string {
	s, _ := e.Data[key].(string)
	return s
}
