package client

import (
	"encoding/json"
	"fmt"
)

// ProfileDocument is the opaque company profile produced by a finished job.
// It is carried byte-for-byte and never interpreted.
type ProfileDocument = json.RawMessage

// EventKind classifies a stream event.
type EventKind string

const (
	KindProgress EventKind = "progress"
	KindComplete EventKind = "complete"
	KindError    EventKind = "error"
	// KindUnknown marks event types this client does not understand; they are skipped.
	KindUnknown EventKind = "unknown"
)

// StreamEvent is a parsed job stream message.
type StreamEvent struct {
	Kind    EventKind
	Type    string // raw wire event name
	Message string
	Profile ProfileDocument
}

// wireEvent is the JSON payload of one stream message.
type wireEvent struct {
	Event   string          `json:"event"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ParseStreamEvent decodes the data of one stream message.
// Malformed JSON returns an error; unrecognised event types return KindUnknown.
func ParseStreamEvent(data []byte) (StreamEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return StreamEvent{}, fmt.Errorf("unmarshal stream event: %w", err)
	}

	ev := StreamEvent{Type: w.Event, Message: w.Message}
	switch w.Event {
	case "start", "reading", "update":
		ev.Kind = KindProgress
	case "complete":
		ev.Kind = KindComplete
		ev.Profile = w.Data
	case "error":
		ev.Kind = KindError
		switch {
		case w.Error != "":
			ev.Message = w.Error
		case w.Message == "":
			ev.Message = "Job failed"
		}
	default:
		ev.Kind = KindUnknown
	}
	return ev, nil
}
