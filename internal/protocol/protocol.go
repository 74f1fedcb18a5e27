// Package protocol defines the messages exchanged with the browser
// extension.
//
// Every message is a flat JSON object whose "type" member selects its
// meaning. Inbound types form a closed set ([KnownTypes]); anything else is
// answered with an error message.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strconv"
)

// MessageType is the value of the "type" member.
type MessageType string

// Inbound message types.
const (
	TypeInit          MessageType = "init"
	TypeTranscribe    MessageType = "transcribe"
	TypeReset         MessageType = "reset"
	TypePing          MessageType = "ping"
	TypeShutdown      MessageType = "shutdown"
	TypeInitPatterns  MessageType = "init_patterns"
	TypeLearnPattern  MessageType = "learn_pattern"
	TypeDetect        MessageType = "detect"
	TypeResetPatterns MessageType = "reset_patterns"
)

// Outbound message types.
const (
	TypeReady          MessageType = "ready"
	TypeTranscribeAck  MessageType = "transcribe_ack"
	TypeTranscription  MessageType = "transcription"
	TypeResetComplete  MessageType = "reset_complete"
	TypePong           MessageType = "pong"
	TypePatternsReady  MessageType = "patterns_ready"
	TypePatternLearned MessageType = "pattern_learned"
	TypeDetections     MessageType = "detections"
	TypePatternsReset  MessageType = "patterns_reset"
	TypeError          MessageType = "error"
)

// KnownTypes lists every inbound type the host handles.
var KnownTypes = []MessageType{
	TypeInit,
	TypeTranscribe,
	TypeReset,
	TypePing,
	TypeShutdown,
	TypeInitPatterns,
	TypeLearnPattern,
	TypeDetect,
	TypeResetPatterns,
}

// Known reports whether t is an inbound type the host handles.
func (t MessageType) Known() bool {
	for _, k := range KnownTypes {
		if t == k {
			return true
		}
	}
	return false
}

// ErrNotObject is returned when decoding a payload that is not a JSON object.
var ErrNotObject = errors.New("protocol: message is not an object")

// Envelope is one message. Fields never contains "type"; [New], [Envelope.With]
// and [Envelope.MarshalJSON] refuse one.
type Envelope struct {
	Type   MessageType
	Fields map[string]any
}

// New builds an envelope from alternating key/value pairs.
func New(t MessageType, kv ...any) Envelope {
	e := Envelope{Type: t, Fields: make(map[string]any, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("protocol: key %v is not a string", kv[i]))
		}
		mustNotBeType(k)
		e.Fields[k] = kv[i+1]
	}
	return e
}

// Error builds an error message.
func Error(msg string, kv ...any) Envelope {
	e := New(TypeError, kv...)
	e.Fields["message"] = msg
	return e
}

// With returns a copy of e with key set to v.
func (e Envelope) With(key string, v any) Envelope {
	mustNotBeType(key)
	out := Envelope{Type: e.Type, Fields: make(map[string]any, len(e.Fields)+1)}
	maps.Copy(out.Fields, e.Fields)
	out.Fields[key] = v
	return out
}

func mustNotBeType(key string) {
	if key == "type" {
		panic("protocol: \"type\" is reserved for the message type")
	}
}

// MarshalJSON encodes e as a flat object.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if _, ok := e.Fields["type"]; ok {
		return nil, fmt.Errorf("protocol: %s message carries a \"type\" field", e.Type)
	}
	m := make(map[string]any, len(e.Fields)+1)
	maps.Copy(m, e.Fields)
	m["type"] = e.Type
	return json.Marshal(m)
}

// UnmarshalJSON decodes a flat object. Numbers are kept as json.Number so
// they re-encode unchanged. A missing or null "type" decodes as the empty
// type and any other non-string value as its JSON text, so the dispatcher
// answers it like any unknown type.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return err
	}
	if m == nil {
		return ErrNotObject
	}
	var t MessageType
	switch v := m["type"].(type) {
	case nil:
	case string:
		t = MessageType(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		t = MessageType(raw)
	}
	delete(m, "type")
	e.Type, e.Fields = t, m
	return nil
}

// Has reports whether key is present and not null.
func (e Envelope) Has(key string) bool {
	v, ok := e.Fields[key]
	return ok && v != nil
}

// String returns the string field key, or def when absent or not a string.
func (e Envelope) String(key, def string) string {
	if s, ok := e.Fields[key].(string); ok {
		return s
	}
	return def
}

// Float returns the numeric field key, or def when absent. Numeric strings
// are accepted.
func (e Envelope) Float(key string, def float64) float64 {
	switch v := e.Fields[key].(type) {
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// ChunkID returns the chunkId field, accepting numeric ids.
func (e Envelope) ChunkID() string {
	switch v := e.Fields["chunkId"].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// Raw re-encodes field key as JSON. It returns nil when the field is absent.
func (e Envelope) Raw(key string) (json.RawMessage, error) {
	v, ok := e.Fields[key]
	if !ok || v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
