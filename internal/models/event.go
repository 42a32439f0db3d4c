// Package models holds the track event handled by the enrichment pipeline.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"track-enricher/internal/common/errors"
)

const (
	fieldMessageID  = "messageId"
	fieldUserID     = "userId"
	fieldProperties = "properties"
	fieldContext    = "context"
	fieldTraits     = "traits"
)

// Event is a track event. Top-level fields other than messageId, properties
// and context are kept as raw JSON and written back unchanged.
type Event struct {
	// MessageID is read from the inbound event and never written back out.
	MessageID  string
	Properties Properties
	Context    map[string]interface{}

	fields map[string]json.RawMessage
}

// ParseEvent decodes a track event. Numbers are kept as json.Number so that
// values the pipeline does not touch are forwarded with their original text.
func ParseEvent(data []byte) (*Event, error) {
	evt := &Event{}
	if err := json.Unmarshal(data, evt); err != nil {
		if _, ok := errors.As(err); ok {
			return nil, err
		}
		return nil, errors.ValidationError(fmt.Sprintf("event is not valid JSON: %v", err))
	}
	return evt, nil
}

// UnmarshalJSON implements json.Unmarshaler
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.ValidationError(fmt.Sprintf("event is not a JSON object: %v", err))
	}
	if raw == nil {
		return errors.ValidationError("event is not a JSON object")
	}

	props, ok := raw[fieldProperties]
	if !ok || isNull(props) {
		return errors.ValidationError("event has no properties")
	}
	var properties map[string]interface{}
	if err := decodeNumbers(props, &properties); err != nil {
		return errors.ValidationError("event properties must be an object")
	}
	e.Properties = Properties(properties)
	delete(raw, fieldProperties)

	e.Context = nil
	if ctx, ok := raw[fieldContext]; ok && !isNull(ctx) {
		if err := decodeNumbers(ctx, &e.Context); err != nil {
			return errors.ValidationError("event context must be an object")
		}
	}
	delete(raw, fieldContext)

	e.MessageID = ""
	if id, ok := raw[fieldMessageID]; ok {
		var s string
		if json.Unmarshal(id, &s) == nil {
			e.MessageID = s
		} else {
			e.MessageID = string(id)
		}
	}
	delete(raw, fieldMessageID)

	if err := e.Properties.validateProducts(); err != nil {
		return err
	}

	e.fields = raw
	return nil
}

// MarshalJSON implements json.Marshaler. messageId is never emitted.
func (e *Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(e.fields)+2)
	for k, v := range e.fields {
		out[k] = v
	}
	if e.Properties != nil {
		out[fieldProperties] = map[string]interface{}(e.Properties)
	} else {
		out[fieldProperties] = map[string]interface{}{}
	}
	if e.Context != nil {
		out[fieldContext] = e.Context
	}
	return json.Marshal(out)
}

// UserID returns the actor id. It is empty when the field is absent, null
// or an empty string. Numeric ids are returned in their JSON text form.
func (e *Event) UserID() string {
	raw, ok := e.fields[fieldUserID]
	if !ok || isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// SetTraits stores profile traits at context.traits, creating the context
// when the event had none.
func (e *Event) SetTraits(traits map[string]interface{}) {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[fieldTraits] = traits
}

// Traits returns context.traits if it is an object.
func (e *Event) Traits() (map[string]interface{}, bool) {
	if e.Context == nil {
		return nil, false
	}
	traits, ok := e.Context[fieldTraits].(map[string]interface{})
	return traits, ok
}

func decodeNumbers(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
