// Package wire defines the JSON frames exchanged over the live connection
// and the records served by the REST directory.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

type Event string

const (
	EventJoin       Event = "join"
	EventSend       Event = "message"
	EventNewMessage Event = "new_message"
	EventSendError  Event = "error_sending_message"
	EventJoinError  Event = "error_joining_chat"
)

// Frame is one websocket text message: {"event": "...", "data": {...}}.
type Frame struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func NewFrame(event Event, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return Frame{Event: event, Data: data}, nil
}

func (f Frame) Decode(v any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%s frame has no payload", f.Event)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", f.Event, err)
	}
	return nil
}

// ID is an identifier the backend may send either as a JSON number or a string.
type ID string

func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(id))
}

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or a number: %w", err)
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}
