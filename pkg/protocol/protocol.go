package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// ErrDecode is returned for any line that is not a single UTF-8 JSON object
var ErrDecode = errors.New("protocol: decode error")

// Message is one JSON-line API message as exchanged with a JS8Call client.
// Field order matches what JS8Call emits: params, type, value.
type Message struct {
	Params map[string]interface{} `json:"params"`
	Type   string                 `json:"type"`
	Value  interface{}            `json:"value"`
}

// Param returns a request parameter and whether it was present
func (m Message) Param(key string) (interface{}, bool) {
	if m.Params == nil {
		return nil, false
	}
	v, ok := m.Params[key]
	return v, ok
}

// ID returns the correlation token of a request, nil when absent
func (m Message) ID() interface{} {
	id, _ := m.Param(ParamID)
	return id
}

// Decode parses one line (without its terminator) into a Message.
// Numbers are kept as json.Number so correlation tokens echo verbatim.
func Decode(line []byte) (Message, error) {
	if !utf8.Valid(line) {
		return Message{}, fmt.Errorf("%w: invalid UTF-8", ErrDecode)
	}

	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return Message{}, fmt.Errorf("%w: invalid JSON: %v", ErrDecode, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Message{}, fmt.Errorf("%w: trailing data after JSON value", ErrDecode)
	}

	obj, ok := raw.(map[string]interface{})
	if !ok {
		return Message{}, fmt.Errorf("%w: JSON message must be an object", ErrDecode)
	}

	msg := Message{Value: obj["value"]}
	if t, ok := obj["type"].(string); ok {
		msg.Type = t
	}
	if p, ok := obj["params"].(map[string]interface{}); ok {
		msg.Params = p
	}
	return msg, nil
}

// Encode serializes a message as compact JSON followed by a single newline.
// Non-ASCII text is written as raw UTF-8 and HTML characters are not escaped.
func Encode(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeTo(&buf, msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeTo appends the encoded line for msg to buf
func EncodeTo(buf *bytes.Buffer, msg Message) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(msg); err != nil {
		return fmt.Errorf("failed to encode %s: %w", msg.Type, err)
	}
	return nil
}

// Fragment splits text into pieces of at most size characters, in order and
// without padding. A size of zero or less yields the whole text as one piece;
// an empty text yields no pieces.
func Fragment(text string, size int) []string {
	if size <= 0 {
		return []string{text}
	}

	fragments := []string{}
	count := 0
	start := 0
	for i := range text {
		if count == size {
			fragments = append(fragments, text[start:i])
			start = i
			count = 0
		}
		count++
	}
	if start < len(text) {
		fragments = append(fragments, text[start:])
	}
	return fragments
}

// Message types understood or produced by the emulator
const (
	TypeGetCallsign   = "STATION.GET_CALLSIGN"
	TypeCallsign      = "STATION.CALLSIGN"
	TypeStationStatus = "STATION.STATUS"
	TypeGetFreq       = "RIG.GET_FREQ"
	TypeSetFreq       = "RIG.SET_FREQ"
	TypeFreq          = "RIG.FREQ"
	TypeSendMessage   = "TX.SEND_MESSAGE"
	TypeRXActivity    = "RX.ACTIVITY"
	TypeRXDirected    = "RX.DIRECTED"
	TypeRXSpot        = "RX.SPOT"
)

// Parameter names
const (
	ParamID       = "_ID"
	ParamDial     = "DIAL"
	ParamFreq     = "FREQ"
	ParamOffset   = "OFFSET"
	ParamSelected = "SELECTED"
	ParamSpeed    = "SPEED"
	ParamSNR      = "SNR"
	ParamTDrift   = "TDRIFT"
	ParamUTC      = "UTC"
	ParamCmd      = "CMD"
	ParamExtra    = "EXTRA"
	ParamFrom     = "FROM"
	ParamTo       = "TO"
	ParamGrid     = "GRID"
	ParamText     = "TEXT"
	ParamCall     = "CALL"
)
