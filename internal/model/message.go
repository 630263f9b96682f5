package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
)

// EndField is the only message key the relay interprets.
const EndField = "end"

// Message is a client payload: a JSON object relayed verbatim apart from
// the end flag. Numbers are kept as json.Number so they survive
// re-serialization without float rounding.
type Message map[string]any

// ParseMessage decodes raw into a Message. Anything other than a single
// JSON object (arrays, scalars, null, trailing data) yields an error
// wrapping ErrMalformedMessage.
func ParseMessage(raw []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedMessage)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after object", ErrMalformedMessage)
	}

	return msg, nil
}

// End reports whether the message carries a truthy end flag.
// Truthiness follows JavaScript rules since the field is set by browser
// clients: false, 0, NaN, "" and null are falsy, everything else is truthy.
func (m Message) End() bool {
	v, ok := m[EndField]
	if !ok {
		return false
	}
	return truthy(v)
}

// Marshal re-serializes the message as compact JSON without HTML escaping.
func (m Message) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]any(m)); err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case json.Number:
		f, err := strconv.ParseFloat(string(val), 64)
		if err != nil {
			// Out of float64 range, still a non-zero number.
			return true
		}
		return f != 0 && !math.IsNaN(f)
	case float64:
		return val != 0 && !math.IsNaN(val)
	default:
		// Objects and arrays, including empty ones.
		return true
	}
}
