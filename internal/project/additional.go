package project

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// AdditionalData holds table columns that have no canonical field, keyed by
// the original header text. Insertion order is kept for display; equality and
// hashing ignore it.
type AdditionalData struct {
	keys   []string
	values map[string]string
}

// Set stores value under key. A repeated key keeps its first position.
func (d *AdditionalData) Set(key, value string) {
	if d.values == nil {
		d.values = make(map[string]string)
	}
	if _, exists := d.values[key]; !exists {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
}

// Get returns the value stored under key.
func (d AdditionalData) Get(key string) (string, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Len returns the number of entries.
func (d AdditionalData) Len() int {
	return len(d.keys)
}

// Keys returns the keys in insertion order.
func (d AdditionalData) Keys() []string {
	keys := make([]string, len(d.keys))
	copy(keys, d.keys)
	return keys
}

// Map returns the entries as a plain map. Nil when empty.
func (d AdditionalData) Map() map[string]string {
	if len(d.keys) == 0 {
		return nil
	}
	m := make(map[string]string, len(d.values))
	for k, v := range d.values {
		m[k] = v
	}
	return m
}

// Clone returns an independent copy.
func (d AdditionalData) Clone() AdditionalData {
	var c AdditionalData
	for _, k := range d.keys {
		c.Set(k, d.values[k])
	}
	return c
}

// MarshalJSON encodes the entries as a JSON object in insertion order.
func (d AdditionalData) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(d.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping the document's key order.
// Non-string values are kept as their raw JSON text.
func (d *AdditionalData) UnmarshalJSON(data []byte) error {
	*d = AdditionalData{}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decoding additional data: %w", err)
	}
	if tok == nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		// Older rows may hold an empty JSON array.
		if delim, ok := tok.(json.Delim); ok && delim == '[' {
			return nil
		}
		return fmt.Errorf("decoding additional data: expected object, got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decoding additional data key: %w", err)
		}
		key, _ := keyTok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("decoding additional data value for %q: %w", key, err)
		}

		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			s = string(raw)
		}
		d.Set(key, s)
	}
	return nil
}
