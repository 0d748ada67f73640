package source

import (
	"bytes"
	"encoding/json"
)

// Record is one validated data row: header field names paired with cell
// values, in header order.
//
// When the header repeats a field name, lookups and [Record.Map] resolve to
// the last value for that name while the name keeps its first position.
type Record struct {
	fields []string
	values []string
}

// NewRecord pairs fields with values by position. Both slices must have the
// same length.
func NewRecord(fields, values []string) Record {
	return Record{fields: fields, values: values}
}

// Len returns the number of cells.
func (r Record) Len() int {
	return len(r.values)
}

// Fields returns the header names in order.
func (r Record) Fields() []string {
	out := make([]string, len(r.fields))
	copy(out, r.fields)
	return out
}

// Values returns the cell values in order.
func (r Record) Values() []string {
	out := make([]string, len(r.values))
	copy(out, r.values)
	return out
}

// Get returns the value for field name.
func (r Record) Get(name string) (string, bool) {
	for i := len(r.fields) - 1; i >= 0; i-- {
		if r.fields[i] == name {
			return r.values[i], true
		}
	}
	return "", false
}

// Map returns the record as an unordered map.
func (r Record) Map() map[string]string {
	m := make(map[string]string, len(r.fields))
	for i, f := range r.fields {
		m[f] = r.values[i]
	}
	return m
}

// MarshalJSON encodes the record as a JSON object with keys in header order.
func (r Record) MarshalJSON() ([]byte, error) {
	m := r.Map()
	seen := make(map[string]bool, len(r.fields))

	var buf bytes.Buffer
	buf.WriteByte('{')
	for _, f := range r.fields {
		if seen[f] {
			continue
		}
		if len(seen) > 0 {
			buf.WriteByte(',')
		}
		seen[f] = true

		key, err := json.Marshal(f)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(m[f])
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
