package structured

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Field is one key/value pair in parse order.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Fields is an insertion-ordered string map. Setting an existing key replaces
// its value in place.
type Fields []Field

// Set stores value under key.
func (f *Fields) Set(key, value string) {
	for i := range *f {
		if (*f)[i].Key == key {
			(*f)[i].Value = value
			return
		}
	}
	*f = append(*f, Field{Key: key, Value: value})
}

// Get returns the value for key.
func (f Fields) Get(key string) (string, bool) {
	for _, field := range f {
		if field.Key == key {
			return field.Value, true
		}
	}
	return "", false
}

// Keys returns the keys in order.
func (f Fields) Keys() []string {
	keys := make([]string, len(f))
	for i, field := range f {
		keys[i] = field.Key
	}
	return keys
}

// Map returns an unordered copy.
func (f Fields) Map() map[string]string {
	m := make(map[string]string, len(f))
	for _, field := range f {
		m[field.Key] = field.Value
	}
	return m
}

// MarshalJSON encodes Fields as a JSON object, keeping key order.
func (f Fields) MarshalJSON() ([]byte, error) {
	if f == nil {
		return []byte("{}"), nil
	}
	buf := []byte{'{'}
	for i, field := range f {
		if i > 0 {
			buf = append(buf, ',')
		}
		k, err := json.Marshal(field.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(field.Value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, k...)
		buf = append(buf, ':')
		buf = append(buf, v...)
	}
	return append(buf, '}'), nil
}

// UnmarshalJSON decodes a JSON object into Fields in document order.
func (f *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*f = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("structured: fields must be a JSON object")
	}

	out := Fields{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("structured: field %q: %w", key, err)
		}
		out.Set(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*f = out
	return nil
}

// TableKind distinguishes the two table grammars.
type TableKind string

const (
	TableFlat    TableKind = "flat"
	TableRecords TableKind = "records"
)

// Record is one entry of a record-variant table.
type Record struct {
	UpdatedAt string `json:"updatedAt,omitempty"`
	Fields    Fields `json:"fields"`
}

// Table is a named table section. Flat tables carry Columns and Rows; record
// tables carry Records.
type Table struct {
	Name    string              `json:"name"`
	Kind    TableKind           `json:"kind"`
	Columns []string            `json:"columns,omitempty"`
	Rows    []map[string]string `json:"rows,omitempty"`
	Records []Record            `json:"records,omitempty"`
}

// Info is the structured projection of one message.
type Info struct {
	Basic    Fields   `json:"basic"`
	Tables   []Table  `json:"tables"`
	Archives []string `json:"archives"`
}

// Empty reports whether nothing was extracted.
func (i *Info) Empty() bool {
	return i == nil || (len(i.Basic) == 0 && len(i.Tables) == 0 && len(i.Archives) == 0)
}
