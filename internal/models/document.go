// Package models defines core data structures for documents, queries, search results, and routing decisions.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Document represents a stored document with its embedding.
// A document is immutable once stored; updates replace it wholesale.
type Document struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Metadata  Metadata  `json:"metadata"`
	Vector    []float32 `json:"vector,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DocumentInput is the input for ingesting a document.
type DocumentInput struct {
	ID       string   `json:"id,omitempty"`
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata,omitempty"`
}

// Field is a single metadata entry. Value holds a string, float64, int64, or bool.
type Field struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Metadata is an ordered list of scalar fields. Insertion order is preserved
// through storage and JSON encoding.
type Metadata []Field

// Get returns the value stored under key.
func (m Metadata) Get(key string) (any, bool) {
	for _, f := range m {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// String returns the value under key if it is a string.
func (m Metadata) String(key string) string {
	v, ok := m.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Set replaces the value under key, or appends it when absent.
func (m Metadata) Set(key string, value any) Metadata {
	for i := range m {
		if m[i].Key == key {
			m[i].Value = value
			return m
		}
	}
	return append(m, Field{Key: key, Value: value})
}

// Validate checks that keys are unique and non-empty and that values are scalars.
func (m Metadata) Validate() error {
	seen := make(map[string]struct{}, len(m))
	for _, f := range m {
		if f.Key == "" {
			return fmt.Errorf("%w: empty metadata key", ErrInvalidInput)
		}
		if _, dup := seen[f.Key]; dup {
			return fmt.Errorf("%w: duplicate metadata key %q", ErrInvalidInput, f.Key)
		}
		seen[f.Key] = struct{}{}
		switch f.Value.(type) {
		case string, float64, int64, bool:
		default:
			return fmt.Errorf("%w: metadata %q has non-scalar value %T", ErrInvalidInput, f.Key, f.Value)
		}
	}
	return nil
}

// Metadata value type tags written alongside each value.
const (
	TypeString = "string"
	TypeInt    = "int"
	TypeFloat  = "float"
	TypeBool   = "bool"
)

type fieldJSON struct {
	Key   string          `json:"key"`
	Type  string          `json:"type,omitempty"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes a field with a type tag so whole-number floats stay floats.
func (f Field) MarshalJSON() ([]byte, error) {
	value, err := json.Marshal(f.Value)
	if err != nil {
		return nil, fmt.Errorf("metadata %q: %w", f.Key, err)
	}
	out := fieldJSON{Key: f.Key, Value: value}
	switch f.Value.(type) {
	case string:
		out.Type = TypeString
	case int64:
		out.Type = TypeInt
	case float64:
		out.Type = TypeFloat
	case bool:
		out.Type = TypeBool
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a field. Without a type tag, integral JSON numbers become int64.
func (f *Field) UnmarshalJSON(data []byte) error {
	var raw fieldJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw.Value))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("metadata %q: %w", raw.Key, err)
	}
	v, err := typedValue(raw.Type, v)
	if err != nil {
		return fmt.Errorf("metadata %q: %w", raw.Key, err)
	}
	f.Key = raw.Key
	f.Value = v
	return nil
}

func typedValue(tag string, v any) (any, error) {
	n, isNumber := v.(json.Number)
	switch tag {
	case "":
		if !isNumber {
			return v, nil
		}
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		if fl, err := n.Float64(); err == nil {
			return fl, nil
		}
		return nil, fmt.Errorf("invalid number %s", n)
	case TypeInt:
		if !isNumber {
			return nil, fmt.Errorf("%w: %v is not an int", ErrInvalidInput, v)
		}
		return n.Int64()
	case TypeFloat:
		if !isNumber {
			return nil, fmt.Errorf("%w: %v is not a float", ErrInvalidInput, v)
		}
		return n.Float64()
	case TypeString:
		if _, ok := v.(string); !ok {
			return nil, fmt.Errorf("%w: %v is not a string", ErrInvalidInput, v)
		}
		return v, nil
	case TypeBool:
		if _, ok := v.(bool); !ok {
			return nil, fmt.Errorf("%w: %v is not a bool", ErrInvalidInput, v)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidInput, tag)
	}
}
