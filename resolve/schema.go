// ABOUTME: Declarative field mapping tables and the generic multi-candidate resolver
// ABOUTME: Each entity kind maps canonical fields to upstream key candidates in priority order
package resolve

import (
	"fmt"
	"strings"
	"time"
)

// Schema maps canonical field names to the upstream keys that have carried
// that concept across API versions, in priority order.
type Schema struct {
	kind   string
	fields map[string][]string
}

// NewSchema starts an empty mapping table for an entity kind.
func NewSchema(kind string) *Schema {
	return &Schema{kind: kind, fields: make(map[string][]string)}
}

// Field registers candidate keys for a canonical field. Calling it again for
// the same field appends lower-priority candidates.
func (s *Schema) Field(name string, candidates ...string) *Schema {
	s.fields[name] = append(s.fields[name], candidates...)
	return s
}

// Kind returns the entity kind the schema describes.
func (s *Schema) Kind() string {
	return s.kind
}

// Candidates returns a copy of the keys registered for a field.
func (s *Schema) Candidates(name string) []string {
	return append([]string(nil), s.fields[name]...)
}

func (s *Schema) candidates(name string) []string {
	keys, ok := s.fields[name]
	if !ok {
		panic(fmt.Sprintf("resolve: %s schema has no field %q", s.kind, name))
	}
	return keys
}

// String returns the first non-empty string candidate for field.
func (s *Schema) String(r Record, field string) (string, bool) {
	return String(r, s.candidates(field)...)
}

// Number returns the first candidate for field that coerces to a number.
func (s *Schema) Number(r Record, field string) (float64, bool) {
	return Number(r, s.candidates(field)...)
}

// Time returns the first candidate for field that coerces to a timestamp.
func (s *Schema) Time(r Record, field string) (time.Time, bool) {
	return Time(r, s.candidates(field)...)
}

// Bool returns the first candidate for field that coerces to a boolean.
func (s *Schema) Bool(r Record, field string) (bool, bool) {
	return Bool(r, s.candidates(field)...)
}

// ID returns a stable external identifier for field.
func (s *Schema) ID(r Record, field string) (string, bool) {
	return ID(r, s.candidates(field)...)
}

// Object returns the first candidate for field that is a nested object.
func (s *Schema) Object(r Record, field string) (Record, bool) {
	return Object(r, s.candidates(field)...)
}

// Value returns the first candidate for field that holds a non-empty value.
func (s *Schema) Value(r Record, field string) (any, bool) {
	return Value(r, s.candidates(field)...)
}

// lookup is an exact key match; case variants belong in the mapping table.
func lookup(r Record, key string) (any, bool) {
	v, ok := r[key]
	return v, ok
}

// String returns the first candidate whose trimmed string value is non-empty.
func String(r Record, keys ...string) (string, bool) {
	for _, key := range keys {
		v, ok := lookup(r, key)
		if !ok {
			continue
		}
		if s, ok := ToString(v); ok {
			return s, true
		}
	}
	return "", false
}

// Number returns the first candidate that coerces to a number.
func Number(r Record, keys ...string) (float64, bool) {
	for _, key := range keys {
		v, ok := lookup(r, key)
		if !ok {
			continue
		}
		if f, ok := ToNumber(v); ok {
			return f, true
		}
	}
	return 0, false
}

// Time returns the first candidate that coerces to a timestamp.
func Time(r Record, keys ...string) (time.Time, bool) {
	for _, key := range keys {
		v, ok := lookup(r, key)
		if !ok {
			continue
		}
		if t, ok := ToTime(v); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// Bool returns the first candidate that coerces to a boolean.
func Bool(r Record, keys ...string) (bool, bool) {
	for _, key := range keys {
		v, ok := lookup(r, key)
		if !ok {
			continue
		}
		if b, ok := ToBool(v); ok {
			return b, true
		}
	}
	return false, false
}

// ID resolves an identifier. String candidates win; when none is present the
// candidates are tried again as numbers and stringified.
func ID(r Record, keys ...string) (string, bool) {
	if s, ok := String(r, keys...); ok {
		return s, true
	}
	if f, ok := Number(r, keys...); ok {
		return FormatNumber(f), true
	}
	return "", false
}

// Object returns the first candidate holding a nested object.
func Object(r Record, keys ...string) (Record, bool) {
	for _, key := range keys {
		v, ok := lookup(r, key)
		if !ok {
			continue
		}
		switch obj := v.(type) {
		case Record:
			if len(obj) > 0 {
				return obj, true
			}
		case map[string]any:
			if len(obj) > 0 {
				return Record(obj), true
			}
		}
	}
	return nil, false
}

// Value returns the first candidate holding anything other than null, an
// empty string, an empty list or an empty object.
func Value(r Record, keys ...string) (any, bool) {
	for _, key := range keys {
		v, ok := lookup(r, key)
		if !ok || isEmpty(v) {
			continue
		}
		return v, true
	}
	return nil, false
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	case Record:
		return len(x) == 0
	}
	return false
}
