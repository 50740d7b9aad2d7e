package activity

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Kind identifies which variant a Value holds
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is a parsed JSON document. Exactly one of the payload fields is
// meaningful, selected by kind. The zero Value is null.
type Value struct {
	obj  map[string]Value
	str  string
	num  json.Number
	arr  []Value
	kind Kind
	b    bool
}

// ErrTrailingData is returned when a document has bytes after its first value
var ErrTrailingData = errors.New("unexpected data after top-level value")

// Parse decodes raw JSON into a Value
func Parse(raw []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return Value{}, fmt.Errorf("decode json: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Value{}, ErrTrailingData
	}

	return fromAny(doc), nil
}

func fromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Value{}
	case bool:
		return Value{kind: KindBool, b: t}
	case json.Number:
		return Value{kind: KindNumber, num: t}
	case string:
		return Value{kind: KindString, str: t}
	case []any:
		arr := make([]Value, len(t))
		for i, e := range t {
			arr[i] = fromAny(e)
		}
		return Value{kind: KindArray, arr: arr}
	case map[string]any:
		obj := make(map[string]Value, len(t))
		for k, e := range t {
			obj[k] = fromAny(e)
		}
		return Value{kind: KindObject, obj: obj}
	default:
		return Value{}
	}
}

// String builds a string Value
func String(s string) Value { return Value{kind: KindString, str: s} }

// Object builds an object Value from its members
func Object(members map[string]Value) Value {
	if members == nil {
		members = map[string]Value{}
	}
	return Value{kind: KindObject, obj: members}
}

// Array builds an array Value
func Array(elems ...Value) Value { return Value{kind: KindArray, arr: elems} }

func (v Value) Kind() Kind { return v.kind }

// Str returns the string payload when v is a string
func (v Value) Str() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// Scalar returns the textual form of a string, number or bool Value
func (v Value) Scalar() (string, bool) {
	switch v.kind {
	case KindString:
		return v.str, true
	case KindNumber:
		return v.num.String(), true
	case KindBool:
		if v.b {
			return "true", true
		}
		return "false", true
	default:
		return "", false
	}
}

// Field returns the named member of an object Value. Missing members and
// non-object receivers report false.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	f, ok := v.obj[name]
	return f, ok
}

// Index returns the i-th element of an array Value
func (v Value) Index(i int) (Value, bool) {
	if v.kind != KindArray || i < 0 || i >= len(v.arr) {
		return Value{}, false
	}
	return v.arr[i], true
}

// Len reports the number of elements or members; zero for scalars
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.arr)
	case KindObject:
		return len(v.obj)
	default:
		return 0
	}
}
