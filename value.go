package socketio

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// Kind identifies the variant held by a Value
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindBytes
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
	case KindBytes:
		return "bytes"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is one element of an event payload: null, bool, number, string,
// binary blob, array or object. The zero Value is null.
//
// Numbers keep their JSON text so that a decoded payload re-encodes to the
// same bytes.
type Value struct {
	kind Kind
	b    bool
	s    string // number text or string
	raw  []byte
	arr  []Value
	obj  map[string]Value
}

// Null returns the null value
func Null() Value { return Value{} }

// Bool returns a boolean value
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns an integer number value
func Int(i int64) Value { return Value{kind: KindNumber, s: strconv.FormatInt(i, 10)} }

// Uint returns an unsigned integer number value
func Uint(u uint64) Value { return Value{kind: KindNumber, s: strconv.FormatUint(u, 10)} }

// Float returns a number value. NaN and infinities encode as null, as they
// do in JavaScript.
func Float(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Null()
	}
	return Value{kind: KindNumber, s: strconv.FormatFloat(f, 'g', -1, 64)}
}

// String returns a string value
func String(s string) Value { return Value{kind: KindString, s: s} }

// Bytes returns a binary value. It is sent as an attachment.
func Bytes(b []byte) Value {
	if b == nil {
		b = []byte{}
	}
	return Value{kind: KindBytes, raw: b}
}

// Array returns an array value
func Array(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindArray, arr: items}
}

// Object returns an object value
func Object(fields map[string]Value) Value {
	if fields == nil {
		fields = map[string]Value{}
	}
	return Value{kind: KindObject, obj: fields}
}

func number(text string) Value { return Value{kind: KindNumber, s: text} }

// Kind returns the variant of v
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean held by v
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsString returns the string held by v
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

// AsInt64 returns the number held by v if it is an integer
func (v Value) AsInt64() (int64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	if i, err := strconv.ParseInt(v.s, 10, 64); err == nil {
		return i, true
	}
	f, err := strconv.ParseFloat(v.s, 64)
	if err != nil || f != math.Trunc(f) || f < math.MinInt64 || f > math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// AsFloat64 returns the number held by v
func (v Value) AsFloat64() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.s, 64)
	return f, err == nil
}

// AsBytes returns the binary blob held by v
func (v Value) AsBytes() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	return v.raw, true
}

// AsArray returns the elements held by v
func (v Value) AsArray() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return v.arr, true
}

// AsObject returns the fields held by v
func (v Value) AsObject() (map[string]Value, bool) {
	if v.kind != KindObject {
		return nil, false
	}
	return v.obj, true
}

// Len returns the number of array elements or object fields
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

// Index returns the i-th array element, or null
func (v Value) Index(i int) Value {
	if v.kind != KindArray || i < 0 || i >= len(v.arr) {
		return Null()
	}
	return v.arr[i]
}

// Get returns the named object field, or null
func (v Value) Get(key string) Value {
	if v.kind != KindObject {
		return Null()
	}
	return v.obj[key]
}

// HasBinary reports whether v contains a binary blob at any depth
func (v Value) HasBinary() bool {
	switch v.kind {
	case KindBytes:
		return true
	case KindArray:
		for _, item := range v.arr {
			if item.HasBinary() {
				return true
			}
		}
	case KindObject:
		for _, field := range v.obj {
			if field.HasBinary() {
				return true
			}
		}
	}
	return false
}

// Equal reports whether v and o hold the same payload
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		if v.s == o.s {
			return true
		}
		a, okA := v.AsFloat64()
		b, okB := o.AsFloat64()
		return okA && okB && a == b
	case KindString:
		return v.s == o.s
	case KindBytes:
		return bytes.Equal(v.raw, o.raw)
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.obj) != len(o.obj) {
			return false
		}
		for k, field := range v.obj {
			other, ok := o.obj[k]
			if !ok || !field.Equal(other) {
				return false
			}
		}
		return true
	}
	return false
}

// Interface converts v to plain Go values: nil, bool, float64, string,
// []byte, []any and map[string]any.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		f, _ := v.AsFloat64()
		return f
	case KindString:
		return v.s
	case KindBytes:
		return v.raw
	case KindArray:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.Interface()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for k, field := range v.obj {
			out[k] = field.Interface()
		}
		return out
	default:
		return nil
	}
}

// Decode unmarshals a binary-free value into out using JSON rules.
func (v Value) Decode(out any) error {
	if v.HasBinary() {
		return fmt.Errorf("cannot decode binary value into %T", out)
	}
	data, err := v.MarshalJSON()
	if err != nil {
		return err
	}
	return codec.Unmarshal(data, out)
}

// MarshalJSON encodes a binary-free value as JSON
func (v Value) MarshalJSON() ([]byte, error) {
	tree, err := v.tree(nil)
	if err != nil {
		return nil, err
	}
	return codec.Marshal(tree)
}

// String renders v for logs. Binary blobs are shown as <N bytes>.
func (v Value) String() string {
	var sb strings.Builder
	v.format(&sb)
	return sb.String()
}

func (v Value) format(sb *strings.Builder) {
	switch v.kind {
	case KindNull:
		sb.WriteString("null")
	case KindBool:
		sb.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		sb.WriteString(v.s)
	case KindString:
		sb.WriteString(strconv.Quote(v.s))
	case KindBytes:
		fmt.Fprintf(sb, "<%d bytes>", len(v.raw))
	case KindArray:
		sb.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				sb.WriteByte(',')
			}
			item.format(sb)
		}
		sb.WriteByte(']')
	case KindObject:
		sb.WriteByte('{')
		for i, k := range v.keys() {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(strconv.Quote(k))
			sb.WriteByte(':')
			v.obj[k].format(sb)
		}
		sb.WriteByte('}')
	}
}

func (v Value) keys() []string {
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// tree converts v to the generic form the JSON codec writes. Binary blobs
// are handed to attach, which returns their placeholder; a nil attach
// rejects binary content.
func (v Value) tree(attach func([]byte) any) (any, error) {
	switch v.kind {
	case KindNull:
		return nil, nil
	case KindBool:
		return v.b, nil
	case KindNumber:
		return json.Number(v.s), nil
	case KindString:
		return v.s, nil
	case KindBytes:
		if attach == nil {
			return nil, ErrUnexpectedBinary
		}
		return attach(v.raw), nil
	case KindArray:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			t, err := item.tree(attach)
			if err != nil {
				return nil, err
			}
			out[i] = t
		}
		return out, nil
	case KindObject:
		// Sorted keys keep attachment numbering deterministic.
		out := make(map[string]any, len(v.obj))
		for _, k := range v.keys() {
			t, err := v.obj[k].tree(attach)
			if err != nil {
				return nil, err
			}
			out[k] = t
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown value kind %d", v.kind)
}

// fromTree converts decoded JSON into a Value.
func fromTree(t any) (Value, error) {
	switch x := t.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(x), nil
	case json.Number:
		return number(string(x)), nil
	case jsoniter.Number:
		return number(string(x)), nil
	case float64:
		return Float(x), nil
	case string:
		return String(x), nil
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			v, err := fromTree(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return Array(items...), nil
	case map[string]any:
		fields := make(map[string]Value, len(x))
		for k, field := range x {
			v, err := fromTree(field)
			if err != nil {
				return Value{}, err
			}
			fields[k] = v
		}
		return Object(fields), nil
	}
	return Value{}, fmt.Errorf("unsupported JSON type %T", t)
}

// ValueOf converts a Go value into a Value. Values, []byte, basic types,
// slices and string-keyed maps of them are converted directly; anything
// else goes through JSON marshalling, so binary data nested in structs is
// not detected.
func ValueOf(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case *Value:
		if t == nil {
			return Null(), nil
		}
		return *t, nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return Uint(uint64(t)), nil
	case uint8:
		return Uint(uint64(t)), nil
	case uint16:
		return Uint(uint64(t)), nil
	case uint32:
		return Uint(uint64(t)), nil
	case uint64:
		return Uint(t), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case json.Number:
		return number(string(t)), nil
	case string:
		return String(t), nil
	case []byte:
		return Bytes(t), nil
	case []Value:
		return Array(t...), nil
	case map[string]Value:
		return Object(t), nil
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			v, err := ValueOf(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return Array(items...), nil
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, field := range t {
			v, err := ValueOf(field)
			if err != nil {
				return Value{}, err
			}
			fields[k] = v
		}
		return Object(fields), nil
	}

	data, err := codec.Marshal(x)
	if err != nil {
		return Value{}, fmt.Errorf("failed to marshal %T: %w", x, err)
	}
	return parseValue(data)
}

// ValuesOf converts each argument with ValueOf
func ValuesOf(args ...any) ([]Value, error) {
	values := make([]Value, len(args))
	for i, arg := range args {
		v, err := ValueOf(arg)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		values[i] = v
	}
	return values, nil
}

func parseValue(data []byte) (Value, error) {
	var t any
	if err := codec.Unmarshal(data, &t); err != nil {
		return Value{}, err
	}
	return fromTree(t)
}
