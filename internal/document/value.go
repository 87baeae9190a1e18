// Package document models save documents as a typed tree of JSON values.
//
// A Value is a tagged union over the six JSON kinds. Objects keep their keys in
// insertion order so a document read from disk is written back with the same
// layout, and numbers keep their literal text so large integers survive a
// round trip unchanged.
package document

import (
	"encoding/json"
	"math"
	"strconv"
)

// Kind identifies which variant a Value holds.
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
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a node in a document tree. The zero value is JSON null.
type Value struct {
	kind  Kind
	b     bool
	num   json.Number
	str   string
	items []*Value
	keys  []string
	props map[string]*Value
}

// Null returns a null value.
func Null() *Value { return &Value{kind: KindNull} }

// Bool returns a boolean value.
func Bool(b bool) *Value { return &Value{kind: KindBool, b: b} }

// Int returns an integer number value.
func Int(i int64) *Value {
	return &Value{kind: KindNumber, num: json.Number(strconv.FormatInt(i, 10))}
}

// Float returns a number value. NaN and infinities are stored as null since
// JSON cannot represent them.
func Float(f float64) *Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Null()
	}
	return &Value{kind: KindNumber, num: json.Number(strconv.FormatFloat(f, 'g', -1, 64))}
}

// Number returns a number value holding the literal n.
func Number(n json.Number) *Value { return &Value{kind: KindNumber, num: n} }

// Str returns a string value.
func Str(s string) *Value { return &Value{kind: KindString, str: s} }

// Array returns an array value holding items.
func Array(items ...*Value) *Value {
	return &Value{kind: KindArray, items: append([]*Value{}, items...)}
}

// Object returns an empty object value.
func Object() *Value {
	return &Value{kind: KindObject, props: make(map[string]*Value)}
}

// Kind reports the variant held by v. A nil *Value is null.
func (v *Value) Kind() Kind {
	if v == nil {
		return KindNull
	}
	return v.kind
}

func (v *Value) IsNull() bool   { return v.Kind() == KindNull }
func (v *Value) IsObject() bool { return v.Kind() == KindObject }
func (v *Value) IsArray() bool  { return v.Kind() == KindArray }

// AsBool returns the boolean held by v.
func (v *Value) AsBool() (bool, bool) {
	if v.Kind() != KindBool {
		return false, false
	}
	return v.b, true
}

// AsInt returns the integer held by v. Numbers written with a fraction or
// exponent are not integers, even when their value is whole.
func (v *Value) AsInt() (int64, bool) {
	if v.Kind() != KindNumber {
		return 0, false
	}
	i, err := strconv.ParseInt(string(v.num), 10, 64)
	if err != nil {
		return 0, false
	}
	return i, true
}

// AsFloat returns the numeric value held by v.
func (v *Value) AsFloat() (float64, bool) {
	if v.Kind() != KindNumber {
		return 0, false
	}
	f, err := v.num.Float64()
	if err != nil {
		return 0, false
	}
	return f, true
}

// NumberText returns the literal text of a number value.
func (v *Value) NumberText() string {
	if v.Kind() != KindNumber {
		return ""
	}
	return string(v.num)
}

// AsString returns the string held by v.
func (v *Value) AsString() (string, bool) {
	if v.Kind() != KindString {
		return "", false
	}
	return v.str, true
}

// Len returns the number of elements of an array or members of an object.
func (v *Value) Len() int {
	switch v.Kind() {
	case KindArray:
		return len(v.items)
	case KindObject:
		return len(v.keys)
	default:
		return 0
	}
}

// Index returns the i-th element of an array, or nil when out of range.
func (v *Value) Index(i int) *Value {
	if v.Kind() != KindArray || i < 0 || i >= len(v.items) {
		return nil
	}
	return v.items[i]
}

// Items returns the elements of an array.
func (v *Value) Items() []*Value {
	if v.Kind() != KindArray {
		return nil
	}
	return append([]*Value{}, v.items...)
}

// Append adds val to the end of an array.
func (v *Value) Append(val *Value) {
	if v.Kind() != KindArray {
		return
	}
	v.items = append(v.items, val)
}

// Get returns the member named key of an object.
func (v *Value) Get(key string) (*Value, bool) {
	if v.Kind() != KindObject {
		return nil, false
	}
	m, ok := v.props[key]
	return m, ok
}

// Has reports whether an object has a member named key.
func (v *Value) Has(key string) bool {
	_, ok := v.Get(key)
	return ok
}

// Keys returns the member names of an object in document order.
func (v *Value) Keys() []string {
	if v.Kind() != KindObject {
		return nil
	}
	return append([]string{}, v.keys...)
}

// Set stores val under key. A new key is appended after existing ones; an
// existing key keeps its position.
func (v *Value) Set(key string, val *Value) {
	if v.Kind() != KindObject {
		return
	}
	if _, ok := v.props[key]; !ok {
		v.keys = append(v.keys, key)
	}
	v.props[key] = val
}

// Delete removes key from an object.
func (v *Value) Delete(key string) {
	if v.Kind() != KindObject {
		return
	}
	if _, ok := v.props[key]; !ok {
		return
	}
	delete(v.props, key)
	for i, k := range v.keys {
		if k == key {
			v.keys = append(v.keys[:i], v.keys[i+1:]...)
			break
		}
	}
}

// Clone returns a deep copy of v.
func (v *Value) Clone() *Value {
	if v == nil {
		return Null()
	}
	c := &Value{kind: v.kind, b: v.b, num: v.num, str: v.str}
	switch v.kind {
	case KindArray:
		c.items = make([]*Value, len(v.items))
		for i, item := range v.items {
			c.items[i] = item.Clone()
		}
	case KindObject:
		c.keys = append([]string{}, v.keys...)
		c.props = make(map[string]*Value, len(v.props))
		for k, m := range v.props {
			c.props[k] = m.Clone()
		}
	}
	return c
}

// Equal reports whether v and other hold the same data. Member order is not
// significant; numbers compare by value.
func (v *Value) Equal(other *Value) bool {
	if v.Kind() != other.Kind() {
		return false
	}
	switch v.Kind() {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindString:
		return v.str == other.str
	case KindNumber:
		if v.num == other.num {
			return true
		}
		a, aok := v.AsInt()
		b, bok := other.AsInt()
		if aok && bok {
			return a == b
		}
		fa, aok := v.AsFloat()
		fb, bok := other.AsFloat()
		return aok && bok && fa == fb
	case KindArray:
		if len(v.items) != len(other.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(other.items[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.props) != len(other.props) {
			return false
		}
		for k, m := range v.props {
			om, ok := other.props[k]
			if !ok || !m.Equal(om) {
				return false
			}
		}
		return true
	}
	return false
}

// Interface converts v into plain Go values: map[string]any, []any,
// json.Number, string, bool and nil.
func (v *Value) Interface() any {
	switch v.Kind() {
	case KindBool:
		return v.b
	case KindNumber:
		return v.num
	case KindString:
		return v.str
	case KindArray:
		out := make([]any, len(v.items))
		for i, item := range v.items {
			out[i] = item.Interface()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.props))
		for k, m := range v.props {
			out[k] = m.Interface()
		}
		return out
	default:
		return nil
	}
}
