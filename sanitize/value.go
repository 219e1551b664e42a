package sanitize

import "encoding/json"

// Kind tags the variant held by a [Value].
type Kind uint8

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
		return "invalid"
	}
}

// Member is one key/value pair of an object. Objects keep members in input
// order.
type Member struct {
	Key   string
	Value Value
}

// Value is an immutable JSON-like value. The zero Value is null.
type Value struct {
	kind    Kind
	boolean bool
	number  json.Number
	str     string
	items   []Value
	members []Member
}

func Null() Value                { return Value{} }
func Bool(b bool) Value          { return Value{kind: KindBool, boolean: b} }
func Number(n json.Number) Value { return Value{kind: KindNumber, number: n} }
func String(s string) Value      { return Value{kind: KindString, str: s} }

func Array(items ...Value) Value {
	return Value{kind: KindArray, items: items}
}

func Object(members ...Member) Value {
	return Value{kind: KindObject, members: members}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) AsBool() bool          { return v.boolean }
func (v Value) AsNumber() json.Number { return v.number }
func (v Value) AsString() string      { return v.str }

// Items returns the elements of an array value. The slice must not be
// modified.
func (v Value) Items() []Value { return v.items }

// Members returns the members of an object value. The slice must not be
// modified.
func (v Value) Members() []Member { return v.members }

// Get returns the first member named key.
func (v Value) Get(key string) (Value, bool) {
	for _, m := range v.members {
		if m.Key == key {
			return m.Value, true
		}
	}
	return Value{}, false
}

// Equal reports deep equality, including member order.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.boolean == o.boolean
	case KindNumber:
		return v.number == o.number
	case KindString:
		return v.str == o.str
	case KindArray:
		if len(v.items) != len(o.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(o.items[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.members) != len(o.members) {
			return false
		}
		for i := range v.members {
			if v.members[i].Key != o.members[i].Key || !v.members[i].Value.Equal(o.members[i].Value) {
				return false
			}
		}
		return true
	}
	return false
}
